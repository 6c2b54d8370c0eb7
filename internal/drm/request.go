package drm

// Flags select how the device applies a commit. Values mirror the KMS
// atomic ioctl flags.
type Flags uint32

const (
	// FlagNonblock makes the commit return after validation instead
	// of waiting for the flip to complete.
	FlagNonblock Flags = 0x0200

	// FlagAllowModeset permits a full reconfiguration. Only ever set
	// for the first commit of a session.
	FlagAllowModeset Flags = 0x0400
)

// PropertyValue is one (object, property, value) triple of a request.
type PropertyValue struct {
	ObjectID   uint32
	PropertyID uint32
	Value      uint64
}

// Request accumulates the property changes of one atomic transaction.
// A request is built fresh for every commit and discarded afterwards,
// never reused.
type Request struct {
	props []PropertyValue
}

// NewRequest returns an empty request.
func NewRequest() *Request {
	return &Request{}
}

func (r *Request) add(objectID, propertyID uint32, value uint64) {
	r.props = append(r.props, PropertyValue{ObjectID: objectID, PropertyID: propertyID, Value: value})
}

// Len returns the number of accumulated triples.
func (r *Request) Len() int {
	return len(r.props)
}

// Props returns the accumulated triples in insertion order.
func (r *Request) Props() []PropertyValue {
	return r.props
}
