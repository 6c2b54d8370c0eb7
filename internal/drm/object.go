// Package drm implements atomic KMS configuration for a single
// connector/CRTC/plane chain: property lookup, transaction assembly and
// fail-atomic submission through a device session.
package drm

// ObjectType identifies the kind of KMS object a property belongs to.
type ObjectType uint32

const (
	TypeConnector ObjectType = iota
	TypeCrtc
	TypePlane
)

func (t ObjectType) String() string {
	switch t {
	case TypeConnector:
		return "connector"
	case TypeCrtc:
		return "crtc"
	case TypePlane:
		return "plane"
	default:
		return "unknown"
	}
}

// Property is one entry of an object's property table.
type Property struct {
	Name string
	ID   uint32
}

// PropertyTable is the ordered name→id mapping fetched from the device
// at setup. Order matches the enumeration order the device returned.
// Read-only after population.
type PropertyTable []Property

// Lookup scans the table for a property name. Tables hold tens of
// entries, a linear scan is fine.
func (t PropertyTable) Lookup(name string) (uint32, bool) {
	for _, p := range t {
		if p.Name == name {
			return p.ID, true
		}
	}
	return 0, false
}

// Object is a KMS object together with its property table.
type Object struct {
	ID    uint32
	Type  ObjectType
	Props PropertyTable
}

// Property resolves a property name to its id. A missing name is a
// configuration error: silently skipping a property like CRTC_ID would
// submit a corrupt configuration, so the caller must abort instead.
func (o *Object) Property(name string) (uint32, error) {
	if id, ok := o.Props.Lookup(name); ok {
		return id, nil
	}
	return 0, &ConfigurationError{Object: o.Type, ObjectID: o.ID, Property: name}
}

// Mode describes the active display timings plus the raw mode blob the
// device accepts for reconfiguration.
type Mode struct {
	Width   uint16
	Height  uint16
	Refresh uint32
	Name    string

	// Raw is the opaque, device-defined mode descriptor handed to
	// CreateBlob when a modeset is requested.
	Raw []byte
}
