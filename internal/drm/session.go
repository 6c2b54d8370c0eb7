package drm

// Session is the device boundary the transaction builder drives. A
// session owns one connector/CRTC/plane chain and its property tables;
// a leased session owns a disjoint chain on its own file handle.
type Session interface {
	// Connector, Crtc and Plane return the session's objects with
	// their property tables populated. The tables are fetched once
	// at session setup and are read-only afterwards.
	Connector() *Object
	Crtc() *Object
	Plane() *Object

	// Mode returns the display mode the session was set up with.
	Mode() Mode

	// CreateBlob uploads an opaque payload to the device and returns
	// the blob id a transaction can reference.
	CreateBlob(data []byte) (uint32, error)

	// Commit applies a request as one fail-atomic operation: all
	// properties take effect together or none do. When outFence is
	// non-nil the device writes back a descriptor that signals once
	// the commit has taken visible effect; ownership of that
	// descriptor passes to the caller.
	Commit(req *Request, flags Flags, outFence *int) error

	// CreateLease hands the listed objects to a new, independent
	// session with its own file handle. The objects become
	// unavailable to this session for the lease's lifetime.
	CreateLease(objectIDs []uint32) (lesseeID uint32, fd int, err error)

	Close() error
}
