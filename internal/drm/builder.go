package drm

import (
	"golang.org/x/sys/unix"
)

// Builder assembles and submits atomic transactions for one session.
// It holds the two fence descriptor slots that cross the GPU/display
// boundary: the in-fence handed to the device with a commit and the
// out-fence the device writes back. Each slot owns its descriptor until
// it is explicitly transferred.
type Builder struct {
	session Session
	mode    Mode

	// blobID is the uploaded mode blob. Created on the first modeset
	// commit only; a session reconfigures at most once.
	blobID uint32

	inFence  int
	outFence int

	closeFD func(int) error // test hook
}

// NewBuilder creates a builder over an initialized session.
func NewBuilder(session Session) *Builder {
	return &Builder{
		session:  session,
		mode:     session.Mode(),
		inFence:  -1,
		outFence: -1,
		closeFD:  unix.Close,
	}
}

// Mode returns the display mode the builder configures.
func (b *Builder) Mode() Mode {
	return b.mode
}

// Begin starts an empty transaction.
func (b *Builder) Begin() *Request {
	return NewRequest()
}

// Add resolves a property name on the target object and appends the
// triple to the request. On an unknown name the request is left
// unchanged and the whole transaction must be abandoned.
func (b *Builder) Add(req *Request, obj *Object, name string, value uint64) error {
	id, err := obj.Property(name)
	if err != nil {
		return err
	}
	req.add(obj.ID, id, value)
	return nil
}

// SetInFence hands the builder ownership of a producer fence
// descriptor. It is consumed by the next commit and closed exactly once
// after the commit succeeds.
func (b *Builder) SetInFence(fd int) {
	b.inFence = fd
}

// TakeOutFence transfers ownership of the device's completion fence
// descriptor from the last commit to the caller. Returns -1 if none is
// pending.
func (b *Builder) TakeOutFence() int {
	fd := b.outFence
	b.outFence = -1
	return fd
}

// CommitFrame builds and submits the transaction for one frame showing
// fbID. With FlagAllowModeset set it additionally links the connector
// to the CRTC, uploads the mode blob and activates the CRTC. The plane
// always scans out the full source surface to the full mode area.
func (b *Builder) CommitFrame(fbID uint32, flags Flags) error {
	req := b.Begin()
	conn := b.session.Connector()
	crtc := b.session.Crtc()
	plane := b.session.Plane()

	if flags&FlagAllowModeset != 0 {
		if err := b.Add(req, conn, "CRTC_ID", uint64(crtc.ID)); err != nil {
			return err
		}
		if b.blobID == 0 {
			id, err := b.session.CreateBlob(b.mode.Raw)
			if err != nil {
				return &CommitError{Op: "create mode blob", Err: err}
			}
			b.blobID = id
		}
		if err := b.Add(req, crtc, "MODE_ID", uint64(b.blobID)); err != nil {
			return err
		}
		if err := b.Add(req, crtc, "ACTIVE", 1); err != nil {
			return err
		}
	}

	w := uint64(b.mode.Width)
	h := uint64(b.mode.Height)
	placement := []struct {
		name  string
		value uint64
	}{
		{"FB_ID", uint64(fbID)},
		{"CRTC_ID", uint64(crtc.ID)},
		{"SRC_X", 0},
		{"SRC_Y", 0},
		{"SRC_W", w << 16},
		{"SRC_H", h << 16},
		{"CRTC_X", 0},
		{"CRTC_Y", 0},
		{"CRTC_W", w},
		{"CRTC_H", h},
	}
	for _, p := range placement {
		if err := b.Add(req, plane, p.name, p.value); err != nil {
			return err
		}
	}

	if b.inFence >= 0 {
		// Both fence properties must ride the same transaction as
		// the FB_ID change; a separate commit would break the
		// ordering between the buffer update and fence signaling.
		// The out-fence value is a placeholder the session replaces
		// with its writeback location.
		if err := b.Add(req, crtc, "OUT_FENCE_PTR", 0); err != nil {
			return err
		}
		if err := b.Add(req, plane, "IN_FENCE_FD", uint64(b.inFence)); err != nil {
			return err
		}
	}

	return b.Submit(req, flags)
}

// Submit sends an assembled request to the device as one fail-atomic
// operation. A completion fence is requested whenever a producer fence
// rides along; on success the consumed producer fence descriptor is
// closed, exactly once. On rejection the request simply dissolves, no
// partial state was applied and no retry is attempted here.
func (b *Builder) Submit(req *Request, flags Flags) error {
	var outPtr *int
	out := -1
	if b.inFence >= 0 {
		outPtr = &out
	}

	if err := b.session.Commit(req, flags, outPtr); err != nil {
		return &CommitError{Op: "atomic commit", Err: err}
	}

	if b.inFence >= 0 {
		_ = b.closeFD(b.inFence)
		b.inFence = -1
		b.outFence = out
	}
	return nil
}

// Close releases any fence descriptors still held by the builder.
func (b *Builder) Close() error {
	if b.inFence >= 0 {
		_ = b.closeFD(b.inFence)
		b.inFence = -1
	}
	if b.outFence >= 0 {
		_ = b.closeFD(b.outFence)
		b.outFence = -1
	}
	return nil
}
