//go:build linux

// Package card implements the device session over a DRM card node with
// raw KMS ioctls. Object ids are supplied by the caller; the package
// does not enumerate the device.
package card

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kmsflip/kmsflip/internal/drm"
	"github.com/kmsflip/kmsflip/internal/logger"
)

// Options selects the object chain a session drives and, optionally, a
// specific mode as WIDTHxHEIGHT[@REFRESH].
type Options struct {
	ConnectorID uint32
	CrtcID      uint32
	PlaneID     uint32
	Mode        string
}

// Session is a live device session over one card file descriptor. It
// implements drm.Session.
type Session struct {
	fd int

	connector *drm.Object
	crtc      *drm.Object
	plane     *drm.Object

	mode drm.Mode
}

// Open opens the card node and initializes a session for the object
// chain in opts.
func Open(path string, opts Options) (*Session, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s, err := FromFD(fd, opts)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return s, nil
}

// FromFD initializes a session over an already-open descriptor, such as
// a leased one. The session takes ownership of fd.
func FromFD(fd int, opts Options) (*Session, error) {
	if opts.ConnectorID == 0 || opts.CrtcID == 0 || opts.PlaneID == 0 {
		return nil, fmt.Errorf("connector, crtc and plane ids must all be set")
	}

	s := &Session{fd: fd}

	atomicCap := setClientCap{capability: clientCapAtomic, value: 1}
	if err := ioctl(fd, ioctlSetClientCap, unsafe.Pointer(&atomicCap)); err != nil {
		return nil, fmt.Errorf("no atomic modesetting support: %w", err)
	}

	var err error
	if s.connector, err = s.fetchObject(opts.ConnectorID, drm.TypeConnector, objectTypeConnector); err != nil {
		return nil, err
	}
	if s.crtc, err = s.fetchObject(opts.CrtcID, drm.TypeCrtc, objectTypeCrtc); err != nil {
		return nil, err
	}
	if s.plane, err = s.fetchObject(opts.PlaneID, drm.TypePlane, objectTypePlane); err != nil {
		return nil, err
	}

	if err := s.pickMode(opts.ConnectorID, opts.Mode); err != nil {
		return nil, err
	}

	logger.Debugf("session ready: connector %d, crtc %d, plane %d, mode %s",
		opts.ConnectorID, opts.CrtcID, opts.PlaneID, s.mode.Name)
	return s, nil
}

// fetchObject reads an object's property table in enumeration order.
func (s *Session) fetchObject(id uint32, typ drm.ObjectType, rawType uint32) (*drm.Object, error) {
	req := objGetProperties{objID: id, objType: rawType}
	if err := ioctl(s.fd, ioctlModeObjGetProps, unsafe.Pointer(&req)); err != nil {
		return nil, fmt.Errorf("could not get %s %d properties: %w", typ, id, err)
	}
	if req.countProps == 0 {
		return nil, fmt.Errorf("%s %d has no properties", typ, id)
	}

	ids := make([]uint32, req.countProps)
	values := make([]uint64, req.countProps)
	req.propsPtr = uint64(uintptr(unsafe.Pointer(&ids[0])))
	req.propValuesPtr = uint64(uintptr(unsafe.Pointer(&values[0])))
	if err := ioctl(s.fd, ioctlModeObjGetProps, unsafe.Pointer(&req)); err != nil {
		return nil, fmt.Errorf("could not get %s %d properties: %w", typ, id, err)
	}
	runtime.KeepAlive(values)

	table := make(drm.PropertyTable, 0, req.countProps)
	for _, propID := range ids[:req.countProps] {
		preq := getProperty{propID: propID}
		if err := ioctl(s.fd, ioctlModeGetProperty, unsafe.Pointer(&preq)); err != nil {
			return nil, fmt.Errorf("could not get property %d of %s %d: %w", propID, typ, id, err)
		}
		table = append(table, drm.Property{Name: cString(preq.name[:]), ID: propID})
	}

	return &drm.Object{ID: id, Type: typ, Props: table}, nil
}

// pickMode fetches the connector's mode list and selects the requested
// mode, or the preferred one, or the largest.
func (s *Session) pickMode(connectorID uint32, want string) error {
	req := getConnector{connectorID: connectorID}
	if err := ioctl(s.fd, ioctlModeGetConnector, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("could not get connector %d: %w", connectorID, err)
	}
	if req.countModes == 0 {
		return fmt.Errorf("connector %d has no modes (disconnected?)", connectorID)
	}

	modes := make([]modeInfo, req.countModes)
	req = getConnector{connectorID: connectorID, countModes: req.countModes}
	req.modesPtr = uint64(uintptr(unsafe.Pointer(&modes[0])))
	if err := ioctl(s.fd, ioctlModeGetConnector, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("could not get connector %d modes: %w", connectorID, err)
	}
	runtime.KeepAlive(modes)
	modes = modes[:req.countModes]

	var chosen *modeInfo
	if want != "" {
		w, h, r, err := parseMode(want)
		if err != nil {
			return err
		}
		for i := range modes {
			m := &modes[i]
			if m.hdisplay == w && m.vdisplay == h && (r == 0 || m.vrefresh == r) {
				chosen = m
				break
			}
		}
		if chosen == nil {
			return fmt.Errorf("connector %d has no mode %s", connectorID, want)
		}
	} else {
		// Preferred mode if the connector reports one, otherwise the
		// highest-resolution mode.
		var area uint32
		for i := range modes {
			m := &modes[i]
			if m.typ&modeTypePreferred != 0 {
				chosen = m
				break
			}
			if a := uint32(m.hdisplay) * uint32(m.vdisplay); a > area {
				area = a
				chosen = m
			}
		}
	}

	raw := make([]byte, unsafe.Sizeof(*chosen))
	copy(raw, (*[unsafe.Sizeof(modeInfo{})]byte)(unsafe.Pointer(chosen))[:])

	s.mode = drm.Mode{
		Width:   chosen.hdisplay,
		Height:  chosen.vdisplay,
		Refresh: chosen.vrefresh,
		Name:    cString(chosen.name[:]),
		Raw:     raw,
	}
	return nil
}

func (s *Session) Connector() *drm.Object { return s.connector }
func (s *Session) Crtc() *drm.Object      { return s.crtc }
func (s *Session) Plane() *drm.Object     { return s.plane }
func (s *Session) Mode() drm.Mode         { return s.mode }

// FD exposes the card descriptor for collaborators that allocate
// buffers on the same device.
func (s *Session) FD() int { return s.fd }

// CreateBlob uploads an opaque payload and returns its blob id.
func (s *Session) CreateBlob(data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty blob")
	}
	req := createBlob{
		data:   uint64(uintptr(unsafe.Pointer(&data[0]))),
		length: uint32(len(data)),
	}
	err := ioctl(s.fd, ioctlModeCreateBlob, unsafe.Pointer(&req))
	runtime.KeepAlive(data)
	if err != nil {
		return 0, fmt.Errorf("create property blob: %w", err)
	}
	return req.blobID, nil
}

// Commit submits the request through the atomic ioctl. The triples are
// regrouped per object, preserving insertion order, which is the layout
// the ioctl expects. When outFence is non-nil the crtc's OUT_FENCE_PTR
// triple is pointed at a writeback slot and the signaled-on-completion
// descriptor is returned through outFence.
func (s *Session) Commit(req *drm.Request, flags drm.Flags, outFence *int) error {
	props := req.Props()
	if len(props) == 0 {
		return fmt.Errorf("empty atomic request")
	}

	// Group triples by object id, keeping first-seen object order and
	// per-object insertion order.
	objOrder := make([]uint32, 0, 3)
	grouped := make(map[uint32][]drm.PropertyValue, 3)
	for _, p := range props {
		if _, ok := grouped[p.ObjectID]; !ok {
			objOrder = append(objOrder, p.ObjectID)
		}
		grouped[p.ObjectID] = append(grouped[p.ObjectID], p)
	}

	var outFD int32 = -1
	outFencePtr := uint64(uintptr(unsafe.Pointer(&outFD)))
	var outFenceProp uint32
	if outFence != nil {
		id, err := s.crtc.Property("OUT_FENCE_PTR")
		if err != nil {
			return err
		}
		outFenceProp = id
	}

	objs := make([]uint32, 0, len(objOrder))
	counts := make([]uint32, 0, len(objOrder))
	propIDs := make([]uint32, 0, len(props))
	values := make([]uint64, 0, len(props))
	for _, objID := range objOrder {
		group := grouped[objID]
		objs = append(objs, objID)
		counts = append(counts, uint32(len(group)))
		for _, p := range group {
			propIDs = append(propIDs, p.PropertyID)
			v := p.Value
			if outFence != nil && objID == s.crtc.ID && p.PropertyID == outFenceProp {
				v = outFencePtr
			}
			values = append(values, v)
		}
	}

	atomic := modeAtomic{
		flags:         uint32(flags),
		countObjs:     uint32(len(objs)),
		objsPtr:       uint64(uintptr(unsafe.Pointer(&objs[0]))),
		countPropsPtr: uint64(uintptr(unsafe.Pointer(&counts[0]))),
		propsPtr:      uint64(uintptr(unsafe.Pointer(&propIDs[0]))),
		propValuesPtr: uint64(uintptr(unsafe.Pointer(&values[0]))),
	}
	err := ioctl(s.fd, ioctlModeAtomic, unsafe.Pointer(&atomic))
	runtime.KeepAlive(objs)
	runtime.KeepAlive(counts)
	runtime.KeepAlive(propIDs)
	runtime.KeepAlive(values)
	runtime.KeepAlive(&outFD)
	if err != nil {
		return err
	}

	if outFence != nil {
		*outFence = int(outFD)
	}
	return nil
}

// CreateLease hands the listed objects to a new descriptor the kernel
// scopes to exactly those objects.
func (s *Session) CreateLease(objectIDs []uint32) (uint32, int, error) {
	if len(objectIDs) == 0 {
		return 0, -1, fmt.Errorf("no objects to lease")
	}
	req := createLease{
		objectIDs:   uint64(uintptr(unsafe.Pointer(&objectIDs[0]))),
		objectCount: uint32(len(objectIDs)),
		flags:       unix.O_CLOEXEC,
	}
	err := ioctl(s.fd, ioctlModeCreateLease, unsafe.Pointer(&req))
	runtime.KeepAlive(objectIDs)
	if err != nil {
		return 0, -1, err
	}
	return req.lesseeID, int(req.fd), nil
}

func (s *Session) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// parseMode parses WIDTHxHEIGHT[@REFRESH].
func parseMode(s string) (w, h uint16, refresh uint32, err error) {
	rest := s
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		r, perr := strconv.ParseUint(rest[at+1:], 10, 32)
		if perr != nil {
			return 0, 0, 0, fmt.Errorf("invalid mode %q", s)
		}
		refresh = uint32(r)
		rest = rest[:at]
	}
	x := strings.IndexByte(rest, 'x')
	if x < 0 {
		return 0, 0, 0, fmt.Errorf("invalid mode %q (want WIDTHxHEIGHT[@REFRESH])", s)
	}
	pw, err1 := strconv.ParseUint(rest[:x], 10, 16)
	ph, err2 := strconv.ParseUint(rest[x+1:], 10, 16)
	if err1 != nil || err2 != nil {
		return 0, 0, 0, fmt.Errorf("invalid mode %q (want WIDTHxHEIGHT[@REFRESH])", s)
	}
	return uint16(pw), uint16(ph), refresh, nil
}
