//go:build linux

package card

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// KMS uapi structures and ioctl request numbers, laid out to match the
// kernel's drm_mode.h on 64-bit.

const (
	clientCapAtomic = 3

	objectTypeCrtc      = 0xcccccccc
	objectTypeConnector = 0xc0c0c0c0
	objectTypePlane     = 0xeeeeeeee

	modeTypePreferred = 1 << 3

	ioctlSetClientCap     = 0x4010640d // DRM_IOW(0x0d, drm_set_client_cap)
	ioctlModeGetConnector = 0xc05064a7 // DRM_IOWR(0xA7, drm_mode_get_connector)
	ioctlModeGetProperty  = 0xc04064aa // DRM_IOWR(0xAA, drm_mode_get_property)
	ioctlModeObjGetProps  = 0xc02064b9 // DRM_IOWR(0xB9, drm_mode_obj_get_properties)
	ioctlModeAtomic       = 0xc03864bc // DRM_IOWR(0xBC, drm_mode_atomic)
	ioctlModeCreateBlob   = 0xc01064bd // DRM_IOWR(0xBD, drm_mode_create_blob)
	ioctlModeCreateLease  = 0xc01864c6 // DRM_IOWR(0xC6, drm_mode_create_lease)
)

type setClientCap struct {
	capability uint64
	value      uint64
}

type modeInfo struct {
	clock      uint32
	hdisplay   uint16
	hsyncStart uint16
	hsyncEnd   uint16
	htotal     uint16
	hskew      uint16
	vdisplay   uint16
	vsyncStart uint16
	vsyncEnd   uint16
	vtotal     uint16
	vscan      uint16
	vrefresh   uint32
	flags      uint32
	typ        uint32
	name       [32]byte
}

type getConnector struct {
	encodersPtr   uint64
	modesPtr      uint64
	propsPtr      uint64
	propValuesPtr uint64

	countModes    uint32
	countProps    uint32
	countEncoders uint32

	encoderID       uint32
	connectorID     uint32
	connectorType   uint32
	connectorTypeID uint32

	connection uint32
	mmWidth    uint32
	mmHeight   uint32
	subpixel   uint32

	_ uint32 // pad
}

type objGetProperties struct {
	propsPtr      uint64
	propValuesPtr uint64
	countProps    uint32
	objID         uint32
	objType       uint32
	_             uint32 // pad
}

type getProperty struct {
	valuesPtr      uint64
	enumBlobPtr    uint64
	propID         uint32
	flags          uint32
	name           [32]byte
	countValues    uint32
	countEnumBlobs uint32
}

type createBlob struct {
	data   uint64
	length uint32
	blobID uint32
}

type modeAtomic struct {
	flags         uint32
	countObjs     uint32
	objsPtr       uint64
	countPropsPtr uint64
	propsPtr      uint64
	propValuesPtr uint64
	reserved      uint64
	userData      uint64
}

type createLease struct {
	objectIDs   uint64
	objectCount uint32
	flags       uint32
	lesseeID    uint32
	fd          uint32
}

func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
		if errno == unix.EINTR || errno == unix.EAGAIN {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}
