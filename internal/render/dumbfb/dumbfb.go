//go:build linux

// Package dumbfb implements the render surface over kernel dumb
// buffers: a fixed pool of CPU-mapped scanout buffers with attached
// framebuffers. It stands in for a GPU renderer where one is not
// available; rendering is synchronous, so frames carry no producer
// fence.
package dumbfb

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kmsflip/kmsflip/internal/render"
)

const fourccXRGB8888 = 0x34325258 // 'XR24'

type createDumb struct {
	height uint32
	width  uint32
	bpp    uint32
	flags  uint32
	handle uint32
	pitch  uint32
	size   uint64
}

type mapDumb struct {
	handle uint32
	pad    uint32
	offset uint64
}

type fbCmd2 struct {
	fbID        uint32
	width       uint32
	height      uint32
	pixelFormat uint32
	flags       uint32
	handles     [4]uint32
	pitches     [4]uint32
	offsets     [4]uint32
	_           uint32 // align modifier to 8 bytes, matches kernel layout
	modifier    [4]uint64
}

const (
	ioctlCreateDumb  = 0xc02064b2 // DRM_IOWR(0xB2, drm_mode_create_dumb)
	ioctlMapDumb     = 0xc01064b3 // DRM_IOWR(0xB3, drm_mode_map_dumb)
	ioctlDestroyDumb = 0xc00464b4 // DRM_IOWR(0xB4, drm_mode_destroy_dumb)
	ioctlAddFB2      = 0xc06864b8 // DRM_IOWR(0xB8, drm_mode_fb_cmd2)
	ioctlRmFB        = 0xc00464af // DRM_IOWR(0xAF, unsigned int)
)

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

type slotState int

const (
	slotFree slotState = iota
	slotRendered
	slotOut
)

type slot struct {
	buf    render.Buffer
	handle uint32
	size   uint64
	state  slotState
}

// Pool is a fixed set of dumb buffers rotated by the swap pipeline. It
// implements both render.Surface and render.Renderer.
type Pool struct {
	fd    int
	slots []*slot

	// rendered is the slot Draw just filled, waiting for Acquire.
	rendered *slot
	frame    uint64
}

// NewPool creates count scanout buffers of the given size on the device
// file descriptor and maps them for CPU rendering.
func NewPool(fd int, width, height uint32, count int) (*Pool, error) {
	if count < 2 {
		return nil, fmt.Errorf("buffer pool needs at least 2 buffers, got %d", count)
	}
	p := &Pool{fd: fd}
	for i := 0; i < count; i++ {
		s, err := p.newSlot(width, height)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("buffer %d: %w", i, err)
		}
		p.slots = append(p.slots, s)
	}
	return p, nil
}

func (p *Pool) newSlot(width, height uint32) (*slot, error) {
	creq := createDumb{width: width, height: height, bpp: 32}
	if err := ioctl(p.fd, ioctlCreateDumb, unsafe.Pointer(&creq)); err != nil {
		return nil, fmt.Errorf("create dumb buffer: %w", err)
	}

	s := &slot{handle: creq.handle, size: creq.size}
	s.buf = render.Buffer{Width: width, Height: height, Pitch: creq.pitch}

	fbreq := fbCmd2{
		width:       width,
		height:      height,
		pixelFormat: fourccXRGB8888,
	}
	fbreq.handles[0] = creq.handle
	fbreq.pitches[0] = creq.pitch
	if err := ioctl(p.fd, ioctlAddFB2, unsafe.Pointer(&fbreq)); err != nil {
		p.destroySlot(s)
		return nil, fmt.Errorf("add framebuffer: %w", err)
	}
	s.buf.FramebufferID = fbreq.fbID

	mreq := mapDumb{handle: creq.handle}
	if err := ioctl(p.fd, ioctlMapDumb, unsafe.Pointer(&mreq)); err != nil {
		p.destroySlot(s)
		return nil, fmt.Errorf("map dumb buffer: %w", err)
	}
	data, err := unix.Mmap(p.fd, int64(mreq.offset), int(creq.size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		p.destroySlot(s)
		return nil, fmt.Errorf("mmap dumb buffer: %w", err)
	}
	s.buf.Data = data
	return s, nil
}

func (p *Pool) destroySlot(s *slot) {
	if s.buf.Data != nil {
		_ = unix.Munmap(s.buf.Data)
		s.buf.Data = nil
	}
	if s.buf.FramebufferID != 0 {
		fbID := s.buf.FramebufferID
		_ = ioctl(p.fd, ioctlRmFB, unsafe.Pointer(&fbID))
		s.buf.FramebufferID = 0
	}
	if s.handle != 0 {
		handle := s.handle
		_ = ioctl(p.fd, ioctlDestroyDumb, unsafe.Pointer(&handle))
		s.handle = 0
	}
}

// Draw fills the next free buffer with a test pattern for the given
// frame. Rendering is synchronous CPU work.
func (p *Pool) Draw(frame uint64) error {
	var target *slot
	for _, s := range p.slots {
		if s.state == slotFree {
			target = s
			break
		}
	}
	if target == nil {
		return render.ErrNoBuffer
	}
	fill(&target.buf, frame)
	target.state = slotRendered
	p.rendered = target
	p.frame = frame
	return nil
}

// Flush is a no-op: Draw already completed on the CPU by the time it
// returned.
func (p *Pool) Flush() error {
	return nil
}

// Acquire hands the just-rendered buffer to the pipeline.
func (p *Pool) Acquire() (*render.Buffer, error) {
	if p.rendered == nil {
		return nil, render.ErrNoBuffer
	}
	s := p.rendered
	p.rendered = nil
	s.state = slotOut
	return &s.buf, nil
}

// Release returns a buffer that left the screen to the free pool.
func (p *Pool) Release(b *render.Buffer) error {
	for _, s := range p.slots {
		if s.buf.FramebufferID == b.FramebufferID {
			if s.state != slotOut {
				return fmt.Errorf("release of buffer fb %d not held by display", b.FramebufferID)
			}
			s.state = slotFree
			return nil
		}
	}
	return fmt.Errorf("release of unknown buffer fb %d", b.FramebufferID)
}

// Close unmaps and destroys every buffer in the pool.
func (p *Pool) Close() error {
	for _, s := range p.slots {
		p.destroySlot(s)
	}
	p.slots = nil
	p.rendered = nil
	return nil
}

// fill paints a sliding color band so motion (and tearing, if the
// fencing were wrong) is visible on screen.
func fill(b *render.Buffer, frame uint64) {
	colors := []uint32{0xff2040c0, 0xff20c080, 0xffc0a020, 0xffc03060}
	base := colors[frame%uint64(len(colors))]
	band := uint32(frame*8) % b.Width

	for y := uint32(0); y < b.Height; y++ {
		row := b.Data[y*b.Pitch : y*b.Pitch+b.Width*4]
		for x := uint32(0); x < b.Width; x++ {
			c := base
			if x >= band && x < band+64 {
				c = 0xffffffff
			}
			row[x*4+0] = byte(c)
			row[x*4+1] = byte(c >> 8)
			row[x*4+2] = byte(c >> 16)
			row[x*4+3] = byte(c >> 24)
		}
	}
}
