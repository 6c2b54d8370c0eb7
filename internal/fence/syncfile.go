//go:build linux

package fence

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SyncFileBroker wraps kernel sync_file descriptors, the fence flavor
// the atomic commit path hands back through OUT_FENCE_PTR. It has no
// rendering queue of its own, so it cannot create producer fences; a
// GPU-backed broker would layer those on top.
type SyncFileBroker struct{}

// NewSyncFileBroker returns a broker over sync_file descriptors.
func NewSyncFileBroker() *SyncFileBroker {
	return &SyncFileBroker{}
}

type syncFence struct {
	fd int
}

func (f *syncFence) Raw() int {
	return f.fd
}

// Wrap takes ownership of fd. The descriptor is closed by Destroy.
func (b *SyncFileBroker) Wrap(fd int) (Fence, error) {
	if fd < 0 {
		return nil, fmt.Errorf("invalid fence descriptor %d", fd)
	}
	return &syncFence{fd: fd}, nil
}

func (b *SyncFileBroker) NewFence() (Fence, error) {
	return nil, ErrUnsupported
}

// WaitGPU orders rendering after the fence. Without a hardware queue to
// park the wait on, the ordering point is the calling thread itself.
func (b *SyncFileBroker) WaitGPU(f Fence) error {
	return b.WaitSignaled(f)
}

func (b *SyncFileBroker) Export(f Fence) (int, error) {
	return -1, ErrUnsupported
}

// WaitSignaled polls the descriptor until the fence signals. Interrupted
// or empty polls are retried; only a real poll error is fatal.
func (b *SyncFileBroker) WaitSignaled(f Fence) error {
	sf, ok := f.(*syncFence)
	if !ok || sf.fd < 0 {
		return &WaitError{Err: fmt.Errorf("not a waitable sync_file fence")}
	}
	for {
		fds := []unix.PollFd{{Fd: int32(sf.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return &WaitError{Err: err}
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return &WaitError{Err: fmt.Errorf("poll revents 0x%x", fds[0].Revents)}
		}
		return nil
	}
}

// Destroy closes the wrapped descriptor. Safe to call once per fence.
func (b *SyncFileBroker) Destroy(f Fence) error {
	sf, ok := f.(*syncFence)
	if !ok {
		return fmt.Errorf("not a sync_file fence")
	}
	if sf.fd < 0 {
		return fmt.Errorf("fence already destroyed")
	}
	err := unix.Close(sf.fd)
	sf.fd = -1
	return err
}
