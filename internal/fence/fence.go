// Package fence mediates one-shot completion signals between the
// renderer and the display commit path. A fence wraps a raw descriptor
// owned by exactly one side at a time; it is waited on or destroyed
// exactly once.
package fence

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by NewFence when the broker cannot create
// producer fences (a CPU renderer, for example). The frame then commits
// without fence properties.
var ErrUnsupported = errors.New("producer fences not supported")

// Fence is a one-shot completion signal.
type Fence interface {
	// Raw returns the underlying descriptor, or -1 if the fence does
	// not carry one.
	Raw() int
}

// Broker creates, exports and waits on fences. Wrap and NewFence hand
// out fences the broker owns until Destroy; Export transfers a fresh
// descriptor to the caller.
type Broker interface {
	// Wrap takes ownership of a raw descriptor and turns it into a
	// waitable fence.
	Wrap(fd int) (Fence, error)

	// NewFence creates a producer fence that signals when rendering
	// queued before it completes. Returns ErrUnsupported if the
	// renderer has no fence primitive.
	NewFence() (Fence, error)

	// WaitGPU orders subsequent rendering after the fence without
	// blocking the calling thread.
	WaitGPU(f Fence) error

	// Export obtains a descriptor for the fence. Only valid after the
	// fenced work has been flushed to the execution queue; exporting
	// earlier yields a descriptor that can never signal. Ownership of
	// the returned descriptor passes to the caller.
	Export(f Fence) (int, error)

	// WaitSignaled blocks the calling thread until the fence signals.
	// This is the broker's only blocking operation.
	WaitSignaled(f Fence) error

	// Destroy releases the fence object. Each fence is destroyed
	// exactly once.
	Destroy(f Fence) error
}

// WaitError reports a blocking wait that errored or never signaled.
// Proceeding after one would risk overwriting a buffer still on screen,
// so it is fatal to the frame loop.
type WaitError struct {
	Err error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("fence wait failed: %v", e.Err)
}

func (e *WaitError) Unwrap() error {
	return e.Err
}
