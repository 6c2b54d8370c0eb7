// Package render defines the producer-side collaborators of the swap
// pipeline: the surface that owns the scanout buffer pool and the
// renderer that fills buffers. Content rendering itself lives behind
// these interfaces.
package render

import "errors"

// ErrNoBuffer reports an exhausted buffer pool: the display is not
// returning buffers as fast as the producer wants new ones.
var ErrNoBuffer = errors.New("no scanout buffer available")

// Buffer is a renderable surface with its display-side framebuffer id.
// A buffer has exactly one owner at a time - renderer, pipeline or
// display - and changes hands only through Acquire and Release.
type Buffer struct {
	FramebufferID uint32
	Width         uint32
	Height        uint32
	Pitch         uint32

	// Data is the mapped pixel storage for CPU renderers, nil for
	// buffers rendered elsewhere.
	Data []byte
}

// Surface hands out rendered buffers and takes back displayed ones.
// Both calls happen once per frame, in pipeline order.
type Surface interface {
	// Acquire returns the most recently rendered buffer, passing
	// ownership to the caller. ErrNoBuffer means backpressure.
	Acquire() (*Buffer, error)

	// Release returns a buffer that left the screen to the pool.
	Release(b *Buffer) error

	Close() error
}

// Renderer draws one frame into the surface's current back buffer.
type Renderer interface {
	// Draw renders frame number frame. Synchronous for CPU
	// renderers; GPU renderers may merely record work.
	Draw(frame uint64) error

	// Flush pushes recorded work to the execution queue. Producer
	// fences may only be exported after Flush returns.
	Flush() error
}
