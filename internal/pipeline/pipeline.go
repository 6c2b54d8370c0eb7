// Package pipeline runs the steady-state buffer swap loop: exchange
// fences with the previous commit, render, and submit the next atomic
// transaction, rotating a small fixed pool of scanout buffers.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kmsflip/kmsflip/internal/drm"
	"github.com/kmsflip/kmsflip/internal/fence"
	"github.com/kmsflip/kmsflip/internal/logger"
	"github.com/kmsflip/kmsflip/internal/render"
)

// Pipeline owns one connector/CRTC/plane chain for its whole life.
// There is no concurrency inside a pipeline; every wait is an explicit
// synchronization point in the loop below.
type Pipeline struct {
	builder  *drm.Builder
	surface  render.Surface
	renderer render.Renderer
	broker   fence.Broker

	// frameLimit stops the loop after that many frames; 0 runs until
	// the context is cancelled or a frame fails.
	frameLimit uint64

	name string
}

// Option adjusts a pipeline.
type Option func(*Pipeline)

// WithFrameLimit stops the loop after n frames.
func WithFrameLimit(n uint64) Option {
	return func(p *Pipeline) { p.frameLimit = n }
}

// WithName tags the pipeline's log output, useful when a leased
// pipeline runs next to the primary one.
func WithName(name string) Option {
	return func(p *Pipeline) { p.name = name }
}

// New assembles a pipeline from its collaborators.
func New(builder *drm.Builder, surface render.Surface, renderer render.Renderer, broker fence.Broker, opts ...Option) *Pipeline {
	p := &Pipeline{
		builder:  builder,
		surface:  surface,
		renderer: renderer,
		broker:   broker,
		name:     "primary",
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run cycles frames until the context is cancelled, the frame limit is
// reached, or a frame fails. Every per-frame failure is fatal: the loop
// has no retry state, restarting the pipeline is the only recovery.
func (p *Pipeline) Run(ctx context.Context) error {
	// The first commit is the only one allowed to reconfigure the
	// display.
	flags := drm.FlagNonblock | drm.FlagAllowModeset

	var onScreen *render.Buffer
	var frame uint64

	mode := p.builder.Mode()
	logger.Infof("[%s] starting swap loop at %dx%d@%d", p.name, mode.Width, mode.Height, mode.Refresh)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("[%s] stop requested after %d frames", p.name, frame)
			return nil
		default:
		}

		// A completion fence from the previous commit means a buffer
		// is still being scanned out. Order this frame's rendering
		// after it so we never draw into the on-screen buffer. The
		// descriptor's ownership moves from the device to us here.
		var displayFence fence.Fence
		if fd := p.builder.TakeOutFence(); fd >= 0 {
			f, err := p.broker.Wrap(fd)
			if err != nil {
				return fmt.Errorf("[%s] wrap display fence: %w", p.name, err)
			}
			displayFence = f
			if err := p.broker.WaitGPU(displayFence); err != nil {
				p.destroy(displayFence)
				return fmt.Errorf("[%s] order rendering after display fence: %w", p.name, err)
			}
		}

		if err := p.renderer.Draw(frame); err != nil {
			p.destroy(displayFence)
			return fmt.Errorf("[%s] draw frame %d: %w", p.name, frame, err)
		}

		// Fence this frame's rendering. Export is only valid once the
		// work is flushed to the queue, so the order is fixed: create,
		// flush, export, destroy the wrapper but keep the descriptor.
		renderFence, err := p.broker.NewFence()
		if err != nil && !errors.Is(err, fence.ErrUnsupported) {
			p.destroy(displayFence)
			return fmt.Errorf("[%s] create render fence: %w", p.name, err)
		}
		if err := p.renderer.Flush(); err != nil {
			p.destroy(renderFence)
			p.destroy(displayFence)
			return fmt.Errorf("[%s] flush rendering: %w", p.name, err)
		}
		if renderFence != nil {
			fd, err := p.broker.Export(renderFence)
			p.destroy(renderFence)
			if err != nil {
				p.destroy(displayFence)
				return fmt.Errorf("[%s] export render fence: %w", p.name, err)
			}
			// The builder owns the descriptor from here until the
			// commit consumes it.
			p.builder.SetInFence(fd)
		}

		next, err := p.surface.Acquire()
		if err != nil {
			p.destroy(displayFence)
			return fmt.Errorf("[%s] acquire buffer for frame %d: %w", p.name, frame, err)
		}

		// The device rejects a commit while the previous one is still
		// pending, so block right before submitting, not earlier.
		if displayFence != nil {
			if err := p.broker.WaitSignaled(displayFence); err != nil {
				p.destroy(displayFence)
				return fmt.Errorf("[%s] wait for previous commit: %w", p.name, err)
			}
			p.destroy(displayFence)
		}

		if err := p.builder.CommitFrame(next.FramebufferID, flags); err != nil {
			return fmt.Errorf("[%s] frame %d: %w", p.name, frame, err)
		}

		// The commit succeeded: the buffer that was on screen before
		// it is now free for rendering again. Never the one just
		// submitted.
		if onScreen != nil {
			if err := p.surface.Release(onScreen); err != nil {
				return fmt.Errorf("[%s] release buffer: %w", p.name, err)
			}
		}
		onScreen = next

		flags &^= drm.FlagAllowModeset
		frame++

		if p.frameLimit > 0 && frame >= p.frameLimit {
			logger.Infof("[%s] frame limit %d reached", p.name, p.frameLimit)
			return nil
		}
	}
}

func (p *Pipeline) destroy(f fence.Fence) {
	if f == nil {
		return
	}
	if err := p.broker.Destroy(f); err != nil {
		logger.Warnf("[%s] destroy fence: %v", p.name, err)
	}
}
