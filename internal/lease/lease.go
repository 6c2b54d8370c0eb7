// Package lease runs a second, independent swap pipeline over a DRM
// lease: a capability hand-off that scopes a new device session to a
// disjoint set of objects. The two pipelines share nothing but the
// device itself, which the kernel arbitrates, so no locking is needed
// between them.
package lease

import (
	"context"
	"fmt"

	"github.com/kmsflip/kmsflip/internal/drm"
	"github.com/kmsflip/kmsflip/internal/logger"
	"github.com/kmsflip/kmsflip/internal/pipeline"
)

// StackBuilder assembles a full resolver/builder/pipeline stack over a
// leased session file descriptor. The returned cleanup tears the stack
// down after the pipeline stops. Ownership of fd passes to the builder.
type StackBuilder func(lesseeID uint32, fd int) (*pipeline.Pipeline, func(), error)

// Coordinator creates the lease and owns the leased pipeline's
// goroutine.
type Coordinator struct {
	session drm.Session
	objects []uint32
	build   StackBuilder
}

// New prepares a coordinator leasing the given object ids out of the
// primary session.
func New(session drm.Session, objects []uint32, build StackBuilder) *Coordinator {
	return &Coordinator{session: session, objects: objects, build: build}
}

// Start creates the lease and launches the leased pipeline on its own
// goroutine. The returned channel delivers the pipeline's final error
// (nil on clean stop). Lease creation failure aborts before anything
// runs.
func (c *Coordinator) Start(ctx context.Context) (<-chan error, error) {
	if len(c.objects) == 0 {
		return nil, fmt.Errorf("no objects to lease")
	}

	lesseeID, fd, err := c.session.CreateLease(c.objects)
	if err != nil {
		return nil, fmt.Errorf("create lease for objects %v: %w", c.objects, err)
	}
	logger.Infof("leased objects %v to lessee %d", c.objects, lesseeID)

	pl, cleanup, err := c.build(lesseeID, fd)
	if err != nil {
		return nil, fmt.Errorf("build leased pipeline: %w", err)
	}

	errc := make(chan error, 1)
	go func() {
		defer cleanup()
		errc <- pl.Run(ctx)
	}()
	return errc, nil
}

// RunDual starts the leased pipeline, then runs the primary pipeline on
// the calling goroutine. The pipelines fail independently: a leased
// failure is logged and does not stop the primary, and vice versa. The
// primary's error is returned; the leased result is collected before
// returning.
func (c *Coordinator) RunDual(ctx context.Context, primary *pipeline.Pipeline) error {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	leasedErr, err := c.Start(lctx)
	if err != nil {
		return err
	}

	primaryErr := primary.Run(ctx)

	// Stop the leased loop once the primary is done, then collect its
	// result.
	cancel()
	if err := <-leasedErr; err != nil {
		logger.Errorf("leased pipeline: %v", err)
	}
	return primaryErr
}
