package lease

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmsflip/kmsflip/internal/drm"
	"github.com/kmsflip/kmsflip/internal/fence"
	"github.com/kmsflip/kmsflip/internal/pipeline"
	"github.com/kmsflip/kmsflip/internal/render"
)

// fakeSession serves a minimal object chain and counts commits. No
// fence plumbing: the broker below has no producer fences, so commits
// never request a completion fence.
type fakeSession struct {
	connector *drm.Object
	crtc      *drm.Object
	plane     *drm.Object

	commits atomic.Uint64

	lesseeID uint32
	leaseErr error
	leases   [][]uint32
}

func newFakeSession(lesseeID uint32) *fakeSession {
	return &fakeSession{
		connector: &drm.Object{ID: 31, Type: drm.TypeConnector, Props: drm.PropertyTable{
			{Name: "CRTC_ID", ID: 20},
		}},
		crtc: &drm.Object{ID: 41, Type: drm.TypeCrtc, Props: drm.PropertyTable{
			{Name: "MODE_ID", ID: 40},
			{Name: "ACTIVE", ID: 42},
			{Name: "OUT_FENCE_PTR", ID: 43},
		}},
		plane: &drm.Object{ID: 51, Type: drm.TypePlane, Props: drm.PropertyTable{
			{Name: "FB_ID", ID: 60},
			{Name: "CRTC_ID", ID: 61},
			{Name: "SRC_X", ID: 62},
			{Name: "SRC_Y", ID: 63},
			{Name: "SRC_W", ID: 64},
			{Name: "SRC_H", ID: 65},
			{Name: "CRTC_X", ID: 66},
			{Name: "CRTC_Y", ID: 67},
			{Name: "CRTC_W", ID: 68},
			{Name: "CRTC_H", ID: 69},
			{Name: "IN_FENCE_FD", ID: 70},
		}},
		lesseeID: lesseeID,
	}
}

func (s *fakeSession) Connector() *drm.Object { return s.connector }
func (s *fakeSession) Crtc() *drm.Object      { return s.crtc }
func (s *fakeSession) Plane() *drm.Object     { return s.plane }

func (s *fakeSession) Mode() drm.Mode {
	return drm.Mode{Width: 640, Height: 480, Refresh: 60, Raw: []byte{1}}
}

func (s *fakeSession) CreateBlob([]byte) (uint32, error) { return 7, nil }

func (s *fakeSession) Commit(req *drm.Request, flags drm.Flags, outFence *int) error {
	s.commits.Add(1)
	return nil
}

func (s *fakeSession) CreateLease(objectIDs []uint32) (uint32, int, error) {
	if s.leaseErr != nil {
		return 0, -1, s.leaseErr
	}
	s.leases = append(s.leases, append([]uint32(nil), objectIDs...))
	return s.lesseeID, -1, nil
}

func (s *fakeSession) Close() error { return nil }

type fakeSurface struct {
	free       []*render.Buffer
	acquireErr error
}

func newFakeSurface(count int) *fakeSurface {
	s := &fakeSurface{}
	for i := 1; i <= count; i++ {
		s.free = append(s.free, &render.Buffer{FramebufferID: uint32(i)})
	}
	return s
}

func (s *fakeSurface) Acquire() (*render.Buffer, error) {
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	if len(s.free) == 0 {
		return nil, render.ErrNoBuffer
	}
	b := s.free[0]
	s.free = s.free[1:]
	return b, nil
}

func (s *fakeSurface) Release(b *render.Buffer) error {
	s.free = append(s.free, b)
	return nil
}

func (s *fakeSurface) Close() error { return nil }

type nopRenderer struct{}

func (nopRenderer) Draw(uint64) error { return nil }
func (nopRenderer) Flush() error      { return nil }

// nopBroker has no producer fences, so pipelines over it never touch
// real descriptors.
type nopBroker struct{}

func (nopBroker) Wrap(int) (fence.Fence, error)   { return nil, fence.ErrUnsupported }
func (nopBroker) NewFence() (fence.Fence, error)  { return nil, fence.ErrUnsupported }
func (nopBroker) WaitGPU(fence.Fence) error       { return nil }
func (nopBroker) Export(fence.Fence) (int, error) { return -1, fence.ErrUnsupported }
func (nopBroker) WaitSignaled(fence.Fence) error  { return nil }
func (nopBroker) Destroy(fence.Fence) error       { return nil }

func newTestPipeline(sess drm.Session, surface render.Surface, opts ...pipeline.Option) *pipeline.Pipeline {
	return pipeline.New(drm.NewBuilder(sess), surface, nopRenderer{}, nopBroker{}, opts...)
}

func TestRunDualBothComplete(t *testing.T) {
	primarySess := newFakeSession(88)
	leasedSess := newFakeSession(0)

	var cleanups atomic.Uint64
	coord := New(primarySess, []uint32{31, 41, 51}, func(lesseeID uint32, fd int) (*pipeline.Pipeline, func(), error) {
		assert.Equal(t, uint32(88), lesseeID)
		pl := newTestPipeline(leasedSess, newFakeSurface(3),
			pipeline.WithFrameLimit(2), pipeline.WithName("leased"))
		return pl, func() { cleanups.Add(1) }, nil
	})

	primary := newTestPipeline(primarySess, newFakeSurface(3), pipeline.WithFrameLimit(3))

	require.NoError(t, coord.RunDual(context.Background(), primary))
	assert.Equal(t, uint64(3), primarySess.commits.Load())
	assert.Equal(t, uint64(2), leasedSess.commits.Load())
	assert.Equal(t, uint64(1), cleanups.Load())
	assert.Equal(t, [][]uint32{{31, 41, 51}}, primarySess.leases)
}

func TestRunDualStopsLeasedWithPrimary(t *testing.T) {
	primarySess := newFakeSession(1)
	leasedSess := newFakeSession(0)

	coord := New(primarySess, []uint32{31, 41, 51}, func(uint32, int) (*pipeline.Pipeline, func(), error) {
		// No frame limit: the leased loop runs until cancelled.
		pl := newTestPipeline(leasedSess, newFakeSurface(3), pipeline.WithName("leased"))
		return pl, func() {}, nil
	})

	primary := newTestPipeline(primarySess, newFakeSurface(3), pipeline.WithFrameLimit(2))

	// Must return: the coordinator cancels the leased loop once the
	// primary finishes.
	require.NoError(t, coord.RunDual(context.Background(), primary))
	assert.Equal(t, uint64(2), primarySess.commits.Load())
}

func TestRunDualLeasedFailureDoesNotStopPrimary(t *testing.T) {
	primarySess := newFakeSession(1)
	leasedSess := newFakeSession(0)

	coord := New(primarySess, []uint32{31, 41, 51}, func(uint32, int) (*pipeline.Pipeline, func(), error) {
		broken := newFakeSurface(0)
		broken.acquireErr = render.ErrNoBuffer
		pl := newTestPipeline(leasedSess, broken, pipeline.WithName("leased"))
		return pl, func() {}, nil
	})

	primary := newTestPipeline(primarySess, newFakeSurface(3), pipeline.WithFrameLimit(3))

	require.NoError(t, coord.RunDual(context.Background(), primary),
		"a leased failure must not surface as a primary failure")
	assert.Equal(t, uint64(3), primarySess.commits.Load())
	assert.Zero(t, leasedSess.commits.Load())
}

func TestStartNoObjects(t *testing.T) {
	coord := New(newFakeSession(1), nil, func(uint32, int) (*pipeline.Pipeline, func(), error) {
		t.Fatal("build must not be called")
		return nil, nil, nil
	})

	_, err := coord.Start(context.Background())
	require.Error(t, err)
}

func TestStartLeaseFailure(t *testing.T) {
	sess := newFakeSession(1)
	sess.leaseErr = fmt.Errorf("objects busy")

	coord := New(sess, []uint32{31}, func(uint32, int) (*pipeline.Pipeline, func(), error) {
		t.Fatal("build must not be called after lease failure")
		return nil, nil, nil
	})

	_, err := coord.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create lease")
}
