//go:build linux

package fence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

// readyPipe returns a pipe whose read end polls ready immediately and,
// optionally, the still-open write end.
func readyPipe(t *testing.T, signal bool) (int, int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	if signal {
		_, err := unix.Write(p[1], []byte{1})
		require.NoError(t, err)
	}
	return p[0], p[1]
}

func TestWrapInvalidDescriptor(t *testing.T) {
	b := NewSyncFileBroker()

	_, err := b.Wrap(-1)
	require.Error(t, err)
}

func TestNewFenceUnsupported(t *testing.T) {
	b := NewSyncFileBroker()

	_, err := b.NewFence()
	assert.True(t, errors.Is(err, ErrUnsupported))

	_, err = b.Export(&syncFence{fd: 3})
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestWaitSignaledReturnsWhenReady(t *testing.T) {
	b := NewSyncFileBroker()
	rfd, wfd := readyPipe(t, true)
	defer unix.Close(wfd)

	f, err := b.Wrap(rfd)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- b.WaitSignaled(f) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitSignaled did not return on a ready descriptor")
	}

	require.NoError(t, b.Destroy(f))
}

func TestWaitSignaledBlocksUntilReady(t *testing.T) {
	b := NewSyncFileBroker()
	rfd, wfd := readyPipe(t, false)

	f, err := b.Wrap(rfd)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- b.WaitSignaled(f) }()

	select {
	case <-done:
		t.Fatal("WaitSignaled returned before the descriptor was ready")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = unix.Write(wfd, []byte{1})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitSignaled did not observe the signal")
	}

	require.NoError(t, unix.Close(wfd))
	require.NoError(t, b.Destroy(f))
}

func TestWaitGPUDegradesToBlockingWait(t *testing.T) {
	b := NewSyncFileBroker()
	rfd, wfd := readyPipe(t, true)
	defer unix.Close(wfd)

	f, err := b.Wrap(rfd)
	require.NoError(t, err)

	require.NoError(t, b.WaitGPU(f))
	require.NoError(t, b.Destroy(f))
}

func TestDestroyOnce(t *testing.T) {
	b := NewSyncFileBroker()
	rfd, wfd := readyPipe(t, true)
	defer unix.Close(wfd)

	f, err := b.Wrap(rfd)
	require.NoError(t, err)

	require.NoError(t, b.Destroy(f))
	require.Error(t, b.Destroy(f), "a fence descriptor is closed exactly once")

	// A destroyed fence is no longer waitable either.
	err = b.WaitSignaled(f)
	require.Error(t, err)
	var waitErr *WaitError
	assert.True(t, errors.As(err, &waitErr))
}
