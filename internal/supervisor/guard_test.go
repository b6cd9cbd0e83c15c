package supervisor

import (
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeCounter struct {
	mu     sync.Mutex
	closes int
	err    error
}

func (c *closeCounter) Start() error { return nil }

func (c *closeCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return c.err
}

func (c *closeCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func pipeFD(t *testing.T) int {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	fd, err := syscall.Dup(int(r.Fd()))
	require.NoError(t, err)
	r.Close()
	return fd
}

func TestGuardReleaseClosesDescriptorsAndHandle(t *testing.T) {
	g := NewGuard(nil)
	handle := &closeCounter{}
	fd := pipeFD(t)

	g.SetHandle(handle)
	g.TrackDescriptor(fd)
	g.Release()

	assert.Equal(t, 1, handle.count())
	assert.True(t, g.Released())
	// The descriptor must be gone.
	err := syscall.Close(fd)
	assert.Error(t, err)
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	g := NewGuard(nil)
	handle := &closeCounter{}
	g.SetHandle(handle)

	g.Release()
	g.Release()
	g.Release()

	assert.Equal(t, 1, handle.count())
}

func TestGuardReleaseConcurrent(t *testing.T) {
	g := NewGuard(nil)
	handle := &closeCounter{}
	g.SetHandle(handle)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, handle.count())
}

func TestGuardSwallowsCloseErrors(t *testing.T) {
	g := NewGuard(nil)
	g.SetHandle(&closeCounter{err: errors.New("engine wedged")})

	g.Release()
	assert.True(t, g.Released())
}

func TestGuardClosesLateDescriptor(t *testing.T) {
	g := NewGuard(nil)
	g.Release()

	fd := pipeFD(t)
	g.TrackDescriptor(fd)

	err := syscall.Close(fd)
	assert.Error(t, err)
}
