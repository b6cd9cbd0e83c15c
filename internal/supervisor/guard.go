package supervisor

import (
	"log/slog"
	"sync"
	"syscall"

	"github.com/creamcroissant/tunneld/internal/engine"
)

// Guard owns the resources of one engine instance and guarantees they
// are released exactly once, descriptors before the engine handle.
// Release errors are logged but never escalated: teardown must always
// finish.
type Guard struct {
	mu          sync.Mutex
	handle      engine.Handle
	descriptors []int
	released    bool
	logger      *slog.Logger
}

func NewGuard(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{logger: logger.With("component", "guard")}
}

// SetHandle records the engine handle to close during Release.
func (g *Guard) SetHandle(h engine.Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handle = h
}

// TrackDescriptor registers a raw file descriptor, typically a TUN
// device, to be closed during Release.
func (g *Guard) TrackDescriptor(fd int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		if err := syscall.Close(fd); err != nil {
			g.logger.Warn("close late descriptor", "fd", fd, "error", err)
		}
		return
	}
	g.descriptors = append(g.descriptors, fd)
}

// Release closes every tracked descriptor and then the engine handle.
// It is idempotent: only the first call does any work.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return
	}
	g.released = true

	for _, fd := range g.descriptors {
		if err := syscall.Close(fd); err != nil {
			g.logger.Warn("close descriptor", "fd", fd, "error", err)
		}
	}
	g.descriptors = nil

	if g.handle != nil {
		if err := g.handle.Close(); err != nil {
			g.logger.Warn("close engine handle", "error", err)
		}
		g.handle = nil
	}
}

// Released reports whether Release has run.
func (g *Guard) Released() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}
