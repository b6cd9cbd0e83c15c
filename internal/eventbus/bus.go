// Package eventbus delivers asynchronous lifecycle signals to the supervisor.
// It replaces OS broadcast intents with an in-process typed subscription.
package eventbus

import (
	"sync"

	"github.com/google/uuid"
)

// Signal is an externally triggered lifecycle event.
type Signal int

const (
	// SignalStopRequested asks the supervisor to stop the engine.
	SignalStopRequested Signal = iota

	// SignalPermissionRevoked means the OS revoked the capability that
	// lets the engine attach to the network; handled like a stop request.
	SignalPermissionRevoked

	// SignalProfileChanged means the selected profile content changed and
	// a running engine should be reloaded.
	SignalProfileChanged
)

func (s Signal) String() string {
	switch s {
	case SignalStopRequested:
		return "stop_requested"
	case SignalPermissionRevoked:
		return "permission_revoked"
	case SignalProfileChanged:
		return "profile_changed"
	default:
		return "unknown"
	}
}

// Bus is a typed publish/subscribe fan-out. Publishing with zero subscribers
// is a no-op. Each published signal reaches each subscriber at most once; a
// subscriber whose buffer is full skips the signal rather than blocking the
// publisher, which is acceptable because lifecycle signals are idempotent for
// their consumers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Signal
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]chan Signal)}
}

// Subscribe registers a new subscription with the given channel buffer and
// returns the receive channel plus a cancel function. Cancel is idempotent
// and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Signal, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Signal, buffer)
	id := uuid.NewString()

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the signal to all current subscribers.
func (b *Bus) Publish(sig Signal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- sig:
		default:
		}
	}
}

// Subscribers reports the current subscription count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
