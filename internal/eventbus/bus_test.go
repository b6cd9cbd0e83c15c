package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := New()

	a, cancelA := bus.Subscribe(1)
	b, cancelB := bus.Subscribe(1)
	defer cancelA()
	defer cancelB()

	bus.Publish(SignalProfileChanged)

	for _, ch := range []<-chan Signal{a, b} {
		select {
		case sig := <-ch:
			assert.Equal(t, SignalProfileChanged, sig)
		case <-time.After(time.Second):
			t.Fatal("signal not delivered")
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := New()

	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(SignalStopRequested)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := New()

	ch, cancel := bus.Subscribe(1)
	require.Equal(t, 1, bus.Subscribers())

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, bus.Subscribers())

	// A second cancel must not panic.
	cancel()
}

func TestPublishAfterCancelIsSafe(t *testing.T) {
	bus := New()

	_, cancel := bus.Subscribe(1)
	cancel()
	bus.Publish(SignalPermissionRevoked)
}

func TestSignalString(t *testing.T) {
	assert.Equal(t, "stop_requested", SignalStopRequested.String())
	assert.Equal(t, "permission_revoked", SignalPermissionRevoked.String())
	assert.Equal(t, "profile_changed", SignalProfileChanged.String())
}
