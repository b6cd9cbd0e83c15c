package logring

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendBoundsBuffer(t *testing.T) {
	ring := New(3)
	for i := 0; i < 10; i++ {
		ring.Append(fmt.Sprintf("line %d", i))
	}

	snapshot, _, cancel := ring.Subscribe(1)
	defer cancel()

	require.Len(t, snapshot, 3)
	assert.Equal(t, "line 7", snapshot[0].Message)
	assert.Equal(t, "line 9", snapshot[2].Message)
}

func TestSubscribeSnapshotAndTailDoNotOverlap(t *testing.T) {
	ring := New(10)
	ring.Append("before")

	snapshot, tail, cancel := ring.Subscribe(4)
	defer cancel()

	require.Len(t, snapshot, 1)
	assert.Equal(t, "before", snapshot[0].Message)

	ring.Append("after")
	select {
	case entry := <-tail:
		assert.Equal(t, "after", entry.Message)
	case <-time.After(time.Second):
		t.Fatal("tail entry not delivered")
	}
}

func TestResetClearsAndMarks(t *testing.T) {
	ring := New(10)
	ring.Append("old")

	_, tail, cancel := ring.Subscribe(4)
	defer cancel()

	ring.Reset()
	assert.Zero(t, ring.Len())

	select {
	case entry := <-tail:
		assert.True(t, entry.Reset)
		assert.Empty(t, entry.Message)
	case <-time.After(time.Second):
		t.Fatal("reset marker not delivered")
	}
}

func TestSlowSubscriberSkipsLines(t *testing.T) {
	ring := New(100)
	_, _, cancel := ring.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			ring.Append("flood")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("append blocked on a full subscriber")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	ring := New(10)
	_, tail, cancel := ring.Subscribe(1)

	cancel()
	cancel()

	_, ok := <-tail
	assert.False(t, ok)
}
