package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/tunneld/internal/eventbus"
)

func TestAwaitShutdownOnStopSignal(t *testing.T) {
	bus := eventbus.New()
	signals, cancel := bus.Subscribe(4)
	defer cancel()

	type result struct {
		sig       eventbus.Signal
		requested bool
	}
	got := make(chan result, 1)
	go func() {
		sig, requested := awaitShutdown(context.Background(), signals)
		got <- result{sig, requested}
	}()

	// Signals that do not end the daemon must be ignored.
	bus.Publish(eventbus.SignalProfileChanged)
	bus.Publish(eventbus.SignalStopRequested)

	select {
	case r := <-got:
		assert.True(t, r.requested)
		assert.Equal(t, eventbus.SignalStopRequested, r.sig)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}
}

func TestAwaitShutdownOnPermissionRevoked(t *testing.T) {
	bus := eventbus.New()
	signals, cancel := bus.Subscribe(4)
	defer cancel()

	got := make(chan bool, 1)
	go func() {
		_, requested := awaitShutdown(context.Background(), signals)
		got <- requested
	}()

	bus.Publish(eventbus.SignalPermissionRevoked)

	select {
	case requested := <-got:
		assert.True(t, requested)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}
}

func TestAwaitShutdownOnContextCancel(t *testing.T) {
	bus := eventbus.New()
	signals, cancel := bus.Subscribe(4)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	got := make(chan bool, 1)
	go func() {
		_, requested := awaitShutdown(ctx, signals)
		got <- requested
	}()

	stop()

	select {
	case requested := <-got:
		require.False(t, requested)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}
}
