package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/tunneld/internal/engine"
	"github.com/creamcroissant/tunneld/internal/eventbus"
	"github.com/creamcroissant/tunneld/internal/logring"
	"github.com/creamcroissant/tunneld/internal/repository"
)

type fakeHandle struct {
	mu       sync.Mutex
	startErr error
	started  bool
	closed   bool
}

func (h *fakeHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startErr != nil {
		return h.startErr
	}
	h.started = true
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type fakeFactory struct {
	mu        sync.Mutex
	newErr    error
	startErr  error
	handles   []*fakeHandle
	liveCount int
	maxLive   int
}

func (f *fakeFactory) New(_ context.Context, _ string, _ engine.Platform) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	h := &fakeHandle{startErr: f.startErr}
	f.handles = append(f.handles, h)
	f.liveCount++
	if f.liveCount > f.maxLive {
		f.maxLive = f.liveCount
	}
	return &countingHandle{inner: h, factory: f}, nil
}

// countingHandle decrements the live counter on close so tests can
// assert at most one engine instance existed at a time.
type countingHandle struct {
	inner   *fakeHandle
	factory *fakeFactory
	once    sync.Once
}

func (h *countingHandle) Start() error { return h.inner.Start() }

func (h *countingHandle) Close() error {
	h.once.Do(func() {
		h.factory.mu.Lock()
		h.factory.liveCount--
		h.factory.mu.Unlock()
	})
	return h.inner.Close()
}

type fakePlatform struct{}

func (fakePlatform) OpenTun(engine.TunOptions) (int, error) { return 0, errors.New("no tun") }
func (fakePlatform) ProtectSocket(int) error                { return nil }
func (fakePlatform) DefaultInterface() (engine.NetworkInterface, error) {
	return engine.NetworkInterface{Name: "eth0"}, nil
}
func (fakePlatform) LookupDNS(context.Context, string, string) ([]string, error) {
	return []string{"127.0.0.1"}, nil
}
func (fakePlatform) WriteLog(string) {}
func (fakePlatform) SendNotification(engine.Notification) error { return nil }

type fakeResolver struct {
	mu      sync.Mutex
	profile repository.Profile
	err     error
}

func (r *fakeResolver) ResolveSelected(context.Context) (repository.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profile, r.err
}

func (r *fakeResolver) set(p repository.Profile, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profile = p
	r.err = err
}

type fakeFlags struct {
	mu      sync.Mutex
	started bool
}

func (f *fakeFlags) SetStartedByUser(_ context.Context, v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = v
	return nil
}

func (f *fakeFlags) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

type fakeCommandServer struct {
	mu       sync.Mutex
	startErr error
	starts   int
	closes   int
}

func (s *fakeCommandServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.starts++
	return nil
}

func (s *fakeCommandServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeCommandServer) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.closes
}

type harness struct {
	svc      *Supervisor
	factory  *fakeFactory
	resolver *fakeResolver
	flags    *fakeFlags
	cmd      *fakeCommandServer
	bus      *eventbus.Bus
	ring     *logring.Ring
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	factory := &fakeFactory{}
	resolver := &fakeResolver{profile: repository.Profile{ID: 1, Name: "default", Content: "{}"}}
	flags := &fakeFlags{}
	cmd := &fakeCommandServer{}
	bus := eventbus.New()
	ring := logring.New(100)

	svc, err := New(Options{
		Factory:  factory,
		Platform: fakePlatform{},
		Profiles: resolver,
		Flags:    flags,
		Bus:      bus,
		Logs:     ring,
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	svc.SetCommandServer(cmd)
	t.Cleanup(func() { svc.Close() })

	return &harness{svc: svc, factory: factory, resolver: resolver, flags: flags, cmd: cmd, bus: bus, ring: ring}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	_, states, cancel := h.svc.Subscribe(16)
	defer cancel()

	require.NoError(t, h.svc.Start().Wait(ctx))
	assert.Equal(t, StateStarted, h.svc.State())
	assert.True(t, h.flags.get())

	require.NoError(t, h.svc.Stop().Wait(ctx))
	assert.Equal(t, StateStopped, h.svc.State())
	assert.False(t, h.flags.get())

	var trace []State
	for len(trace) < 4 {
		select {
		case s := <-states:
			trace = append(trace, s)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for transitions, got %v", trace)
		}
	}
	assert.Equal(t, []State{StateStarting, StateStarted, StateStopping, StateStopped}, trace)

	starts, closes := h.cmd.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, closes)
	assert.True(t, h.factory.handles[0].isClosed())
}

func TestClosePreservesResumeFlag(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.svc.Start().Wait(ctx))
	require.True(t, h.flags.get())

	require.NoError(t, h.svc.Close())
	assert.Equal(t, StateStopped, h.svc.State())
	assert.True(t, h.flags.get(), "daemon shutdown must not clear the resume flag")
	assert.True(t, h.factory.handles[0].isClosed())
}

func TestStartWithoutProfileRaisesAlert(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)
	h.resolver.set(repository.Profile{}, errors.New("no profile selected"))

	err := h.svc.Start().Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, StateStopped, h.svc.State())

	alert := h.svc.Alert()
	require.NotNil(t, alert)
	assert.Equal(t, AlertEmptyConfiguration, alert.Kind)

	starts, closes := h.cmd.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, closes)
}

func TestFailedEngineStartClosesCommandServer(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)
	h.factory.startErr = errors.New("bad config")

	err := h.svc.Start().Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, StateStopped, h.svc.State())

	alert := h.svc.Alert()
	require.NotNil(t, alert)
	assert.Equal(t, AlertStartService, alert.Kind)

	starts, closes := h.cmd.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, closes, "a failed start must not leave the command server running")
	assert.True(t, h.factory.handles[0].isClosed())
}

func TestFailedCreateRaisesAlert(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)
	h.factory.newErr = errors.New("parse error")

	err := h.svc.Start().Wait(ctx)
	require.Error(t, err)

	alert := h.svc.Alert()
	require.NotNil(t, alert)
	assert.Equal(t, AlertCreateService, alert.Kind)
	_, closes := h.cmd.counts()
	assert.Equal(t, 1, closes)
}

func TestStopWhenStoppedIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.svc.Stop().Wait(ctx))
	require.NoError(t, h.svc.Stop().Wait(ctx))
	assert.Equal(t, StateStopped, h.svc.State())

	_, closes := h.cmd.counts()
	assert.Zero(t, closes)
}

func TestStartWhileStartedFails(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.svc.Start().Wait(ctx))
	err := h.svc.Start().Wait(ctx)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateStarted, h.svc.State())
}

func TestReloadSwapsEngineInstance(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.svc.Start().Wait(ctx))

	_, states, cancel := h.svc.Subscribe(16)
	defer cancel()

	require.NoError(t, h.svc.Reload().Wait(ctx))
	assert.Equal(t, StateStarted, h.svc.State())

	// No transition may be observed for a successful reload.
	select {
	case s := <-states:
		t.Fatalf("unexpected transition during reload: %v", s)
	case <-time.After(100 * time.Millisecond):
	}

	require.Len(t, h.factory.handles, 2)
	assert.True(t, h.factory.handles[0].isClosed())
	assert.False(t, h.factory.handles[1].isClosed())
	assert.LessOrEqual(t, h.factory.maxLive, 1)
}

func TestReloadWhenStoppedFails(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	err := h.svc.Reload().Wait(ctx)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReloadFailureTearsDown(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.svc.Start().Wait(ctx))
	h.factory.mu.Lock()
	h.factory.startErr = errors.New("broken profile")
	h.factory.mu.Unlock()

	err := h.svc.Reload().Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, StateStopped, h.svc.State())

	alert := h.svc.Alert()
	require.NotNil(t, alert)
	assert.Equal(t, AlertStartService, alert.Kind)

	_, closes := h.cmd.counts()
	assert.Equal(t, 1, closes)
	assert.False(t, h.flags.get())
	for _, handle := range h.factory.handles {
		assert.True(t, handle.isClosed())
	}
}

func TestReloadResolveFailureReleasesEngine(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.svc.Start().Wait(ctx))
	h.resolver.set(repository.Profile{}, errors.New("profile store unavailable"))

	err := h.svc.Reload().Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, StateStopped, h.svc.State())
	assert.True(t, h.factory.handles[0].isClosed(), "the running engine must be released on a failed reload")
	assert.Empty(t, h.svc.Status().Profile)

	// A later start must not overlap with the instance from before
	// the failed reload.
	h.resolver.set(repository.Profile{ID: 1, Name: "default", Content: "{}"}, nil)
	require.NoError(t, h.svc.Start().Wait(ctx))
	require.NoError(t, h.svc.Stop().Wait(ctx))
	assert.LessOrEqual(t, h.factory.maxLive, 1)
}

func TestObserverCancelDuringTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				_, ch, cancel := h.svc.Subscribe(1)
				select {
				case <-ch:
				default:
				}
				cancel()
			}
		}()
	}

	for i := 0; i < 25; i++ {
		require.NoError(t, h.svc.Start().Wait(ctx))
		require.NoError(t, h.svc.Stop().Wait(ctx))
	}

	close(done)
	wg.Wait()
}

func TestAtMostOneInstanceAcrossRestarts(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.svc.Start().Wait(ctx))
		require.NoError(t, h.svc.Stop().Wait(ctx))
	}
	assert.Equal(t, 1, h.factory.maxLive)
	assert.Len(t, h.factory.handles, 5)
}

func TestStopRequestedSignalStopsService(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.svc.Start().Wait(ctx))
	h.bus.Publish(eventbus.SignalStopRequested)

	require.Eventually(t, func() bool {
		return h.svc.State() == StateStopped
	}, 5*time.Second, 10*time.Millisecond)
}

func TestProfileChangedSignalReloads(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.svc.Start().Wait(ctx))
	h.bus.Publish(eventbus.SignalProfileChanged)

	require.Eventually(t, func() bool {
		h.factory.mu.Lock()
		defer h.factory.mu.Unlock()
		return len(h.factory.handles) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateStarted, h.svc.State())
}

func TestOnPermissionRevokedStops(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.svc.Start().Wait(ctx))
	require.NoError(t, h.svc.OnPermissionRevoked().Wait(ctx))
	assert.Equal(t, StateStopped, h.svc.State())
}

func TestQueuedOperationsRunInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	start := h.svc.Start()
	stop := h.svc.Stop()

	require.NoError(t, start.Wait(ctx))
	require.NoError(t, stop.Wait(ctx))
	assert.Equal(t, StateStopped, h.svc.State())
}

func TestCloseRejectsFurtherOperations(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	require.NoError(t, h.svc.Start().Wait(ctx))
	require.NoError(t, h.svc.Close())
	assert.Equal(t, StateStopped, h.svc.State())

	// Rejection must be immediate every time, not a timed-out Wait.
	for i := 0; i < 20; i++ {
		opCtx, cancel := context.WithTimeout(ctx, time.Second)
		require.ErrorIs(t, h.svc.Start().Wait(opCtx), ErrClosed)
		require.ErrorIs(t, h.svc.Stop().Wait(opCtx), ErrClosed)
		require.ErrorIs(t, h.svc.Reload().Wait(opCtx), ErrClosed)
		cancel()
	}
}

func TestDetachClientsClosesObservers(t *testing.T) {
	h := newHarness(t)

	_, states, cancel := h.svc.Subscribe(4)
	defer cancel()

	h.svc.DetachClients()
	_, ok := <-states
	assert.False(t, ok)
}

func TestLogsResetOnStart(t *testing.T) {
	h := newHarness(t)
	ctx := waitCtx(t)

	h.ring.Append("stale line")
	require.NoError(t, h.svc.Start().Wait(ctx))
	assert.Zero(t, h.ring.Len())
}
