package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/creamcroissant/tunneld/internal/engine"
	"github.com/creamcroissant/tunneld/internal/eventbus"
	"github.com/creamcroissant/tunneld/internal/logring"
	"github.com/creamcroissant/tunneld/internal/repository"
)

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = errors.New("supervisor closed")

// ProfileResolver yields the configuration the next service instance
// should run with.
type ProfileResolver interface {
	ResolveSelected(ctx context.Context) (repository.Profile, error)
}

// Flags persists the started-by-user marker across daemon restarts.
type Flags interface {
	SetStartedByUser(ctx context.Context, started bool) error
}

// CommandServer is the control channel whose lifetime is tied to the
// running service.
type CommandServer interface {
	Start() error
	Close() error
}

type opKind int

const (
	opStart opKind = iota
	opStop
	opReload
)

type request struct {
	op   opKind
	task *Task
}

// Options configures a Supervisor. Factory, Platform, and Profiles are
// required.
type Options struct {
	Factory  engine.Factory
	Platform engine.Platform
	Runtime  *engine.Runtime
	Profiles ProfileResolver
	Flags    Flags
	Bus      *eventbus.Bus
	Logs     *logring.Ring
	Registry prometheus.Registerer
	Logger   *slog.Logger
}

// Supervisor serializes every lifecycle operation of the managed
// tunnel service through a single worker goroutine, so state
// transitions are totally ordered and at most one engine instance
// exists at any time.
type Supervisor struct {
	factory  engine.Factory
	platform engine.Platform
	runtime  *engine.Runtime
	profiles ProfileResolver
	flags    Flags
	bus      *eventbus.Bus
	logs     *logring.Ring
	metrics  *Metrics
	logger   *slog.Logger

	mailbox   chan *request
	closed    chan struct{}
	submitMu  sync.RWMutex
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu          sync.RWMutex
	state       State
	alert       *Alert
	guard       *Guard
	cmdServer   CommandServer
	cmdRunning  bool
	profileName string
	startedAt   time.Time
	observers   map[string]chan State

	busCancel func()
}

// New creates a Supervisor and starts its worker goroutine.
func New(opts Options) (*Supervisor, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	if opts.Platform == nil {
		return nil, fmt.Errorf("platform is required")
	}
	if opts.Profiles == nil {
		return nil, fmt.Errorf("profile resolver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logs := opts.Logs
	if logs == nil {
		logs = logring.New(0)
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.New()
	}

	s := &Supervisor{
		factory:   opts.Factory,
		platform:  opts.Platform,
		runtime:   opts.Runtime,
		profiles:  opts.Profiles,
		flags:     opts.Flags,
		bus:       bus,
		logs:      logs,
		metrics:   NewMetrics(opts.Registry),
		logger:    logger.With("component", "supervisor"),
		mailbox:   make(chan *request, 16),
		closed:    make(chan struct{}),
		state:     StateStopped,
		observers: make(map[string]chan State),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// SetCommandServer installs the control channel started and stopped
// alongside the service. Must be called before the first Start.
func (s *Supervisor) SetCommandServer(cs CommandServer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmdServer = cs
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Alert returns the most recent failed-start alert, or nil.
func (s *Supervisor) Alert() *Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alert
}

// Info is a point-in-time lifecycle summary.
type Info struct {
	State     string `json:"state"`
	Alert     *Alert `json:"alert,omitempty"`
	Profile   string `json:"profile,omitempty"`
	StartedAt int64  `json:"started_at,omitempty"`
	UptimeSec int64  `json:"uptime_sec,omitempty"`
}

// Status returns the current lifecycle summary.
func (s *Supervisor) Status() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{
		State:   s.state.String(),
		Alert:   s.alert,
		Profile: s.profileName,
	}
	if s.state == StateStarted && !s.startedAt.IsZero() {
		info.StartedAt = s.startedAt.Unix()
		info.UptimeSec = int64(time.Since(s.startedAt).Seconds())
	}
	return info
}

// Subscribe registers a state observer. The returned snapshot is the
// state at subscription time; later transitions arrive on the channel.
func (s *Supervisor) Subscribe(buffer int) (State, <-chan State, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan State, buffer)
	id := uuid.NewString()

	s.mu.Lock()
	current := s.state
	s.observers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.observers[id]; ok {
				delete(s.observers, id)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
	return current, ch, cancel
}

// DetachClients drops every state observer, closing their channels.
func (s *Supervisor) DetachClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.observers {
		delete(s.observers, id)
		close(ch)
	}
}

// Start queues a start of the service.
func (s *Supervisor) Start() *Task { return s.submit(opStart) }

// Stop queues a stop of the service. Stopping a stopped service is a
// no-op.
func (s *Supervisor) Stop() *Task { return s.submit(opStop) }

// Reload queues a configuration hot swap. Only valid while started.
func (s *Supervisor) Reload() *Task { return s.submit(opReload) }

// OnPermissionRevoked is invoked when the platform withdraws the
// service's network permission. The service stops.
func (s *Supervisor) OnPermissionRevoked() *Task {
	s.logger.Warn("network permission revoked, stopping service")
	return s.Stop()
}

// Close stops the worker, tearing down a running service first.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		// Taking the write lock first means no submit can slip a
		// request into the mailbox after rejection begins.
		s.submitMu.Lock()
		close(s.closed)
		s.submitMu.Unlock()
	})
	s.wg.Wait()
	return nil
}

func (s *Supervisor) submit(op opKind) *Task {
	t := newTask()
	s.submitMu.RLock()
	defer s.submitMu.RUnlock()
	select {
	case <-s.closed:
		t.finish(ErrClosed)
		return t
	default:
	}
	s.mailbox <- &request{op: op, task: t}
	return t
}

func (s *Supervisor) run() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.mailbox:
			s.dispatch(req)
		case <-s.closed:
			// Drain queued operations, then tear down.
			for {
				select {
				case req := <-s.mailbox:
					req.task.finish(ErrClosed)
				default:
					if s.State() != StateStopped {
						// Daemon shutdown, not a user stop: keep the
						// started flag so the service resumes next boot.
						s.doStop(newTask(), false)
					}
					s.DetachClients()
					return
				}
			}
		}
	}
}

func (s *Supervisor) dispatch(req *request) {
	switch req.op {
	case opStart:
		s.doStart(req.task)
	case opStop:
		s.doStop(req.task, true)
	case opReload:
		s.doReload(req.task)
	}
}

// transition updates the state and fans it out to observers. Slow
// observers miss transitions rather than blocking the worker. Sends
// happen under the lock: cancel closes observer channels under the
// same lock, so the worker can never send on a closed channel.
func (s *Supervisor) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	for _, ch := range s.observers {
		select {
		case ch <- to:
		default:
		}
	}
	s.mu.Unlock()

	s.metrics.observeTransition(from, to)
	s.logger.Info("state changed", "from", from.String(), "to", to.String())
}

func (s *Supervisor) raiseAlert(kind AlertKind, err error) {
	a := &Alert{Kind: kind}
	if err != nil {
		a.Message = err.Error()
	}
	s.mu.Lock()
	s.alert = a
	s.mu.Unlock()
	s.metrics.observeAlert(kind)
	// A failed attempt clears the resume flag so a broken
	// configuration does not retry at every boot.
	s.setStartedFlag(false)
	s.logger.Error("service start failed", "alert", string(kind), "error", err)
}

func (s *Supervisor) clearAlert() {
	s.mu.Lock()
	s.alert = nil
	s.mu.Unlock()
}

func (s *Supervisor) doStart(task *Task) {
	if s.State() != StateStopped {
		task.finish(fmt.Errorf("start: %w", ErrInvalidState))
		return
	}

	s.clearAlert()
	s.logs.Reset()
	s.transition(StateStarting)

	if err := s.startCommandServer(); err != nil {
		s.raiseAlert(AlertStartCommandServer, err)
		s.transition(StateStopped)
		task.finish(err)
		return
	}

	p, err := s.profiles.ResolveSelected(context.Background())
	if err != nil {
		s.raiseAlert(AlertEmptyConfiguration, err)
		s.closeCommandServer()
		s.transition(StateStopped)
		task.finish(err)
		return
	}

	guard := NewGuard(s.logger)
	platform := &trackingPlatform{inner: s.platform, guard: guard, logs: s.logs}

	handle, err := s.factory.New(context.Background(), p.Content, platform)
	if err != nil {
		s.raiseAlert(AlertCreateService, err)
		s.closeCommandServer()
		guard.Release()
		s.transition(StateStopped)
		task.finish(err)
		return
	}
	guard.SetHandle(handle)

	if err := handle.Start(); err != nil {
		s.raiseAlert(AlertStartService, err)
		guard.Release()
		s.closeCommandServer()
		s.transition(StateStopped)
		task.finish(err)
		return
	}

	s.mu.Lock()
	s.guard = guard
	s.profileName = p.Name
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.setStartedFlag(true)
	s.watchBus()
	s.metrics.starts.Inc()
	s.metrics.startedAt.Set(float64(time.Now().Unix()))
	s.transition(StateStarted)
	s.logger.Info("service started", "profile", p.Name)
	task.finish(nil)
}

func (s *Supervisor) doStop(task *Task, persistFlag bool) {
	if s.State() == StateStopped {
		task.finish(nil)
		return
	}
	s.transition(StateStopping)

	s.unwatchBus()

	s.mu.Lock()
	guard := s.guard
	s.guard = nil
	s.profileName = ""
	s.startedAt = time.Time{}
	s.mu.Unlock()

	if guard != nil {
		guard.Release()
	}
	s.closeCommandServer()
	if persistFlag {
		s.setStartedFlag(false)
	}
	s.metrics.startedAt.Set(0)
	s.transition(StateStopped)
	s.logger.Info("service stopped")
	task.finish(nil)
}

// doReload swaps the engine instance in place. Externally the service
// stays started; only a swap failure tears the whole service down.
func (s *Supervisor) doReload(task *Task) {
	if s.State() != StateStarted {
		task.finish(fmt.Errorf("reload: %w", ErrInvalidState))
		return
	}

	p, err := s.profiles.ResolveSelected(context.Background())
	if err != nil {
		s.raiseAlert(AlertEmptyConfiguration, err)
		s.teardownAfterReloadFailure()
		task.finish(err)
		return
	}

	s.mu.Lock()
	old := s.guard
	s.guard = nil
	s.mu.Unlock()
	if old != nil {
		old.Release()
	}
	s.logs.Reset()

	guard := NewGuard(s.logger)
	platform := &trackingPlatform{inner: s.platform, guard: guard, logs: s.logs}

	handle, err := s.factory.New(context.Background(), p.Content, platform)
	if err != nil {
		s.raiseAlert(AlertCreateService, err)
		guard.Release()
		s.teardownAfterReloadFailure()
		task.finish(err)
		return
	}
	guard.SetHandle(handle)

	if err := handle.Start(); err != nil {
		s.raiseAlert(AlertStartService, err)
		guard.Release()
		s.teardownAfterReloadFailure()
		task.finish(err)
		return
	}

	s.mu.Lock()
	s.guard = guard
	s.profileName = p.Name
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.metrics.starts.Inc()
	s.metrics.startedAt.Set(float64(time.Now().Unix()))
	s.logger.Info("service reloaded", "profile", p.Name)
	task.finish(nil)
}

func (s *Supervisor) teardownAfterReloadFailure() {
	s.transition(StateStopping)
	s.unwatchBus()

	// The old engine is still attached when the reload fails before
	// its teardown sub-steps ran (e.g. profile resolution).
	s.mu.Lock()
	guard := s.guard
	s.guard = nil
	s.profileName = ""
	s.startedAt = time.Time{}
	s.mu.Unlock()
	if guard != nil {
		guard.Release()
	}

	s.closeCommandServer()
	s.metrics.startedAt.Set(0)
	s.transition(StateStopped)
}

func (s *Supervisor) startCommandServer() error {
	s.mu.Lock()
	cs := s.cmdServer
	running := s.cmdRunning
	s.mu.Unlock()
	if cs == nil || running {
		return nil
	}
	if err := cs.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cmdRunning = true
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) closeCommandServer() {
	s.mu.Lock()
	cs := s.cmdServer
	running := s.cmdRunning
	s.cmdRunning = false
	s.mu.Unlock()
	if cs == nil || !running {
		return
	}
	if err := cs.Close(); err != nil {
		s.logger.Warn("close command server", "error", err)
	}
}

func (s *Supervisor) setStartedFlag(started bool) {
	if s.flags == nil {
		return
	}
	if err := s.flags.SetStartedByUser(context.Background(), started); err != nil {
		s.logger.Warn("persist started flag", "started", started, "error", err)
	}
}

// watchBus reacts to lifecycle signals while the service runs.
func (s *Supervisor) watchBus() {
	ch, cancel := s.bus.Subscribe(4)
	s.mu.Lock()
	s.busCancel = cancel
	s.mu.Unlock()

	go func() {
		for sig := range ch {
			switch sig {
			case eventbus.SignalStopRequested, eventbus.SignalPermissionRevoked:
				s.logger.Info("lifecycle signal received", "signal", sig.String())
				s.Stop()
			case eventbus.SignalProfileChanged:
				s.logger.Info("profile changed, reloading", "signal", sig.String())
				s.Reload()
			}
		}
	}()
}

func (s *Supervisor) unwatchBus() {
	s.mu.Lock()
	cancel := s.busCancel
	s.busCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// trackingPlatform registers TUN descriptors with the guard and copies
// engine log lines into the ring before delegating to the real
// platform.
type trackingPlatform struct {
	inner engine.Platform
	guard *Guard
	logs  *logring.Ring
}

func (p *trackingPlatform) OpenTun(opts engine.TunOptions) (int, error) {
	fd, err := p.inner.OpenTun(opts)
	if err != nil {
		return 0, err
	}
	p.guard.TrackDescriptor(fd)
	return fd, nil
}

func (p *trackingPlatform) ProtectSocket(fd int) error {
	return p.inner.ProtectSocket(fd)
}

func (p *trackingPlatform) DefaultInterface() (engine.NetworkInterface, error) {
	return p.inner.DefaultInterface()
}

func (p *trackingPlatform) LookupDNS(ctx context.Context, network, host string) ([]string, error) {
	return p.inner.LookupDNS(ctx, network, host)
}

func (p *trackingPlatform) WriteLog(message string) {
	p.logs.Append(message)
	p.inner.WriteLog(message)
}

func (p *trackingPlatform) SendNotification(n engine.Notification) error {
	return p.inner.SendNotification(n)
}
