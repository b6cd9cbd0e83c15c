// Package extproc drives an external engine binary as a child process. It is
// the production Factory implementation: the engine ships as a standalone
// executable and the supervisor manages it through process lifetime.
package extproc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creamcroissant/tunneld/internal/engine"
)

const defaultStopTimeout = 5 * time.Second

// Factory constructs subprocess-backed engine handles.
type Factory struct {
	binary      string
	extraArgs   []string
	workDir     string
	stopTimeout time.Duration
	logger      *slog.Logger
}

// Config describes the external engine binary.
type Config struct {
	// Binary is the path to the engine executable.
	Binary string

	// ExtraArgs are appended after the built-in "run -c <config>" arguments.
	ExtraArgs []string

	// StopTimeout bounds the wait between SIGTERM and SIGKILL on close.
	StopTimeout time.Duration
}

// NewFactory validates the binary path and returns a Factory writing instance
// configs under the runtime's temp directory.
func NewFactory(cfg Config, runtime *engine.Runtime, logger *slog.Logger) (*Factory, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("engine binary path is required")
	}
	if runtime == nil {
		return nil, fmt.Errorf("engine runtime is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	workDir := filepath.Join(runtime.TempDir(), "instances")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create instance dir: %w", err)
	}
	return &Factory{
		binary:      cfg.Binary,
		extraArgs:   append([]string(nil), cfg.ExtraArgs...),
		workDir:     workDir,
		stopTimeout: stopTimeout,
		logger:      logger,
	}, nil
}

// New writes the profile content to a per-instance config file and prepares a
// process handle. The process is not spawned until Start.
func (f *Factory) New(ctx context.Context, configContent string, platform engine.Platform) (engine.Handle, error) {
	if !json.Valid([]byte(configContent)) {
		return nil, fmt.Errorf("engine config is not valid JSON")
	}
	instanceID := uuid.NewString()
	configPath := filepath.Join(f.workDir, instanceID+".json")
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		return nil, fmt.Errorf("write instance config: %w", err)
	}

	args := append([]string{"run", "-c", configPath}, f.extraArgs...)
	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.Dir = f.workDir

	return &process{
		id:          instanceID,
		cmd:         cmd,
		configPath:  configPath,
		platform:    platform,
		stopTimeout: f.stopTimeout,
		logger:      f.logger.With("instance", instanceID),
	}, nil
}

// process is a subprocess-backed engine handle.
type process struct {
	id          string
	cmd         *exec.Cmd
	configPath  string
	platform    engine.Platform
	stopTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	waitErr chan error
}

func (p *process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("engine instance already closed")
	}
	if p.started {
		return fmt.Errorf("engine instance already started")
	}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe engine stdout: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("pipe engine stderr: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("spawn engine: %w", err)
	}
	p.started = true
	p.waitErr = make(chan error, 1)

	go p.forwardLogs(stdout)
	go p.forwardLogs(stderr)
	go func() {
		p.waitErr <- p.cmd.Wait()
	}()

	p.logger.Info("engine process started", "pid", p.cmd.Process.Pid)
	return nil
}

func (p *process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	defer os.Remove(p.configPath)

	if !started || p.cmd.Process == nil {
		return nil
	}

	// TERM first, KILL after the grace period.
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		_ = p.cmd.Process.Kill()
	}
	select {
	case err := <-p.waitErr:
		if err != nil && !isExpectedExit(err) {
			return fmt.Errorf("engine exit: %w", err)
		}
		return nil
	case <-time.After(p.stopTimeout):
		_ = p.cmd.Process.Kill()
		<-p.waitErr
		p.logger.Warn("engine process killed after stop timeout")
		return nil
	}
}

func (p *process) forwardLogs(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		if p.platform != nil {
			p.platform.WriteLog(scanner.Text())
		}
	}
}

func isExpectedExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	// Killed or terminated by our own signal during close.
	return !exitErr.Exited()
}
