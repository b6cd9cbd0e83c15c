package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Options configure the one-time engine runtime setup.
type Options struct {
	// BaseDir is the persistent working directory handed to the engine.
	BaseDir string

	// TempDir is the cache directory; instance configs are written here.
	TempDir string

	// LogPath, when set, receives redirected stderr output so engine
	// crashes leave a trace on disk.
	LogPath string
}

// Runtime is the initialized engine environment. Exactly one exists per
// process; the host's startup path creates it and hands it to the supervisor.
type Runtime struct {
	baseDir string
	tempDir string
	logPath string
}

var (
	initOnce sync.Once
	initDone *Runtime
	initErr  error
)

// Initialize performs the once-per-process runtime setup: directory creation
// and stderr redirection. Subsequent calls return the same runtime regardless
// of options.
func Initialize(opts Options) (*Runtime, error) {
	initOnce.Do(func() {
		initDone, initErr = setup(opts)
	})
	return initDone, initErr
}

func setup(opts Options) (*Runtime, error) {
	if opts.BaseDir == "" {
		return nil, fmt.Errorf("engine base dir is required")
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(opts.BaseDir, "cache")
	}
	if err := os.MkdirAll(opts.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	if err := os.MkdirAll(opts.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	if opts.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		file, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open stderr log: %w", err)
		}
		if err := redirectStderr(file); err != nil {
			file.Close()
			return nil, fmt.Errorf("redirect stderr: %w", err)
		}
	}
	return &Runtime{
		baseDir: opts.BaseDir,
		tempDir: opts.TempDir,
		logPath: opts.LogPath,
	}, nil
}

// BaseDir returns the persistent working directory.
func (r *Runtime) BaseDir() string { return r.baseDir }

// TempDir returns the cache directory.
func (r *Runtime) TempDir() string { return r.tempDir }

// LogPath returns the redirected stderr path, empty when not configured.
func (r *Runtime) LogPath() string { return r.logPath }
