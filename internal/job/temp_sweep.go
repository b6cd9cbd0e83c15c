package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/creamcroissant/tunneld/internal/engine"
)

// TempSweep removes leftover files from the engine temp directory,
// such as instance configs orphaned by a crash.
type TempSweep struct {
	runtime *engine.Runtime
	maxAge  time.Duration
	logger  *slog.Logger
}

func NewTempSweep(runtime *engine.Runtime, maxAge time.Duration, logger *slog.Logger) *TempSweep {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TempSweep{runtime: runtime, maxAge: maxAge, logger: logger}
}

func (j *TempSweep) Name() string { return "temp_sweep" }

func (j *TempSweep) Run(ctx context.Context) error {
	root := j.runtime.TempDir()
	cutoff := time.Now().Add(-j.maxAge)
	removed := 0

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || path == root {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			j.logger.Warn("remove temp file", "path", path, "error", err)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("sweep %s: %w", root, err)
	}
	if removed > 0 {
		j.logger.Info("temp files removed", "count", removed)
	}
	return nil
}
