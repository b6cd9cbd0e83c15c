package job

import (
	"context"
	"log/slog"

	"github.com/creamcroissant/tunneld/internal/eventbus"
	"github.com/creamcroissant/tunneld/internal/profile"
)

// ProfileRefresh periodically re-fetches remote profiles and announces
// a change of the selected profile on the event bus, which makes a
// running service reload.
type ProfileRefresh struct {
	profiles *profile.Manager
	bus      *eventbus.Bus
	logger   *slog.Logger
}

func NewProfileRefresh(profiles *profile.Manager, bus *eventbus.Bus, logger *slog.Logger) *ProfileRefresh {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileRefresh{profiles: profiles, bus: bus, logger: logger}
}

func (j *ProfileRefresh) Name() string { return "profile_refresh" }

func (j *ProfileRefresh) Run(ctx context.Context) error {
	selectedChanged, err := j.profiles.RefreshAll(ctx)
	if err != nil {
		return err
	}
	if selectedChanged {
		j.logger.Info("selected profile changed remotely")
		j.bus.Publish(eventbus.SignalProfileChanged)
	}
	return nil
}
