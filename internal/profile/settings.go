package profile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/creamcroissant/tunneld/internal/repository"
)

const (
	keySelectedProfile = "selected_profile_id"
	keyStartedByUser   = "started_by_user"
	keyControlToken    = "control_token_hash"
)

// Settings wraps the setting repository with typed accessors for the
// small set of keys the daemon cares about.
type Settings struct {
	repo repository.SettingRepository
}

func NewSettings(repo repository.SettingRepository) *Settings {
	return &Settings{repo: repo}
}

func (s *Settings) put(ctx context.Context, key, value string) error {
	return s.repo.Upsert(ctx, &repository.Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().Unix(),
	})
}

func (s *Settings) get(ctx context.Context, key string) (string, bool, error) {
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return setting.Value, true, nil
}

// SelectedProfileID returns the selected profile id, or -1 when no
// profile has been selected yet.
func (s *Settings) SelectedProfileID(ctx context.Context) (int64, error) {
	value, ok, err := s.get(ctx, keySelectedProfile)
	if err != nil || !ok {
		return -1, err
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return -1, fmt.Errorf("parse selected profile id: %w", err)
	}
	return id, nil
}

func (s *Settings) SetSelectedProfileID(ctx context.Context, id int64) error {
	return s.put(ctx, keySelectedProfile, strconv.FormatInt(id, 10))
}

// StartedByUser reports whether the service was last started on
// purpose, so a daemon restart can resume the previous state.
func (s *Settings) StartedByUser(ctx context.Context) (bool, error) {
	value, _, err := s.get(ctx, keyStartedByUser)
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

func (s *Settings) SetStartedByUser(ctx context.Context, started bool) error {
	return s.put(ctx, keyStartedByUser, strconv.FormatBool(started))
}

// ControlTokenHash returns the bcrypt hash of the control API token,
// or empty when none has been configured.
func (s *Settings) ControlTokenHash(ctx context.Context) (string, error) {
	value, _, err := s.get(ctx, keyControlToken)
	return value, err
}

func (s *Settings) SetControlTokenHash(ctx context.Context, hash string) error {
	return s.put(ctx, keyControlToken, hash)
}
