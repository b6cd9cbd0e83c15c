package profile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/creamcroissant/tunneld/internal/repository"
)

// Manager owns profile storage, selection, and remote refresh.
type Manager struct {
	store    repository.Store
	settings *Settings
	fetcher  *Fetcher
	logger   *slog.Logger
}

func NewManager(store repository.Store, settings *Settings, fetcher *Fetcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		settings: settings,
		fetcher:  fetcher,
		logger:   logger.With("component", "profile"),
	}
}

func (m *Manager) Settings() *Settings { return m.settings }

func (m *Manager) List(ctx context.Context) ([]repository.Profile, error) {
	return m.store.Profiles().List(ctx)
}

func (m *Manager) Get(ctx context.Context, id int64) (repository.Profile, error) {
	p, err := m.store.Profiles().Get(ctx, id)
	if err != nil {
		return repository.Profile{}, err
	}
	return *p, nil
}

// Create stores a new profile. Remote profiles are fetched immediately
// so a broken URL is reported at creation time.
func (m *Manager) Create(ctx context.Context, name, content, remoteURL string) (repository.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return repository.Profile{}, fmt.Errorf("profile name is required")
	}
	if remoteURL != "" {
		fetched, err := m.fetcher.Fetch(ctx, remoteURL)
		if err != nil && !errors.Is(err, ErrNotModified) {
			return repository.Profile{}, fmt.Errorf("fetch remote profile: %w", err)
		}
		if fetched != "" {
			content = fetched
		}
	}
	now := time.Now().Unix()
	p := repository.Profile{
		Name:        name,
		Content:     content,
		RemoteURL:   remoteURL,
		ContentHash: hashContent(content),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := m.store.Profiles().Create(ctx, &p)
	if err != nil {
		return repository.Profile{}, err
	}
	p.ID = id
	return p, nil
}

func (m *Manager) Update(ctx context.Context, p repository.Profile) error {
	p.ContentHash = hashContent(p.Content)
	p.UpdatedAt = time.Now().Unix()
	return m.store.Profiles().Update(ctx, &p)
}

// Delete removes a profile. Deleting the selected profile clears the
// selection.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	if err := m.store.Profiles().Delete(ctx, id); err != nil {
		return err
	}
	selected, err := m.settings.SelectedProfileID(ctx)
	if err != nil {
		return err
	}
	if selected == id {
		return m.settings.SetSelectedProfileID(ctx, -1)
	}
	return nil
}

// Select marks the given profile as the one the service starts with.
func (m *Manager) Select(ctx context.Context, id int64) error {
	if _, err := m.store.Profiles().Get(ctx, id); err != nil {
		return err
	}
	return m.settings.SetSelectedProfileID(ctx, id)
}

// ResolveSelected returns the currently selected profile, validated to
// have non-empty content.
func (m *Manager) ResolveSelected(ctx context.Context) (repository.Profile, error) {
	id, err := m.settings.SelectedProfileID(ctx)
	if err != nil {
		return repository.Profile{}, err
	}
	if id < 0 {
		return repository.Profile{}, ErrNoProfileSelected
	}
	p, err := m.store.Profiles().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Profile{}, ErrNoProfileSelected
		}
		return repository.Profile{}, err
	}
	if strings.TrimSpace(p.Content) == "" {
		return repository.Profile{}, ErrEmptyProfile
	}
	return *p, nil
}

// Refresh re-fetches one remote profile. It reports whether the stored
// content changed.
func (m *Manager) Refresh(ctx context.Context, id int64) (bool, error) {
	p, err := m.store.Profiles().Get(ctx, id)
	if err != nil {
		return false, err
	}
	if p.RemoteURL == "" {
		return false, nil
	}
	content, err := m.fetcher.Fetch(ctx, p.RemoteURL)
	if err != nil {
		if errors.Is(err, ErrNotModified) {
			return false, nil
		}
		return false, fmt.Errorf("refresh profile %q: %w", p.Name, err)
	}
	hash := hashContent(content)
	if hash == p.ContentHash {
		return false, nil
	}
	p.Content = content
	p.ContentHash = hash
	p.UpdatedAt = time.Now().Unix()
	if err := m.store.Profiles().Update(ctx, p); err != nil {
		return false, err
	}
	m.logger.Info("remote profile updated", "profile", p.Name, "hash", hash[:12])
	return true, nil
}

// RefreshAll refreshes every remote profile and reports whether the
// selected profile changed. Individual failures are logged and do not
// abort the sweep.
func (m *Manager) RefreshAll(ctx context.Context) (selectedChanged bool, err error) {
	profiles, err := m.store.Profiles().List(ctx)
	if err != nil {
		return false, err
	}
	selected, err := m.settings.SelectedProfileID(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range profiles {
		if p.RemoteURL == "" {
			continue
		}
		changed, err := m.Refresh(ctx, p.ID)
		if err != nil {
			m.logger.Warn("profile refresh failed", "profile", p.Name, "error", err)
			continue
		}
		if changed && p.ID == selected {
			selectedChanged = true
		}
	}
	return selectedChanged, nil
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
