package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/creamcroissant/tunneld/internal/repository"
)

// Document is the portable YAML form of a profile set.
type Document struct {
	Version  int               `yaml:"version"`
	Profiles []DocumentProfile `yaml:"profiles"`
}

type DocumentProfile struct {
	Name      string `yaml:"name"`
	Content   string `yaml:"content,omitempty"`
	RemoteURL string `yaml:"remote_url,omitempty"`
}

const documentVersion = 1

// Export writes all stored profiles as a YAML document.
func (m *Manager) Export(ctx context.Context, w io.Writer) error {
	profiles, err := m.store.Profiles().List(ctx)
	if err != nil {
		return err
	}
	doc := Document{Version: documentVersion}
	for _, p := range profiles {
		doc.Profiles = append(doc.Profiles, DocumentProfile{
			Name:      p.Name,
			Content:   p.Content,
			RemoteURL: p.RemoteURL,
		})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	return enc.Close()
}

// Import reads a YAML document and stores its profiles. Existing
// profiles with the same name are overwritten. It returns the number
// of imported profiles.
func (m *Manager) Import(ctx context.Context, r io.Reader) (int, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode profiles: %w", err)
	}
	if doc.Version != documentVersion {
		return 0, fmt.Errorf("unsupported document version %d", doc.Version)
	}

	imported := 0
	now := time.Now().Unix()
	for _, dp := range doc.Profiles {
		if dp.Name == "" {
			return imported, fmt.Errorf("profile %d: name is required", imported+1)
		}
		existing, err := m.store.Profiles().GetByName(ctx, dp.Name)
		switch {
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return imported, err
		case err == nil:
			existing.Content = dp.Content
			existing.RemoteURL = dp.RemoteURL
			existing.ContentHash = hashContent(dp.Content)
			existing.UpdatedAt = now
			if err := m.store.Profiles().Update(ctx, existing); err != nil {
				return imported, err
			}
		default:
			p := repository.Profile{
				Name:        dp.Name,
				Content:     dp.Content,
				RemoteURL:   dp.RemoteURL,
				ContentHash: hashContent(dp.Content),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if _, err := m.store.Profiles().Create(ctx, &p); err != nil {
				return imported, err
			}
		}
		imported++
	}
	return imported, nil
}
