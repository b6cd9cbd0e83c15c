package sqlite

import (
	"database/sql"

	"github.com/creamcroissant/tunneld/internal/repository"
)

// Store wires SQLite-backed repository implementations.
type Store struct {
	db       *sql.DB
	profiles repository.ProfileRepository
	settings repository.SettingRepository
}

// NewStore constructs a SQLite-backed repository store.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:       db,
		profiles: &profileRepo{db: db},
		settings: &settingRepo{db: db},
	}
}

func (s *Store) Profiles() repository.ProfileRepository {
	return s.profiles
}

func (s *Store) Settings() repository.SettingRepository {
	return s.settings
}
