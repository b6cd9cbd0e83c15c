package repository

import "context"

// ProfileRepository persists named engine configurations.
type ProfileRepository interface {
	Get(ctx context.Context, id int64) (*Profile, error)
	GetByName(ctx context.Context, name string) (*Profile, error)
	List(ctx context.Context) ([]Profile, error)
	Create(ctx context.Context, profile *Profile) (int64, error)
	Update(ctx context.Context, profile *Profile) error
	Delete(ctx context.Context, id int64) error
}

// SettingRepository persists key/value runtime flags.
type SettingRepository interface {
	Get(ctx context.Context, key string) (*Setting, error)
	Upsert(ctx context.Context, setting *Setting) error
	Delete(ctx context.Context, key string) error
}

// Store bundles all repositories behind one backend.
type Store interface {
	Profiles() ProfileRepository
	Settings() SettingRepository
}
