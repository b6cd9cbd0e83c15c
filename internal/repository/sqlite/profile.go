package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/creamcroissant/tunneld/internal/repository"
)

type profileRepo struct {
	db *sql.DB
}

const profileColumns = `id, name, content, remote_url, content_hash, created_at, updated_at`

func (r *profileRepo) Get(ctx context.Context, id int64) (*repository.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles WHERE id = ?`
	return scanProfile(r.db.QueryRowContext(ctx, query, id))
}

func (r *profileRepo) GetByName(ctx context.Context, name string) (*repository.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles WHERE name = ?`
	return scanProfile(r.db.QueryRowContext(ctx, query, name))
}

func (r *profileRepo) List(ctx context.Context) ([]repository.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []repository.Profile
	for rows.Next() {
		var p repository.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Content, &p.RemoteURL, &p.ContentHash, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *profileRepo) Create(ctx context.Context, profile *repository.Profile) (int64, error) {
	const stmt = `INSERT INTO profiles(name, content, remote_url, content_hash, created_at, updated_at)
                  VALUES(?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, stmt,
		profile.Name, profile.Content, profile.RemoteURL, profile.ContentHash,
		profile.CreatedAt, profile.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, repository.ErrDuplicateName
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (r *profileRepo) Update(ctx context.Context, profile *repository.Profile) error {
	const stmt = `UPDATE profiles SET name = ?, content = ?, remote_url = ?, content_hash = ?, updated_at = ?
                  WHERE id = ?`
	res, err := r.db.ExecContext(ctx, stmt,
		profile.Name, profile.Content, profile.RemoteURL, profile.ContentHash,
		profile.UpdatedAt, profile.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateName
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *profileRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanProfile(row *sql.Row) (*repository.Profile, error) {
	var p repository.Profile
	if err := row.Scan(&p.ID, &p.Name, &p.Content, &p.RemoteURL, &p.ContentHash, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
