package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"airtech/internal/domain"
)

// GetProfile returns the profile for an identity uid.
func (r Repo) GetProfile(ctx context.Context, uid string) (domain.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT uid, email, role, created_at, updated_at FROM profiles WHERE uid=?`, uid)
	return scanProfile(row)
}

// GetProfileByEmail returns the profile for an email address.
func (r Repo) GetProfileByEmail(ctx context.Context, email string) (domain.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT uid, email, role, created_at, updated_at FROM profiles WHERE email=?`, email)
	return scanProfile(row)
}

func scanProfile(row *sql.Row) (domain.Profile, error) {
	var p domain.Profile
	err := row.Scan(&p.UID, &p.Email, &p.Role, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Profile{}, ErrNotFound
	}
	if err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// UpsertProfile creates or replaces the role binding for a uid.
func (r Repo) UpsertProfile(ctx context.Context, p domain.Profile) error {
	if strings.TrimSpace(p.UID) == "" {
		return errors.New("uid required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return errors.New("email required")
	}
	if !domain.ValidRole(p.Role) {
		return errors.New("unknown role " + p.Role)
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO profiles(uid, email, role, created_at, updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(uid) DO UPDATE SET email=excluded.email, role=excluded.role, updated_at=excluded.updated_at`,
		p.UID, p.Email, p.Role, p.CreatedAt, p.UpdatedAt)
	return err
}

// ListProfiles returns all profiles ordered by email.
func (r Repo) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT uid, email, role, created_at, updated_at FROM profiles ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Profile
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.UID, &p.Email, &p.Role, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
