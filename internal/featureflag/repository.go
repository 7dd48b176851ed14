package featureflag

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a flag key has never been stored.
var ErrNotFound = errors.New("feature flag not found")

type Flag struct {
	Key       string
	Enabled   bool
	UpdatedAt time.Time
}

// Repository persists flag values in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetFlag(ctx context.Context, key string) (Flag, error) {
	var f Flag
	err := r.pool.QueryRow(ctx, `
		SELECT key, enabled, updated_at FROM feature_flags WHERE key = $1
	`, key).Scan(&f.Key, &f.Enabled, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Flag{}, ErrNotFound
	}
	return f, err
}

func (r *Repository) SetFlag(ctx context.Context, key string, enabled bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO feature_flags (key, enabled) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = now()
	`, key, enabled)
	return err
}

func (r *Repository) ListFlags(ctx context.Context) ([]Flag, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT key, enabled, updated_at FROM feature_flags ORDER BY key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []Flag
	for rows.Next() {
		var f Flag
		if err := rows.Scan(&f.Key, &f.Enabled, &f.UpdatedAt); err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}
