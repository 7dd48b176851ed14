// Package repository provides pgx-backed persistence for campaigns,
// targets, contact attempts, promises, message sends and sync configs.
// All mutations are single-row update-by-id statements; aggregate counters
// are always recomputed from source rows, never incrementally drifted.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("record not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}
