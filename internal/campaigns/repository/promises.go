package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Promise struct {
	ID            uuid.UUID
	CampaignID    uuid.UUID
	TargetID      uuid.UUID
	AttemptID     uuid.UUID
	AmountCents   int64
	DueDate       time.Time
	PaymentMethod string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const promiseColumns = `id, campaign_id, target_id, attempt_id, amount_cents,
	due_date, payment_method, status, created_at, updated_at`

func scanPromise(row pgx.Row) (Promise, error) {
	var p Promise
	err := row.Scan(
		&p.ID, &p.CampaignID, &p.TargetID, &p.AttemptID, &p.AmountCents,
		&p.DueDate, &p.PaymentMethod, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Promise{}, ErrNotFound
	}
	return p, err
}

type CreatePromiseParams struct {
	CampaignID    uuid.UUID
	TargetID      uuid.UUID
	AttemptID     uuid.UUID
	AmountCents   int64
	DueDate       time.Time
	PaymentMethod string
}

func (r *Repository) CreatePromise(ctx context.Context, params CreatePromiseParams) (Promise, error) {
	return scanPromise(r.pool.QueryRow(ctx, `
		INSERT INTO promises (campaign_id, target_id, attempt_id, amount_cents, due_date, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+promiseColumns,
		params.CampaignID, params.TargetID, params.AttemptID,
		params.AmountCents, params.DueDate, params.PaymentMethod,
	))
}

func (r *Repository) GetPromiseByID(ctx context.Context, id uuid.UUID) (Promise, error) {
	return scanPromise(r.pool.QueryRow(ctx, `
		SELECT `+promiseColumns+` FROM promises WHERE id = $1
	`, id))
}

// GetActivePromiseByTarget returns the target's pending promise, if any.
// At most one pending promise per target is a business rule enforced by
// the post-contact stage, not a database constraint.
func (r *Repository) GetActivePromiseByTarget(ctx context.Context, targetID uuid.UUID) (Promise, error) {
	return scanPromise(r.pool.QueryRow(ctx, `
		SELECT `+promiseColumns+` FROM promises
		WHERE target_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`, targetID))
}

func (r *Repository) UpdatePromiseStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE promises SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
