package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Campaign struct {
	ID                uuid.UUID
	Name              string
	Status            string
	TotalTargets      int
	ContactedTargets  int
	SuccessfulTargets int
	PromisesMade      int
	PromisesFulfilled int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const campaignColumns = `id, name, status, total_targets, contacted_targets,
	successful_targets, promises_made, promises_fulfilled, created_at, updated_at`

func scanCampaign(row pgx.Row) (Campaign, error) {
	var c Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Status, &c.TotalTargets, &c.ContactedTargets,
		&c.SuccessfulTargets, &c.PromisesMade, &c.PromisesFulfilled,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	return c, err
}

func (r *Repository) CreateCampaign(ctx context.Context, name, status string) (Campaign, error) {
	return scanCampaign(r.pool.QueryRow(ctx, `
		INSERT INTO campaigns (name, status) VALUES ($1, $2)
		RETURNING `+campaignColumns,
		name, status,
	))
}

func (r *Repository) GetCampaignByID(ctx context.Context, id uuid.UUID) (Campaign, error) {
	return scanCampaign(r.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE id = $1
	`, id))
}

func (r *Repository) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *Repository) UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecomputeCampaignCounters re-derives every aggregate counter from the
// target and promise rows. Counters are never trusted incrementally: any
// interleaved update is healed by the next recompute.
func (r *Repository) RecomputeCampaignCounters(ctx context.Context, id uuid.UUID) (Campaign, error) {
	return scanCampaign(r.pool.QueryRow(ctx, `
		UPDATE campaigns SET
			total_targets      = (SELECT count(*) FROM targets WHERE campaign_id = $1),
			contacted_targets  = (SELECT count(*) FROM targets WHERE campaign_id = $1 AND last_attempt_at IS NOT NULL),
			successful_targets = (SELECT count(*) FROM targets WHERE campaign_id = $1 AND state = 'completed'),
			promises_made      = (SELECT count(*) FROM promises WHERE campaign_id = $1),
			promises_fulfilled = (SELECT count(*) FROM promises WHERE campaign_id = $1 AND status = 'fulfilled'),
			updated_at = now()
		WHERE id = $1
		RETURNING `+campaignColumns,
		id,
	))
}

// ListCampaignIDs returns every campaign id. Used by the periodic counter
// reconciliation job.
func (r *Repository) ListCampaignIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM campaigns`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
