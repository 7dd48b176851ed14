package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Dedup keys for import matching.
const (
	DedupByDocument = "document"
	DedupByPhone    = "phone"
	DedupByBoth     = "both"
)

type SyncConfig struct {
	ID             uuid.UUID
	CampaignID     uuid.UUID
	DateFrom       time.Time
	DateTo         time.Time
	MinAmountCents *int64
	MaxAmountCents *int64
	DedupKey       string
	UpdateExisting bool
	Enabled        bool
	LastRunAt      *time.Time
	LastRunStatus  *string
	LastImported   int
	LastSkipped    int
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const syncConfigColumns = `id, campaign_id, date_from, date_to, min_amount_cents,
	max_amount_cents, dedup_key, update_existing, enabled, last_run_at,
	last_run_status, last_imported, last_skipped, last_error, created_at, updated_at`

func scanSyncConfig(row pgx.Row) (SyncConfig, error) {
	var s SyncConfig
	err := row.Scan(
		&s.ID, &s.CampaignID, &s.DateFrom, &s.DateTo, &s.MinAmountCents,
		&s.MaxAmountCents, &s.DedupKey, &s.UpdateExisting, &s.Enabled,
		&s.LastRunAt, &s.LastRunStatus, &s.LastImported, &s.LastSkipped,
		&s.LastError, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return SyncConfig{}, ErrNotFound
	}
	return s, err
}

type UpsertSyncConfigParams struct {
	CampaignID     uuid.UUID
	DateFrom       time.Time
	DateTo         time.Time
	MinAmountCents *int64
	MaxAmountCents *int64
	DedupKey       string
	UpdateExisting bool
	Enabled        bool
}

// UpsertSyncConfig creates or replaces the campaign's sync parameters.
// One config per campaign.
func (r *Repository) UpsertSyncConfig(ctx context.Context, params UpsertSyncConfigParams) (SyncConfig, error) {
	return scanSyncConfig(r.pool.QueryRow(ctx, `
		INSERT INTO crm_sync_configs (
			campaign_id, date_from, date_to, min_amount_cents, max_amount_cents,
			dedup_key, update_existing, enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (campaign_id) DO UPDATE SET
			date_from = EXCLUDED.date_from,
			date_to = EXCLUDED.date_to,
			min_amount_cents = EXCLUDED.min_amount_cents,
			max_amount_cents = EXCLUDED.max_amount_cents,
			dedup_key = EXCLUDED.dedup_key,
			update_existing = EXCLUDED.update_existing,
			enabled = EXCLUDED.enabled,
			updated_at = now()
		RETURNING `+syncConfigColumns,
		params.CampaignID, params.DateFrom, params.DateTo, params.MinAmountCents,
		params.MaxAmountCents, params.DedupKey, params.UpdateExisting, params.Enabled,
	))
}

func (r *Repository) GetSyncConfigByCampaign(ctx context.Context, campaignID uuid.UUID) (SyncConfig, error) {
	return scanSyncConfig(r.pool.QueryRow(ctx, `
		SELECT `+syncConfigColumns+` FROM crm_sync_configs WHERE campaign_id = $1
	`, campaignID))
}

// ListEnabledSyncConfigs returns configs eligible for the periodic sync run.
func (r *Repository) ListEnabledSyncConfigs(ctx context.Context) ([]SyncConfig, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+syncConfigColumns+` FROM crm_sync_configs WHERE enabled = true
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]SyncConfig, 0)
	for rows.Next() {
		s, err := scanSyncConfig(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// RecordSyncRun stores the outcome of one sync run on the config.
func (r *Repository) RecordSyncRun(ctx context.Context, campaignID uuid.UUID, status string, imported, skipped int, runErr string) error {
	var errPtr *string
	if runErr != "" {
		errPtr = &runErr
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE crm_sync_configs SET
			last_run_at = now(), last_run_status = $2,
			last_imported = $3, last_skipped = $4, last_error = $5,
			updated_at = now()
		WHERE campaign_id = $1
	`, campaignID, status, imported, skipped, errPtr)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
