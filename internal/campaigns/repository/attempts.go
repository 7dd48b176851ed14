package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Attempt struct {
	ID                 uuid.UUID
	TargetID           uuid.UUID
	CampaignID         uuid.UUID
	AttemptNumber      int
	Channel            string
	GatewayRef         *string
	Status             string
	StartedAt          *time.Time
	FinishedAt         *time.Time
	DurationSeconds    *int
	RecordingURL       *string
	RecordingObjectKey *string
	Transcript         *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const attemptColumns = `id, target_id, campaign_id, attempt_number, channel,
	gateway_ref, status, started_at, finished_at, duration_seconds,
	recording_url, recording_object_key, transcript, created_at, updated_at`

func scanAttempt(row pgx.Row) (Attempt, error) {
	var a Attempt
	err := row.Scan(
		&a.ID, &a.TargetID, &a.CampaignID, &a.AttemptNumber, &a.Channel,
		&a.GatewayRef, &a.Status, &a.StartedAt, &a.FinishedAt,
		&a.DurationSeconds, &a.RecordingURL, &a.RecordingObjectKey,
		&a.Transcript, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Attempt{}, ErrNotFound
	}
	return a, err
}

func (r *Repository) CreateAttempt(ctx context.Context, targetID, campaignID uuid.UUID, attemptNumber int, channel string) (Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx, `
		INSERT INTO contact_attempts (target_id, campaign_id, attempt_number, channel, status)
		VALUES ($1, $2, $3, $4, 'queued')
		RETURNING `+attemptColumns,
		targetID, campaignID, attemptNumber, channel,
	))
}

func (r *Repository) GetAttemptByID(ctx context.Context, id uuid.UUID) (Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx, `
		SELECT `+attemptColumns+` FROM contact_attempts WHERE id = $1
	`, id))
}

// GetAttemptByGatewayRef resolves a gateway callback's correlation id to
// the owning attempt.
func (r *Repository) GetAttemptByGatewayRef(ctx context.Context, ref string) (Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx, `
		SELECT `+attemptColumns+` FROM contact_attempts WHERE gateway_ref = $1
	`, ref))
}

// MarkAttemptInProgress records the gateway's acceptance of an attempt.
func (r *Repository) MarkAttemptInProgress(ctx context.Context, id uuid.UUID, gatewayRef string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contact_attempts SET status = 'in-progress', gateway_ref = $2,
			started_at = now(), updated_at = now()
		WHERE id = $1
	`, id, gatewayRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAttemptFailed records an immediate gateway rejection.
func (r *Repository) MarkAttemptFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contact_attempts SET status = 'failed', finished_at = now(), updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type CompleteAttemptParams struct {
	DurationSeconds int
	RecordingURL    *string
	Transcript      *string
}

// CompleteAttempt records the final call result delivered by the gateway
// callback.
func (r *Repository) CompleteAttempt(ctx context.Context, id uuid.UUID, params CompleteAttemptParams) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contact_attempts SET status = 'completed', finished_at = now(),
			duration_seconds = $2, recording_url = $3, transcript = $4, updated_at = now()
		WHERE id = $1
	`, id, params.DurationSeconds, params.RecordingURL, params.Transcript)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAttemptRecordingKey stores the archived recording's object key.
func (r *Repository) SetAttemptRecordingKey(ctx context.Context, id uuid.UUID, objectKey string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contact_attempts SET recording_object_key = $2, updated_at = now()
		WHERE id = $1
	`, id, objectKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
