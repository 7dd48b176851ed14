package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Message send statuses.
const (
	MessageQueued = "queued"
	MessageSent   = "sent"
	MessageFailed = "failed"
)

type MessageSend struct {
	ID          uuid.UUID
	TargetID    uuid.UUID
	CampaignID  uuid.UUID
	AttemptID   *uuid.UUID
	PhoneNumber string
	Body        string
	Status      string
	GatewayRef  *string
	RetryCount  int
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const messageSendColumns = `id, target_id, campaign_id, attempt_id, phone_number,
	body, status, gateway_ref, retry_count, last_error, created_at, updated_at`

func scanMessageSend(row pgx.Row) (MessageSend, error) {
	var m MessageSend
	err := row.Scan(
		&m.ID, &m.TargetID, &m.CampaignID, &m.AttemptID, &m.PhoneNumber,
		&m.Body, &m.Status, &m.GatewayRef, &m.RetryCount, &m.LastError,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return MessageSend{}, ErrNotFound
	}
	return m, err
}

func (r *Repository) CreateMessageSend(ctx context.Context, targetID, campaignID uuid.UUID, attemptID *uuid.UUID, phone, body string) (MessageSend, error) {
	return scanMessageSend(r.pool.QueryRow(ctx, `
		INSERT INTO message_sends (target_id, campaign_id, attempt_id, phone_number, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+messageSendColumns,
		targetID, campaignID, attemptID, phone, body,
	))
}

func (r *Repository) GetMessageSendByID(ctx context.Context, id uuid.UUID) (MessageSend, error) {
	return scanMessageSend(r.pool.QueryRow(ctx, `
		SELECT `+messageSendColumns+` FROM message_sends WHERE id = $1
	`, id))
}

func (r *Repository) MarkMessageSent(ctx context.Context, id uuid.UUID, gatewayRef string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE message_sends SET status = 'sent', gateway_ref = $2, updated_at = now()
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

func (r *Repository) MarkMessageFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE message_sends SET status = 'failed', last_error = $2, updated_at = now()
		WHERE id = $1
	`, id, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordMessageSendError stamps a failed delivery attempt on a send that
// still has retry budget, leaving it queued so the next sweep picks it
// up again. Touching updated_at spaces the retries one sweep threshold
// apart.
func (r *Repository) RecordMessageSendError(ctx context.Context, id uuid.UUID, lastError string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE message_sends SET last_error = $2, updated_at = now()
		WHERE id = $1 AND status = 'queued'
	`, id, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementMessageRetry bumps the retry counter and re-opens the record
// for another send.
func (r *Repository) IncrementMessageRetry(ctx context.Context, id uuid.UUID) (MessageSend, error) {
	return scanMessageSend(r.pool.QueryRow(ctx, `
		UPDATE message_sends SET retry_count = retry_count + 1, status = 'queued', updated_at = now()
		WHERE id = $1
		RETURNING `+messageSendColumns,
		id,
	))
}

// ListStuckMessageSends returns sends sitting in the queued state since
// before the cutoff with retries left, oldest first, bounded by limit.
func (r *Repository) ListStuckMessageSends(ctx context.Context, cutoff time.Time, retryCap, limit int) ([]MessageSend, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageSendColumns+` FROM message_sends
		WHERE status = 'queued' AND updated_at < $1 AND retry_count < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, cutoff, retryCap, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]MessageSend, 0)
	for rows.Next() {
		m, err := scanMessageSend(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
