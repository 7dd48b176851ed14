package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Target struct {
	ID              uuid.UUID
	CampaignID      uuid.UUID
	DebtorName      string
	DocumentKind    string
	DocumentValue   string
	PhoneNumber     string
	AltPhoneNumbers []string
	DebtAmountCents int64
	ContactChannel  string
	State           string
	AttemptCount    int
	LastAttemptAt   *time.Time
	NextAttemptAt   *time.Time
	Outcome         *string
	OutcomeDetails  *string
	Priority        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const targetColumns = `id, campaign_id, debtor_name, document_kind, document_value,
	phone_number, alt_phone_numbers, debt_amount_cents, contact_channel, state,
	attempt_count, last_attempt_at, next_attempt_at, outcome, outcome_details,
	priority, created_at, updated_at`

func scanTarget(row pgx.Row) (Target, error) {
	var t Target
	err := row.Scan(
		&t.ID, &t.CampaignID, &t.DebtorName, &t.DocumentKind, &t.DocumentValue,
		&t.PhoneNumber, &t.AltPhoneNumbers, &t.DebtAmountCents, &t.ContactChannel,
		&t.State, &t.AttemptCount, &t.LastAttemptAt, &t.NextAttemptAt,
		&t.Outcome, &t.OutcomeDetails, &t.Priority, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Target{}, ErrNotFound
	}
	return t, err
}

type CreateTargetParams struct {
	CampaignID      uuid.UUID
	DebtorName      string
	DocumentKind    string
	DocumentValue   string
	PhoneNumber     string
	AltPhoneNumbers []string
	DebtAmountCents int64
	ContactChannel  string
	NextAttemptAt   *time.Time
	Priority        int
}

func (r *Repository) CreateTarget(ctx context.Context, params CreateTargetParams) (Target, error) {
	if params.AltPhoneNumbers == nil {
		params.AltPhoneNumbers = []string{}
	}
	return scanTarget(r.pool.QueryRow(ctx, `
		INSERT INTO targets (
			campaign_id, debtor_name, document_kind, document_value, phone_number,
			alt_phone_numbers, debt_amount_cents, contact_channel, next_attempt_at, priority
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+targetColumns,
		params.CampaignID, params.DebtorName, params.DocumentKind, params.DocumentValue,
		params.PhoneNumber, params.AltPhoneNumbers, params.DebtAmountCents,
		params.ContactChannel, params.NextAttemptAt, params.Priority,
	))
}

func (r *Repository) GetTargetByID(ctx context.Context, id uuid.UUID) (Target, error) {
	return scanTarget(r.pool.QueryRow(ctx, `
		SELECT `+targetColumns+` FROM targets WHERE id = $1
	`, id))
}

// FindTargetByDocument returns the campaign's target holding the given
// normalized document value, if any.
func (r *Repository) FindTargetByDocument(ctx context.Context, campaignID uuid.UUID, document string) (Target, error) {
	return scanTarget(r.pool.QueryRow(ctx, `
		SELECT `+targetColumns+` FROM targets
		WHERE campaign_id = $1 AND document_value = $2
		LIMIT 1
	`, campaignID, document))
}

// FindTargetByPhone returns the campaign's target holding the given E.164
// phone number, either as primary or alternative.
func (r *Repository) FindTargetByPhone(ctx context.Context, campaignID uuid.UUID, phone string) (Target, error) {
	return scanTarget(r.pool.QueryRow(ctx, `
		SELECT `+targetColumns+` FROM targets
		WHERE campaign_id = $1 AND (phone_number = $2 OR $2 = ANY(alt_phone_numbers))
		LIMIT 1
	`, campaignID, phone))
}

// UpdateTargetFromImport refreshes the mutable import fields of an
// existing target. Lifecycle fields (state, attempt counters) are left
// untouched.
func (r *Repository) UpdateTargetFromImport(ctx context.Context, id uuid.UUID, params CreateTargetParams) (Target, error) {
	if params.AltPhoneNumbers == nil {
		params.AltPhoneNumbers = []string{}
	}
	return scanTarget(r.pool.QueryRow(ctx, `
		UPDATE targets SET
			debtor_name = $2, document_kind = $3, document_value = $4,
			phone_number = $5, alt_phone_numbers = $6, debt_amount_cents = $7,
			priority = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+targetColumns,
		id, params.DebtorName, params.DocumentKind, params.DocumentValue,
		params.PhoneNumber, params.AltPhoneNumbers, params.DebtAmountCents, params.Priority,
	))
}

// SetTargetState moves the target to the given state.
func (r *Repository) SetTargetState(ctx context.Context, id uuid.UUID, state string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE targets SET state = $2, updated_at = now() WHERE id = $1
	`, id, state)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// StartAttempt moves the target into the in-flight contact state and
// consumes one attempt from its budget.
func (r *Repository) StartAttempt(ctx context.Context, id uuid.UUID, state string) (Target, error) {
	return scanTarget(r.pool.QueryRow(ctx, `
		UPDATE targets SET
			state = $2,
			attempt_count = attempt_count + 1,
			last_attempt_at = now(),
			updated_at = now()
		WHERE id = $1
		RETURNING `+targetColumns,
		id, state,
	))
}

// RevertTargetPending puts the target back in the pending state after a
// transient failure (or a config error, which does not consume an attempt).
func (r *Repository) RevertTargetPending(ctx context.Context, id uuid.UUID, nextAttemptAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE targets SET state = 'pending', next_attempt_at = $2, updated_at = now()
		WHERE id = $1
	`, id, nextAttemptAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteTarget records a conclusive outcome.
func (r *Repository) CompleteTarget(ctx context.Context, id uuid.UUID, outcome, details string) error {
	return r.finishTarget(ctx, id, "completed", outcome, details)
}

// FailTarget records a terminal failure.
func (r *Repository) FailTarget(ctx context.Context, id uuid.UUID, outcome, details string) error {
	return r.finishTarget(ctx, id, "failed", outcome, details)
}

func (r *Repository) finishTarget(ctx context.Context, id uuid.UUID, state, outcome, details string) error {
	var detailsPtr *string
	if details != "" {
		detailsPtr = &details
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE targets SET state = $2, outcome = $3, outcome_details = $4, updated_at = now()
		WHERE id = $1
	`, id, state, outcome, detailsPtr)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AnnotateTargetOutcome rewrites the outcome fields without touching state.
// Used when a promise later breaks on an already-completed target.
func (r *Repository) AnnotateTargetOutcome(ctx context.Context, id uuid.UUID, outcome, details string) error {
	var detailsPtr *string
	if details != "" {
		detailsPtr = &details
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE targets SET outcome = $2, outcome_details = $3, updated_at = now()
		WHERE id = $1
	`, id, outcome, detailsPtr)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetTarget is the administrative escape hatch: back to pending with a
// fresh attempt budget. This is the only path that decreases attempt_count.
func (r *Repository) ResetTarget(ctx context.Context, id uuid.UUID) (Target, error) {
	return scanTarget(r.pool.QueryRow(ctx, `
		UPDATE targets SET
			state = 'pending',
			attempt_count = 0,
			outcome = NULL,
			outcome_details = NULL,
			next_attempt_at = now(),
			updated_at = now()
		WHERE id = $1
		RETURNING `+targetColumns,
		id,
	))
}

// ListTargetsByCampaign returns a page of the campaign's targets, highest
// priority first.
func (r *Repository) ListTargetsByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]Target, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+targetColumns+` FROM targets
		WHERE campaign_id = $1
		ORDER BY priority DESC, created_at ASC
		LIMIT $2 OFFSET $3
	`, campaignID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Target, 0)
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// ListFailedTargets returns the campaign's failed targets for bulk retry.
func (r *Repository) ListFailedTargets(ctx context.Context, campaignID uuid.UUID) ([]Target, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+targetColumns+` FROM targets
		WHERE campaign_id = $1 AND state = 'failed'
		ORDER BY priority DESC, created_at ASC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Target, 0)
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// PurgeTargets removes a campaign's targets and their dependent rows.
// Administrative only; runs in a transaction at the repository boundary.
func (r *Repository) PurgeTargets(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM message_sends WHERE campaign_id = $1`, campaignID); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM promises WHERE campaign_id = $1`, campaignID); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM contact_attempts WHERE campaign_id = $1`, campaignID); err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM targets WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
