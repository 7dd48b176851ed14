// Package service implements debtor ingestion: normalizing raw records,
// deduplicating against existing targets and creating pending targets.
// The same path serves both CRM pulls and direct campaign ingests.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/document"
	"cobranca_backend/platform/logger"
	"cobranca_backend/platform/phone"

	"github.com/google/uuid"
)

// initialAttemptDelay keeps freshly imported targets out of the
// scheduling queue long enough for the import transaction to settle.
const initialAttemptDelay = 5 * time.Minute

// TargetStore is the slice of the campaigns repository the importer needs.
type TargetStore interface {
	FindTargetByDocument(ctx context.Context, campaignID uuid.UUID, documentValue string) (repository.Target, error)
	FindTargetByPhone(ctx context.Context, campaignID uuid.UUID, phoneNumber string) (repository.Target, error)
	CreateTarget(ctx context.Context, params repository.CreateTargetParams) (repository.Target, error)
	UpdateTargetFromImport(ctx context.Context, id uuid.UUID, params repository.CreateTargetParams) (repository.Target, error)
}

// ImportPolicy controls dedup matching and conflict handling for one run.
type ImportPolicy struct {
	DedupKey       string
	UpdateExisting bool
	ContactChannel string
}

// ImportResult summarizes one ingestion run. NewTargets carries the
// targets created during the run so the caller can enqueue scheduling.
type ImportResult struct {
	Imported   int
	Updated    int
	Skipped    int
	NewTargets []repository.Target
}

type Importer struct {
	store TargetStore
	log   *logger.Logger
}

func NewImporter(store TargetStore, log *logger.Logger) *Importer {
	return &Importer{store: store, log: log}
}

// Import runs every record through normalization, dedup and
// create-or-update. Unusable records are skipped and logged, never
// failed: a bad row must not abort the rest of the batch.
func (im *Importer) Import(ctx context.Context, campaignID uuid.UUID, policy ImportPolicy, records []queue.RawDebtor) (ImportResult, error) {
	if policy.DedupKey == "" {
		policy.DedupKey = repository.DedupByDocument
	}
	if policy.ContactChannel == "" {
		policy.ContactChannel = "voice"
	}

	var result ImportResult
	for _, record := range records {
		params, ok := im.normalize(campaignID, policy, record)
		if !ok {
			result.Skipped++
			continue
		}

		existing, found, err := im.match(ctx, campaignID, policy.DedupKey, params)
		if err != nil {
			return result, err
		}

		switch {
		case found && policy.UpdateExisting:
			if _, err := im.store.UpdateTargetFromImport(ctx, existing.ID, params); err != nil {
				return result, err
			}
			result.Updated++
		case found:
			result.Skipped++
		default:
			target, err := im.store.CreateTarget(ctx, params)
			if err != nil {
				return result, err
			}
			result.Imported++
			result.NewTargets = append(result.NewTargets, target)
		}

		if err := ctx.Err(); err != nil {
			return result, err
		}
	}
	return result, nil
}

// normalize validates the identifier and phone numbers of one raw record.
// A record without a classifiable identifier and without at least one
// valid phone number is unusable.
func (im *Importer) normalize(campaignID uuid.UUID, policy ImportPolicy, record queue.RawDebtor) (repository.CreateTargetParams, bool) {
	name := strings.TrimSpace(record.Name)

	identifier := record.Document
	if strings.TrimSpace(identifier) == "" {
		identifier = record.ClientCode
	}
	kind, value, docOK := document.Classify(identifier)

	var primary string
	var alts []string
	for _, raw := range record.Phones {
		normalized, valid := phone.Validate(raw)
		if !valid {
			im.log.Debug("discarding invalid phone number", "campaign_id", campaignID.String(), "debtor", name)
			continue
		}
		if primary == "" {
			primary = normalized
		} else {
			alts = append(alts, normalized)
		}
	}

	if !docOK && primary == "" {
		im.log.Warn("skipping record with no usable identifier or phone",
			"campaign_id", campaignID.String(), "debtor", name)
		return repository.CreateTargetParams{}, false
	}

	next := time.Now().Add(initialAttemptDelay)
	params := repository.CreateTargetParams{
		CampaignID:      campaignID,
		DebtorName:      name,
		PhoneNumber:     primary,
		AltPhoneNumbers: alts,
		DebtAmountCents: record.AmountCents,
		ContactChannel:  policy.ContactChannel,
		NextAttemptAt:   &next,
	}
	if docOK {
		params.DocumentKind = string(kind)
		params.DocumentValue = value
	}
	return params, true
}

// match looks for an existing target under the configured dedup key.
// "both" matches on either identifier.
func (im *Importer) match(ctx context.Context, campaignID uuid.UUID, dedupKey string, params repository.CreateTargetParams) (repository.Target, bool, error) {
	byDocument := dedupKey == repository.DedupByDocument || dedupKey == repository.DedupByBoth
	byPhone := dedupKey == repository.DedupByPhone || dedupKey == repository.DedupByBoth

	if byDocument && params.DocumentValue != "" {
		target, err := im.store.FindTargetByDocument(ctx, campaignID, params.DocumentValue)
		if err == nil {
			return target, true, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return repository.Target{}, false, err
		}
	}

	if byPhone && params.PhoneNumber != "" {
		target, err := im.store.FindTargetByPhone(ctx, campaignID, params.PhoneNumber)
		if err == nil {
			return target, true, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return repository.Target{}, false, err
		}
	}

	return repository.Target{}, false, nil
}
