// Package service implements campaign management and the administrative
// operations over targets and promises.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cobranca_backend/internal/campaigns/domain"
	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/apperr"
	"cobranca_backend/platform/logger"

	"github.com/google/uuid"
)

// Store is the repository slice the campaign service needs.
type Store interface {
	CreateCampaign(ctx context.Context, name, status string) (repository.Campaign, error)
	GetCampaignByID(ctx context.Context, id uuid.UUID) (repository.Campaign, error)
	ListCampaigns(ctx context.Context) ([]repository.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status string) error
	RecomputeCampaignCounters(ctx context.Context, id uuid.UUID) (repository.Campaign, error)

	GetTargetByID(ctx context.Context, id uuid.UUID) (repository.Target, error)
	ListTargetsByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]repository.Target, error)
	ListFailedTargets(ctx context.Context, campaignID uuid.UUID) ([]repository.Target, error)
	ResetTarget(ctx context.Context, id uuid.UUID) (repository.Target, error)
	PurgeTargets(ctx context.Context, campaignID uuid.UUID) (int64, error)

	UpsertSyncConfig(ctx context.Context, params repository.UpsertSyncConfigParams) (repository.SyncConfig, error)
	GetSyncConfigByCampaign(ctx context.Context, campaignID uuid.UUID) (repository.SyncConfig, error)
}

// Broker is the queue slice the campaign service needs.
type Broker interface {
	EnqueueCRMSync(ctx context.Context, payload queue.CRMSyncPayload) error
	EnqueueCampaignIngest(ctx context.Context, payload queue.CampaignIngestPayload) error
	EnqueueSchedule(ctx context.Context, payload queue.ScheduleTargetPayload, delay time.Duration) error
}

// Service coordinates campaign administration.
type Service struct {
	store  Store
	broker Broker
	log    *logger.Logger
}

func New(store Store, broker Broker, log *logger.Logger) *Service {
	return &Service{store: store, broker: broker, log: log}
}

// CreateCampaign creates a draft campaign.
func (s *Service) CreateCampaign(ctx context.Context, name string) (repository.Campaign, error) {
	if name == "" {
		return repository.Campaign{}, apperr.Validation("campaign name is required")
	}
	return s.store.CreateCampaign(ctx, name, domain.CampaignDraft)
}

// GetCampaign returns one campaign with its counters.
func (s *Service) GetCampaign(ctx context.Context, id uuid.UUID) (repository.Campaign, error) {
	campaign, err := s.store.GetCampaignByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Campaign{}, apperr.NotFound("campaign not found")
	}
	return campaign, err
}

// ListCampaigns returns all campaigns, newest first.
func (s *Service) ListCampaigns(ctx context.Context) ([]repository.Campaign, error) {
	return s.store.ListCampaigns(ctx)
}

// PauseCampaign suspends an active campaign. Already-enqueued contact
// jobs keep running; scheduling jobs for the campaign's targets are
// dropped at the paused gate, leaving the targets pending.
func (s *Service) PauseCampaign(ctx context.Context, id uuid.UUID) error {
	return s.transitionCampaign(ctx, id, domain.CampaignActive, domain.CampaignPaused)
}

// ResumeCampaign reactivates a paused campaign and re-issues scheduling
// for its pending targets, whose jobs were dropped while paused.
func (s *Service) ResumeCampaign(ctx context.Context, id uuid.UUID) error {
	if err := s.transitionCampaign(ctx, id, domain.CampaignPaused, domain.CampaignActive); err != nil {
		return err
	}
	return s.requeuePendingTargets(ctx, id)
}

func (s *Service) requeuePendingTargets(ctx context.Context, campaignID uuid.UUID) error {
	const page = 500
	now := time.Now()
	requeued := 0
	for offset := 0; ; offset += page {
		targets, err := s.store.ListTargetsByCampaign(ctx, campaignID, page, offset)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "list targets for resume", err)
		}
		for _, target := range targets {
			if target.State != string(domain.StatePending) {
				continue
			}
			var delay time.Duration
			if target.NextAttemptAt != nil && target.NextAttemptAt.After(now) {
				delay = target.NextAttemptAt.Sub(now)
			}
			payload := queue.ScheduleTargetPayload{
				TargetID:      target.ID.String(),
				CampaignID:    campaignID.String(),
				AttemptNumber: target.AttemptCount + 1,
			}
			if err := s.broker.EnqueueSchedule(ctx, payload, delay); err != nil {
				s.log.Error("requeue scheduling failed", "target_id", target.ID.String(), "error", err.Error())
				continue
			}
			requeued++
		}
		if len(targets) < page {
			break
		}
	}
	s.log.Info("campaign resumed", "campaign_id", campaignID.String(), "requeued", requeued)
	return nil
}

func (s *Service) transitionCampaign(ctx context.Context, id uuid.UUID, from, to string) error {
	campaign, err := s.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status != from {
		return apperr.Conflict(fmt.Sprintf("campaign is %s, expected %s", campaign.Status, from))
	}
	return s.store.UpdateCampaignStatus(ctx, id, to)
}

// IngestList queues a directly supplied debtor list for asynchronous
// ingestion. Normalization, deduplication, and target creation happen in
// the sync worker so a large list never blocks the request.
func (s *Service) IngestList(ctx context.Context, campaignID uuid.UUID, records []queue.RawDebtor) error {
	if len(records) == 0 {
		return apperr.Validation("no records supplied")
	}
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status == domain.CampaignIngesting {
		return apperr.Conflict("an ingest is already running for this campaign")
	}

	if err := s.broker.EnqueueCampaignIngest(ctx, queue.CampaignIngestPayload{
		CampaignID: campaignID.String(),
		Records:    records,
	}); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to queue ingest", err)
	}

	s.log.Info("campaign ingest queued", "campaign_id", campaignID.String(), "records", len(records))
	return nil
}

// ConfigureSync creates or replaces the campaign's CRM sync parameters.
func (s *Service) ConfigureSync(ctx context.Context, params repository.UpsertSyncConfigParams) (repository.SyncConfig, error) {
	switch params.DedupKey {
	case repository.DedupByDocument, repository.DedupByPhone, repository.DedupByBoth:
	default:
		return repository.SyncConfig{}, apperr.Validation("dedupKey must be document, phone, or both")
	}
	if params.DateTo.Before(params.DateFrom) {
		return repository.SyncConfig{}, apperr.Validation("dateTo must not precede dateFrom")
	}
	if _, err := s.GetCampaign(ctx, params.CampaignID); err != nil {
		return repository.SyncConfig{}, err
	}
	return s.store.UpsertSyncConfig(ctx, params)
}

// TriggerSync queues a manual CRM sync run for the campaign.
func (s *Service) TriggerSync(ctx context.Context, campaignID uuid.UUID) error {
	if _, err := s.store.GetSyncConfigByCampaign(ctx, campaignID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("no sync configuration for this campaign")
		}
		return err
	}
	return s.broker.EnqueueCRMSync(ctx, queue.CRMSyncPayload{CampaignID: campaignID.String()})
}

// ListTargets returns a page of the campaign's targets.
func (s *Service) ListTargets(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]repository.Target, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListTargetsByCampaign(ctx, campaignID, limit, offset)
}

// ResetTarget puts a target back to pending with a fresh attempt budget
// and re-enters it into scheduling. The administrative escape hatch for
// targets parked by max attempts or a broken promise.
func (s *Service) ResetTarget(ctx context.Context, targetID uuid.UUID) (repository.Target, error) {
	target, err := s.store.ResetTarget(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Target{}, apperr.NotFound("target not found")
		}
		return repository.Target{}, err
	}

	if err := s.enterScheduling(ctx, target); err != nil {
		return repository.Target{}, err
	}
	if _, err := s.store.RecomputeCampaignCounters(ctx, target.CampaignID); err != nil {
		s.log.DatabaseError("recompute_campaign_counters", err)
	}

	s.log.Info("target reset", "target_id", targetID.String())
	return target, nil
}

// BulkRetryFailed resets every failed target in the campaign and returns
// how many were re-entered into scheduling.
func (s *Service) BulkRetryFailed(ctx context.Context, campaignID uuid.UUID) (int, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return 0, err
	}

	failed, err := s.store.ListFailedTargets(ctx, campaignID)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, target := range failed {
		reset, err := s.store.ResetTarget(ctx, target.ID)
		if err != nil {
			s.log.DatabaseError("reset_target", err)
			continue
		}
		if err := s.enterScheduling(ctx, reset); err != nil {
			s.log.Error("re-enter scheduling failed", "target_id", reset.ID.String(), "error", err.Error())
			continue
		}
		retried++
	}

	if retried > 0 {
		if _, err := s.store.RecomputeCampaignCounters(ctx, campaignID); err != nil {
			s.log.DatabaseError("recompute_campaign_counters", err)
		}
	}

	s.log.Info("bulk retry finished", "campaign_id", campaignID.String(), "failed", len(failed), "retried", retried)
	return retried, nil
}

// PurgeTargets removes every target (and dependent rows) from a campaign
// that is not actively contacting.
func (s *Service) PurgeTargets(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if campaign.Status == domain.CampaignActive || campaign.Status == domain.CampaignIngesting {
		return 0, apperr.Conflict("pause the campaign before purging targets")
	}

	purged, err := s.store.PurgeTargets(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if _, err := s.store.RecomputeCampaignCounters(ctx, campaignID); err != nil {
		s.log.DatabaseError("recompute_campaign_counters", err)
	}

	s.log.Info("targets purged", "campaign_id", campaignID.String(), "purged", purged)
	return purged, nil
}

func (s *Service) enterScheduling(ctx context.Context, target repository.Target) error {
	return s.broker.EnqueueSchedule(ctx, queue.ScheduleTargetPayload{
		TargetID:      target.ID.String(),
		CampaignID:    target.CampaignID.String(),
		AttemptNumber: target.AttemptCount + 1,
	}, 0)
}
