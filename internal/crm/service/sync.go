package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cobranca_backend/internal/campaigns/domain"
	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/crm/client"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/apperr"
	"cobranca_backend/platform/logger"

	"github.com/google/uuid"
)

// Sync run statuses recorded on the campaign's sync config.
const (
	RunSuccess = "success"
	RunFailed  = "failed"
)

// SyncStore is the slice of the campaigns repository the sync stage needs
// beyond the importer's TargetStore.
type SyncStore interface {
	GetSyncConfigByCampaign(ctx context.Context, campaignID uuid.UUID) (repository.SyncConfig, error)
	ListEnabledSyncConfigs(ctx context.Context) ([]repository.SyncConfig, error)
	RecordSyncRun(ctx context.Context, campaignID uuid.UUID, status string, imported, skipped int, runErr string) error
	RecomputeCampaignCounters(ctx context.Context, id uuid.UUID) (repository.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status string) error
}

// DebtorSource abstracts the CRM pull.
type DebtorSource interface {
	Configured() bool
	FetchDebtors(ctx context.Context, query client.Query) ([]queue.RawDebtor, error)
}

// Scheduler enqueues scheduling jobs for freshly created targets.
type Scheduler interface {
	EnqueueSchedule(ctx context.Context, payload queue.ScheduleTargetPayload, delay time.Duration) error
}

// AlertNotifier raises operator alerts for failed sync runs.
type AlertNotifier interface {
	SyncFailed(ctx context.Context, campaignID string, runErr error)
}

type SyncService struct {
	store    SyncStore
	source   DebtorSource
	importer *Importer
	sched    Scheduler
	alerts   AlertNotifier
	log      *logger.Logger
}

func NewSyncService(store SyncStore, source DebtorSource, importer *Importer, sched Scheduler, log *logger.Logger) *SyncService {
	return &SyncService{
		store:    store,
		source:   source,
		importer: importer,
		sched:    sched,
		log:      log.WithStage("crm_sync"),
	}
}

// SetAlerts installs an operator alert channel for failed runs. Without
// one, failures are only logged and recorded on the sync run row.
func (s *SyncService) SetAlerts(alerts AlertNotifier) {
	s.alerts = alerts
}

func (s *SyncService) notifyFailure(ctx context.Context, campaignID uuid.UUID, err error) {
	if s.alerts == nil {
		return
	}
	s.alerts.SyncFailed(ctx, campaignID.String(), err)
}

// SyncCampaign pulls debtors from the CRM per the campaign's sync config
// and runs them through ingestion. A CRM failure fails the whole run and
// is surfaced to the broker so its retry policy re-drives the job;
// per-record problems are counted as skipped and never abort the batch.
func (s *SyncService) SyncCampaign(ctx context.Context, campaignID uuid.UUID) error {
	const op = "SyncService.SyncCampaign"

	cfg, err := s.store.GetSyncConfigByCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("no sync config for campaign").WithOp(op)
		}
		return apperr.Wrap(apperr.KindInternal, "load sync config", err).WithOp(op)
	}

	if s.source == nil || !s.source.Configured() {
		recErr := "crm integration not configured"
		_ = s.store.RecordSyncRun(ctx, campaignID, RunFailed, 0, 0, recErr)
		return apperr.Config(recErr).WithOp(op)
	}

	records, err := s.source.FetchDebtors(ctx, client.Query{
		DateFrom:       cfg.DateFrom,
		DateTo:         cfg.DateTo,
		MinAmountCents: cfg.MinAmountCents,
		MaxAmountCents: cfg.MaxAmountCents,
	})
	if err != nil {
		s.log.GatewayError("crm", "fetch_debtors", err)
		if recErr := s.store.RecordSyncRun(ctx, campaignID, RunFailed, 0, 0, err.Error()); recErr != nil {
			s.log.DatabaseError("record_sync_run", recErr)
		}
		s.notifyFailure(ctx, campaignID, err)
		return fmt.Errorf("crm pull for campaign %s: %w", campaignID, err)
	}

	policy := ImportPolicy{DedupKey: cfg.DedupKey, UpdateExisting: cfg.UpdateExisting}
	result, err := s.importer.Import(ctx, campaignID, policy, records)
	if err != nil {
		if recErr := s.store.RecordSyncRun(ctx, campaignID, RunFailed, result.Imported+result.Updated, result.Skipped, err.Error()); recErr != nil {
			s.log.DatabaseError("record_sync_run", recErr)
		}
		s.notifyFailure(ctx, campaignID, err)
		return fmt.Errorf("import for campaign %s: %w", campaignID, err)
	}

	if err := s.store.RecordSyncRun(ctx, campaignID, RunSuccess, result.Imported+result.Updated, result.Skipped, ""); err != nil {
		s.log.DatabaseError("record_sync_run", err)
	}

	s.finishRun(ctx, campaignID, result)

	s.log.Info("crm sync finished",
		"campaign_id", campaignID.String(),
		"imported", result.Imported,
		"updated", result.Updated,
		"skipped", result.Skipped,
	)
	return nil
}

// IngestCampaign runs a directly supplied debtor list through the same
// normalization and dedup path as a CRM pull. The campaign moves through
// ingesting to active; an import failure parks it in failed.
func (s *SyncService) IngestCampaign(ctx context.Context, campaignID uuid.UUID, records []queue.RawDebtor) error {
	const op = "SyncService.IngestCampaign"

	if err := s.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignIngesting); err != nil {
		return apperr.Wrap(apperr.KindInternal, "mark campaign ingesting", err).WithOp(op)
	}

	result, err := s.importer.Import(ctx, campaignID, ImportPolicy{}, records)
	if err != nil {
		if stErr := s.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignFailed); stErr != nil {
			s.log.DatabaseError("update_campaign_status", stErr)
		}
		return fmt.Errorf("ingest for campaign %s: %w", campaignID, err)
	}

	if err := s.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignActive); err != nil {
		return apperr.Wrap(apperr.KindInternal, "mark campaign active", err).WithOp(op)
	}

	s.finishRun(ctx, campaignID, result)

	s.log.Info("campaign ingest finished",
		"campaign_id", campaignID.String(),
		"imported", result.Imported,
		"skipped", result.Skipped,
	)
	return nil
}

// SyncAllEnabled kicks off a sync for every campaign with an enabled
// config. Used by the nightly schedule; individual failures are logged
// and do not stop the rest.
func (s *SyncService) SyncAllEnabled(ctx context.Context) error {
	configs, err := s.store.ListEnabledSyncConfigs(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "list sync configs", err)
	}
	for _, cfg := range configs {
		if err := s.SyncCampaign(ctx, cfg.CampaignID); err != nil {
			s.log.Error("scheduled sync failed", "campaign_id", cfg.CampaignID.String(), "error", err.Error())
		}
	}
	return nil
}

// finishRun recomputes campaign counters and hands each new target to
// the scheduling queue, delayed until its nextAttemptAt.
func (s *SyncService) finishRun(ctx context.Context, campaignID uuid.UUID, result ImportResult) {
	if _, err := s.store.RecomputeCampaignCounters(ctx, campaignID); err != nil {
		s.log.DatabaseError("recompute_campaign_counters", err)
	}

	now := time.Now()
	for _, target := range result.NewTargets {
		var delay time.Duration
		if target.NextAttemptAt != nil && target.NextAttemptAt.After(now) {
			delay = target.NextAttemptAt.Sub(now)
		}
		payload := queue.ScheduleTargetPayload{
			TargetID:      target.ID.String(),
			CampaignID:    campaignID.String(),
			AttemptNumber: target.AttemptCount + 1,
		}
		if err := s.sched.EnqueueSchedule(ctx, payload, delay); err != nil {
			s.log.Error("enqueue scheduling failed", "target_id", target.ID.String(), "error", err.Error())
		}
	}
}
