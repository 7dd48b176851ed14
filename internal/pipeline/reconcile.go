package pipeline

import (
	"context"
	"fmt"

	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// ReconcilerStore is the repository slice counter reconciliation needs.
type ReconcilerStore interface {
	ListCampaignIDs(ctx context.Context) ([]uuid.UUID, error)
	RecomputeCampaignCounters(ctx context.Context, id uuid.UUID) (repository.Campaign, error)
}

// Reconciler periodically re-derives every campaign's aggregate
// counters from the target and promise rows. The counters are already
// recomputed after each classification; this pass catches drift from
// interleaved updates or admin mutations.
type Reconciler struct {
	store ReconcilerStore
	log   *logger.Logger
}

func NewReconciler(store ReconcilerStore, log *logger.Logger) *Reconciler {
	return &Reconciler{store: store, log: log.WithStage("reconcile")}
}

// HandleReconcile is the asynq handler for the periodic reconcile job.
func (r *Reconciler) HandleReconcile(ctx context.Context, _ *asynq.Task) error {
	return r.Reconcile(ctx)
}

func (r *Reconciler) Reconcile(ctx context.Context) error {
	ids, err := r.store.ListCampaignIDs(ctx)
	if err != nil {
		return fmt.Errorf("list campaigns: %w", err)
	}

	for _, id := range ids {
		if _, err := r.store.RecomputeCampaignCounters(ctx, id); err != nil {
			r.log.DatabaseError("recompute_campaign_counters", err)
		}
	}

	r.log.Info("counter reconciliation finished", "campaigns", len(ids))
	return nil
}
