package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/crm/client"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/apperr"
	"cobranca_backend/platform/logger"

	"github.com/google/uuid"
)

type syncRun struct {
	status   string
	imported int
	skipped  int
	runErr   string
}

type fakeSyncStore struct {
	configs    map[uuid.UUID]repository.SyncConfig
	runs       []syncRun
	recomputes int
	statuses   []string
}

func newFakeSyncStore() *fakeSyncStore {
	return &fakeSyncStore{configs: map[uuid.UUID]repository.SyncConfig{}}
}

func (f *fakeSyncStore) GetSyncConfigByCampaign(_ context.Context, campaignID uuid.UUID) (repository.SyncConfig, error) {
	cfg, ok := f.configs[campaignID]
	if !ok {
		return repository.SyncConfig{}, repository.ErrNotFound
	}
	return cfg, nil
}

func (f *fakeSyncStore) ListEnabledSyncConfigs(_ context.Context) ([]repository.SyncConfig, error) {
	var out []repository.SyncConfig
	for _, cfg := range f.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (f *fakeSyncStore) RecordSyncRun(_ context.Context, _ uuid.UUID, status string, imported, skipped int, runErr string) error {
	f.runs = append(f.runs, syncRun{status: status, imported: imported, skipped: skipped, runErr: runErr})
	return nil
}

func (f *fakeSyncStore) RecomputeCampaignCounters(_ context.Context, id uuid.UUID) (repository.Campaign, error) {
	f.recomputes++
	return repository.Campaign{ID: id}, nil
}

func (f *fakeSyncStore) UpdateCampaignStatus(_ context.Context, _ uuid.UUID, status string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

type fakeSource struct {
	configured bool
	records    []queue.RawDebtor
	err        error
	queries    []client.Query
}

func (f *fakeSource) Configured() bool { return f.configured }

func (f *fakeSource) FetchDebtors(_ context.Context, query client.Query) ([]queue.RawDebtor, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeScheduler struct {
	schedules []queue.ScheduleTargetPayload
}

func (f *fakeScheduler) EnqueueSchedule(_ context.Context, payload queue.ScheduleTargetPayload, _ time.Duration) error {
	f.schedules = append(f.schedules, payload)
	return nil
}

type fakeAlerter struct {
	failures []string
}

func (f *fakeAlerter) SyncFailed(_ context.Context, campaignID string, _ error) {
	f.failures = append(f.failures, campaignID)
}

func newTestSyncService(store *fakeSyncStore, source *fakeSource, sched *fakeScheduler) *SyncService {
	log := logger.New("development")
	importer := NewImporter(&fakeTargetStore{}, log)
	return NewSyncService(store, source, importer, sched, log)
}

func addSyncConfig(store *fakeSyncStore, campaignID uuid.UUID, enabled bool) {
	store.configs[campaignID] = repository.SyncConfig{
		ID:         uuid.New(),
		CampaignID: campaignID,
		DateFrom:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		DateTo:     time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
		DedupKey:   repository.DedupByDocument,
		Enabled:    enabled,
	}
}

func TestSyncCampaignImportsAndSchedules(t *testing.T) {
	store := newFakeSyncStore()
	source := &fakeSource{configured: true, records: []queue.RawDebtor{
		{Name: "Maria Souza", Document: "529.982.247-25", Phones: []string{"(11) 98765-4321"}, AmountCents: 125000},
	}}
	sched := &fakeScheduler{}
	svc := newTestSyncService(store, source, sched)

	campaignID := uuid.New()
	addSyncConfig(store, campaignID, true)

	if err := svc.SyncCampaign(context.Background(), campaignID); err != nil {
		t.Fatalf("SyncCampaign() error = %v", err)
	}

	if len(source.queries) != 1 {
		t.Fatalf("got %d CRM queries, want 1", len(source.queries))
	}
	if got := source.queries[0].DateFrom; !got.Equal(store.configs[campaignID].DateFrom) {
		t.Errorf("query dateFrom = %v", got)
	}
	if len(store.runs) != 1 || store.runs[0].status != RunSuccess || store.runs[0].imported != 1 {
		t.Fatalf("runs = %+v, want one success with imported=1", store.runs)
	}
	if store.recomputes != 1 {
		t.Errorf("recomputes = %d, want 1", store.recomputes)
	}
	if len(sched.schedules) != 1 {
		t.Fatalf("got %d scheduling jobs, want 1", len(sched.schedules))
	}
	if sched.schedules[0].CampaignID != campaignID.String() || sched.schedules[0].AttemptNumber != 1 {
		t.Errorf("schedule payload = %+v", sched.schedules[0])
	}
}

func TestSyncCampaignWithoutConfig(t *testing.T) {
	store := newFakeSyncStore()
	svc := newTestSyncService(store, &fakeSource{configured: true}, &fakeScheduler{})

	err := svc.SyncCampaign(context.Background(), uuid.New())
	if apperr.GetKind(err) != apperr.KindNotFound {
		t.Fatalf("error kind = %v, want not found", apperr.GetKind(err))
	}
}

func TestSyncCampaignUnconfiguredSourceRecordsFailedRun(t *testing.T) {
	store := newFakeSyncStore()
	svc := newTestSyncService(store, &fakeSource{configured: false}, &fakeScheduler{})

	campaignID := uuid.New()
	addSyncConfig(store, campaignID, true)

	err := svc.SyncCampaign(context.Background(), campaignID)
	if apperr.GetKind(err) != apperr.KindConfig {
		t.Fatalf("error kind = %v, want config", apperr.GetKind(err))
	}
	if len(store.runs) != 1 || store.runs[0].status != RunFailed {
		t.Fatalf("runs = %+v, want one failed run", store.runs)
	}
}

func TestSyncCampaignPullFailureAlertsOperator(t *testing.T) {
	store := newFakeSyncStore()
	source := &fakeSource{configured: true, err: errors.New("crm unreachable")}
	svc := newTestSyncService(store, source, &fakeScheduler{})
	alerter := &fakeAlerter{}
	svc.SetAlerts(alerter)

	campaignID := uuid.New()
	addSyncConfig(store, campaignID, true)

	if err := svc.SyncCampaign(context.Background(), campaignID); err == nil {
		t.Fatal("SyncCampaign() error = nil, want pull failure")
	}
	if len(store.runs) != 1 || store.runs[0].status != RunFailed || store.runs[0].runErr != "crm unreachable" {
		t.Fatalf("runs = %+v, want failed run with crm error", store.runs)
	}
	if len(alerter.failures) != 1 || alerter.failures[0] != campaignID.String() {
		t.Fatalf("alerts = %v, want one for campaign", alerter.failures)
	}
}

func TestSyncCampaignPullFailureWithoutAlerter(t *testing.T) {
	store := newFakeSyncStore()
	source := &fakeSource{configured: true, err: errors.New("crm unreachable")}
	svc := newTestSyncService(store, source, &fakeScheduler{})

	campaignID := uuid.New()
	addSyncConfig(store, campaignID, true)

	if err := svc.SyncCampaign(context.Background(), campaignID); err == nil {
		t.Fatal("SyncCampaign() error = nil, want pull failure")
	}
}

func TestIngestCampaignActivatesOnSuccess(t *testing.T) {
	store := newFakeSyncStore()
	sched := &fakeScheduler{}
	svc := newTestSyncService(store, &fakeSource{}, sched)

	campaignID := uuid.New()
	records := []queue.RawDebtor{
		{Name: "Acme Ltda", Document: "11.222.333/0001-81", Phones: []string{"+55 11 3000-1000"}, AmountCents: 990000},
	}

	if err := svc.IngestCampaign(context.Background(), campaignID, records); err != nil {
		t.Fatalf("IngestCampaign() error = %v", err)
	}

	want := []string{"ingesting", "active"}
	if len(store.statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", store.statuses, want)
	}
	for i, s := range want {
		if store.statuses[i] != s {
			t.Fatalf("statuses = %v, want %v", store.statuses, want)
		}
	}
	if len(sched.schedules) != 1 {
		t.Fatalf("got %d scheduling jobs, want 1", len(sched.schedules))
	}
}

func TestSyncAllEnabledSkipsDisabledConfigs(t *testing.T) {
	store := newFakeSyncStore()
	source := &fakeSource{configured: true}
	svc := newTestSyncService(store, source, &fakeScheduler{})

	enabled := uuid.New()
	disabled := uuid.New()
	addSyncConfig(store, enabled, true)
	addSyncConfig(store, disabled, false)

	if err := svc.SyncAllEnabled(context.Background()); err != nil {
		t.Fatalf("SyncAllEnabled() error = %v", err)
	}
	if len(source.queries) != 1 {
		t.Fatalf("got %d CRM pulls, want 1 for the enabled config", len(source.queries))
	}
}
