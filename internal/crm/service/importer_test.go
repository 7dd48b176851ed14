package service

import (
	"context"
	"testing"

	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeTargetStore struct {
	targets []repository.Target
	updates int
}

func (f *fakeTargetStore) FindTargetByDocument(_ context.Context, campaignID uuid.UUID, documentValue string) (repository.Target, error) {
	for _, t := range f.targets {
		if t.CampaignID == campaignID && t.DocumentValue == documentValue && documentValue != "" {
			return t, nil
		}
	}
	return repository.Target{}, repository.ErrNotFound
}

func (f *fakeTargetStore) FindTargetByPhone(_ context.Context, campaignID uuid.UUID, phoneNumber string) (repository.Target, error) {
	for _, t := range f.targets {
		if t.CampaignID != campaignID {
			continue
		}
		if t.PhoneNumber == phoneNumber {
			return t, nil
		}
		for _, alt := range t.AltPhoneNumbers {
			if alt == phoneNumber {
				return t, nil
			}
		}
	}
	return repository.Target{}, repository.ErrNotFound
}

func (f *fakeTargetStore) CreateTarget(_ context.Context, params repository.CreateTargetParams) (repository.Target, error) {
	t := repository.Target{
		ID:              uuid.New(),
		CampaignID:      params.CampaignID,
		DebtorName:      params.DebtorName,
		DocumentKind:    params.DocumentKind,
		DocumentValue:   params.DocumentValue,
		PhoneNumber:     params.PhoneNumber,
		AltPhoneNumbers: params.AltPhoneNumbers,
		DebtAmountCents: params.DebtAmountCents,
		ContactChannel:  params.ContactChannel,
		State:           "pending",
		NextAttemptAt:   params.NextAttemptAt,
	}
	f.targets = append(f.targets, t)
	return t, nil
}

func (f *fakeTargetStore) UpdateTargetFromImport(_ context.Context, id uuid.UUID, params repository.CreateTargetParams) (repository.Target, error) {
	for i, t := range f.targets {
		if t.ID == id {
			f.targets[i].DebtorName = params.DebtorName
			f.targets[i].DebtAmountCents = params.DebtAmountCents
			f.updates++
			return f.targets[i], nil
		}
	}
	return repository.Target{}, repository.ErrNotFound
}

func newTestImporter(store TargetStore) *Importer {
	return NewImporter(store, logger.New("development"))
}

func TestImportCreatesPendingTargets(t *testing.T) {
	store := &fakeTargetStore{}
	importer := newTestImporter(store)
	campaignID := uuid.New()

	records := []queue.RawDebtor{
		{Name: "Maria Souza", Document: "529.982.247-25", Phones: []string{"(11) 98765-4321", "11 91234-5678"}, AmountCents: 125000},
		{Name: "Acme Ltda", Document: "11.222.333/0001-81", Phones: []string{"+55 11 3000-1000"}, AmountCents: 990000},
	}

	result, err := importer.Import(context.Background(), campaignID, ImportPolicy{}, records)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if result.Imported != 2 || result.Skipped != 0 {
		t.Fatalf("got imported=%d skipped=%d, want 2/0", result.Imported, result.Skipped)
	}

	first := store.targets[0]
	if first.DocumentKind != "CPF" || first.DocumentValue != "52998224725" {
		t.Errorf("first target document = %s %q", first.DocumentKind, first.DocumentValue)
	}
	if first.PhoneNumber != "+5511987654321" {
		t.Errorf("primary phone = %q, want +5511987654321", first.PhoneNumber)
	}
	if len(first.AltPhoneNumbers) != 1 || first.AltPhoneNumbers[0] != "+5511912345678" {
		t.Errorf("alt phones = %v", first.AltPhoneNumbers)
	}
	if first.State != "pending" {
		t.Errorf("state = %q, want pending", first.State)
	}
	if first.NextAttemptAt == nil {
		t.Error("NextAttemptAt not set")
	}

	second := store.targets[1]
	if second.DocumentKind != "CNPJ" || second.DocumentValue != "11222333000181" {
		t.Errorf("second target document = %s %q", second.DocumentKind, second.DocumentValue)
	}
}

func TestImportIsIdempotentByDocument(t *testing.T) {
	store := &fakeTargetStore{}
	importer := newTestImporter(store)
	campaignID := uuid.New()

	records := []queue.RawDebtor{
		{Name: "Maria Souza", Document: "52998224725", Phones: []string{"11987654321"}, AmountCents: 125000},
	}

	for run := 0; run < 2; run++ {
		if _, err := importer.Import(context.Background(), campaignID, ImportPolicy{}, records); err != nil {
			t.Fatalf("run %d: Import() error = %v", run, err)
		}
	}

	if len(store.targets) != 1 {
		t.Fatalf("got %d targets after re-sync, want 1", len(store.targets))
	}
	if store.updates != 0 {
		t.Errorf("updates = %d, want 0 with UpdateExisting unset", store.updates)
	}
}

func TestImportUpdatesExistingWhenConfigured(t *testing.T) {
	store := &fakeTargetStore{}
	importer := newTestImporter(store)
	campaignID := uuid.New()
	policy := ImportPolicy{DedupKey: repository.DedupByBoth, UpdateExisting: true}

	first := []queue.RawDebtor{
		{Name: "Joao Lima", Document: "52998224725", Phones: []string{"11987654321"}, AmountCents: 50000},
	}
	if _, err := importer.Import(context.Background(), campaignID, policy, first); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	// Same debtor, new balance, matched by phone only.
	second := []queue.RawDebtor{
		{Name: "Joao Lima", Phones: []string{"11987654321"}, AmountCents: 75000},
	}
	result, err := importer.Import(context.Background(), campaignID, policy, second)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if result.Updated != 1 || result.Imported != 0 {
		t.Fatalf("got updated=%d imported=%d, want 1/0", result.Updated, result.Imported)
	}
	if len(store.targets) != 1 {
		t.Fatalf("got %d targets, want 1", len(store.targets))
	}
	if store.targets[0].DebtAmountCents != 75000 {
		t.Errorf("amount = %d, want 75000", store.targets[0].DebtAmountCents)
	}
}

func TestImportSkipsUnusableRecords(t *testing.T) {
	store := &fakeTargetStore{}
	importer := newTestImporter(store)
	campaignID := uuid.New()

	records := []queue.RawDebtor{
		{Name: "No Identifiers", Phones: []string{"123"}},
		{Name: "Usable", Document: "52998224725", Phones: []string{"11987654321"}},
	}

	result, err := importer.Import(context.Background(), campaignID, ImportPolicy{}, records)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if result.Skipped != 1 || result.Imported != 1 {
		t.Fatalf("got skipped=%d imported=%d, want 1/1", result.Skipped, result.Imported)
	}
}

func TestImportRepeatedDigitCPFBecomesClientCode(t *testing.T) {
	store := &fakeTargetStore{}
	importer := newTestImporter(store)
	campaignID := uuid.New()

	records := []queue.RawDebtor{
		{Name: "Repeated Digits", Document: "111.111.111-11", Phones: []string{"11987654321"}},
	}

	result, err := importer.Import(context.Background(), campaignID, ImportPolicy{}, records)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if result.Imported != 1 {
		t.Fatalf("imported = %d, want 1", result.Imported)
	}

	target := store.targets[0]
	if target.DocumentKind != "CLIENT_CODE" {
		t.Errorf("document kind = %q, want CLIENT_CODE", target.DocumentKind)
	}
	if target.DocumentValue != "11111111111" {
		t.Errorf("document value = %q, want 11111111111", target.DocumentValue)
	}
}

func TestImportFallsBackToClientCodeField(t *testing.T) {
	store := &fakeTargetStore{}
	importer := newTestImporter(store)
	campaignID := uuid.New()

	records := []queue.RawDebtor{
		{Name: "Code Only", ClientCode: "900123", Phones: []string{"11987654321"}},
	}

	if _, err := importer.Import(context.Background(), campaignID, ImportPolicy{}, records); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if got := store.targets[0].DocumentKind; got != "CLIENT_CODE" {
		t.Errorf("document kind = %q, want CLIENT_CODE", got)
	}
}
