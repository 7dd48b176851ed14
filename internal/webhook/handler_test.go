package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cobranca_backend/internal/campaigns/repository"
	apphttp "cobranca_backend/internal/http"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/logger"
	"cobranca_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type telephonyConfig struct {
	secret string
}

func (c telephonyConfig) GetTelephonyURL() string           { return "https://voice.example" }
func (c telephonyConfig) GetTelephonyAPIKey() string        { return "key" }
func (c telephonyConfig) GetTelephonyCallbackURL() string   { return "https://api.example/webhook" }
func (c telephonyConfig) GetTelephonyWebhookSecret() string { return c.secret }

type fakeStore struct {
	attempts map[string]*repository.Attempt

	completed []repository.CompleteAttemptParams
	failed    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{attempts: map[string]*repository.Attempt{}}
}

func (f *fakeStore) addAttempt(callID, status string) *repository.Attempt {
	a := &repository.Attempt{
		ID:            uuid.New(),
		TargetID:      uuid.New(),
		CampaignID:    uuid.New(),
		AttemptNumber: 1,
		Channel:       "voice",
		GatewayRef:    &callID,
		Status:        status,
	}
	f.attempts[callID] = a
	return a
}

func (f *fakeStore) GetAttemptByGatewayRef(_ context.Context, ref string) (repository.Attempt, error) {
	a, ok := f.attempts[ref]
	if !ok {
		return repository.Attempt{}, repository.ErrNotFound
	}
	return *a, nil
}

func (f *fakeStore) CompleteAttempt(_ context.Context, id uuid.UUID, params repository.CompleteAttemptParams) error {
	f.completed = append(f.completed, params)
	for _, a := range f.attempts {
		if a.ID == id {
			a.Status = "completed"
		}
	}
	return nil
}

func (f *fakeStore) MarkAttemptFailed(_ context.Context, id uuid.UUID) error {
	f.failed++
	for _, a := range f.attempts {
		if a.ID == id {
			a.Status = "failed"
		}
	}
	return nil
}

type fakeEnqueuer struct {
	postContact []queue.PostContactPayload
	archives    []queue.ArchiveRecordingPayload
}

func (f *fakeEnqueuer) EnqueuePostContact(_ context.Context, payload queue.PostContactPayload) error {
	f.postContact = append(f.postContact, payload)
	return nil
}

func (f *fakeEnqueuer) EnqueueArchiveRecording(_ context.Context, payload queue.ArchiveRecordingPayload) error {
	f.archives = append(f.archives, payload)
	return nil
}

func newTestEngine(store *fakeStore, enq *fakeEnqueuer, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	module := NewModule(store, enq, telephonyConfig{secret: secret}, validator.New(), logger.New("development"))
	v1 := engine.Group("/api/v1")
	module.RegisterRoutes(&apphttp.RouterContext{Engine: engine, V1: v1, Admin: v1.Group("/admin")})
	return engine
}

func postCallback(t *testing.T, engine *gin.Engine, body interface{}, secret string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/telephony", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, data))
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestCallbackCompletedFeedsPostContact(t *testing.T) {
	store := newFakeStore()
	enq := &fakeEnqueuer{}
	attempt := store.addAttempt("call-9", "in-progress")
	engine := newTestEngine(store, enq, "")

	recording := "https://voice.example/recordings/call-9.mp3"
	rec := postCallback(t, engine, CallResultRequest{
		CallID:          "call-9",
		Status:          CallCompleted,
		DurationSeconds: 95,
		RecordingURL:    &recording,
		Outcome:         &CallOutcomeRequest{Type: "promise", AmountCents: 5000, DueDate: "2026-09-15", PaymentMethod: "pix"},
	}, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(store.completed) != 1 || store.completed[0].DurationSeconds != 95 {
		t.Fatalf("completed attempts = %+v", store.completed)
	}
	if len(enq.postContact) != 1 {
		t.Fatalf("post-contact enqueues = %d, want 1", len(enq.postContact))
	}
	payload := enq.postContact[0]
	if payload.AttemptID != attempt.ID.String() || payload.AttemptStatus != "completed" {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Outcome == nil || payload.Outcome.Type != "promise" || payload.Outcome.DueDate != "2026-09-15" {
		t.Errorf("outcome = %+v", payload.Outcome)
	}
	if len(enq.archives) != 1 || enq.archives[0].RecordingURL != recording {
		t.Errorf("archives = %+v", enq.archives)
	}
}

func TestCallbackNoAnswerMarksAttemptFailed(t *testing.T) {
	store := newFakeStore()
	enq := &fakeEnqueuer{}
	store.addAttempt("call-3", "in-progress")
	engine := newTestEngine(store, enq, "")

	rec := postCallback(t, engine, CallResultRequest{CallID: "call-3", Status: CallNoAnswer}, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.failed != 1 {
		t.Errorf("failed marks = %d, want 1", store.failed)
	}
	if len(enq.postContact) != 1 || enq.postContact[0].AttemptStatus != "failed" {
		t.Errorf("post-contact = %+v", enq.postContact)
	}
	if len(enq.archives) != 0 {
		t.Errorf("archives = %d, want 0", len(enq.archives))
	}
}

func TestCallbackUnknownCallReference(t *testing.T) {
	engine := newTestEngine(newFakeStore(), &fakeEnqueuer{}, "")

	rec := postCallback(t, engine, CallResultRequest{CallID: "nope", Status: CallFailed}, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCallbackRepeatDeliveryIsIdempotent(t *testing.T) {
	store := newFakeStore()
	enq := &fakeEnqueuer{}
	store.addAttempt("call-7", "completed")
	engine := newTestEngine(store, enq, "")

	rec := postCallback(t, engine, CallResultRequest{CallID: "call-7", Status: CallCompleted}, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.completed) != 0 || len(enq.postContact) != 0 {
		t.Error("repeat delivery caused side effects")
	}
}

func TestCallbackRejectsBadStatus(t *testing.T) {
	store := newFakeStore()
	store.addAttempt("call-1", "in-progress")
	engine := newTestEngine(store, &fakeEnqueuer{}, "")

	rec := postCallback(t, engine, CallResultRequest{CallID: "call-1", Status: "exploded"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSignatureRequired(t *testing.T) {
	store := newFakeStore()
	store.addAttempt("call-5", "in-progress")
	engine := newTestEngine(store, &fakeEnqueuer{}, "topsecret")

	body := CallResultRequest{CallID: "call-5", Status: CallCompleted}

	rec := postCallback(t, engine, body, "topsecret")
	if rec.Code != http.StatusOK {
		t.Fatalf("signed request status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = postCallback(t, engine, body, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned request status = %d, want 401", rec.Code)
	}

	rec = postCallback(t, engine, body, "wrongsecret")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("badly signed request status = %d, want 401", rec.Code)
	}
}

func TestSignatureHeaderPrefixAccepted(t *testing.T) {
	store := newFakeStore()
	store.addAttempt("call-6", "in-progress")
	engine := newTestEngine(store, &fakeEnqueuer{}, "topsecret")

	data, _ := json.Marshal(CallResultRequest{CallID: "call-6", Status: CallCompleted})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/telephony", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+Sign("topsecret", data))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}
