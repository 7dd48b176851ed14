package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/config"
	"cobranca_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// RecordingStore persists the archived object key on the attempt.
type RecordingStore interface {
	SetAttemptRecordingKey(ctx context.Context, id uuid.UUID, objectKey string) error
}

// Archiver copies gateway call recordings into object storage. Gateway
// recording URLs expire; archival keeps the audio available for audit.
type Archiver struct {
	store  RecordingStore
	client *minio.Client
	bucket string
	http   *http.Client
	log    *logger.Logger
}

// NewArchiver returns nil when storage is not configured; the worker
// skips registering the archive handler in that case.
func NewArchiver(store RecordingStore, cfg config.StorageConfig, log *logger.Logger) (*Archiver, error) {
	if !cfg.IsStorageEnabled() {
		return nil, nil
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &Archiver{
		store:  store,
		client: client,
		bucket: cfg.GetRecordingsBucket(),
		http:   &http.Client{Timeout: 2 * time.Minute},
		log:    log.WithStage("recordings"),
	}, nil
}

// EnsureBucket creates the recordings bucket if it does not exist.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// HandleArchive is the asynq handler for recording archival jobs.
func (a *Archiver) HandleArchive(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseArchiveRecordingPayload(task)
	if err != nil {
		return fmt.Errorf("parse archive payload: %v: %w", err, asynq.SkipRetry)
	}
	return a.Archive(ctx, payload)
}

// Archive streams the recording from the gateway URL into the bucket
// and records the object key on the attempt. Transient download
// failures surface to the broker for retry while the gateway URL is
// still valid.
func (a *Archiver) Archive(ctx context.Context, payload queue.ArchiveRecordingPayload) error {
	attemptID, err := uuid.Parse(payload.AttemptID)
	if err != nil {
		return fmt.Errorf("bad attempt id %q: %v: %w", payload.AttemptID, err, asynq.SkipRetry)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.RecordingURL, nil)
	if err != nil {
		return fmt.Errorf("bad recording url: %v: %w", err, asynq.SkipRetry)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("download recording: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		// The gateway already purged it; nothing left to archive.
		a.log.Warn("recording no longer available", "attempt_id", payload.AttemptID)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recording download returned %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	objectKey := path.Join(payload.CampaignID, payload.AttemptID+".mp3")
	if _, err := a.client.PutObject(ctx, a.bucket, objectKey, resp.Body, resp.ContentLength, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return fmt.Errorf("store recording %s: %w", objectKey, err)
	}

	if err := a.store.SetAttemptRecordingKey(ctx, attemptID, objectKey); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			a.log.Warn("attempt vanished before recording key update", "attempt_id", payload.AttemptID)
			return nil
		}
		return fmt.Errorf("set recording key: %w", err)
	}

	a.log.Info("recording archived", "attempt_id", payload.AttemptID, "object_key", objectKey)
	return nil
}
