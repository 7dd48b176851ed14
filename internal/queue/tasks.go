package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type names, one per pipeline stage.
const (
	TaskCRMSync          = "crm.sync_campaign"
	TaskCampaignIngest   = "campaign.ingest"
	TaskScheduleTarget   = "target.schedule"
	TaskDialTarget       = "target.dial"
	TaskMessageTarget    = "target.message"
	TaskPostContact      = "attempt.post_process"
	TaskPromiseCheck     = "promise.check"
	TaskRetrySweep       = "messages.retry_sweep"
	TaskMessageRetry     = "messages.retry"
	TaskArchiveRecording = "recordings.archive"
	TaskReconcile        = "campaigns.reconcile"
	TaskNightlySync      = "crm.sync_all"
)

// Queue names. Each stage pulls from its own queue so per-queue
// concurrency weights apply independently.
const (
	QueueSync        = "sync"
	QueueScheduling  = "scheduling"
	QueueContact     = "contact"
	QueuePostContact = "postcontact"
	QueueMonitor     = "monitor"
	QueueMaintenance = "maintenance"
)

// QueueWeights maps queue name to its asynq priority weight.
func QueueWeights() map[string]int {
	return map[string]int{
		QueueContact:     5,
		QueuePostContact: 4,
		QueueScheduling:  3,
		QueueMonitor:     2,
		QueueSync:        1,
		QueueMaintenance: 1,
	}
}

// CRMSyncPayload asks the sync stage to run one campaign's CRM pull.
type CRMSyncPayload struct {
	CampaignID string `json:"campaignId"`
}

// RawDebtor is one unprocessed record from the CRM or an uploaded list.
type RawDebtor struct {
	Name        string   `json:"name"`
	Document    string   `json:"document,omitempty"`
	ClientCode  string   `json:"clientCode,omitempty"`
	Phones      []string `json:"phones"`
	AmountCents int64    `json:"amountCents"`
	DueDate     string   `json:"dueDate,omitempty"`
}

// CampaignIngestPayload carries a directly supplied debtor list for a campaign.
type CampaignIngestPayload struct {
	CampaignID string      `json:"campaignId"`
	Records    []RawDebtor `json:"records"`
}

// ScheduleTargetPayload asks the scheduling stage to gate one attempt.
type ScheduleTargetPayload struct {
	TargetID      string `json:"targetId"`
	CampaignID    string `json:"campaignId"`
	AttemptNumber int    `json:"attemptNumber"`
}

// ContactPayload carries everything the contact stage needs to place a
// call or send a message without re-reading the target row.
type ContactPayload struct {
	TargetID        string `json:"targetId"`
	CampaignID      string `json:"campaignId"`
	PhoneNumber     string `json:"phoneNumber"`
	DebtorName      string `json:"debtorName"`
	DebtorDocument  string `json:"debtorDocument"`
	DebtAmountCents int64  `json:"debtAmountMinorUnits"`
	AttemptNumber   int    `json:"attemptNumber"`
}

// ConversationOutcome is the structured result of a finished conversation.
type ConversationOutcome struct {
	Type          string `json:"type"` // promise | refusal | none
	AmountCents   int64  `json:"amountCents,omitempty"`
	DueDate       string `json:"dueDate,omitempty"` // YYYY-MM-DD
	PaymentMethod string `json:"paymentMethod,omitempty"`
}

// PostContactPayload carries a completed attempt into classification.
type PostContactPayload struct {
	AttemptID       string               `json:"attemptId"`
	TargetID        string               `json:"targetId"`
	CampaignID      string               `json:"campaignId"`
	AttemptStatus   string               `json:"attemptStatus"`
	DurationSeconds int                  `json:"durationSeconds"`
	Outcome         *ConversationOutcome `json:"outcome,omitempty"`
}

// PromiseCheckPayload schedules a one-shot promise due-date check.
type PromiseCheckPayload struct {
	PromiseID  string    `json:"promiseId"`
	TargetID   string    `json:"targetId"`
	CampaignID string    `json:"campaignId"`
	DueDate    time.Time `json:"dueDate"`
}

// MessageRetryPayload re-drives a stuck message send.
type MessageRetryPayload struct {
	SendID      string `json:"sendId"`
	TargetID    string `json:"targetId"`
	CampaignID  string `json:"campaignId"`
	PhoneNumber string `json:"phoneNumber"`
	Body        string `json:"body"`
	RetryNumber int    `json:"retryNumber"`
}

// ArchiveRecordingPayload copies a gateway recording into object storage.
type ArchiveRecordingPayload struct {
	AttemptID    string `json:"attemptId"`
	CampaignID   string `json:"campaignId"`
	RecordingURL string `json:"recordingUrl"`
}

// Deterministic job identities. The broker discards a second enqueue with
// the same identity, which is what prevents double-dialing a target when
// jobs are re-issued across retries or process restarts.

func ScheduleTaskID(targetID string, attempt int) string {
	return fmt.Sprintf("schedule:%s:%d", targetID, attempt)
}

func DialTaskID(targetID string, attempt int) string {
	return fmt.Sprintf("dial:%s:%d", targetID, attempt)
}

func MessageTaskID(targetID string, attempt int) string {
	return fmt.Sprintf("message:%s:%d", targetID, attempt)
}

// PromiseCheckTaskID keys a check on both the promise and its run time.
// The fire time must be part of the identity: the in-grace re-arm runs
// while the broker still holds the current check's ID, and a re-arm
// sharing that ID would be discarded as a duplicate.
func PromiseCheckTaskID(promiseID string, runAt time.Time) string {
	return fmt.Sprintf("promise-check:%s:%d", promiseID, runAt.Unix())
}

func MessageRetryTaskID(sendID string, retry int) string {
	return fmt.Sprintf("message-retry:%s:%d", sendID, retry)
}

func ArchiveRecordingTaskID(attemptID string) string {
	return fmt.Sprintf("archive:%s", attemptID)
}

func newTask(typename string, payload interface{}) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typename, data), nil
}

func ParseCRMSyncPayload(task *asynq.Task) (CRMSyncPayload, error) {
	var payload CRMSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CRMSyncPayload{}, err
	}
	return payload, nil
}

func ParseCampaignIngestPayload(task *asynq.Task) (CampaignIngestPayload, error) {
	var payload CampaignIngestPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CampaignIngestPayload{}, err
	}
	return payload, nil
}

func ParseScheduleTargetPayload(task *asynq.Task) (ScheduleTargetPayload, error) {
	var payload ScheduleTargetPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ScheduleTargetPayload{}, err
	}
	return payload, nil
}

func ParseContactPayload(task *asynq.Task) (ContactPayload, error) {
	var payload ContactPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ContactPayload{}, err
	}
	return payload, nil
}

func ParsePostContactPayload(task *asynq.Task) (PostContactPayload, error) {
	var payload PostContactPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PostContactPayload{}, err
	}
	return payload, nil
}

func ParsePromiseCheckPayload(task *asynq.Task) (PromiseCheckPayload, error) {
	var payload PromiseCheckPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PromiseCheckPayload{}, err
	}
	return payload, nil
}

func ParseMessageRetryPayload(task *asynq.Task) (MessageRetryPayload, error) {
	var payload MessageRetryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return MessageRetryPayload{}, err
	}
	return payload, nil
}

func ParseArchiveRecordingPayload(task *asynq.Task) (ArchiveRecordingPayload, error) {
	var payload ArchiveRecordingPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ArchiveRecordingPayload{}, err
	}
	return payload, nil
}
