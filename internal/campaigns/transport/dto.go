// Package transport defines the admin surface request and response shapes.
package transport

import (
	"time"

	"cobranca_backend/internal/campaigns/repository"

	"github.com/google/uuid"
)

type CreateCampaignRequest struct {
	Name string `json:"name" validate:"required,min=1,max=120"`
}

type DebtorRecord struct {
	Name        string   `json:"name" validate:"required,max=200"`
	Document    string   `json:"document" validate:"max=32"`
	ClientCode  string   `json:"clientCode" validate:"max=32"`
	Phones      []string `json:"phones" validate:"required,min=1,max=5,dive,max=24"`
	AmountCents int64    `json:"amountCents" validate:"required,gt=0"`
	DueDate     string   `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
}

type IngestRequest struct {
	Records []DebtorRecord `json:"records" validate:"required,min=1,max=10000,dive"`
}

type SyncConfigRequest struct {
	DateFrom       string `json:"dateFrom" validate:"required,datetime=2006-01-02"`
	DateTo         string `json:"dateTo" validate:"required,datetime=2006-01-02"`
	MinAmountCents *int64 `json:"minAmountCents" validate:"omitempty,gt=0"`
	MaxAmountCents *int64 `json:"maxAmountCents" validate:"omitempty,gt=0"`
	DedupKey       string `json:"dedupKey" validate:"required,oneof=document phone both"`
	UpdateExisting bool   `json:"updateExisting"`
	Enabled        bool   `json:"enabled"`
}

type SetFlagRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type CampaignResponse struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Status            string    `json:"status"`
	TotalTargets      int       `json:"totalTargets"`
	ContactedTargets  int       `json:"contactedTargets"`
	SuccessfulTargets int       `json:"successfulTargets"`
	PromisesMade      int       `json:"promisesMade"`
	PromisesFulfilled int       `json:"promisesFulfilled"`
	CreatedAt         time.Time `json:"createdAt"`
}

type TargetResponse struct {
	ID              uuid.UUID  `json:"id"`
	DebtorName      string     `json:"debtorName"`
	DocumentKind    string     `json:"documentKind"`
	DocumentValue   string     `json:"documentValue"`
	PhoneNumber     string     `json:"phoneNumber"`
	DebtAmountCents int64      `json:"debtAmountCents"`
	ContactChannel  string     `json:"contactChannel"`
	State           string     `json:"state"`
	AttemptCount    int        `json:"attemptCount"`
	LastAttemptAt   *time.Time `json:"lastAttemptAt,omitempty"`
	NextAttemptAt   *time.Time `json:"nextAttemptAt,omitempty"`
	Outcome         *string    `json:"outcome,omitempty"`
}

type SyncConfigResponse struct {
	CampaignID     uuid.UUID  `json:"campaignId"`
	DateFrom       string     `json:"dateFrom"`
	DateTo         string     `json:"dateTo"`
	MinAmountCents *int64     `json:"minAmountCents,omitempty"`
	MaxAmountCents *int64     `json:"maxAmountCents,omitempty"`
	DedupKey       string     `json:"dedupKey"`
	UpdateExisting bool       `json:"updateExisting"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	LastRunStatus  *string    `json:"lastRunStatus,omitempty"`
	LastImported   int        `json:"lastImported"`
	LastSkipped    int        `json:"lastSkipped"`
}

func ToCampaignResponse(c repository.Campaign) CampaignResponse {
	return CampaignResponse{
		ID:                c.ID,
		Name:              c.Name,
		Status:            c.Status,
		TotalTargets:      c.TotalTargets,
		ContactedTargets:  c.ContactedTargets,
		SuccessfulTargets: c.SuccessfulTargets,
		PromisesMade:      c.PromisesMade,
		PromisesFulfilled: c.PromisesFulfilled,
		CreatedAt:         c.CreatedAt,
	}
}

func ToTargetResponse(t repository.Target) TargetResponse {
	return TargetResponse{
		ID:              t.ID,
		DebtorName:      t.DebtorName,
		DocumentKind:    t.DocumentKind,
		DocumentValue:   t.DocumentValue,
		PhoneNumber:     t.PhoneNumber,
		DebtAmountCents: t.DebtAmountCents,
		ContactChannel:  t.ContactChannel,
		State:           t.State,
		AttemptCount:    t.AttemptCount,
		LastAttemptAt:   t.LastAttemptAt,
		NextAttemptAt:   t.NextAttemptAt,
		Outcome:         t.Outcome,
	}
}

func ToSyncConfigResponse(s repository.SyncConfig) SyncConfigResponse {
	return SyncConfigResponse{
		CampaignID:     s.CampaignID,
		DateFrom:       s.DateFrom.Format("2006-01-02"),
		DateTo:         s.DateTo.Format("2006-01-02"),
		MinAmountCents: s.MinAmountCents,
		MaxAmountCents: s.MaxAmountCents,
		DedupKey:       s.DedupKey,
		UpdateExisting: s.UpdateExisting,
		Enabled:        s.Enabled,
		LastRunAt:      s.LastRunAt,
		LastRunStatus:  s.LastRunStatus,
		LastImported:   s.LastImported,
		LastSkipped:    s.LastSkipped,
	}
}
