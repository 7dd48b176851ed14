// Package client provides the outbound HTTP client for the external CRM
// debtor-pull API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/config"
	"cobranca_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

// maxConcurrentPages bounds parallel page fetches against the CRM.
const maxConcurrentPages = 4

type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	http     *http.Client
	log      *logger.Logger
}

// Query narrows the debtor pull by date window and optional amount bounds.
type Query struct {
	DateFrom       time.Time
	DateTo         time.Time
	MinAmountCents *int64
	MaxAmountCents *int64
}

type pullResponse struct {
	Items      []queue.RawDebtor `json:"items"`
	Page       int               `json:"page"`
	TotalPages int               `json:"totalPages"`
}

// NewClient returns nil when the CRM endpoint is not configured; callers
// treat a nil client as "CRM integration disabled".
func NewClient(cfg config.CRMConfig, log *logger.Logger) *Client {
	if cfg.GetCRMBaseURL() == "" {
		return nil
	}

	pageSize := cfg.GetCRMPageSize()
	if pageSize < 1 {
		pageSize = 200
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.GetCRMBaseURL(), "/"),
		apiKey:   cfg.GetCRMAPIKey(),
		pageSize: pageSize,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
}

// Configured reports whether the CRM integration is usable.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// FetchDebtors pulls every debtor record matching the query. The first
// page reveals the total page count; remaining pages are fetched in
// parallel. Any page failure fails the whole pull, per the sync stage's
// all-or-nothing contract.
func (c *Client) FetchDebtors(ctx context.Context, query Query) ([]queue.RawDebtor, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("crm endpoint not configured")
	}

	first, err := c.fetchPage(ctx, query, 1)
	if err != nil {
		return nil, err
	}

	records := first.Items
	if first.TotalPages <= 1 {
		return records, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPages)

	for page := 2; page <= first.TotalPages; page++ {
		g.Go(func() error {
			resp, err := c.fetchPage(gctx, query, page)
			if err != nil {
				return err
			}
			mu.Lock()
			records = append(records, resp.Items...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) fetchPage(ctx context.Context, query Query, page int) (pullResponse, error) {
	params := url.Values{}
	params.Set("dateFrom", query.DateFrom.Format("2006-01-02"))
	params.Set("dateTo", query.DateTo.Format("2006-01-02"))
	if query.MinAmountCents != nil {
		params.Set("minAmount", strconv.FormatInt(*query.MinAmountCents, 10))
	}
	if query.MaxAmountCents != nil {
		params.Set("maxAmount", strconv.FormatInt(*query.MaxAmountCents, 10))
	}
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(c.pageSize))

	reqURL := fmt.Sprintf("%s/debtors?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return pullResponse{}, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pullResponse{}, fmt.Errorf("crm request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return pullResponse{}, fmt.Errorf("crm returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return pullResponse{}, fmt.Errorf("decode crm response: %w", err)
	}
	return parsed, nil
}
