// Package dialer wraps the external telephony gateway used to place
// outbound collection calls.
package dialer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cobranca_backend/platform/config"
	"cobranca_backend/platform/logger"
)

type Client struct {
	baseURL     string
	apiKey      string
	callbackURL string
	http        *http.Client
	log         *logger.Logger
}

// PlaceCallRequest carries the dial parameters plus correlation metadata
// the gateway echoes back on its webhook.
type PlaceCallRequest struct {
	ToNumber string
	Metadata map[string]string
}

type placeCallBody struct {
	ToNumber    string            `json:"toNumber"`
	CallbackURL string            `json:"callbackUrl"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type placeCallResponse struct {
	CallID string `json:"callId"`
}

func NewClient(cfg config.TelephonyConfig, log *logger.Logger) *Client {
	if cfg.GetTelephonyURL() == "" {
		return nil
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.GetTelephonyURL(), "/"),
		apiKey:      cfg.GetTelephonyAPIKey(),
		callbackURL: cfg.GetTelephonyCallbackURL(),
		http:        &http.Client{Timeout: 10 * time.Second},
		log:         log,
	}
}

// Configured reports whether the gateway can be called at all. The
// callback URL is required: without it call results never come back.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.callbackURL != ""
}

// PlaceCall asks the gateway to dial the number. The returned call id
// correlates the eventual status webhook with the contact attempt.
func (c *Client) PlaceCall(ctx context.Context, request PlaceCallRequest) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("telephony gateway not configured")
	}

	body, err := json.Marshal(placeCallBody{
		ToNumber:    request.ToNumber,
		CallbackURL: c.callbackURL,
		Metadata:    request.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("marshal place-call payload: %w", err)
	}

	url := fmt.Sprintf("%s/calls", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("telephony request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("telephony gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed placeCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode place-call response: %w", err)
	}
	if parsed.CallID == "" {
		return "", fmt.Errorf("telephony gateway accepted call without a call id")
	}

	c.log.Info("call placed", "to", request.ToNumber, "call_id", parsed.CallID)
	return parsed.CallID, nil
}
