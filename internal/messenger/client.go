// Package messenger wraps the external chat-messaging gateway used for
// the chat contact channel.
package messenger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cobranca_backend/platform/config"
	"cobranca_backend/platform/logger"
	"cobranca_backend/platform/phone"
)

type Client struct {
	baseURL  string
	apiKey   string
	deviceID string
	http     *http.Client
	log      *logger.Logger
}

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Accepted  bool   `json:"accepted"`
}

// SendResult is the gateway's acceptance receipt for one message.
type SendResult struct {
	MessageID string
	Accepted  bool
}

func NewClient(cfg config.ChatConfig, log *logger.Logger) *Client {
	if cfg.GetChatGatewayURL() == "" {
		return nil
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.GetChatGatewayURL(), "/"),
		apiKey:   cfg.GetChatGatewayKey(),
		deviceID: cfg.GetChatDeviceID(),
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// SendMessage delivers one text to the debtor's number. A reachable
// gateway that declines the message reports Accepted=false without an
// error; transport-level failures return an error.
func (c *Client) SendMessage(ctx context.Context, phoneNumber, message string) (SendResult, error) {
	if !c.Configured() {
		return SendResult{}, fmt.Errorf("chat gateway not configured")
	}

	normalized := strings.TrimPrefix(phone.NormalizeE164(phoneNumber), "+")

	body, err := json.Marshal(sendRequest{Phone: normalized, Message: message})
	if err != nil {
		return SendResult{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	url := fmt.Sprintf("%s/send/message", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return SendResult{}, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(c.apiKey))
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("chat request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return SendResult{}, fmt.Errorf("chat gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return SendResult{}, fmt.Errorf("decode chat response: %w", err)
	}

	c.log.Info("chat message dispatched", "phone", normalized, "message_id", parsed.MessageID, "accepted", parsed.Accepted)
	return SendResult{MessageID: parsed.MessageID, Accepted: parsed.Accepted}, nil
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	return "Basic " + encoded
}
