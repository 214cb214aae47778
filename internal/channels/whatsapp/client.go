package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/chatrelay/internal/conversation"
)

const (
	defaultGraphAPIBase = "https://graph.facebook.com/v19.0"
	defaultHTTPTimeout  = 10 * time.Second
)

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	accessToken   string
	phoneNumberID string
	graphAPIBase  string
	httpClient    *http.Client
}

func NewClient(accessToken, phoneNumberID string) *Client {
	return &Client{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		graphAPIBase:  defaultGraphAPIBase,
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// SetGraphAPIBase overrides the Graph API base URL (useful for testing).
func (c *Client) SetGraphAPIBase(base string) {
	if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
		c.graphAPIBase = base
	}
}

// SendText sends body to the WhatsApp user "to" and returns the message ID.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	if strings.TrimSpace(to) == "" {
		return "", errors.New("whatsapp: recipient is required")
	}
	payload, err := json.Marshal(SendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             SendText{Body: body},
	})
	if err != nil {
		return "", fmt.Errorf("whatsapp: marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.graphAPIBase, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whatsapp: read response: %w", err)
	}

	var sendResp SendResponse
	if err := json.Unmarshal(respBody, &sendResp); err != nil {
		return "", fmt.Errorf("whatsapp: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	if sendResp.Error != nil {
		return "", fmt.Errorf("whatsapp: API error %d: %s", sendResp.Error.Code, sendResp.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("whatsapp: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	if len(sendResp.Messages) == 0 {
		return "", nil
	}
	return sendResp.Messages[0].ID, nil
}

// SendReply delivers a worker reply to the job's ReplyTo number.
func (c *Client) SendReply(ctx context.Context, job conversation.InboundJob, reply string) error {
	to := job.ReplyTo
	if to == "" {
		to = job.SenderID
	}
	_, err := c.SendText(ctx, to, reply)
	return err
}
