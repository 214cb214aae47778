package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/chatrelay/internal/conversation"
	"github.com/wolfman30/chatrelay/internal/observability/metrics"
	"github.com/wolfman30/chatrelay/pkg/logging"
)

// ChannelName labels jobs, metrics and reply routing for this adapter.
const ChannelName = "whatsapp"

const (
	maxBodyBytes   = 1 << 20
	publishTimeout = 10 * time.Second
)

// Publisher hands an inbound message to the async pipeline.
type Publisher interface {
	EnqueueInbound(ctx context.Context, job conversation.InboundJob) (string, error)
}

// WebhookHandler serves the WhatsApp Cloud API webhook.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	publisher   Publisher
	dedupe      Deduper
	metrics     *metrics.WebhookMetrics
	logger      *logging.Logger
}

// NewWebhookHandler builds the handler. An empty appSecret disables signature
// checks; a nil dedupe disables duplicate suppression.
func NewWebhookHandler(verifyToken, appSecret string, publisher Publisher, dedupe Deduper, m *metrics.WebhookMetrics, logger *logging.Logger) *WebhookHandler {
	if publisher == nil {
		panic("whatsapp: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		publisher:   publisher,
		dedupe:      dedupe,
		metrics:     m,
		logger:      logger,
	}
}

// HandleVerification answers Meta's GET subscription challenge.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && h.verifyToken != "" && q.Get("hub.verify_token") == h.verifyToken {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, q.Get("hub.challenge"))
		return
	}
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleInbound acknowledges the event and enqueues every new text message.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.metrics.ObserveLatency(ChannelName, time.Since(start).Seconds()) }()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.ObserveInbound(ChannelName, "bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if h.appSecret != "" && !VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("whatsapp webhook signature mismatch")
		h.metrics.ObserveInbound(ChannelName, "invalid_signature")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.metrics.ObserveInbound(ChannelName, "bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	// Meta retries anything slower than a few seconds, so ack first.
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), publishTimeout)
	defer cancel()
	for _, msg := range ParseWebhookEvent(event) {
		h.enqueue(ctx, msg)
	}
}

func (h *WebhookHandler) enqueue(ctx context.Context, msg ParsedInboundMessage) {
	logger := h.logger.With("sender_id", msg.From, "wa_message_id", msg.MessageID)

	if h.dedupe != nil && msg.MessageID != "" {
		seen, err := h.dedupe.Seen(ctx, msg.MessageID)
		if err != nil {
			logger.Warn("dedupe check failed, processing anyway", "error", err)
		} else if seen {
			logger.Debug("duplicate whatsapp message dropped")
			h.metrics.ObserveInbound(ChannelName, "duplicate")
			return
		}
	}

	jobID, err := h.publisher.EnqueueInbound(ctx, conversation.InboundJob{
		Channel:           ChannelName,
		SenderID:          msg.From,
		Message:           msg.Text,
		ReplyTo:           msg.From,
		ProviderMessageID: msg.MessageID,
	})
	if err != nil {
		logger.Error("failed to enqueue whatsapp message", "error", err)
		h.metrics.ObserveInbound(ChannelName, "publish_error")
		// Let Meta's redelivery through.
		if h.dedupe != nil && msg.MessageID != "" {
			if ferr := h.dedupe.Forget(ctx, msg.MessageID); ferr != nil {
				logger.Warn("failed to release dedupe entry", "error", ferr)
			}
		}
		return
	}
	logger.Info("whatsapp message enqueued", "job_id", jobID)
	h.metrics.ObserveInbound(ChannelName, "accepted")
}

// ParseWebhookEvent extracts text messages. Media, reactions and delivery
// statuses are skipped.
func ParseWebhookEvent(event WebhookEvent) []ParsedInboundMessage {
	var messages []ParsedInboundMessage
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				if m.Type != "text" || m.Text == nil {
					continue
				}
				if strings.TrimSpace(m.From) == "" || strings.TrimSpace(m.Text.Body) == "" {
					continue
				}
				messages = append(messages, ParsedInboundMessage{
					MessageID:   m.ID,
					From:        m.From,
					ProfileName: names[m.From],
					Text:        m.Text.Body,
					Timestamp:   m.Timestamp,
				})
			}
		}
	}
	return messages
}

// VerifySignature checks an X-Hub-Signature-256 header ("sha256=<hex>").
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) || len(signature) == len(prefix) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature[len(prefix):])))
}
