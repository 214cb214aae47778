package autoresponder

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/chatrelay/internal/conversation"
	"github.com/wolfman30/chatrelay/internal/observability/metrics"
	"github.com/wolfman30/chatrelay/pkg/logging"
)

// ChannelName labels metrics and logs for this adapter.
const ChannelName = "autoresponder"

// LivenessText is served on GET / for uptime probes.
const LivenessText = "El cerebro del bot está en línea."

const maxBodyBytes = 64 << 10

// Handler answers AutoResponder webhooks synchronously.
type Handler struct {
	secret   string
	envelope string
	messages conversation.MessageHandler
	metrics  *metrics.WebhookMetrics
	logger   *logging.Logger
}

// NewHandler builds the webhook handler. An empty secret disables the
// Authorization check; envelope is EnvelopeReplies or EnvelopeLegacy.
func NewHandler(secret, envelope string, messages conversation.MessageHandler, m *metrics.WebhookMetrics, logger *logging.Logger) *Handler {
	if messages == nil {
		panic("autoresponder: message handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	envelope = strings.ToLower(strings.TrimSpace(envelope))
	if envelope != EnvelopeLegacy {
		envelope = EnvelopeReplies
	}
	return &Handler{
		secret:   secret,
		envelope: envelope,
		messages: messages,
		metrics:  m,
		logger:   logger,
	}
}

// HandleWebhook is POST /webhook.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.metrics.ObserveLatency(ChannelName, time.Since(start).Seconds()) }()

	if h.secret != "" && !secretMatches(h.secret, r.Header.Get("Authorization")) {
		h.metrics.ObserveInbound(ChannelName, "unauthorized")
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Unauthorized"})
		return
	}

	payload, err := decodePayload(r.Body)
	if err != nil {
		h.logger.Warn("invalid autoresponder payload", "error", err)
		h.metrics.ObserveInbound(ChannelName, "bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return
	}

	senderID, message, err := payload.Validate()
	if err == nil {
		var reply string
		reply, err = h.messages.HandleMessage(r.Context(), senderID, message)
		if err == nil {
			h.metrics.ObserveInbound(ChannelName, "answered")
			h.logger.Info("autoresponder message answered",
				"sender_id", senderID,
				"rule_id", payload.Query.RuleID,
				"test_message", payload.Query.IsTestMessage,
				"latency_ms", time.Since(start).Milliseconds(),
			)
			writeJSON(w, http.StatusOK, Envelope(h.envelope, reply))
			return
		}
	}

	var missing *conversation.MissingFieldError
	if errors.As(err, &missing) {
		h.metrics.ObserveInbound(ChannelName, "missing_field")
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("missing required field: %s", missing.Field),
		})
		return
	}
	h.logger.Error("autoresponder message failed", "error", err)
	h.metrics.ObserveInbound(ChannelName, "error")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// HandleLiveness is GET /.
func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, LivenessText)
}

func decodePayload(body io.Reader) (Payload, error) {
	var payload Payload
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	if err := dec.Decode(&payload); err != nil {
		return Payload{}, fmt.Errorf("autoresponder: decode payload: %w", err)
	}
	return payload, nil
}

func secretMatches(secret, header string) bool {
	return subtle.ConstantTimeCompare([]byte(secret), []byte(header)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
