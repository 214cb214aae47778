package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/chatrelay/internal/channels/autoresponder"
	"github.com/wolfman30/chatrelay/internal/channels/whatsapp"
	"github.com/wolfman30/chatrelay/internal/conversation"
	"github.com/wolfman30/chatrelay/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/chatrelay/internal/http/middleware"
	"github.com/wolfman30/chatrelay/internal/observability/metrics"
	"github.com/wolfman30/chatrelay/pkg/logging"
)

type fixedLLM struct{ text string }

func (f fixedLLM) Complete(context.Context, conversation.LLMRequest) (conversation.LLMResponse, error) {
	return conversation.LLMResponse{Text: f.text}, nil
}

type noopPublisher struct{ jobs int }

func (p *noopPublisher) EnqueueInbound(context.Context, conversation.InboundJob) (string, error) {
	p.jobs++
	return "job", nil
}

const adminSecret = "admin-secret"

func newTestRouter(t *testing.T, limiter *httpmiddleware.RateLimiter) (http.Handler, *noopPublisher) {
	t.Helper()
	logger := logging.Default()
	reg := prometheus.NewRegistry()
	m := metrics.NewWebhookMetrics(reg)

	prompts := conversation.NewPromptBuilder(conversation.DefaultPersona())
	sessions := conversation.NewSessionStore(conversation.NewMemoryHistoryBackend(), prompts.SeedTurns())
	orch := conversation.NewOrchestrator(fixedLLM{text: "hola"}, sessions, prompts, nil,
		conversation.OrchestratorConfig{Mode: conversation.ModeStateful}, logger)

	pub := &noopPublisher{}
	cfg := &Config{
		Logger:          logger,
		AutoResponder:   autoresponder.NewHandler("", autoresponder.EnvelopeReplies, orch, m, logger),
		WhatsApp:        whatsapp.NewWebhookHandler("verify", "", pub, nil, m, logger),
		AdminSessions:   handlers.NewAdminSessionsHandler(sessions, orch, logger),
		AdminAuthSecret: adminSecret,
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		RateLimiter:     limiter,
		Mode:            orch.Mode(),
	}
	return New(cfg), pub
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" || resp["mode"] != conversation.ModeStateful {
		t.Errorf("unexpected health response %v", resp)
	}
}

func TestRouterLiveness(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != autoresponder.LivenessText {
		t.Fatalf("unexpected liveness response %d %q", rr.Code, rr.Body.String())
	}
}

func TestRouterAutoResponderWebhook(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	body := `{"query":{"sender":"Ana","message":"hi"}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
	var env autoresponder.RepliesEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil || len(env.Replies) != 1 || env.Replies[0].Message != "hola" {
		t.Fatalf("unexpected envelope %s (err=%v)", rr.Body.String(), err)
	}
}

func TestRouterWhatsAppRoutes(t *testing.T) {
	router, pub := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify&hub.challenge=42", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "42" {
		t.Fatalf("unexpected verification response %d %q", rr.Code, rr.Body.String())
	}

	event := `{"entry":[{"changes":[{"field":"messages","value":{"messages":[{"from":"521","id":"wamid.1","type":"text","text":{"body":"hola"}}]}}]}]}`
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewBufferString(event)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if pub.jobs != 1 {
		t.Fatalf("expected 1 published job, got %d", pub.jobs)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{}`)))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("chatrelay_webhook_inbound_total")) {
		t.Fatalf("expected webhook metrics in scrape output")
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/sessions/Ana", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(adminSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/admin/sessions/Ana", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown sender, got %d", rr.Code)
	}
}

func TestRouterRateLimitsWebhooks(t *testing.T) {
	router, _ := newTestRouter(t, httpmiddleware.NewRateLimiter(1, 1))

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send(); code != http.StatusOK {
		t.Fatalf("expected first request through, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health must not be rate limited, got %d", rr.Code)
	}
}
