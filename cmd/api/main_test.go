package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/chatrelay/internal/app/bootstrap"
	appconfig "github.com/wolfman30/chatrelay/internal/config"
	"github.com/wolfman30/chatrelay/internal/conversation"
	"github.com/wolfman30/chatrelay/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		ConversationMode: conversation.ModeStateful,
		LLMProvider:      bootstrap.ProviderGemini,
		LLMTemperature:   -1,
		SessionBackend:   "memory",
		SenderLock:       "local",
		QueueBackend:     "memory",
		WorkerCount:      1,
		ReplyEnvelope:    "replies",
		UnavailableReply: "El modelo de IA no está disponible.",
		ApologyReply:     "Lo siento",
	}
}

func buildRuntime(t *testing.T, cfg *appconfig.Config) *bootstrap.Runtime {
	t.Helper()
	rt, err := bootstrap.Build(context.Background(), cfg, logging.New("error"), func(context.Context) (aws.Config, error) {
		return aws.Config{}, errors.New("no aws in tests")
	})
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func TestSetupMetricsExposesMetrics(t *testing.T) {
	handler, m := setupMetrics(prometheus.NewRegistry())
	if handler == nil || m == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}
	m.ObserveInbound("autoresponder", "answered")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "chatrelay_webhook_inbound_total") {
		t.Fatalf("expected inbound counter to be exported")
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("expected go collector metrics")
	}
}

func TestBuildServerAutoResponderOnly(t *testing.T) {
	rt := buildRuntime(t, testConfig())
	_, m := setupMetrics(prometheus.NewRegistry())

	handler, worker, err := buildServer(rt, m, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if worker != nil {
		t.Fatalf("no worker expected without whatsapp")
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhook",
		bytes.NewBufferString(`{"query":{"sender":"Ana","message":"hola"}}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var env struct {
		Replies []struct {
			Message string `json:"message"`
		} `json:"replies"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil || len(env.Replies) != 1 {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if env.Replies[0].Message != "El modelo de IA no está disponible." {
		t.Fatalf("expected unavailable reply without llm credentials, got %q", env.Replies[0].Message)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp", nil))
	if rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("whatsapp routes must not be mounted, got %d", rr.Code)
	}
}

func TestBuildServerWhatsAppRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var sent []string
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			To   string `json:"to"`
			Text struct {
				Body string `json:"body"`
			} `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		sent = append(sent, body.To+":"+body.Text.Body)
		mu.Unlock()
		w.Write([]byte(`{"messages":[{"id":"wamid.OUT"}]}`))
	}))
	defer graph.Close()

	cfg := testConfig()
	cfg.WhatsAppVerifyToken = "verify"
	cfg.WhatsAppAccessToken = "token"
	cfg.WhatsAppPhoneNumberID = "PN_1"
	cfg.WhatsAppGraphAPIBase = graph.URL
	rt := buildRuntime(t, cfg)
	_, m := setupMetrics(prometheus.NewRegistry())

	handler, worker, err := buildServer(rt, m, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if worker == nil {
		t.Fatalf("expected in-process worker for the memory queue")
	}
	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	defer func() {
		cancel()
		worker.Wait()
	}()

	event := `{"entry":[{"changes":[{"field":"messages","value":{"messages":[{"from":"5215500000000","id":"wamid.IN","type":"text","text":{"body":"hola"}}]}}]}]}`
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewBufferString(event)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(sent)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 || sent[0] != "5215500000000:El modelo de IA no está disponible." {
		t.Fatalf("unexpected graph sends %v", sent)
	}
}
