package main

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/wolfman30/chatrelay/pkg/logging"
)

func apiEvent(method, path string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		RawPath: path,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{
				Method:   method,
				Path:     path,
				SourceIP: "198.51.100.4",
			},
		},
	}
}

func testHandle(t *testing.T, cfg config, evt events.APIGatewayV2HTTPRequest) events.APIGatewayV2HTTPResponse {
	t.Helper()
	resp, err := handle(context.Background(), cfg, &http.Client{Timeout: time.Second}, logging.New("error"), evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func TestHandleHealth(t *testing.T) {
	cfg := config{upstreamBaseURL: "http://example.com", upstreamTimeout: time.Second}
	resp := testHandle(t, cfg, apiEvent(http.MethodGet, "/health"))
	if resp.StatusCode != http.StatusOK || resp.Body != "ok" {
		t.Fatalf("unexpected health response %d %q", resp.StatusCode, resp.Body)
	}
}

func TestHandleRejectsWrongMethod(t *testing.T) {
	cfg := config{upstreamBaseURL: "http://example.com", upstreamTimeout: time.Second}
	resp := testHandle(t, cfg, apiEvent(http.MethodGet, "/webhook"))
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, resp.StatusCode)
	}
	if resp.Headers["allow"] != http.MethodPost {
		t.Fatalf("expected allow header, got %v", resp.Headers)
	}
}

func TestHandleRejectsUnknownPath(t *testing.T) {
	cfg := config{upstreamBaseURL: "http://example.com", upstreamTimeout: time.Second}
	resp := testHandle(t, cfg, apiEvent(http.MethodPost, "/admin/sessions/x"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

func TestHandleForwardsAutoResponderWebhook(t *testing.T) {
	var gotBody, gotAuth, gotSig, gotFwd string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhook" || r.Method != http.MethodPost {
			t.Errorf("unexpected upstream request %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotAuth = r.Header.Get("Authorization")
		gotSig = r.Header.Get("X-Hub-Signature-256")
		gotFwd = r.Header.Get("X-Forwarded-For")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"replies":[{"message":"hola"}]}`))
	}))
	defer upstream.Close()

	payload := `{"query":{"sender":"Ana","message":"hi"}}`
	evt := apiEvent(http.MethodPost, "/webhook")
	evt.Body = base64.StdEncoding.EncodeToString([]byte(payload))
	evt.IsBase64Encoded = true
	evt.Headers = map[string]string{
		"Content-Type":        "application/json",
		"authorization":       "s3cret",
		"X-Hub-Signature-256": "sha256=abc",
	}

	resp := testHandle(t, config{upstreamBaseURL: upstream.URL + "/", upstreamTimeout: time.Second}, evt)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Body != `{"replies":[{"message":"hola"}]}` || resp.Headers["content-type"] != "application/json" {
		t.Fatalf("unexpected relayed response %q %v", resp.Body, resp.Headers)
	}
	if gotBody != payload || gotAuth != "s3cret" || gotSig != "sha256=abc" || gotFwd != "198.51.100.4" {
		t.Fatalf("unexpected upstream request body=%q auth=%q sig=%q fwd=%q", gotBody, gotAuth, gotSig, gotFwd)
	}
}

func TestHandleForwardsWhatsAppVerification(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Write([]byte(r.URL.Query().Get("hub.challenge")))
	}))
	defer upstream.Close()

	evt := apiEvent(http.MethodGet, "/webhooks/whatsapp")
	evt.RawQueryString = "hub.mode=subscribe&hub.verify_token=t&hub.challenge=777"

	resp := testHandle(t, config{upstreamBaseURL: upstream.URL, upstreamTimeout: time.Second}, evt)
	if resp.StatusCode != http.StatusOK || resp.Body != "777" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, resp.Body)
	}
}

func TestHandleUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	resp := testHandle(t, config{upstreamBaseURL: url, upstreamTimeout: time.Second}, apiEvent(http.MethodPost, "/webhook"))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestHandleInvalidBase64(t *testing.T) {
	evt := apiEvent(http.MethodPost, "/webhook")
	evt.Body = "!!!"
	evt.IsBase64Encoded = true
	resp := testHandle(t, config{upstreamBaseURL: "http://example.com", upstreamTimeout: time.Second}, evt)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("UPSTREAM_BASE_URL", "")
	if _, err := loadConfig(); err == nil {
		t.Fatalf("expected error without UPSTREAM_BASE_URL")
	}

	t.Setenv("UPSTREAM_BASE_URL", "https://relay.example.com/")
	t.Setenv("UPSTREAM_TIMEOUT", "")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.upstreamBaseURL != "https://relay.example.com" || cfg.upstreamTimeout != defaultUpstreamTimeout {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("UPSTREAM_TIMEOUT", "soon")
	if _, err := loadConfig(); err == nil {
		t.Fatalf("expected error for invalid timeout")
	}
}
