package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/chatrelay/internal/channels/autoresponder"
	"github.com/wolfman30/chatrelay/internal/channels/whatsapp"
	"github.com/wolfman30/chatrelay/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/chatrelay/internal/http/middleware"
	"github.com/wolfman30/chatrelay/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	AutoResponder   *autoresponder.Handler
	WhatsApp        *whatsapp.WebhookHandler
	AdminSessions   *handlers.AdminSessionsHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler
	// RateLimiter throttles the webhook routes per client IP; nil disables it.
	RateLimiter *httpmiddleware.RateLimiter
	// Mode is reported by /health.
	Mode string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", healthHandler(cfg.Mode))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(hooks chi.Router) {
		if cfg.RateLimiter != nil {
			hooks.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		if cfg.AutoResponder != nil {
			hooks.Get("/", cfg.AutoResponder.HandleLiveness)
			hooks.Post("/webhook", cfg.AutoResponder.HandleWebhook)
		}
		if cfg.WhatsApp != nil {
			hooks.Get("/webhooks/whatsapp", cfg.WhatsApp.HandleVerification)
			hooks.Post("/webhooks/whatsapp", cfg.WhatsApp.HandleInbound)
		}
	})

	if cfg.AdminSessions != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/sessions/{senderID}", cfg.AdminSessions.GetSession)
			admin.Delete("/sessions/{senderID}", cfg.AdminSessions.ResetSession)
		})
	}

	return r
}

func healthHandler(mode string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "mode": mode})
	}
}
