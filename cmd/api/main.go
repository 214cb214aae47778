package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/chatrelay/cmd/mainconfig"
	"github.com/wolfman30/chatrelay/internal/api/router"
	"github.com/wolfman30/chatrelay/internal/app/bootstrap"
	"github.com/wolfman30/chatrelay/internal/channels/autoresponder"
	"github.com/wolfman30/chatrelay/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/chatrelay/internal/config"
	"github.com/wolfman30/chatrelay/internal/conversation"
	"github.com/wolfman30/chatrelay/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/chatrelay/internal/http/middleware"
	"github.com/wolfman30/chatrelay/internal/observability/metrics"
	"github.com/wolfman30/chatrelay/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting chatrelay API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.Build(ctx, cfg, logger, mainconfig.Loader(cfg))
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	metricsHandler, webhookMetrics := setupMetrics(prometheus.NewRegistry())
	handler, worker, err := buildServer(rt, webhookMetrics, metricsHandler)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}
	if worker != nil {
		worker.Start(ctx)
		logger.Info("in-process conversation worker started", "workers", cfg.WorkerCount)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLMTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	if worker != nil {
		worker.Wait()
	}
	logger.Info("server stopped")
}

// setupMetrics registers process, conversation and webhook metrics on reg.
func setupMetrics(reg *prometheus.Registry) (http.Handler, *metrics.WebhookMetrics) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	conversation.RegisterMetrics(reg)
	webhookMetrics := metrics.NewWebhookMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), webhookMetrics
}

// buildServer mounts the webhook adapters. When WhatsApp is configured with
// the memory queue, the returned worker must be started by the caller.
func buildServer(rt *bootstrap.Runtime, m *metrics.WebhookMetrics, metricsHandler http.Handler) (http.Handler, *conversation.Worker, error) {
	cfg := rt.Config
	logger := rt.Logger

	routerCfg := &router.Config{
		Logger:          logger,
		AutoResponder:   autoresponder.NewHandler(cfg.WebhookSecret, cfg.ReplyEnvelope, rt.Orchestrator, m, logger),
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  metricsHandler,
		Mode:            rt.Orchestrator.Mode(),
	}
	if cfg.RateLimitRPS > 0 {
		routerCfg.RateLimiter = httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if rt.Sessions != nil && cfg.AdminJWTSecret != "" {
		routerCfg.AdminSessions = handlers.NewAdminSessionsHandler(rt.Sessions, rt.Orchestrator, logger)
	}

	var worker *conversation.Worker
	if cfg.WhatsAppEnabled() {
		queue, err := rt.BuildQueue()
		if err != nil {
			return nil, nil, err
		}
		publisher := conversation.NewPublisher(queue, logger)
		routerCfg.WhatsApp = whatsapp.NewWebhookHandler(
			cfg.WhatsAppVerifyToken,
			cfg.WhatsAppAppSecret,
			publisher,
			rt.BuildWhatsAppDeduper(),
			m,
			logger,
		)
		if _, inProcess := queue.(*conversation.MemoryQueue); inProcess {
			worker = conversation.NewWorker(rt.Orchestrator, queue, rt.ReplySenders(), logger,
				conversation.WithWorkerCount(cfg.WorkerCount),
				conversation.WithOutboundRecorder(m),
			)
		}
		logger.Info("whatsapp channel enabled", "queue", cfg.QueueBackend, "in_process_worker", worker != nil)
	}

	return router.New(routerCfg), worker, nil
}
