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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/chatrelay/cmd/mainconfig"
	"github.com/wolfman30/chatrelay/internal/app/bootstrap"
	appconfig "github.com/wolfman30/chatrelay/internal/config"
	"github.com/wolfman30/chatrelay/internal/conversation"
	"github.com/wolfman30/chatrelay/internal/observability/metrics"
	"github.com/wolfman30/chatrelay/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)

	if cfg.QueueBackend != "sqs" {
		logger.Error("conversation-worker needs QUEUE_BACKEND=sqs; the memory queue runs inside the API")
		os.Exit(1)
	}
	if cfg.ConversationMode != conversation.ModeStateless && cfg.SessionBackend == "memory" {
		logger.Warn("memory session backend is not shared with the API process")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.Build(ctx, cfg, logger, mainconfig.Loader(cfg))
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	queue, err := rt.BuildQueue()
	if err != nil {
		logger.Error("failed to build queue", "error", err)
		os.Exit(1)
	}
	senders := rt.ReplySenders()
	if len(senders) == 0 {
		logger.Warn("no reply channels configured; jobs will be dropped as unroutable")
	}

	reg := prometheus.NewRegistry()
	conversation.RegisterMetrics(reg)
	webhookMetrics := metrics.NewWebhookMetrics(reg)

	worker := conversation.NewWorker(
		rt.Orchestrator,
		queue,
		senders,
		logger,
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithReceiveWaitSeconds(20),
		conversation.WithReceiveBatchSize(10),
		conversation.WithOutboundRecorder(webhookMetrics),
	)
	worker.Start(ctx)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()
	_ = metricsSrv.Shutdown(doneCtx)

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
