package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/chatrelay/pkg/logging"
)

// MessageHandler answers one message; *Orchestrator implements it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, senderID, message string) (string, error)
}

// ReplySender delivers a reply back over the channel a job came from.
type ReplySender interface {
	SendReply(ctx context.Context, job InboundJob, reply string) error
}

// OutboundRecorder observes reply deliveries (e.g. webhook metrics).
type OutboundRecorder interface {
	RecordOutbound(channel, status string)
}

// Worker consumes inbound jobs, answers them and sends the reply.
type Worker struct {
	handler  MessageHandler
	queue    Queue
	senders  map[string]ReplySender
	recorder OutboundRecorder
	logger   *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	recorder         OutboundRecorder
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20 // SQS limit
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	maxReceiveBackoff    = 5 * time.Second
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

func WithOutboundRecorder(recorder OutboundRecorder) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.recorder = recorder
	}
}

// NewWorker builds a worker. senders maps a job's Channel to its ReplySender.
func NewWorker(handler MessageHandler, queue Queue, senders map[string]ReplySender, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: message handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	routed := make(map[string]ReplySender, len(senders))
	for channel, sender := range senders {
		if sender != nil {
			routed[strings.ToLower(channel)] = sender
		}
	}

	return &Worker{
		handler:  handler,
		queue:    queue,
		senders:  routed,
		recorder: cfg.recorder,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive inbound jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxReceiveBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg QueueMessage) {
	// Every path deletes: replies are never retried.
	defer w.deleteMessage(context.Background(), msg.ReceiptHandle)

	job, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable job", "error", err, "msg_id", msg.ID)
		return
	}
	logger := w.logger.With("job_id", job.ID, "channel", job.Channel, "sender_id", job.SenderID)
	if msg.ReceiveCount > 1 {
		// The previous attempt died before delete; the reply may already be out.
		logger.Warn("redelivered job", "receive_count", msg.ReceiveCount)
	}

	reply, err := w.handler.HandleMessage(ctx, job.SenderID, job.Message)
	if err != nil {
		logger.Warn("dropping invalid job", "error", err)
		return
	}

	sender, ok := w.senders[strings.ToLower(job.Channel)]
	if !ok {
		logger.Error("no reply sender for channel")
		w.recordOutbound(job.Channel, "unroutable")
		return
	}
	if err := sender.SendReply(ctx, job, reply); err != nil {
		logger.Error("failed to deliver reply", "error", err)
		w.recordOutbound(job.Channel, "error")
		return
	}
	w.recordOutbound(job.Channel, "sent")
	logger.Info("reply delivered", "latency_ms", time.Since(job.ReceivedAt).Milliseconds())
}

func (w *Worker) recordOutbound(channel, status string) {
	if w.recorder != nil {
		w.recorder.RecordOutbound(channel, status)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete inbound job", "error", err)
	}
}
