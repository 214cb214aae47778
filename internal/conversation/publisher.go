package conversation

import (
	"context"
	"fmt"

	"github.com/wolfman30/chatrelay/pkg/logging"
)

// Publisher enqueues inbound channel messages for the Worker.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// EnqueueInbound publishes job and returns the ID it was stored under.
func (p *Publisher) EnqueueInbound(ctx context.Context, job InboundJob) (string, error) {
	job, body, err := encodeJob(job)
	if err != nil {
		return "", err
	}
	msg := QueueMessage{ID: job.ID, Body: body, GroupID: job.Channel + ":" + job.SenderID}
	if err := p.queue.Send(ctx, msg); err != nil {
		return "", fmt.Errorf("conversation: failed to enqueue job: %w", err)
	}
	p.logger.Debug("inbound job enqueued", "job_id", job.ID, "channel", job.Channel, "sender_id", job.SenderID)
	return job.ID, nil
}
