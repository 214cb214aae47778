package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue carries encoded inbound jobs between Publisher and Worker.
// MemoryQueue and SQSQueue implement it.
type Queue interface {
	Send(ctx context.Context, msg QueueMessage) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is one job body in flight. GroupID keeps a sender's jobs in
// order on FIFO queues; ReceiptHandle and ReceiveCount are set on receive.
type QueueMessage struct {
	ID            string
	Body          string
	GroupID       string
	ReceiptHandle string
	ReceiveCount  int
}

// InboundJob is one channel message waiting for a reply.
type InboundJob struct {
	ID                string    `json:"id"`
	Channel           string    `json:"channel"`
	SenderID          string    `json:"sender_id"`
	Message           string    `json:"message"`
	ReplyTo           string    `json:"reply_to,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

func encodeJob(job InboundJob) (InboundJob, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.ReceivedAt.IsZero() {
		job.ReceivedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return InboundJob{}, "", fmt.Errorf("conversation: failed to encode job: %w", err)
	}
	return job, string(body), nil
}

func decodeJob(body string) (InboundJob, error) {
	var job InboundJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return InboundJob{}, fmt.Errorf("conversation: failed to decode job: %w", err)
	}
	return job, nil
}
