package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a Queue backed by a buffered channel. Messages are
// removed on receive, so Delete has nothing to do.
type MemoryQueue struct {
	ch chan QueueMessage
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{ch: make(chan QueueMessage, buffer)}
}

// Send enqueues msg or blocks until ctx is done. Ordering is global FIFO, so
// GroupID needs no handling here.
func (q *MemoryQueue) Send(ctx context.Context, msg QueueMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ReceiptHandle = uuid.NewString()
	msg.ReceiveCount = 1
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits up to waitSeconds for the first message, then drains whatever
// else is ready up to maxMessages. A zero wait blocks until ctx is done.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	var first QueueMessage
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case first = <-q.ch:
	}

	out := []QueueMessage{first}
	for len(out) < maxMessages {
		select {
		case msg := <-q.ch:
			out = append(out, msg)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (q *MemoryQueue) Delete(context.Context, string) error { return nil }

// Len reports how many messages are buffered.
func (q *MemoryQueue) Len() int { return len(q.ch) }
