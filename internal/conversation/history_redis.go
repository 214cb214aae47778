package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// RedisHistoryBackend stores each session's history as a JSON list under
// session:<senderID>. Redis keeps no timestamps, so loaded sessions carry zero
// CreatedAt/UpdatedAt.
type RedisHistoryBackend struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisHistoryBackend builds a backend. A zero ttl keeps sessions forever.
func NewRedisHistoryBackend(client *redis.Client, ttl time.Duration) *RedisHistoryBackend {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisHistoryBackend{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("chatrelay.internal.conversation.history"),
	}
}

func (b *RedisHistoryBackend) Load(ctx context.Context, senderID string) (*Session, error) {
	ctx, span := b.tracer.Start(ctx, "conversation.load_history")
	defer span.End()

	data, err := b.redis.Get(ctx, sessionKey(senderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to load history: %w", err)
	}

	history, err := DecodeHistory(data)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &Session{SenderID: senderID, History: history}, nil
}

func (b *RedisHistoryBackend) Save(ctx context.Context, session *Session) error {
	ctx, span := b.tracer.Start(ctx, "conversation.save_history")
	defer span.End()

	data, err := EncodeHistory(session.History)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := b.redis.Set(ctx, sessionKey(session.SenderID), data, b.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist history: %w", err)
	}
	return nil
}

func (b *RedisHistoryBackend) Delete(ctx context.Context, senderID string) error {
	if err := b.redis.Del(ctx, sessionKey(senderID)).Err(); err != nil {
		return fmt.Errorf("conversation: failed to delete history: %w", err)
	}
	return nil
}

func sessionKey(senderID string) string {
	return fmt.Sprintf("session:%s", senderID)
}
