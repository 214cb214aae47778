package conversation

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisHistoryBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	backend := NewRedisHistoryBackend(client, 0)

	if _, err := backend.Load(ctx, "+521"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	sess := &Session{SenderID: "+521", History: []ChatMessage{UserTurn("hola"), AssistantTurn("hey")}}
	if err := backend.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := mr.Get("session:+521")
	if err != nil {
		t.Fatalf("expected key session:+521: %v", err)
	}
	if raw != `[{"role":"user","parts":["hola"]},{"role":"model","parts":["hey"]}]` {
		t.Fatalf("unexpected stored value %s", raw)
	}
	if ttl := mr.TTL("session:+521"); ttl != 0 {
		t.Fatalf("expected no expiry, got %s", ttl)
	}

	loaded, err := backend.Load(ctx, "+521")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(loaded.History, sess.History) {
		t.Fatalf("unexpected history %+v", loaded.History)
	}

	if err := backend.Delete(ctx, "+521"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mr.Exists("session:+521") {
		t.Fatalf("expected key to be removed")
	}
}

func TestRedisHistoryBackend_TTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	backend := NewRedisHistoryBackend(client, time.Hour)

	if err := backend.Save(ctx, &Session{SenderID: "a", History: testSeed()}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL("session:a"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := backend.Load(ctx, "a"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session to be gone, got %v", err)
	}
}

func TestRedisHistoryBackend_CorruptValue(t *testing.T) {
	mr, client := newTestRedis(t)
	backend := NewRedisHistoryBackend(client, 0)
	if err := mr.Set("session:a", "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := backend.Load(context.Background(), "a")
	if err == nil || errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestRedisHistoryBackend_WithSessionStore(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	store := NewSessionStore(NewRedisHistoryBackend(client, 0), testSeed())

	sess, err := store.GetOrCreate(ctx, "a")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := store.Append(ctx, sess, UserTurn("u1"), AssistantTurn("a1")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// A second store over the same Redis sees the same history.
	other := NewSessionStore(NewRedisHistoryBackend(client, 0), testSeed())
	got, err := other.GetOrCreate(ctx, "a")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(got.History) != 4 || got.History[3].Content != "a1" {
		t.Fatalf("unexpected shared history %+v", got.History)
	}
}
