package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SenderLocker serializes work per sender. Different senders never contend.
// The returned unlock func is safe to call more than once.
type SenderLocker interface {
	Lock(ctx context.Context, senderID string) (unlock func(), err error)
}

type senderLockEntry struct {
	sem  chan struct{}
	refs int
}

// LocalSenderLocks is an in-process keyed mutex. Entries are dropped once no
// caller holds or waits on them, so the map stays proportional to in-flight
// senders.
type LocalSenderLocks struct {
	mu    sync.Mutex
	locks map[string]*senderLockEntry
}

func NewLocalSenderLocks() *LocalSenderLocks {
	return &LocalSenderLocks{locks: make(map[string]*senderLockEntry)}
}

func (l *LocalSenderLocks) Lock(ctx context.Context, senderID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[senderID]
	if !ok {
		entry = &senderLockEntry{sem: make(chan struct{}, 1)}
		l.locks[senderID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(senderID, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.release(senderID, entry)
		})
	}, nil
}

func (l *LocalSenderLocks) release(senderID string, entry *senderLockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, senderID)
	}
}

func (l *LocalSenderLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var releaseSenderLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const senderLockPollInterval = 50 * time.Millisecond

// RedisSenderLock is a SET NX PX lock shared by every relay process. The ttl
// bounds how long a crashed holder can block a sender; it should exceed the
// LLM timeout.
type RedisSenderLock struct {
	redis *redis.Client
	ttl   time.Duration
	wait  time.Duration
}

// NewRedisSenderLock builds a lock whose holders expire after ttl. Waiters
// give up with ErrLockTimeout after the same duration.
func NewRedisSenderLock(client *redis.Client, ttl time.Duration) *RedisSenderLock {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisSenderLock{redis: client, ttl: ttl, wait: ttl}
}

func (l *RedisSenderLock) Lock(ctx context.Context, senderID string) (func(), error) {
	key := senderLockKey(senderID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	ticker := time.NewTicker(senderLockPollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("conversation: acquire sender lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be done; release must still run.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			// A lock that fails to release expires after ttl.
			_ = releaseSenderLockScript.Run(releaseCtx, l.redis, []string{key}, token).Err()
		})
	}, nil
}

func senderLockKey(senderID string) string {
	return fmt.Sprintf("lock:sender:%s", senderID)
}
