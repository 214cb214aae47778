package conversation

import (
	"context"
	"sync"
)

// MemoryHistoryBackend keeps sessions for the lifetime of the process.
type MemoryHistoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryHistoryBackend() *MemoryHistoryBackend {
	return &MemoryHistoryBackend{sessions: make(map[string]*Session)}
}

func (b *MemoryHistoryBackend) Load(_ context.Context, senderID string) (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sess, ok := b.sessions[senderID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.clone(), nil
}

func (b *MemoryHistoryBackend) Save(_ context.Context, session *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[session.SenderID] = session.clone()
	return nil
}

func (b *MemoryHistoryBackend) Delete(_ context.Context, senderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, senderID)
	return nil
}

// Len reports how many sessions are held.
func (b *MemoryHistoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}
