package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Session is the ordered dialogue with one sender.
type Session struct {
	SenderID  string        `json:"senderId"`
	History   []ChatMessage `json:"history"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.History = cloneHistory(s.History)
	return &out
}

// HistoryBackend persists whole sessions keyed by sender ID. Load returns
// ErrSessionNotFound for unknown senders. Save overwrites.
type HistoryBackend interface {
	Load(ctx context.Context, senderID string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, senderID string) error
}

// SessionStore owns session lifecycle on top of a HistoryBackend. New
// sessions always start with the seed turns.
type SessionStore struct {
	backend HistoryBackend
	seed    []ChatMessage
	tracer  trace.Tracer
	now     func() time.Time
}

func NewSessionStore(backend HistoryBackend, seed []ChatMessage) *SessionStore {
	if backend == nil {
		panic("conversation: history backend cannot be nil")
	}
	return &SessionStore{
		backend: backend,
		seed:    cloneHistory(seed),
		tracer:  otel.Tracer("chatrelay.internal.conversation.sessions"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Seeded returns a fresh, unsaved session holding only the seed turns.
func (s *SessionStore) Seeded(senderID string) *Session {
	now := s.now()
	return &Session{
		SenderID:  senderID,
		History:   cloneHistory(s.seed),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// GetOrCreate returns the stored session for senderID, creating and persisting
// a seeded one on first contact.
func (s *SessionStore) GetOrCreate(ctx context.Context, senderID string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.get_or_create_session",
		trace.WithAttributes(attribute.String("sender_id", senderID)))
	defer span.End()

	sess, err := s.backend.Load(ctx, senderID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		recordSpanError(span, err)
		return nil, &PersistenceError{Op: "load", SenderID: senderID, Err: err}
	}

	sess = s.Seeded(senderID)
	span.SetAttributes(attribute.Bool("created", true))
	if err := s.backend.Save(ctx, sess); err != nil {
		recordSpanError(span, err)
		return nil, &PersistenceError{Op: "create", SenderID: senderID, Err: err}
	}
	return sess, nil
}

// Append adds turns to the end of the session and persists the full history.
// The in-memory session keeps the new turns even when the save fails.
func (s *SessionStore) Append(ctx context.Context, sess *Session, turns ...ChatMessage) error {
	if sess == nil {
		return errors.New("conversation: session cannot be nil")
	}
	ctx, span := s.tracer.Start(ctx, "conversation.append_session",
		trace.WithAttributes(
			attribute.String("sender_id", sess.SenderID),
			attribute.Int("turns", len(turns)),
		))
	defer span.End()

	sess.History = append(sess.History, turns...)
	sess.UpdatedAt = s.now()
	if err := s.backend.Save(ctx, sess); err != nil {
		recordSpanError(span, err)
		return &PersistenceError{Op: "save", SenderID: sess.SenderID, Err: err}
	}
	return nil
}

// Get returns the stored session without creating one.
func (s *SessionStore) Get(ctx context.Context, senderID string) (*Session, error) {
	sess, err := s.backend.Load(ctx, senderID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load", SenderID: senderID, Err: err}
	}
	return sess, nil
}

// Reset forgets a sender's history. The next message starts a new session.
func (s *SessionStore) Reset(ctx context.Context, senderID string) error {
	if err := s.backend.Delete(ctx, senderID); err != nil {
		return &PersistenceError{Op: "delete", SenderID: senderID, Err: err}
	}
	return nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// wireTurn is the durable form of a ChatMessage, shaped like Gemini content.
type wireTurn struct {
	Role  string   `json:"role" dynamodbav:"role"`
	Parts []string `json:"parts" dynamodbav:"parts"`
}

const wireRoleModel = "model"

func wireRole(role string) string {
	if role == ChatRoleAssistant {
		return wireRoleModel
	}
	return role
}

func toWireTurns(history []ChatMessage) []wireTurn {
	turns := make([]wireTurn, 0, len(history))
	for _, msg := range history {
		turns = append(turns, wireTurn{Role: wireRole(msg.Role), Parts: []string{msg.Content}})
	}
	return turns
}

// fromWireTurns accepts "assistant" as an alias for "model" and concatenates
// multi-part turns.
func fromWireTurns(turns []wireTurn) ([]ChatMessage, error) {
	out := make([]ChatMessage, 0, len(turns))
	for i, turn := range turns {
		var role string
		switch strings.ToLower(strings.TrimSpace(turn.Role)) {
		case ChatRoleUser:
			role = ChatRoleUser
		case wireRoleModel, ChatRoleAssistant:
			role = ChatRoleAssistant
		default:
			return nil, fmt.Errorf("conversation: decode history: turn %d has unknown role %q", i, turn.Role)
		}
		out = append(out, ChatMessage{Role: role, Content: strings.Join(turn.Parts, "")})
	}
	return out, nil
}

// EncodeHistory serializes turns as [{"role":"user"|"model","parts":["..."]}].
func EncodeHistory(history []ChatMessage) ([]byte, error) {
	data, err := json.Marshal(toWireTurns(history))
	if err != nil {
		return nil, fmt.Errorf("conversation: encode history: %w", err)
	}
	return data, nil
}

// DecodeHistory parses the EncodeHistory format.
func DecodeHistory(data []byte) ([]ChatMessage, error) {
	var turns []wireTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("conversation: decode history: %w", err)
	}
	return fromWireTurns(turns)
}
