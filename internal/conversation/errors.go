package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField matches any *MissingFieldError via errors.Is.
	ErrMissingField = errors.New("conversation: missing required field")
	// ErrServiceUnavailable means no LLM client was configured at startup.
	ErrServiceUnavailable = errors.New("conversation: language model service unavailable")
	// ErrSessionNotFound is returned by backends and SessionStore.Get for unknown senders.
	ErrSessionNotFound = errors.New("conversation: session not found")
	// ErrEmptyCompletion is returned when the model answers with no text.
	ErrEmptyCompletion = errors.New("conversation: llm returned empty response")
	// ErrLockTimeout means another request held the sender lock for too long.
	ErrLockTimeout = errors.New("conversation: timed out waiting for sender lock")
	// ErrSessionNotLoaded marks a turn that was answered from a degraded session
	// and therefore not saved.
	ErrSessionNotLoaded = errors.New("conversation: stored session could not be loaded")
)

// MissingFieldError reports a required request field that was absent or blank.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("conversation: missing required field %q", e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// ModelCallError wraps any failure of the LLM invocation.
type ModelCallError struct {
	Provider string
	Err      error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("conversation: %s completion failed: %v", e.Provider, e.Err)
}

func (e *ModelCallError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed read or write of session history.
type PersistenceError struct {
	Op       string
	SenderID string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("conversation: %s session %s: %v", e.Op, e.SenderID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
