package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/chatrelay/internal/conversation"
	"github.com/wolfman30/chatrelay/internal/http/middleware"
	"github.com/wolfman30/chatrelay/pkg/logging"
)

// SessionReader is the read side of conversation.SessionStore.
type SessionReader interface {
	Get(ctx context.Context, senderID string) (*conversation.Session, error)
}

// SessionResetter clears a sender's history. *conversation.Orchestrator
// implements it under the sender lock so an in-flight turn cannot undo it.
type SessionResetter interface {
	ResetSender(ctx context.Context, senderID string) error
}

// AdminSessionsHandler lets operators inspect and reset per-sender history.
type AdminSessionsHandler struct {
	sessions SessionReader
	resetter SessionResetter
	logger   *logging.Logger
}

func NewAdminSessionsHandler(sessions SessionReader, resetter SessionResetter, logger *logging.Logger) *AdminSessionsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminSessionsHandler{sessions: sessions, resetter: resetter, logger: logger}
}

// SessionTurn is one history entry in admin responses.
type SessionTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionResponse is the body of GET /admin/sessions/{senderID}.
type SessionResponse struct {
	SenderID  string        `json:"sender_id"`
	TurnCount int           `json:"turn_count"`
	CreatedAt *string       `json:"created_at,omitempty"`
	UpdatedAt *string       `json:"updated_at,omitempty"`
	Turns     []SessionTurn `json:"turns"`
}

// GetSession handles GET /admin/sessions/{senderID}.
func (h *AdminSessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	senderID := strings.TrimSpace(chi.URLParam(r, "senderID"))
	if senderID == "" {
		jsonError(w, "missing senderID", http.StatusBadRequest)
		return
	}
	if h.sessions == nil {
		jsonError(w, "sessions are disabled in stateless mode", http.StatusNotFound)
		return
	}

	sess, err := h.sessions.Get(r.Context(), senderID)
	if errors.Is(err, conversation.ErrSessionNotFound) {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load session", "error", err, "sender_id", senderID)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := SessionResponse{
		SenderID:  sess.SenderID,
		TurnCount: len(sess.History),
		CreatedAt: formatTime(sess.CreatedAt),
		UpdatedAt: formatTime(sess.UpdatedAt),
		Turns:     make([]SessionTurn, 0, len(sess.History)),
	}
	for _, turn := range sess.History {
		resp.Turns = append(resp.Turns, SessionTurn{Role: turn.Role, Content: turn.Content})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetSession handles DELETE /admin/sessions/{senderID}. Deleting an unknown
// sender is not an error.
func (h *AdminSessionsHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	senderID := strings.TrimSpace(chi.URLParam(r, "senderID"))
	if senderID == "" {
		jsonError(w, "missing senderID", http.StatusBadRequest)
		return
	}
	if h.resetter == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.resetter.ResetSender(r.Context(), senderID); err != nil {
		h.logger.Error("failed to reset session", "error", err, "sender_id", senderID)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	actor := "unknown"
	if claims, ok := middleware.AdminClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		actor = claims.Subject
	}
	h.logger.Info("session reset", "sender_id", senderID, "actor", actor)
	w.WriteHeader(http.StatusNoContent)
}

func formatTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
