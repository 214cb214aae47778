package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/chatrelay/pkg/logging"
)

const (
	ModeStateful  = "stateful"
	ModeStateless = "stateless"

	defaultLLMTimeout = 60 * time.Second
	seedTurnCount     = 2

	DefaultUnavailableReply = "El modelo de IA no está disponible."
	DefaultApologyReply     = "Lo siento, estoy teniendo un problema técnico para pensar mi respuesta."
)

// OrchestratorConfig tunes how messages are answered.
type OrchestratorConfig struct {
	Mode     string
	Provider string // metrics/log label for the configured LLM
	Model    string

	Timeout     time.Duration
	MaxTokens   int32
	Temperature float32 // negative keeps the provider default

	// HistoryWindow caps how many non-seed turns are sent to the model.
	// Zero sends everything. Stored history is never trimmed.
	HistoryWindow int

	UnavailableReply string
	ApologyReply     string
}

// Orchestrator turns (sender, message) into a reply. It never returns an
// error for provider or storage trouble; only invalid input fails.
type Orchestrator struct {
	llm      LLMClient
	sessions *SessionStore
	prompts  *PromptBuilder
	locks    SenderLocker
	cfg      OrchestratorConfig
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewOrchestrator wires the conversation flow. llm may be nil, in which case
// every message gets the unavailable reply. sessions is required in stateful
// mode; locks defaults to an in-process keyed mutex.
func NewOrchestrator(llm LLMClient, sessions *SessionStore, prompts *PromptBuilder, locks SenderLocker, cfg OrchestratorConfig, logger *logging.Logger) *Orchestrator {
	if prompts == nil {
		panic("conversation: prompt builder cannot be nil")
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode != ModeStateless {
		cfg.Mode = ModeStateful
	}
	if cfg.Mode == ModeStateful && sessions == nil {
		panic("conversation: session store cannot be nil in stateful mode")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLLMTimeout
	}
	if cfg.HistoryWindow < 0 {
		cfg.HistoryWindow = 0
	}
	if strings.TrimSpace(cfg.Provider) == "" {
		cfg.Provider = "llm"
	}
	if strings.TrimSpace(cfg.UnavailableReply) == "" {
		cfg.UnavailableReply = DefaultUnavailableReply
	}
	if strings.TrimSpace(cfg.ApologyReply) == "" {
		cfg.ApologyReply = DefaultApologyReply
	}
	if locks == nil {
		locks = NewLocalSenderLocks()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		llm:      llm,
		sessions: sessions,
		prompts:  prompts,
		locks:    locks,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("chatrelay.internal.conversation.orchestrator"),
	}
}

// Mode reports whether sessions are kept.
func (o *Orchestrator) Mode() string { return o.cfg.Mode }

// HandleMessage answers one inbound message. The returned error is always a
// *MissingFieldError; every other failure is absorbed into a fixed reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, senderID, message string) (string, error) {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		repliesTotal.WithLabelValues(o.cfg.Mode, "missing_field").Inc()
		return "", &MissingFieldError{Field: "sender"}
	}
	if strings.TrimSpace(message) == "" {
		repliesTotal.WithLabelValues(o.cfg.Mode, "missing_field").Inc()
		return "", &MissingFieldError{Field: "message"}
	}

	ctx, span := o.tracer.Start(ctx, "conversation.handle_message",
		trace.WithAttributes(
			attribute.String("sender_id", senderID),
			attribute.String("chatrelay.mode", o.cfg.Mode),
		))
	defer span.End()

	logger := o.logger.With("sender_id", senderID, "mode", o.cfg.Mode)

	if o.llm == nil {
		logger.Error("cannot answer message", "error", ErrServiceUnavailable)
		repliesTotal.WithLabelValues(o.cfg.Mode, "unavailable").Inc()
		return o.cfg.UnavailableReply, nil
	}

	if o.cfg.Mode == ModeStateless {
		prompt := o.prompts.BuildPrompt(message)
		raw, err := o.complete(ctx, []ChatMessage{UserTurn(prompt)})
		if err != nil {
			logger.Error("llm call failed", "error", err)
			repliesTotal.WithLabelValues(o.cfg.Mode, "model_error").Inc()
			return o.cfg.ApologyReply, nil
		}
		repliesTotal.WithLabelValues(o.cfg.Mode, "ok").Inc()
		return CleanReply(raw), nil
	}

	unlock, err := o.locks.Lock(ctx, senderID)
	if err != nil {
		logger.Error("failed to acquire sender lock", "error", err)
		repliesTotal.WithLabelValues(o.cfg.Mode, "lock_error").Inc()
		return o.cfg.ApologyReply, nil
	}
	defer unlock()

	// A degraded session only holds the seed turns; saving it would overwrite
	// whatever history the backend failed to return.
	degraded := false
	sess, err := o.sessions.GetOrCreate(ctx, senderID)
	if err != nil {
		logger.Warn("session unavailable, continuing with a fresh one", "error", err)
		persistenceErrorsTotal.WithLabelValues(persistenceOp(err)).Inc()
		sess = o.sessions.Seeded(senderID)
		degraded = true
	}

	messages := append(o.window(sess.History), UserTurn(message))
	raw, err := o.complete(ctx, messages)
	if err != nil {
		logger.Error("llm call failed", "error", err, "history_len", len(sess.History))
		repliesTotal.WithLabelValues(o.cfg.Mode, "model_error").Inc()
		return o.cfg.ApologyReply, nil
	}

	if degraded {
		skipped := &PersistenceError{Op: "save_skipped", SenderID: senderID, Err: ErrSessionNotLoaded}
		logger.Warn("conversation turn not persisted", "error", skipped)
		persistenceErrorsTotal.WithLabelValues(skipped.Op).Inc()
	} else if err := o.sessions.Append(ctx, sess, UserTurn(message), AssistantTurn(raw)); err != nil {
		logger.Error("failed to persist conversation turn", "error", err)
		persistenceErrorsTotal.WithLabelValues(persistenceOp(err)).Inc()
	}

	repliesTotal.WithLabelValues(o.cfg.Mode, "ok").Inc()
	return CleanReply(raw), nil
}

// ResetSender forgets a sender's history. It waits for any in-flight turn for
// that sender so the turn's save cannot bring the old history back. Stateless
// orchestrators keep nothing and return nil.
func (o *Orchestrator) ResetSender(ctx context.Context, senderID string) error {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return &MissingFieldError{Field: "sender"}
	}
	if o.sessions == nil {
		return nil
	}
	unlock, err := o.locks.Lock(ctx, senderID)
	if err != nil {
		return fmt.Errorf("conversation: reset %s: %w", senderID, err)
	}
	defer unlock()
	return o.sessions.Reset(ctx, senderID)
}

// window returns the turns sent to the model. The seed turns always lead, and
// the tail never starts with an assistant turn so roles keep alternating.
func (o *Orchestrator) window(history []ChatMessage) []ChatMessage {
	limit := o.cfg.HistoryWindow
	if limit <= 0 || len(history) <= seedTurnCount+limit {
		return cloneHistory(history)
	}
	tail := history[len(history)-limit:]
	for len(tail) > 0 && tail[0].Role == ChatRoleAssistant {
		tail = tail[1:]
	}
	out := make([]ChatMessage, 0, seedTurnCount+len(tail)+1)
	out = append(out, history[:seedTurnCount]...)
	return append(out, tail...)
}

// complete runs one bounded LLM call. Failures and blank answers come back
// as *ModelCallError.
func (o *Orchestrator) complete(ctx context.Context, messages []ChatMessage) (string, error) {
	ctx, span := o.tracer.Start(ctx, "conversation.llm")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	req := LLMRequest{
		Model:       o.cfg.Model,
		Messages:    messages,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}

	start := time.Now()
	resp, err := o.llm.Complete(callCtx, req)
	latency := time.Since(start)
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = ErrEmptyCompletion
	}
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
	}
	llmLatency.WithLabelValues(o.cfg.Provider, status).Observe(latency.Seconds())
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("chatrelay.llm.provider", o.cfg.Provider),
			attribute.Float64("chatrelay.llm.latency_ms", float64(latency.Milliseconds())),
			attribute.Int("chatrelay.llm.messages", len(messages)),
			attribute.Int("chatrelay.llm.input_tokens", int(resp.Usage.InputTokens)),
			attribute.Int("chatrelay.llm.output_tokens", int(resp.Usage.OutputTokens)),
			attribute.String("chatrelay.llm.stop_reason", resp.StopReason),
		)
	}
	if err != nil {
		recordSpanError(span, err)
		return "", &ModelCallError{Provider: o.cfg.Provider, Err: err}
	}

	if resp.Usage.InputTokens > 0 {
		llmTokensTotal.WithLabelValues(o.cfg.Provider, "input").Add(float64(resp.Usage.InputTokens))
	}
	if resp.Usage.OutputTokens > 0 {
		llmTokensTotal.WithLabelValues(o.cfg.Provider, "output").Add(float64(resp.Usage.OutputTokens))
	}
	if resp.Usage.TotalTokens > 0 {
		llmTokensTotal.WithLabelValues(o.cfg.Provider, "total").Add(float64(resp.Usage.TotalTokens))
	}
	o.logger.Debug("llm completion finished",
		"provider", o.cfg.Provider,
		"latency_ms", latency.Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason,
	)
	return resp.Text, nil
}

func persistenceOp(err error) string {
	var perr *PersistenceError
	if errors.As(err, &perr) {
		return perr.Op
	}
	return "unknown"
}
