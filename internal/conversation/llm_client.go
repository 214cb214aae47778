package conversation

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is a single conversation turn. Session history only ever holds
// user and assistant turns; system turns exist for LLM requests.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserTurn builds a user-role ChatMessage.
func UserTurn(text string) ChatMessage {
	return ChatMessage{Role: ChatRoleUser, Content: text}
}

// AssistantTurn builds an assistant-role ChatMessage.
func AssistantTurn(text string) ChatMessage {
	return ChatMessage{Role: ChatRoleAssistant, Content: text}
}

func cloneHistory(history []ChatMessage) []ChatMessage {
	if history == nil {
		return nil
	}
	out := make([]ChatMessage, len(history))
	copy(out, history)
	return out
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// LLMRequest is a provider-neutral completion request. The last entry in
// Messages is the turn the model should answer.
type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// LLMClient is the Language Model Service seen by the orchestrator.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}
