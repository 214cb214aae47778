package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/chatrelay/pkg/logging"
)

func TestFallbackLLMClient_PrimarySucceeds(t *testing.T) {
	primary := &stubLLM{}
	fallback := &stubLLM{}
	client := NewFallbackLLMClient(primary, "gemini", fallback, "bedrock", logging.New("error"))

	resp, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{UserTurn("hola")}})
	require.NoError(t, err)
	assert.Equal(t, "eco: hola", resp.Text)
	assert.Equal(t, 0, fallback.callCount())
}

func TestFallbackLLMClient_UsesFallbackOnce(t *testing.T) {
	primary := &stubLLM{reply: func(LLMRequest) (LLMResponse, error) { return LLMResponse{}, errors.New("503") }}
	fallback := &stubLLM{}
	client := NewFallbackLLMClient(primary, "gemini", fallback, "bedrock", logging.New("error"))

	resp, err := client.Complete(context.Background(), LLMRequest{Model: "gemini-1.5-flash", Messages: []ChatMessage{UserTurn("hola")}})
	require.NoError(t, err)
	assert.Equal(t, "eco: hola", resp.Text)
	assert.Equal(t, 1, primary.callCount())
	require.Equal(t, 1, fallback.callCount())
	assert.Empty(t, fallback.calls[0].Model, "primary model id must not leak to the fallback")
}

func TestFallbackLLMClient_BothFail(t *testing.T) {
	errPrimary := errors.New("primary down")
	errFallback := errors.New("fallback down")
	primary := &stubLLM{reply: func(LLMRequest) (LLMResponse, error) { return LLMResponse{}, errPrimary }}
	fallback := &stubLLM{reply: func(LLMRequest) (LLMResponse, error) { return LLMResponse{}, errFallback }}
	client := NewFallbackLLMClient(primary, "gemini", fallback, "bedrock", nil)

	_, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{UserTurn("x")}})
	assert.ErrorIs(t, err, errPrimary)
	assert.ErrorIs(t, err, errFallback)
}

func TestFallbackLLMClient_NoFallbackOnCancel(t *testing.T) {
	primary := &stubLLM{reply: func(LLMRequest) (LLMResponse, error) { return LLMResponse{}, context.Canceled }}
	fallback := &stubLLM{}
	client := NewFallbackLLMClient(primary, "gemini", fallback, "bedrock", nil)

	_, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{UserTurn("x")}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fallback.callCount())
}
