package conversation

import (
	"context"
	"errors"

	"github.com/wolfman30/chatrelay/pkg/logging"
)

// FallbackLLMClient fails over from a primary provider to a secondary one.
// Each provider is called at most once per request.
type FallbackLLMClient struct {
	primary      LLMClient
	fallback     LLMClient
	primaryName  string
	fallbackName string
	logger       *logging.Logger
}

func NewFallbackLLMClient(primary LLMClient, primaryName string, fallback LLMClient, fallbackName string, logger *logging.Logger) *FallbackLLMClient {
	if primary == nil {
		panic("conversation: fallback primary client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackLLMClient{
		primary:      primary,
		fallback:     fallback,
		primaryName:  primaryName,
		fallbackName: fallbackName,
		logger:       logger,
	}
}

func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if c.fallback == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return LLMResponse{}, err
	}

	c.logger.Warn("primary llm failed, using fallback",
		"primary", c.primaryName,
		"fallback", c.fallbackName,
		"error", err,
	)
	// Fallback requests must not carry a model id meant for the primary.
	req.Model = ""
	fbResp, fbErr := c.fallback.Complete(ctx, req)
	if fbErr != nil {
		return LLMResponse{}, errors.Join(err, fbErr)
	}
	return fbResp, nil
}
