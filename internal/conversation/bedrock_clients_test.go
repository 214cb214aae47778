package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type stubConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (s *stubConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.input = in
	return s.out, s.err
}

func TestBedrockLLMClient_Complete(t *testing.T) {
	api := &stubConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: " ¡Hola! "}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(3), TotalTokens: aws.Int32(13)},
	}}
	client := NewBedrockLLMClient(api, "anthropic.claude-3-haiku-20240307-v1:0")

	resp, err := client.Complete(context.Background(), LLMRequest{
		Temperature: -1,
		Messages:    append(testSeed(), UserTurn("hola"), ChatMessage{Role: ChatRoleSystem, Content: "sé breve"}),
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "¡Hola!" || resp.Usage.TotalTokens != 13 || resp.StopReason != "end_turn" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if aws.ToString(api.input.ModelId) != "anthropic.claude-3-haiku-20240307-v1:0" {
		t.Fatalf("expected default model id, got %s", aws.ToString(api.input.ModelId))
	}
	if len(api.input.Messages) != 3 || api.input.Messages[1].Role != brtypes.ConversationRoleAssistant {
		t.Fatalf("unexpected messages %+v", api.input.Messages)
	}
	if len(api.input.System) != 1 {
		t.Fatalf("system turns should move to the system block, got %d", len(api.input.System))
	}
	if api.input.InferenceConfig != nil {
		t.Fatalf("expected provider defaults when nothing is set")
	}
}

func TestBedrockLLMClient_Errors(t *testing.T) {
	if _, err := NewBedrockLLMClient(&stubConverse{}, "").Complete(context.Background(), LLMRequest{}); err == nil {
		t.Fatalf("expected missing model error")
	}

	boom := errors.New("throttled")
	client := NewBedrockLLMClient(&stubConverse{err: boom}, "m")
	if _, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{UserTurn("x")}}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped converse error, got %v", err)
	}

	client = NewBedrockLLMClient(&stubConverse{}, "m")
	if _, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: "tool", Content: "x"}}}); err == nil {
		t.Fatalf("expected unsupported role error")
	}
}
