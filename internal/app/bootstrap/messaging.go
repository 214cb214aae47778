package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/chatrelay/internal/channels/whatsapp"
	"github.com/wolfman30/chatrelay/internal/conversation"
)

const (
	memoryQueueBuffer = 256
	whatsAppDedupeTTL = 24 * time.Hour
)

// BuildQueue selects the inbound job queue by QUEUE_BACKEND.
func (rt *Runtime) BuildQueue() (conversation.Queue, error) {
	switch rt.Config.QueueBackend {
	case "", "memory":
		return conversation.NewMemoryQueue(memoryQueueBuffer), nil
	case "sqs":
		if strings.TrimSpace(rt.Config.ConversationQueueURL) == "" {
			return nil, errors.New("bootstrap: CONVERSATION_QUEUE_URL is required for the sqs queue")
		}
		awsCfg, err := rt.AWSConfig()
		if err != nil {
			return nil, err
		}
		return conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), rt.Config.ConversationQueueURL), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown queue backend %q", rt.Config.QueueBackend)
	}
}

// BuildWhatsAppClient returns the Graph API client, or nil when the channel
// is not configured.
func (rt *Runtime) BuildWhatsAppClient() *whatsapp.Client {
	if !rt.Config.WhatsAppEnabled() {
		return nil
	}
	client := whatsapp.NewClient(rt.Config.WhatsAppAccessToken, rt.Config.WhatsAppPhoneNumberID)
	client.SetGraphAPIBase(rt.Config.WhatsAppGraphAPIBase)
	return client
}

// BuildWhatsAppDeduper shares dedupe state through Redis when a client is
// already connected.
func (rt *Runtime) BuildWhatsAppDeduper() whatsapp.Deduper {
	if rt.Redis != nil {
		return whatsapp.NewRedisDeduper(rt.Redis, whatsAppDedupeTTL)
	}
	return whatsapp.NewMemoryDeduper(whatsAppDedupeTTL)
}

// ReplySenders maps channel names to outbound senders for the worker.
func (rt *Runtime) ReplySenders() map[string]conversation.ReplySender {
	senders := map[string]conversation.ReplySender{}
	if client := rt.BuildWhatsAppClient(); client != nil {
		senders[whatsapp.ChannelName] = client
	}
	return senders
}
