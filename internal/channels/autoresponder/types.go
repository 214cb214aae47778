package autoresponder

import (
	"strings"

	"github.com/wolfman30/chatrelay/internal/conversation"
)

// Payload is the body AutoResponder posts to the webhook.
type Payload struct {
	AppPackageName       string `json:"appPackageName"`
	MessengerPackageName string `json:"messengerPackageName"`
	Query                *Query `json:"query"`
}

// Query carries the message being answered.
type Query struct {
	Sender           string `json:"sender"`
	Message          string `json:"message"`
	IsGroup          bool   `json:"isGroup"`
	GroupParticipant string `json:"groupParticipant"`
	RuleID           int64  `json:"ruleId"`
	IsTestMessage    bool   `json:"isTestMessage"`
}

// Validate returns the session key and message text, or a
// *conversation.MissingFieldError naming the first absent field. Group
// messages are keyed per participant so members don't share a history.
func (p Payload) Validate() (senderID, message string, err error) {
	if p.Query == nil {
		return "", "", &conversation.MissingFieldError{Field: "query"}
	}
	sender := strings.TrimSpace(p.Query.Sender)
	if sender == "" {
		return "", "", &conversation.MissingFieldError{Field: "query.sender"}
	}
	if strings.TrimSpace(p.Query.Message) == "" {
		return "", "", &conversation.MissingFieldError{Field: "query.message"}
	}
	if p.Query.IsGroup {
		if participant := strings.TrimSpace(p.Query.GroupParticipant); participant != "" {
			sender = sender + "/" + participant
		}
	}
	return sender, p.Query.Message, nil
}

// ReplyEntry is one message in the multi-reply envelope.
type ReplyEntry struct {
	Message string `json:"message"`
}

// RepliesEnvelope is the current AutoResponder response shape.
type RepliesEnvelope struct {
	Replies []ReplyEntry `json:"replies"`
}

// LegacyEnvelope is the single-reply shape older AutoResponder versions expect.
type LegacyEnvelope struct {
	Reply string `json:"reply"`
}

const (
	EnvelopeReplies = "replies"
	EnvelopeLegacy  = "legacy"
)

// Envelope wraps reply in the configured response shape.
func Envelope(kind, reply string) any {
	if kind == EnvelopeLegacy {
		return LegacyEnvelope{Reply: reply}
	}
	return RepliesEnvelope{Replies: []ReplyEntry{{Message: reply}}}
}
