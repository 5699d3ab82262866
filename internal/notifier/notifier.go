// Package notifier is the outbound port for realtime update hints. Publishing
// is best effort: callers commit to the store first and never roll back
// because a publish failed.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	// ChannelConversations carries list-level events. Sinks route each one
	// to the members of the conversation it names.
	ChannelConversations = "conversations"

	EventConversationCreated = "conversation-created"
	EventConversationTouched = "conversation-touched"
	EventMessageReceived     = "message-received"
	EventMessageDeleted      = "message-deleted"
	EventConversationDeleted = "conversation-deleted"
)

const conversationChannelPrefix = "conversation-"

var ErrNotifierFailure = errors.New("notifier failure")

// ConversationChannel is the channel scoped to one conversation.
func ConversationChannel(conversationID string) string {
	return conversationChannelPrefix + conversationID
}

// ConversationIDFromChannel reverses ConversationChannel.
func ConversationIDFromChannel(channel string) (string, bool) {
	if len(channel) <= len(conversationChannelPrefix) || channel[:len(conversationChannelPrefix)] != conversationChannelPrefix {
		return "", false
	}
	return channel[len(conversationChannelPrefix):], true
}

type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Envelope is the wire format shared by every transport.
type Envelope struct {
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"ts"`
}

func Encode(channel, event string, payload any, now time.Time) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Channel: channel, Event: event, Payload: data, Timestamp: now.UnixMilli()})
}

type ConversationCreated struct {
	ConversationID string `json:"conversationId"`
	IsGroup        bool   `json:"isGroup"`
	GroupName      string `json:"groupName,omitempty"`
	CreatedBy      string `json:"createdBy"`
}

type ConversationTouched struct {
	ConversationID string     `json:"conversationId"`
	MessageID      string     `json:"messageId,omitempty"`
	SenderID       string     `json:"senderId,omitempty"`
	SenderName     string     `json:"senderName,omitempty"`
	ContentPreview string     `json:"contentPreview,omitempty"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
}

// ConversationDeleted goes out on the conversation's own channel; its
// subscribers are dropped after delivery.
type ConversationDeleted struct {
	ConversationID string `json:"conversationId"`
	DeletedBy      string `json:"deletedBy"`
}

type MessageDeleted struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, channel, event string, payload any) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, channel, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sink receives encoded envelopes in-process.
type Sink interface {
	Deliver(channel string, payload []byte)
}

// Local delivers straight to an in-process sink, used when no broker is
// configured and this instance is the only one serving sockets.
type Local struct {
	Sink Sink
	Now  func() time.Time
}

func (l Local) Publish(_ context.Context, channel, event string, payload any) error {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	b, err := Encode(channel, event, payload, now())
	if err != nil {
		return err
	}
	l.Sink.Deliver(channel, b)
	return nil
}
