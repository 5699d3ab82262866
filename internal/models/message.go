package models

import "time"

const MaxContentLength = 1000

type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"conversationId"`
	SenderID       string    `bson:"sender_id" json:"senderId"`
	Content        string    `bson:"content,omitempty" json:"content,omitempty"`
	AttachmentRef  string    `bson:"attachment_ref,omitempty" json:"attachmentRef,omitempty"`
	SentAt         time.Time `bson:"sent_at" json:"sentAt"`
	IsRead         bool      `bson:"is_read" json:"isRead"`
	IsDeleted      bool      `bson:"is_deleted" json:"isDeleted"`
}

// Summary builds the conversation's last-message cache entry.
func (m *Message) Summary(previewLen int) MessageSummary {
	preview := m.Content
	if r := []rune(preview); len(r) > previewLen {
		preview = string(r[:previewLen])
	}
	return MessageSummary{
		MessageID:      m.ID,
		ContentPreview: preview,
		SenderID:       m.SenderID,
		SentAt:         m.SentAt,
		HasAttachment:  m.AttachmentRef != "",
	}
}

// AttachmentPrefix is the object key prefix every attachment of the
// conversation lives under.
func AttachmentPrefix(conversationID string) string {
	return "conversations/" + conversationID + "/"
}
