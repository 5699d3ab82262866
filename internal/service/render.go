package service

import (
	"strings"
	"time"

	"github.com/fathima-sithara/chat-sync-service/internal/models"
)

// MessageView is the consumer-facing rendering of a message. Tombstones keep
// their id and position but carry no content.
type MessageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	Content        string    `json:"content,omitempty"`
	AttachmentRef  string    `json:"attachmentRef,omitempty"`
	SentAt         time.Time `json:"sentAt"`
	IsRead         bool      `json:"isRead"`
	Removed        bool      `json:"removed,omitempty"`
}

type MemberView struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	UnreadCount int64  `json:"unreadCount"`
}

type ConversationView struct {
	ID          string                 `json:"id"`
	IsGroup     bool                   `json:"isGroup"`
	Name        string                 `json:"name"`
	GroupAdmins []string               `json:"groupAdmins,omitempty"`
	Members     []MemberView           `json:"members"`
	UnreadCount int64                  `json:"unreadCount"`
	LastMessage *models.MessageSummary `json:"lastMessage,omitempty"`
	IsArchived  bool                   `json:"isArchived"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

func renderMessage(m *models.Message, senderName string) MessageView {
	v := MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     senderName,
		Content:        m.Content,
		AttachmentRef:  m.AttachmentRef,
		SentAt:         m.SentAt,
		IsRead:         m.IsRead,
	}
	if m.IsDeleted {
		v.Content = ""
		v.AttachmentRef = ""
		v.Removed = true
	}
	return v
}

func renderConversation(c *models.Conversation, viewerID string, users map[string]models.User) ConversationView {
	v := ConversationView{
		ID:          c.ID,
		IsGroup:     c.IsGroup,
		GroupAdmins: c.GroupAdmins,
		Members:     make([]MemberView, 0, len(c.Members)),
		UnreadCount: c.UnreadFor(viewerID),
		IsArchived:  c.IsArchived,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	for _, m := range c.Members {
		v.Members = append(v.Members, MemberView{
			UserID:      m.UserID,
			DisplayName: users[m.UserID].DisplayName(),
			UnreadCount: m.UnreadCount,
		})
	}
	if c.IsGroup {
		v.Name = c.GroupName
	} else {
		v.Name = users[c.Peer(viewerID)].DisplayName()
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		if lm.Deleted {
			lm.ContentPreview = ""
		}
		v.LastMessage = &lm
	}
	return v
}

func matchesSearch(v ConversationView, search string) bool {
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(v.Name), strings.ToLower(search))
}
