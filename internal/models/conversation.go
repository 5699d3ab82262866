package models

import "time"

const MaxGroupNameLength = 50

type Member struct {
	UserID      string `bson:"user_id" json:"userId"`
	UnreadCount int64  `bson:"unread_count" json:"unreadCount"`
}

// MessageSummary is the denormalized copy of the latest accepted message.
type MessageSummary struct {
	MessageID      string    `bson:"message_id" json:"messageId"`
	ContentPreview string    `bson:"content_preview" json:"contentPreview"`
	SenderID       string    `bson:"sender_id" json:"senderId"`
	SentAt         time.Time `bson:"sent_at" json:"sentAt"`
	HasAttachment  bool      `bson:"has_attachment,omitempty" json:"hasAttachment,omitempty"`
	Deleted        bool      `bson:"deleted,omitempty" json:"deleted,omitempty"`
}

type Conversation struct {
	ID          string          `bson:"_id" json:"id"`
	IsGroup     bool            `bson:"is_group" json:"isGroup"`
	GroupName   string          `bson:"group_name,omitempty" json:"groupName,omitempty"`
	GroupAdmins []string        `bson:"group_admins,omitempty" json:"groupAdmins,omitempty"`
	Members     []Member        `bson:"members" json:"members"`
	PairKey     string          `bson:"pair_key,omitempty" json:"-"`
	LastMessage *MessageSummary `bson:"last_message,omitempty" json:"lastMessage,omitempty"`
	IsArchived  bool            `bson:"is_archived" json:"isArchived"`
	CreatedAt   time.Time       `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `bson:"updated_at" json:"updatedAt"`
}

func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (c *Conversation) IsAdmin(userID string) bool {
	for _, a := range c.GroupAdmins {
		if a == userID {
			return true
		}
	}
	return false
}

// UnreadFor returns the member's counter, or 0 for non-members.
func (c *Conversation) UnreadFor(userID string) int64 {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m.UnreadCount
		}
	}
	return 0
}

func (c *Conversation) IDs() []string {
	out := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		out = append(out, m.UserID)
	}
	return out
}

// Peer returns the other member of a direct conversation.
func (c *Conversation) Peer(userID string) string {
	for _, m := range c.Members {
		if m.UserID != userID {
			return m.UserID
		}
	}
	return ""
}

// DirectPairKey normalizes an unordered pair so {a,b} and {b,a} collide.
func DirectPairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
