package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fathima-sithara/chat-sync-service/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

type ConversationFilter struct {
	// Archived restricts the listing to one archive state when set.
	Archived *bool
	Limit    int64
}

type MessageQuery struct {
	Page           int64
	Limit          int64
	UnreadOnly     bool
	IncludeDeleted bool
}

type UserQuery struct {
	ExcludeID string
	Search    string
	Page      int64
	Limit     int64
}

// ConversationStore owns conversation documents. Every mutating method is a
// single atomic document update.
type ConversationStore interface {
	// Create inserts c. A direct conversation whose PairKey already exists
	// fails with ErrDuplicate.
	Create(ctx context.Context, c *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	FindDirect(ctx context.Context, pairKey string) (*models.Conversation, error)
	ListForMember(ctx context.Context, userID string, f ConversationFilter) ([]*models.Conversation, error)
	// ApplyMessage increments the unread counter of every member except
	// senderID and replaces the last-message summary unless a newer one is
	// already stored. Returns ErrNotFound when the conversation is gone or
	// senderID is no longer a member.
	ApplyMessage(ctx context.Context, id, senderID string, s models.MessageSummary) error
	ResetUnread(ctx context.Context, id, userID string) error
	ToggleArchive(ctx context.Context, id string) (bool, error)
	AddMembers(ctx context.Context, id string, userIDs []string, at time.Time) error
	MarkSummaryDeleted(ctx context.Context, id, messageID string) error
	Delete(ctx context.Context, id string) error
}

type MessageStore interface {
	Insert(ctx context.Context, m *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	// List returns one page, newest first, and the total matching the same filter.
	List(ctx context.Context, conversationID string, q MessageQuery) ([]*models.Message, int64, error)
	MarkAllRead(ctx context.Context, conversationID string) (int64, error)
	SoftDelete(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteByConversation(ctx context.Context, conversationID string) (int64, error)
}

// UserDirectory is a read-only view over the externally owned user records.
type UserDirectory interface {
	// ResolveActive returns the subset of ids that exist and are active.
	ResolveActive(ctx context.Context, ids []string) (map[string]models.User, error)
	Lookup(ctx context.Context, ids []string) (map[string]models.User, error)
	ListActive(ctx context.Context, q UserQuery) ([]models.User, int64, error)
}

// Skip converts a 1-based page into an offset.
func Skip(page, limit int64) int64 {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}
