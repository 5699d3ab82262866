package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-sync-service/internal/models"
	"github.com/fathima-sithara/chat-sync-service/internal/repository"
)

const (
	defaultMessagePageSize = 20
	defaultUserPageSize    = 50
	maxPageSize            = 100
)

// QueryService serves the read side: conversation lists, message pages and
// the active-user directory.
type QueryService struct {
	convs repository.ConversationStore
	msgs  repository.MessageStore
	users repository.UserDirectory
	log   *zap.Logger
	settings
}

func NewQueryService(convs repository.ConversationStore, msgs repository.MessageStore, users repository.UserDirectory, log *zap.Logger, opts ...Option) *QueryService {
	return &QueryService{convs: convs, msgs: msgs, users: users, log: log, settings: newSettings(opts)}
}

type ConversationListQuery struct {
	Search   string
	Archived *bool
}

func (q *QueryService) ListConversations(ctx context.Context, userID string, lq ConversationListQuery) ([]ConversationView, error) {
	convs, err := q.convs.ListForMember(ctx, userID, repository.ConversationFilter{Archived: lq.Archived})
	if err != nil {
		return nil, storeErr(err)
	}
	users, err := q.users.Lookup(ctx, memberIDs(convs))
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		v := renderConversation(c, userID, users)
		if matchesSearch(v, lq.Search) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (q *QueryService) Conversation(ctx context.Context, userID, conversationID string) (*ConversationView, error) {
	c, err := loadMembership(ctx, q.convs, conversationID, userID)
	if err != nil {
		return nil, err
	}
	users, err := q.users.Lookup(ctx, c.IDs())
	if err != nil {
		return nil, storeErr(err)
	}
	v := renderConversation(c, userID, users)
	return &v, nil
}

type MessageListQuery struct {
	Page       int64
	Limit      int64
	UnreadOnly bool
	// IncludeDeleted renders tombstones as removed instead of skipping them.
	IncludeDeleted bool
}

type MessagePage struct {
	Messages []MessageView `json:"messages"`
	Page     int64         `json:"page"`
	Limit    int64         `json:"limit"`
	Total    int64         `json:"total"`
	HasMore  bool          `json:"hasMore"`
}

// ListMessages returns one page, newest first. Total counts the same filter
// as the page, so tombstones are excluded from both by default.
func (q *QueryService) ListMessages(ctx context.Context, userID, conversationID string, mq MessageListQuery) (*MessagePage, error) {
	c, err := loadMembership(ctx, q.convs, conversationID, userID)
	if err != nil {
		return nil, err
	}
	page, limit := normalizePage(mq.Page, mq.Limit, defaultMessagePageSize)
	msgs, total, err := q.msgs.List(ctx, c.ID, repository.MessageQuery{
		Page:           page,
		Limit:          limit,
		UnreadOnly:     mq.UnreadOnly,
		IncludeDeleted: mq.IncludeDeleted,
	})
	if err != nil {
		return nil, storeErr(err)
	}

	senderIDs := make([]string, 0, len(msgs))
	seen := map[string]bool{}
	for _, m := range msgs {
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			senderIDs = append(senderIDs, m.SenderID)
		}
	}
	users, err := q.users.Lookup(ctx, senderIDs)
	if err != nil {
		return nil, storeErr(err)
	}

	out := &MessagePage{Messages: make([]MessageView, 0, len(msgs)), Page: page, Limit: limit, Total: total}
	for _, m := range msgs {
		out.Messages = append(out.Messages, renderMessage(m, users[m.SenderID].DisplayName()))
	}
	out.HasMore = page*limit < total
	return out, nil
}

type UserListQuery struct {
	Search string
	Page   int64
	Limit  int64
}

type UserView struct {
	ID          string `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	AccountName string `json:"accountName,omitempty"`
	Online      bool   `json:"online"`
}

type UserPage struct {
	Users []UserView `json:"users"`
	Page  int64      `json:"page"`
	Limit int64      `json:"limit"`
	Total int64      `json:"total"`
}

// ListActiveUsers lists active users other than the caller, for starting a chat.
func (q *QueryService) ListActiveUsers(ctx context.Context, userID string, uq UserListQuery) (*UserPage, error) {
	page, limit := normalizePage(uq.Page, uq.Limit, defaultUserPageSize)
	users, total, err := q.users.ListActive(ctx, repository.UserQuery{
		ExcludeID: userID,
		Search:    uq.Search,
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		return nil, storeErr(err)
	}

	online := map[string]bool{}
	if q.presence != nil && len(users) > 0 {
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		if online, err = q.presence.Online(ctx, ids); err != nil {
			q.log.Warn("presence lookup failed", zap.Error(err))
			online = map[string]bool{}
		}
	}

	out := &UserPage{Users: make([]UserView, 0, len(users)), Page: page, Limit: limit, Total: total}
	for _, u := range users {
		out.Users = append(out.Users, UserView{
			ID:          u.ID,
			FirstName:   u.FirstName,
			LastName:    u.LastName,
			DisplayName: u.DisplayName(),
			Email:       u.Email,
			AccountName: u.AccountName,
			Online:      online[u.ID],
		})
	}
	return out, nil
}

// IsMember reports whether userID may follow the conversation's channel.
func (q *QueryService) IsMember(ctx context.Context, userID, conversationID string) (bool, error) {
	_, err := loadMembership(ctx, q.convs, conversationID, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrNotAMember):
		return false, nil
	default:
		return false, err
	}
}

// MemberIDs lists who may see list-level events for the conversation. A
// missing conversation has no audience.
func (q *QueryService) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	c, err := q.convs.Get(ctx, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return c.IDs(), nil
}

func normalizePage(page, limit, def int64) (int64, int64) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = def
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

func memberIDs(convs []*models.Conversation) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range convs {
		for _, m := range c.Members {
			if !seen[m.UserID] {
				seen[m.UserID] = true
				out = append(out, m.UserID)
			}
		}
	}
	return out
}
