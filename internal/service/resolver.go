package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-sync-service/internal/metrics"
	"github.com/fathima-sithara/chat-sync-service/internal/models"
	"github.com/fathima-sithara/chat-sync-service/internal/notifier"
	"github.com/fathima-sithara/chat-sync-service/internal/repository"
)

// Resolver finds or creates conversations for a requested member set.
type Resolver struct {
	convs  repository.ConversationStore
	users  repository.UserDirectory
	notify Notifier
	log    *zap.Logger
	settings
}

func NewResolver(convs repository.ConversationStore, users repository.UserDirectory, n Notifier, log *zap.Logger, opts ...Option) *Resolver {
	return &Resolver{convs: convs, users: users, notify: orNop(n), log: log, settings: newSettings(opts)}
}

// FindOrCreateDirect returns the single direct conversation between the two
// users, creating it on first use. created reports whether this call made it.
func (r *Resolver) FindOrCreateDirect(ctx context.Context, requesterID, peerID string) (conv *models.Conversation, created bool, err error) {
	if peerID == "" {
		return nil, false, ErrInvalidMember
	}
	if peerID == requesterID {
		return nil, false, ErrSelfReference
	}
	if err := r.requireActive(ctx, []string{peerID}); err != nil {
		return nil, false, err
	}

	key := models.DirectPairKey(requesterID, peerID)
	existing, err := r.convs.FindDirect(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, storeErr(err)
	}

	now := r.timestamp()
	c := &models.Conversation{
		ID:        r.newID(),
		PairKey:   key,
		Members:   []models.Member{{UserID: requesterID}, {UserID: peerID}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.convs.Create(ctx, c); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, false, storeErr(err)
		}
		// Lost the race: the unique pair key means the winner's row exists.
		winner, ferr := r.convs.FindDirect(ctx, key)
		if ferr != nil {
			return nil, false, storeErr(ferr)
		}
		return winner, false, nil
	}

	metrics.ConversationsCreated.WithLabelValues("direct").Inc()
	r.log.Debug("direct conversation created", zap.String("conversation_id", c.ID), zap.String("requester", requesterID))
	r.notify.Notify(ctx, notifier.ChannelConversations, notifier.EventConversationCreated, notifier.ConversationCreated{
		ConversationID: c.ID,
		CreatedBy:      requesterID,
	})
	return c, true, nil
}

// CreateGroup always creates a new conversation; groups are never matched
// against existing ones. The requester is added when missing and becomes the
// only admin.
func (r *Resolver) CreateGroup(ctx context.Context, requesterID string, memberIDs []string, groupName string) (*models.Conversation, error) {
	name := strings.TrimSpace(groupName)
	if name == "" || utf8.RuneCountInString(name) > models.MaxGroupNameLength {
		return nil, ErrInvalidGroupName
	}

	ids, err := memberSet(requesterID, memberIDs)
	if err != nil {
		return nil, err
	}
	if len(ids) < 2 {
		return nil, ErrGroupTooSmall
	}
	if err := r.requireActive(ctx, ids); err != nil {
		return nil, err
	}

	now := r.timestamp()
	members := make([]models.Member, 0, len(ids))
	for _, id := range ids {
		members = append(members, models.Member{UserID: id})
	}
	c := &models.Conversation{
		ID:          r.newID(),
		IsGroup:     true,
		GroupName:   name,
		GroupAdmins: []string{requesterID},
		Members:     members,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.convs.Create(ctx, c); err != nil {
		return nil, storeErr(err)
	}

	metrics.ConversationsCreated.WithLabelValues("group").Inc()
	r.log.Debug("group conversation created", zap.String("conversation_id", c.ID), zap.Int("members", len(members)))
	r.notify.Notify(ctx, notifier.ChannelConversations, notifier.EventConversationCreated, notifier.ConversationCreated{
		ConversationID: c.ID,
		IsGroup:        true,
		GroupName:      c.GroupName,
		CreatedBy:      requesterID,
	})
	return c, nil
}

// AddMembers grows a group. Only admins may add; existing members are skipped.
func (r *Resolver) AddMembers(ctx context.Context, requesterID, conversationID string, memberIDs []string) (*models.Conversation, error) {
	c, err := loadMembership(ctx, r.convs, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if !c.IsGroup {
		return nil, ErrNotGroup
	}
	if !c.IsAdmin(requesterID) {
		return nil, ErrForbidden
	}

	var add []string
	seen := map[string]bool{}
	for _, id := range memberIDs {
		if id == "" {
			return nil, ErrInvalidMember
		}
		if seen[id] || c.HasMember(id) {
			continue
		}
		seen[id] = true
		add = append(add, id)
	}
	if len(add) == 0 {
		return c, nil
	}
	if err := r.requireActive(ctx, add); err != nil {
		return nil, err
	}
	if err := r.convs.AddMembers(ctx, c.ID, add, r.timestamp()); err != nil {
		return nil, mapNotFound(err, ErrConversationNotFound)
	}
	updated, err := r.convs.Get(ctx, c.ID)
	if err != nil {
		return nil, mapNotFound(err, ErrConversationNotFound)
	}

	r.notify.Notify(ctx, notifier.ChannelConversations, notifier.EventConversationTouched, notifier.ConversationTouched{
		ConversationID: c.ID,
	})
	return updated, nil
}

func (r *Resolver) requireActive(ctx context.Context, ids []string) error {
	active, err := r.users.ResolveActive(ctx, ids)
	if err != nil {
		return storeErr(err)
	}
	for _, id := range ids {
		if _, ok := active[id]; !ok {
			return fmt.Errorf("%w: %s", ErrInvalidMember, id)
		}
	}
	return nil
}

// memberSet dedupes ids, keeping first-seen order with the requester first.
func memberSet(requesterID string, ids []string) ([]string, error) {
	out := []string{requesterID}
	seen := map[string]bool{requesterID: true}
	for _, id := range ids {
		if id == "" {
			return nil, ErrInvalidMember
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
