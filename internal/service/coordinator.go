package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-sync-service/internal/metrics"
	"github.com/fathima-sithara/chat-sync-service/internal/models"
	"github.com/fathima-sithara/chat-sync-service/internal/notifier"
	"github.com/fathima-sithara/chat-sync-service/internal/repository"
)

// Coordinator applies message and conversation state transitions. Each
// operation commits to the stores first and only then notifies.
type Coordinator struct {
	convs  repository.ConversationStore
	msgs   repository.MessageStore
	users  repository.UserDirectory
	notify Notifier
	log    *zap.Logger
	settings
}

func NewCoordinator(convs repository.ConversationStore, msgs repository.MessageStore, users repository.UserDirectory, n Notifier, log *zap.Logger, opts ...Option) *Coordinator {
	return &Coordinator{convs: convs, msgs: msgs, users: users, notify: orNop(n), log: log, settings: newSettings(opts)}
}

type SendMessageInput struct {
	SenderID       string
	ConversationID string
	Content        string
	AttachmentRef  string
}

func (c *Coordinator) SendMessage(ctx context.Context, in SendMessageInput) (*MessageView, error) {
	conv, err := loadMembership(ctx, c.convs, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(in.Content)
	attachment := strings.TrimSpace(in.AttachmentRef)
	if content == "" && attachment == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > models.MaxContentLength {
		return nil, ErrContentTooLong
	}
	if attachment != "" && !ownsAttachment(conv.ID, attachment) {
		return nil, ErrForbidden
	}
	senders, err := c.users.Lookup(ctx, []string{in.SenderID})
	if err != nil {
		return nil, storeErr(err)
	}

	sentAt := c.timestamp()
	// Keep sent_at non-decreasing within the conversation even if this
	// instance's clock trails the one that wrote the current summary.
	if conv.LastMessage != nil && sentAt.Before(conv.LastMessage.SentAt) {
		sentAt = conv.LastMessage.SentAt
	}
	msg := &models.Message{
		ID:             c.newID(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Content:        content,
		AttachmentRef:  attachment,
		SentAt:         sentAt,
	}
	if err := c.msgs.Insert(ctx, msg); err != nil {
		return nil, storeErr(err)
	}

	// The message is committed; from here the caller's deadline no longer
	// applies, or a timeout would leave it without a summary or counters.
	commitCtx, cancel := c.committed(ctx)
	defer cancel()
	summary := msg.Summary(c.previewLen)
	if err := c.convs.ApplyMessage(commitCtx, conv.ID, in.SenderID, summary); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// The conversation was deleted, or the sender removed, between the
			// membership check and the update. Nothing references msg yet.
			c.discard(commitCtx, msg.ID)
			return nil, ErrConversationNotFound
		}
		// The update may or may not have been applied; undoing the insert could
		// leave the summary pointing at a missing message, so leave it.
		c.log.Error("conversation update failed after message insert",
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return nil, storeErr(err)
	}
	metrics.MessagesSent.Inc()

	senderName := senders[in.SenderID].DisplayName()
	view := renderMessage(msg, senderName)
	c.notify.Notify(commitCtx, notifier.ConversationChannel(conv.ID), notifier.EventMessageReceived, view)
	c.notify.Notify(commitCtx, notifier.ChannelConversations, notifier.EventConversationTouched, notifier.ConversationTouched{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		SenderName:     senderName,
		ContentPreview: summary.ContentPreview,
		SentAt:         &msg.SentAt,
	})
	return &view, nil
}

func (c *Coordinator) discard(ctx context.Context, messageID string) {
	if err := c.msgs.Delete(ctx, messageID); err != nil {
		c.log.Warn("discard orphaned message", zap.String("message_id", messageID), zap.Error(err))
	}
}

// MarkRead flags every unread message in the conversation and zeroes the
// caller's counter. Calling it again is a no-op.
func (c *Coordinator) MarkRead(ctx context.Context, userID, conversationID string) error {
	conv, err := loadMembership(ctx, c.convs, conversationID, userID)
	if err != nil {
		return err
	}
	// Reset before flagging: a send racing this call then leaves the counter
	// at or above the number of unread messages, never below it.
	if err := c.convs.ResetUnread(ctx, conv.ID, userID); err != nil {
		return mapNotFound(err, ErrConversationNotFound)
	}
	commitCtx, cancel := c.committed(ctx)
	defer cancel()
	if _, err := c.msgs.MarkAllRead(commitCtx, conv.ID); err != nil {
		return storeErr(err)
	}
	return nil
}

// ToggleArchive flips the conversation-wide archive flag and returns the new
// value. The flag is shared by all members.
func (c *Coordinator) ToggleArchive(ctx context.Context, userID, conversationID string) (bool, error) {
	conv, err := loadMembership(ctx, c.convs, conversationID, userID)
	if err != nil {
		return false, err
	}
	archived, err := c.convs.ToggleArchive(ctx, conv.ID)
	if err != nil {
		return false, mapNotFound(err, ErrConversationNotFound)
	}
	return archived, nil
}

// DeleteConversation removes the conversation and every message it owns. Any
// member may do this, group admin or not.
func (c *Coordinator) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	conv, err := loadMembership(ctx, c.convs, conversationID, userID)
	if err != nil {
		return err
	}
	if _, err := c.msgs.DeleteByConversation(ctx, conv.ID); err != nil {
		return storeErr(err)
	}
	commitCtx, cancel := c.committed(ctx)
	defer cancel()
	if err := c.convs.Delete(commitCtx, conv.ID); err != nil {
		return mapNotFound(err, ErrConversationNotFound)
	}
	// A send that inserted between the first sweep and the delete would
	// otherwise leave an orphan behind.
	if n, err := c.msgs.DeleteByConversation(commitCtx, conv.ID); err != nil {
		c.log.Warn("second message sweep failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	} else if n > 0 {
		c.log.Info("swept late messages", zap.String("conversation_id", conv.ID), zap.Int64("count", n))
	}

	c.notify.Notify(commitCtx, notifier.ConversationChannel(conv.ID), notifier.EventConversationDeleted, notifier.ConversationDeleted{
		ConversationID: conv.ID,
		DeletedBy:      userID,
	})
	return nil
}

// DeleteMessage tombstones a message. Only its sender may do so; deleting an
// already removed message succeeds without a second event.
func (c *Coordinator) DeleteMessage(ctx context.Context, userID, messageID string) error {
	if messageID == "" {
		return ErrMessageNotFound
	}
	msg, err := c.msgs.Get(ctx, messageID)
	if err != nil {
		return mapNotFound(err, ErrMessageNotFound)
	}
	if msg.SenderID != userID {
		return ErrForbidden
	}
	if msg.IsDeleted {
		return nil
	}
	if err := c.msgs.SoftDelete(ctx, msg.ID); err != nil {
		return mapNotFound(err, ErrMessageNotFound)
	}
	commitCtx, cancel := c.committed(ctx)
	defer cancel()
	if err := c.convs.MarkSummaryDeleted(commitCtx, msg.ConversationID, msg.ID); err != nil {
		c.log.Warn("mark summary deleted", zap.String("conversation_id", msg.ConversationID), zap.String("message_id", msg.ID), zap.Error(err))
	}

	c.notify.Notify(commitCtx, notifier.ConversationChannel(msg.ConversationID), notifier.EventMessageDeleted, notifier.MessageDeleted{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
	})
	return nil
}

// AttachmentUploadURL presigns an upload the caller can reference in a later
// SendMessage as AttachmentRef.
func (c *Coordinator) AttachmentUploadURL(ctx context.Context, userID, conversationID, contentType string) (*AttachmentUpload, error) {
	if c.attachments == nil {
		return nil, ErrAttachmentsDisabled
	}
	conv, err := loadMembership(ctx, c.convs, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return c.attachments.UploadURL(ctx, conv.ID, contentType)
}

// AttachmentDownloadURL presigns a read of ref. Refs are scoped to the
// conversation they were uploaded for.
func (c *Coordinator) AttachmentDownloadURL(ctx context.Context, userID, conversationID, ref string) (string, error) {
	if c.attachments == nil {
		return "", ErrAttachmentsDisabled
	}
	conv, err := loadMembership(ctx, c.convs, conversationID, userID)
	if err != nil {
		return "", err
	}
	if !ownsAttachment(conv.ID, ref) {
		return "", ErrForbidden
	}
	return c.attachments.DownloadURL(ctx, ref)
}

func ownsAttachment(conversationID, ref string) bool {
	prefix := models.AttachmentPrefix(conversationID)
	return len(ref) > len(prefix) && strings.HasPrefix(ref, prefix)
}
