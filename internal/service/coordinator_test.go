package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chat-sync-service/internal/models"
	"github.com/fathima-sithara/chat-sync-service/internal/notifier"
	"github.com/fathima-sithara/chat-sync-service/internal/repository"
	"github.com/fathima-sithara/chat-sync-service/internal/repository/memory"
)

func TestSendAndMarkReadScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c1 := f.direct(t, alice.ID, bob.ID)
	f.rec.Reset()

	m1 := f.send(t, alice.ID, c1.ID, "hi")
	assert.Equal(t, "hi", m1.Content)
	assert.Equal(t, "Alice Liddell", m1.SenderName)
	assert.False(t, m1.IsRead)

	stored := f.stored(t, c1.ID)
	require.NotNil(t, stored.LastMessage)
	assert.Equal(t, "hi", stored.LastMessage.ContentPreview)
	assert.Equal(t, m1.ID, stored.LastMessage.MessageID)
	assert.Equal(t, int64(1), stored.UnreadFor(bob.ID))
	assert.Equal(t, int64(0), stored.UnreadFor(alice.ID))
	assert.Equal(t, m1.SentAt, stored.UpdatedAt)

	calls := f.rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, notifier.ConversationChannel(c1.ID), calls[0].Channel)
	assert.Equal(t, notifier.EventMessageReceived, calls[0].Event)
	assert.Equal(t, notifier.ChannelConversations, calls[1].Channel)
	assert.Equal(t, notifier.EventConversationTouched, calls[1].Event)
	touched := calls[1].Payload.(notifier.ConversationTouched)
	assert.Equal(t, c1.ID, touched.ConversationID)
	assert.Equal(t, "hi", touched.ContentPreview)
	f.rec.Reset()

	require.NoError(t, f.coordinator.MarkRead(ctx, bob.ID, c1.ID))
	assert.Equal(t, int64(0), f.stored(t, c1.ID).UnreadFor(bob.ID))
	msg, err := f.msgs.Get(ctx, m1.ID)
	require.NoError(t, err)
	assert.True(t, msg.IsRead)

	// idempotent
	require.NoError(t, f.coordinator.MarkRead(ctx, bob.ID, c1.ID))
	assert.Equal(t, int64(0), f.stored(t, c1.ID).UnreadFor(bob.ID))
	assert.Empty(t, f.rec.Calls())
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.direct(t, alice.ID, bob.ID)
	other := f.direct(t, bob.ID, carol.ID)
	f.rec.Reset()

	cases := []struct {
		name string
		in   SendMessageInput
		want error
	}{
		{"empty", SendMessageInput{SenderID: alice.ID, ConversationID: c.ID}, ErrEmptyContent},
		{"whitespace", SendMessageInput{SenderID: alice.ID, ConversationID: c.ID, Content: " \n\t "}, ErrEmptyContent},
		{"too long", SendMessageInput{SenderID: alice.ID, ConversationID: c.ID, Content: strings.Repeat("x", models.MaxContentLength+1)}, ErrContentTooLong},
		{"not a member", SendMessageInput{SenderID: alice.ID, ConversationID: other.ID, Content: "hey"}, ErrNotAMember},
		{"missing conversation", SendMessageInput{SenderID: alice.ID, ConversationID: "nope", Content: "hey"}, ErrConversationNotFound},
		{"no conversation id", SendMessageInput{SenderID: alice.ID, Content: "hey"}, ErrConversationNotFound},
		{"attachment from another conversation", SendMessageInput{SenderID: alice.ID, ConversationID: c.ID, AttachmentRef: models.AttachmentPrefix(other.ID) + "obj"}, ErrForbidden},
		{"attachment outside any conversation", SendMessageInput{SenderID: alice.ID, ConversationID: c.ID, Content: "see", AttachmentRef: "avatars/u1.png"}, ErrForbidden},
		{"bare attachment prefix", SendMessageInput{SenderID: alice.ID, ConversationID: c.ID, AttachmentRef: models.AttachmentPrefix(c.ID)}, ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.coordinator.SendMessage(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, 0, f.msgs.CountFor(c.ID))
	assert.Equal(t, 0, f.msgs.CountFor(other.ID))
	assert.Empty(t, f.rec.Calls())
	assert.Nil(t, f.stored(t, c.ID).LastMessage)
}

func TestSendMessageLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.direct(t, alice.ID, bob.ID)

	m, err := f.coordinator.SendMessage(ctx, SendMessageInput{SenderID: alice.ID, ConversationID: c.ID, Content: strings.Repeat("ü", models.MaxContentLength)})
	require.NoError(t, err)
	assert.Len(t, []rune(m.Content), models.MaxContentLength)
	summary := f.stored(t, c.ID).LastMessage
	assert.Len(t, []rune(summary.ContentPreview), defaultPreviewLength)

	m, err = f.coordinator.SendMessage(ctx, SendMessageInput{SenderID: alice.ID, ConversationID: c.ID, AttachmentRef: "conversations/" + c.ID + "/photo"})
	require.NoError(t, err)
	assert.Empty(t, m.Content)
	assert.True(t, f.stored(t, c.ID).LastMessage.HasAttachment)
}

func TestConcurrentSendsKeepEveryIncrement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.resolver.CreateGroup(ctx, alice.ID, []string{bob.ID, carol.ID}, "team")
	require.NoError(t, err)

	const perSender = 25
	senders := []string{alice.ID, bob.ID, carol.ID}
	var wg sync.WaitGroup
	for _, s := range senders {
		for i := 0; i < perSender; i++ {
			wg.Add(1)
			go func(sender string) {
				defer wg.Done()
				_, err := f.coordinator.SendMessage(ctx, SendMessageInput{SenderID: sender, ConversationID: g.ID, Content: "ping"})
				assert.NoError(t, err)
			}(s)
		}
	}
	wg.Wait()

	stored := f.stored(t, g.ID)
	for _, s := range senders {
		// every message from the other two senders
		assert.Equal(t, int64(2*perSender), stored.UnreadFor(s), "unread for %s", s)
	}
	assert.Equal(t, 3*perSender, f.msgs.CountFor(g.ID))
}

func TestMarkReadRacingSends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.direct(t, alice.ID, bob.ID)

	const sends = 40
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < sends; i++ {
			_, err := f.coordinator.SendMessage(ctx, SendMessageInput{SenderID: alice.ID, ConversationID: c.ID, Content: "msg"})
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < sends/4; i++ {
			assert.NoError(t, f.coordinator.MarkRead(ctx, bob.ID, c.ID))
		}
	}()
	wg.Wait()

	page, err := f.query.ListMessages(ctx, bob.ID, c.ID, MessageListQuery{UnreadOnly: true, Limit: maxPageSize})
	require.NoError(t, err)
	// A read can flag a message whose increment lands after the reset, so
	// the counter may run ahead of the unread messages but never behind.
	assert.GreaterOrEqual(t, f.stored(t, c.ID).UnreadFor(bob.ID), page.Total)

	require.NoError(t, f.coordinator.MarkRead(ctx, bob.ID, c.ID))
	assert.Equal(t, int64(0), f.stored(t, c.ID).UnreadFor(bob.ID))
}

func TestSendMessageClampsClockSkew(t *testing.T) {
	f := newFixture(t)
	c := f.direct(t, alice.ID, bob.ID)
	first := f.send(t, alice.ID, c.ID, "first")

	f.clock.base = f.clock.base.Add(-time.Hour)
	second := f.send(t, bob.ID, c.ID, "second")
	assert.False(t, second.SentAt.Before(first.SentAt))
	assert.Equal(t, second.ID, f.stored(t, c.ID).LastMessage.MessageID)
}

func TestSendMessageStoreFailure(t *testing.T) {
	f := newFixture(t)
	c := f.direct(t, alice.ID, bob.ID)
	f.rec.Reset()

	f.msgs.Err = errors.New("connection reset")
	_, err := f.coordinator.SendMessage(context.Background(), SendMessageInput{SenderID: alice.ID, ConversationID: c.ID, Content: "hi"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Empty(t, f.rec.Calls())
	assert.Nil(t, f.stored(t, c.ID).LastMessage)
}

// vanishingStore reports the conversation gone at update time, as if it was
// deleted between the membership check and the summary write.
type vanishingStore struct {
	*memory.ConversationStore
	err error
}

func (s vanishingStore) ApplyMessage(context.Context, string, string, models.MessageSummary) error {
	return s.err
}

func TestSendMessageConversationDeletedMidway(t *testing.T) {
	f := newFixture(t)
	c := f.direct(t, alice.ID, bob.ID)
	f.rec.Reset()

	coord := NewCoordinator(vanishingStore{f.convs, repository.ErrNotFound}, f.msgs, f.users, nil, zapNop(), WithClock(f.clock.Now))
	_, err := coord.SendMessage(context.Background(), SendMessageInput{SenderID: alice.ID, ConversationID: c.ID, Content: "hi"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.Equal(t, 0, f.msgs.CountFor(c.ID))
}

func TestSendMessageUpdateFailureKeepsMessage(t *testing.T) {
	f := newFixture(t)
	c := f.direct(t, alice.ID, bob.ID)

	coord := NewCoordinator(vanishingStore{f.convs, errors.New("timeout")}, f.msgs, f.users, nil, zapNop(), WithClock(f.clock.Now))
	_, err := coord.SendMessage(context.Background(), SendMessageInput{SenderID: alice.ID, ConversationID: c.ID, Content: "hi"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 1, f.msgs.CountFor(c.ID))
}

// cancelOnInsert ends the caller's context as soon as the insert lands, like
// a request deadline firing between the two writes of a send.
type cancelOnInsert struct {
	*memory.MessageStore
	cancel context.CancelFunc
}

func (s cancelOnInsert) Insert(ctx context.Context, m *models.Message) error {
	err := s.MessageStore.Insert(ctx, m)
	s.cancel()
	return err
}

func (s cancelOnInsert) MarkAllRead(ctx context.Context, conversationID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.MessageStore.MarkAllRead(ctx, conversationID)
}

// deadlineStore fails on a done context the way the Mongo driver does.
type deadlineStore struct {
	*memory.ConversationStore
	cancelOnReset context.CancelFunc
}

func (s deadlineStore) ApplyMessage(ctx context.Context, id, senderID string, sum models.MessageSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.ConversationStore.ApplyMessage(ctx, id, senderID, sum)
}

func (s deadlineStore) ResetUnread(ctx context.Context, id, userID string) error {
	err := s.ConversationStore.ResetUnread(ctx, id, userID)
	if s.cancelOnReset != nil {
		s.cancelOnReset()
	}
	return err
}

func TestSendMessageCompletesAfterCallerCancels(t *testing.T) {
	f := newFixture(t)
	c := f.direct(t, alice.ID, bob.ID)
	f.rec.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord := NewCoordinator(deadlineStore{ConversationStore: f.convs}, cancelOnInsert{f.msgs, cancel}, f.users, notifier.NewDispatcher(f.rec, zapNop(), notifier.DispatcherConfig{}), zapNop(), WithClock(f.clock.Now))

	m, err := coord.SendMessage(ctx, SendMessageInput{SenderID: alice.ID, ConversationID: c.ID, Content: "made it"})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	assert.Equal(t, 1, f.msgs.CountFor(c.ID))
	stored := f.stored(t, c.ID)
	require.NotNil(t, stored.LastMessage)
	assert.Equal(t, m.ID, stored.LastMessage.MessageID)
	assert.Equal(t, int64(1), stored.UnreadFor(bob.ID))
	assert.Equal(t, []string{notifier.EventMessageReceived, notifier.EventConversationTouched}, f.rec.Events())
}

func TestMarkReadCompletesAfterCallerCancels(t *testing.T) {
	f := newFixture(t)
	c := f.direct(t, alice.ID, bob.ID)
	f.send(t, alice.ID, c.ID, "one")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord := NewCoordinator(deadlineStore{f.convs, cancel}, cancelOnInsert{f.msgs, cancel}, f.users, nil, zapNop(), WithClock(f.clock.Now))

	require.NoError(t, coord.MarkRead(ctx, bob.ID, c.ID))
	require.Error(t, ctx.Err())
	assert.Equal(t, int64(0), f.stored(t, c.ID).UnreadFor(bob.ID))
	page, err := f.query.ListMessages(context.Background(), bob.ID, c.ID, MessageListQuery{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestNotifierFailureDoesNotFailSend(t *testing.T) {
	f := newFixture(t)
	c := f.direct(t, alice.ID, bob.ID)
	f.rec.Err = errors.New("broker down")

	m, err := f.coordinator.SendMessage(context.Background(), SendMessageInput{SenderID: alice.ID, ConversationID: c.ID, Content: "still here"})
	require.NoError(t, err)
	assert.Equal(t, m.ID, f.stored(t, c.ID).LastMessage.MessageID)
	assert.Len(t, f.rec.Calls(), 3)
}

func TestMarkReadErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.direct(t, alice.ID, bob.ID)

	assert.ErrorIs(t, f.coordinator.MarkRead(ctx, carol.ID, c.ID), ErrNotAMember)
	assert.ErrorIs(t, f.coordinator.MarkRead(ctx, alice.ID, "missing"), ErrConversationNotFound)
}

func TestToggleArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.direct(t, alice.ID, bob.ID)
	f.rec.Reset()

	archived, err := f.coordinator.ToggleArchive(ctx, alice.ID, c.ID)
	require.NoError(t, err)
	assert.True(t, archived)
	// shared by every member
	assert.True(t, f.stored(t, c.ID).IsArchived)

	archived, err = f.coordinator.ToggleArchive(ctx, bob.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, archived)

	_, err = f.coordinator.ToggleArchive(ctx, carol.ID, c.ID)
	assert.ErrorIs(t, err, ErrNotAMember)
	assert.Empty(t, f.rec.Calls())
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.resolver.CreateGroup(ctx, alice.ID, []string{bob.ID, carol.ID}, "team")
	require.NoError(t, err)
	f.send(t, alice.ID, g.ID, "one")
	f.send(t, bob.ID, g.ID, "two")

	assert.ErrorIs(t, f.coordinator.DeleteConversation(ctx, dave.ID, g.ID), ErrNotAMember)

	// any member, admin or not
	require.NoError(t, f.coordinator.DeleteConversation(ctx, carol.ID, g.ID))
	assert.Equal(t, 0, f.msgs.CountFor(g.ID))
	_, err = f.convs.Get(ctx, g.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	events := f.rec.Events()
	assert.Equal(t, notifier.EventConversationDeleted, events[len(events)-1])
	last := f.rec.Calls()[len(events)-1]
	assert.Equal(t, notifier.ConversationChannel(g.ID), last.Channel)
	assert.Equal(t, notifier.ConversationDeleted{ConversationID: g.ID, DeletedBy: carol.ID}, last.Payload)

	assert.ErrorIs(t, f.coordinator.DeleteConversation(ctx, carol.ID, g.ID), ErrConversationNotFound)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.direct(t, alice.ID, bob.ID)
	keep := f.send(t, alice.ID, c.ID, "keep me")
	gone := f.send(t, alice.ID, c.ID, "oops")
	f.rec.Reset()

	assert.ErrorIs(t, f.coordinator.DeleteMessage(ctx, bob.ID, gone.ID), ErrForbidden)
	assert.ErrorIs(t, f.coordinator.DeleteMessage(ctx, alice.ID, "missing"), ErrMessageNotFound)
	assert.ErrorIs(t, f.coordinator.DeleteMessage(ctx, alice.ID, ""), ErrMessageNotFound)
	assert.Empty(t, f.rec.Calls())

	require.NoError(t, f.coordinator.DeleteMessage(ctx, alice.ID, gone.ID))
	calls := f.rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, notifier.ConversationChannel(c.ID), calls[0].Channel)
	assert.Equal(t, notifier.EventMessageDeleted, calls[0].Event)
	assert.Equal(t, gone.ID, calls[0].Payload.(notifier.MessageDeleted).MessageID)

	// second delete is a quiet success
	require.NoError(t, f.coordinator.DeleteMessage(ctx, alice.ID, gone.ID))
	assert.Len(t, f.rec.Calls(), 1)

	page, err := f.query.ListMessages(ctx, bob.ID, c.ID, MessageListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, keep.ID, page.Messages[0].ID)
	assert.Equal(t, int64(1), page.Total)

	page, err = f.query.ListMessages(ctx, bob.ID, c.ID, MessageListQuery{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, int64(2), page.Total)
	assert.True(t, page.Messages[0].Removed)
	assert.Empty(t, page.Messages[0].Content)

	view, err := f.query.Conversation(ctx, bob.ID, c.ID)
	require.NoError(t, err)
	require.NotNil(t, view.LastMessage)
	assert.True(t, view.LastMessage.Deleted)
	assert.Empty(t, view.LastMessage.ContentPreview)
}

type fakeSigner struct{}

func (fakeSigner) UploadURL(_ context.Context, conversationID, _ string) (*AttachmentUpload, error) {
	return &AttachmentUpload{URL: "https://s3.test/put", Key: "conversations/" + conversationID + "/obj"}, nil
}

func (fakeSigner) DownloadURL(_ context.Context, ref string) (string, error) {
	return "https://s3.test/get/" + ref, nil
}

func TestAttachments(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	c := f.direct(t, alice.ID, bob.ID)
	_, err := f.coordinator.AttachmentUploadURL(ctx, alice.ID, c.ID, "image/png")
	assert.ErrorIs(t, err, ErrAttachmentsDisabled)

	f = newFixture(t, WithAttachments(fakeSigner{}))
	c = f.direct(t, alice.ID, bob.ID)
	up, err := f.coordinator.AttachmentUploadURL(ctx, alice.ID, c.ID, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "conversations/"+c.ID+"/obj", up.Key)

	_, err = f.coordinator.AttachmentUploadURL(ctx, carol.ID, c.ID, "image/png")
	assert.ErrorIs(t, err, ErrNotAMember)

	url, err := f.coordinator.AttachmentDownloadURL(ctx, bob.ID, c.ID, up.Key)
	require.NoError(t, err)
	assert.Contains(t, url, up.Key)

	_, err = f.coordinator.AttachmentDownloadURL(ctx, bob.ID, c.ID, "conversations/other/obj")
	assert.ErrorIs(t, err, ErrForbidden)
}
