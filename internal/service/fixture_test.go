package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-sync-service/internal/models"
	"github.com/fathima-sithara/chat-sync-service/internal/notifier"
	"github.com/fathima-sithara/chat-sync-service/internal/notifier/notifiertest"
	"github.com/fathima-sithara/chat-sync-service/internal/repository/memory"
)

var (
	alice = models.User{ID: "u1", FirstName: "Alice", LastName: "Liddell", Email: "alice@example.com", Active: true}
	bob   = models.User{ID: "u2", FirstName: "Bob", LastName: "Builder", Email: "bob@example.com", Active: true}
	carol = models.User{ID: "u3", FirstName: "Carol", LastName: "Danvers", Email: "carol@example.com", Active: true}
	dave  = models.User{ID: "u4", FirstName: "Dave", LastName: "Gone", Email: "dave@example.com", Active: false}
)

// tickClock advances one millisecond per reading so every timestamp is distinct.
type tickClock struct {
	base  time.Time
	ticks atomic.Int64
}

func (c *tickClock) Now() time.Time {
	return c.base.Add(time.Duration(c.ticks.Add(1)) * time.Millisecond)
}

type fixture struct {
	convs *memory.ConversationStore
	msgs  *memory.MessageStore
	users *memory.UserDirectory
	rec   *notifiertest.Recorder
	clock *tickClock

	resolver    *Resolver
	coordinator *Coordinator
	query       *QueryService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		convs: memory.NewConversationStore(),
		msgs:  memory.NewMessageStore(),
		users: memory.NewUserDirectory(alice, bob, carol, dave),
		rec:   &notifiertest.Recorder{},
		clock: &tickClock{base: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	log := zap.NewNop()
	// inline dispatch keeps event order observable
	d := notifier.NewDispatcher(f.rec, log, notifier.DispatcherConfig{})
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.resolver = NewResolver(f.convs, f.users, d, log, opts...)
	f.coordinator = NewCoordinator(f.convs, f.msgs, f.users, d, log, opts...)
	f.query = NewQueryService(f.convs, f.msgs, f.users, log, opts...)
	return f
}

func (f *fixture) direct(t *testing.T, a, b string) *models.Conversation {
	t.Helper()
	c, _, err := f.resolver.FindOrCreateDirect(context.Background(), a, b)
	if err != nil {
		t.Fatalf("find or create direct %s/%s: %v", a, b, err)
	}
	return c
}

func (f *fixture) send(t *testing.T, sender, convID, content string) *MessageView {
	t.Helper()
	m, err := f.coordinator.SendMessage(context.Background(), SendMessageInput{SenderID: sender, ConversationID: convID, Content: content})
	if err != nil {
		t.Fatalf("send %q: %v", content, err)
	}
	return m
}

func (f *fixture) stored(t *testing.T, id string) *models.Conversation {
	t.Helper()
	c, err := f.convs.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get conversation %s: %v", id, err)
	}
	return c
}

func zapNop() *zap.Logger { return zap.NewNop() }
