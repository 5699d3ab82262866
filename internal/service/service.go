package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fathima-sithara/chat-sync-service/internal/models"
	"github.com/fathima-sithara/chat-sync-service/internal/repository"
)

const (
	defaultPreviewLength = 100
	defaultCommitTimeout = 10 * time.Second
)

// Notifier is the best-effort publish side. Implementations must not block
// on transport failures and never report them.
type Notifier interface {
	Notify(ctx context.Context, channel, event string, payload any)
}

type PresenceReader interface {
	Online(ctx context.Context, ids []string) (map[string]bool, error)
}

type AttachmentUpload struct {
	URL       string    `json:"url"`
	Key       string    `json:"attachmentRef"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type AttachmentSigner interface {
	UploadURL(ctx context.Context, conversationID, contentType string) (*AttachmentUpload, error)
	DownloadURL(ctx context.Context, ref string) (string, error)
}

type settings struct {
	now        func() time.Time
	newID      func() string
	previewLen int
	// commitTimeout bounds the writes that follow a committed insert. They run
	// detached from the caller so a request deadline cannot split them.
	commitTimeout time.Duration
	presence      PresenceReader
	attachments   AttachmentSigner
}

type Option func(*settings)

func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func WithIDGenerator(f func() string) Option {
	return func(s *settings) { s.newID = f }
}

func WithCommitTimeout(d time.Duration) Option {
	return func(s *settings) { s.commitTimeout = d }
}

func WithPresence(p PresenceReader) Option {
	return func(s *settings) { s.presence = p }
}

func WithAttachments(a AttachmentSigner) Option {
	return func(s *settings) { s.attachments = a }
}

func newSettings(opts []Option) settings {
	s := settings{
		now:           time.Now,
		newID:         uuid.NewString,
		previewLen:    defaultPreviewLength,
		commitTimeout: defaultCommitTimeout,
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

// timestamp truncates to the millisecond resolution the document store keeps.
func (s settings) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// committed derives the context for writes that must finish once an earlier
// write of the same operation has landed.
func (s settings) committed(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.commitTimeout
	if d <= 0 {
		d = defaultCommitTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

// loadMembership fetches a conversation and checks the caller belongs to it.
// Not-found takes precedence over not-a-member.
func loadMembership(ctx context.Context, convs repository.ConversationStore, conversationID, userID string) (*models.Conversation, error) {
	if conversationID == "" {
		return nil, ErrConversationNotFound
	}
	c, err := convs.Get(ctx, conversationID)
	if err != nil {
		return nil, mapNotFound(err, ErrConversationNotFound)
	}
	if !c.HasMember(userID) {
		return nil, ErrNotAMember
	}
	return c, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string, any) {}

func orNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}
