package service

import (
	"errors"
	"fmt"

	"github.com/fathima-sithara/chat-sync-service/internal/repository"
)

// Validation errors. Always returned before any mutation.
var (
	ErrInvalidMember    = errors.New("invalid member")
	ErrSelfReference    = errors.New("cannot start a conversation with yourself")
	ErrInvalidGroupName = errors.New("group name must be 1 to 50 characters")
	ErrGroupTooSmall    = errors.New("a group needs at least one member besides the creator")
	ErrEmptyContent     = errors.New("message needs content or an attachment")
	ErrContentTooLong   = errors.New("message content exceeds 1000 characters")
)

// Existence and authorization errors.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotAMember           = errors.New("not a member of this conversation")
	ErrMessageNotFound      = errors.New("message not found")
	ErrForbidden            = errors.New("forbidden")
	ErrNotGroup             = errors.New("operation requires a group conversation")
)

var (
	// ErrStoreUnavailable wraps transient store failures. Retryable by the
	// caller; the core never retries writes itself.
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrAttachmentsDisabled = errors.New("attachments are not configured")
)

func storeErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// mapNotFound translates repository.ErrNotFound into the domain error and
// everything else into ErrStoreUnavailable.
func mapNotFound(err, notFound error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return storeErr(err)
}
