package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-sync-service/internal/service"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidMember),
		errors.Is(err, service.ErrSelfReference),
		errors.Is(err, service.ErrInvalidGroupName),
		errors.Is(err, service.ErrGroupTooSmall),
		errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrContentTooLong),
		errors.Is(err, service.ErrNotGroup):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrNotAMember), errors.Is(err, service.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, service.ErrConversationNotFound), errors.Is(err, service.ErrMessageNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrAttachmentsDisabled):
		return fiber.StatusNotImplemented
	case errors.Is(err, service.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// errorHandler renders every error as {"error": "..."}. Store details stay in
// the log, never in the response.
func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		code := statusFor(err)
		msg := err.Error()
		switch code {
		case fiber.StatusServiceUnavailable:
			log.Warn("store unavailable", zap.String("path", c.Path()), zap.Error(err))
			msg = service.ErrStoreUnavailable.Error()
		case fiber.StatusInternalServerError:
			log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
			msg = "internal error"
		}
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}
