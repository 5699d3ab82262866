package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-sync-service/internal/metrics"
	"github.com/fathima-sithara/chat-sync-service/internal/middleware"
	"github.com/fathima-sithara/chat-sync-service/internal/service"
	"github.com/fathima-sithara/chat-sync-service/internal/ws"
)

type Deps struct {
	Logger         *zap.Logger
	Tokens         middleware.TokenValidator
	Resolver       *service.Resolver
	Coordinator    *service.Coordinator
	Query          *service.QueryService
	RequestTimeout time.Duration

	// Optional.
	WS          *ws.Handler
	IPLimiter   *middleware.IPRateLimiter
	SendLimiter *middleware.RedisRateLimiter
	Health      func(ctx context.Context) error
}

func NewServer(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler(d.Logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ZapLogger(d.Logger))
	if d.IPLimiter != nil {
		app.Use(d.IPLimiter.Handler())
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if d.WS != nil {
		app.Get("/ws", d.WS.Upgrade(), d.WS.Serve())
	}

	h := NewHandlers(d.Resolver, d.Coordinator, d.Query, d.RequestTimeout)
	v1 := app.Group("/api/v1", middleware.JWT(d.Tokens, d.Logger))

	v1.Get("/users", h.listUsers)

	v1.Post("/conversations/direct", h.findOrCreateDirect)
	v1.Post("/conversations/group", h.createGroup)
	v1.Get("/conversations", h.listConversations)
	v1.Get("/conversations/:id", h.getConversation)
	v1.Delete("/conversations/:id", h.deleteConversation)
	v1.Post("/conversations/:id/read", h.markRead)
	v1.Post("/conversations/:id/archive", h.toggleArchive)
	v1.Post("/conversations/:id/members", h.addMembers)
	v1.Post("/conversations/:id/attachments", h.attachmentUploadURL)
	v1.Get("/conversations/:id/attachments", h.attachmentDownloadURL)
	v1.Get("/conversations/:id/messages", h.listMessages)
	if d.SendLimiter != nil {
		v1.Post("/conversations/:id/messages", d.SendLimiter.PerCaller(), h.sendMessage)
	} else {
		v1.Post("/conversations/:id/messages", h.sendMessage)
	}
	v1.Delete("/messages/:id", h.deleteMessage)

	return app
}
