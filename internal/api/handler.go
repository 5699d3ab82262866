package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/chat-sync-service/internal/middleware"
	"github.com/fathima-sithara/chat-sync-service/internal/models"
	"github.com/fathima-sithara/chat-sync-service/internal/service"
)

type Handlers struct {
	resolver    *service.Resolver
	coordinator *service.Coordinator
	query       *service.QueryService
	timeout     time.Duration
}

func NewHandlers(r *service.Resolver, c *service.Coordinator, q *service.QueryService, timeout time.Duration) *Handlers {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handlers{resolver: r, coordinator: c, query: q, timeout: timeout}
}

func (h *Handlers) ctx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), h.timeout)
}

func ok(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{"status": "ok", "data": data})
}

func badBody() error {
	return fiber.NewError(fiber.StatusBadRequest, "invalid body")
}

func (h *Handlers) render(ctx context.Context, caller string, conv *models.Conversation) (*service.ConversationView, error) {
	return h.query.Conversation(ctx, caller, conv.ID)
}

func (h *Handlers) findOrCreateDirect(c *fiber.Ctx) error {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody()
	}
	caller := middleware.CallerID(c)
	ctx, cancel := h.ctx(c)
	defer cancel()
	conv, created, err := h.resolver.FindOrCreateDirect(ctx, caller, strings.TrimSpace(req.UserID))
	if err != nil {
		return err
	}
	view, err := h.render(ctx, caller, conv)
	if err != nil {
		return err
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return ok(c, status, view)
}

func (h *Handlers) createGroup(c *fiber.Ctx) error {
	var req struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody()
	}
	caller := middleware.CallerID(c)
	ctx, cancel := h.ctx(c)
	defer cancel()
	conv, err := h.resolver.CreateGroup(ctx, caller, req.Members, req.Name)
	if err != nil {
		return err
	}
	view, err := h.render(ctx, caller, conv)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, view)
}

func (h *Handlers) addMembers(c *fiber.Ctx) error {
	var req struct {
		Members []string `json:"members"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody()
	}
	caller := middleware.CallerID(c)
	ctx, cancel := h.ctx(c)
	defer cancel()
	conv, err := h.resolver.AddMembers(ctx, caller, c.Params("id"), req.Members)
	if err != nil {
		return err
	}
	view, err := h.render(ctx, caller, conv)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, view)
}

// ?archived=true|false filters; absent lists both.
func (h *Handlers) listConversations(c *fiber.Ctx) error {
	q := service.ConversationListQuery{Search: c.Query("search")}
	switch c.Query("archived") {
	case "":
	case "true", "1":
		v := true
		q.Archived = &v
	case "false", "0":
		v := false
		q.Archived = &v
	default:
		return fiber.NewError(fiber.StatusBadRequest, "archived must be true or false")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	convs, err := h.query.ListConversations(ctx, middleware.CallerID(c), q)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, convs)
}

func (h *Handlers) getConversation(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	view, err := h.query.Conversation(ctx, middleware.CallerID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, view)
}

func (h *Handlers) listMessages(c *fiber.Ctx) error {
	q := service.MessageListQuery{
		Page:           int64(c.QueryInt("page", 1)),
		Limit:          int64(c.QueryInt("limit", 0)),
		UnreadOnly:     c.QueryBool("unread", false),
		IncludeDeleted: c.QueryBool("includeDeleted", false),
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	page, err := h.query.ListMessages(ctx, middleware.CallerID(c), c.Params("id"), q)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, page)
}

func (h *Handlers) sendMessage(c *fiber.Ctx) error {
	var req struct {
		Content       string `json:"content"`
		AttachmentRef string `json:"attachmentRef"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody()
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	msg, err := h.coordinator.SendMessage(ctx, service.SendMessageInput{
		SenderID:       middleware.CallerID(c),
		ConversationID: c.Params("id"),
		Content:        req.Content,
		AttachmentRef:  req.AttachmentRef,
	})
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, msg)
}

func (h *Handlers) markRead(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.coordinator.MarkRead(ctx, middleware.CallerID(c), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) toggleArchive(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	archived, err := h.coordinator.ToggleArchive(ctx, middleware.CallerID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"isArchived": archived})
}

func (h *Handlers) deleteConversation(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.coordinator.DeleteConversation(ctx, middleware.CallerID(c), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) deleteMessage(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.coordinator.DeleteMessage(ctx, middleware.CallerID(c), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) attachmentUploadURL(c *fiber.Ctx) error {
	var req struct {
		ContentType string `json:"contentType"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody()
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	up, err := h.coordinator.AttachmentUploadURL(ctx, middleware.CallerID(c), c.Params("id"), req.ContentType)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, up)
}

func (h *Handlers) attachmentDownloadURL(c *fiber.Ctx) error {
	ref := c.Query("ref")
	if ref == "" {
		return fiber.NewError(fiber.StatusBadRequest, "ref is required")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	url, err := h.coordinator.AttachmentDownloadURL(ctx, middleware.CallerID(c), c.Params("id"), ref)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"url": url})
}

func (h *Handlers) listUsers(c *fiber.Ctx) error {
	q := service.UserListQuery{
		Search: c.Query("search"),
		Page:   int64(c.QueryInt("page", 1)),
		Limit:  int64(c.QueryInt("limit", 0)),
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	page, err := h.query.ListActiveUsers(ctx, middleware.CallerID(c), q)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, page)
}
