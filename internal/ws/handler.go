package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-sync-service/internal/metrics"
)

type TokenValidator interface {
	Validate(token string) (string, error)
}

type PresenceTracker interface {
	Connect(ctx context.Context, userID, socketID string) error
	Disconnect(ctx context.Context, userID, socketID string) error
}

type HandlerConfig struct {
	PingInterval   time.Duration
	WriteDeadline  time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// inbound client frame: {"type":"subscribe","conversationId":"..."}
type inbound struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

type Handler struct {
	hub      *Hub
	tokens   TokenValidator
	presence PresenceTracker
	cfg      HandlerConfig
	log      *zap.SugaredLogger
}

func NewHandler(hub *Hub, tokens TokenValidator, presence PresenceTracker, cfg HandlerConfig, log *zap.SugaredLogger) *Handler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.WriteDeadline <= 0 {
		cfg.WriteDeadline = 10 * time.Second
	}
	return &Handler{hub: hub, tokens: tokens, presence: presence, cfg: cfg, log: log}
}

// Upgrade authenticates the handshake: /ws?token=<jwt>. Browsers cannot set
// headers on socket upgrades, hence the query parameter.
func (h *Handler) Upgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		token := c.Query("token")
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing token"})
		}
		sub, err := h.tokens.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals("user_id", sub)
		return c.Next()
	}
}

func (h *Handler) Serve() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *Handler) serve(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	client := NewClient(uuid.NewString(), userID, h.cfg.SendBuffer)
	h.hub.Register(client)
	metrics.WSConnections.Inc()
	h.presenceConnect(client)

	done := make(chan struct{})
	go h.writeLoop(conn, client, done)

	conn.SetReadLimit(h.cfg.MaxMessageSize)
	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			h.reply(client, controlFrame{Type: "error", Message: "invalid frame"})
			continue
		}
		h.handleFrame(client, in)
	}

	h.hub.Unregister(client)
	<-done
	metrics.WSConnections.Dec()
	h.presenceDisconnect(client)
}

func (h *Handler) handleFrame(client *Client, in inbound) {
	switch in.Type {
	case "subscribe":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ok, err := h.hub.Subscribe(ctx, client, in.ConversationID)
		if err != nil {
			h.log.Warnf("subscribe %s: %v", in.ConversationID, err)
			h.reply(client, controlFrame{Type: "error", ConversationID: in.ConversationID, Message: "subscribe failed"})
			return
		}
		if !ok {
			h.reply(client, controlFrame{Type: "error", ConversationID: in.ConversationID, Message: "not a member"})
			return
		}
		h.reply(client, controlFrame{Type: "subscribed", ConversationID: in.ConversationID})
	case "unsubscribe":
		h.hub.Unsubscribe(client, in.ConversationID)
		h.reply(client, controlFrame{Type: "unsubscribed", ConversationID: in.ConversationID})
	case "ping":
		h.reply(client, controlFrame{Type: "pong"})
	default:
		h.reply(client, controlFrame{Type: "error", Message: "unknown frame type"})
	}
}

// reply queues a control frame behind any pending events. Uses the same
// non-blocking send as event delivery.
func (h *Handler) reply(client *Client, f controlFrame) {
	h.hub.mu.RLock()
	defer h.hub.mu.RUnlock()
	if _, ok := h.hub.clients[client]; !ok {
		return
	}
	select {
	case client.Send <- encodeControl(f):
	default:
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, client *Client, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case b, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteDeadline))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				h.log.Warnf("write msg error: %v", err)
				_ = conn.Close()
				drain(client.Send)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.Warnf("ping error: %v", err)
				_ = conn.Close()
				drain(client.Send)
				return
			}
		}
	}
}

// drain empties the queue until the hub closes it, so Deliver never fills a
// dead client's buffer.
func drain(ch <-chan []byte) {
	for range ch {
	}
}

func (h *Handler) presenceConnect(c *Client) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.Connect(ctx, c.UserID, c.ID); err != nil {
		h.log.Warnf("presence connect %s: %v", c.UserID, err)
	}
}

func (h *Handler) presenceDisconnect(c *Client) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.Disconnect(ctx, c.UserID, c.ID); err != nil {
		h.log.Warnf("presence disconnect %s: %v", c.UserID, err)
	}
}
