package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-sync-service/internal/notifier"
)

// Authorizer decides who may see a conversation's events.
type Authorizer interface {
	IsMember(ctx context.Context, userID, conversationID string) (bool, error)
	MemberIDs(ctx context.Context, conversationID string) ([]string, error)
}

const audienceLookupTimeout = 2 * time.Second

type Client struct {
	ID     string
	UserID string
	Send   chan []byte

	channels map[string]struct{}
}

func NewClient(id, userID string, buffer int) *Client {
	return &Client{ID: id, UserID: userID, Send: make(chan []byte, buffer), channels: map[string]struct{}{}}
}

// Hub routes notifier envelopes to connected sockets. Events on the global
// conversations channel reach the member's sockets only; conversation
// channels need a subscription, which is checked once when it is made.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]struct{}
	byUser    map[string]map[*Client]struct{}
	byChannel map[string]map[*Client]struct{}

	auth Authorizer
	log  *zap.SugaredLogger
}

func NewHub(auth Authorizer, log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:   map[*Client]struct{}{},
		byUser:    map[string]map[*Client]struct{}{},
		byChannel: map[string]map[*Client]struct{}{},
		auth:      auth,
		log:       log,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	set, ok := h.byUser[c.UserID]
	if !ok {
		set = map[*Client]struct{}{}
		h.byUser[c.UserID] = set
	}
	set[c] = struct{}{}
}

// Unregister drops the client from every channel and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for ch := range c.channels {
		h.removeLocked(c, ch)
	}
	delete(h.clients, c)
	if set, ok := h.byUser[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	close(c.Send)
}

func (h *Hub) Subscribe(ctx context.Context, c *Client, conversationID string) (bool, error) {
	ok, err := h.auth.IsMember(ctx, c.UserID, conversationID)
	if err != nil || !ok {
		return false, err
	}
	ch := notifier.ConversationChannel(conversationID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.clients[c]; !live {
		return false, nil
	}
	set, found := h.byChannel[ch]
	if !found {
		set = map[*Client]struct{}{}
		h.byChannel[ch] = set
	}
	set[c] = struct{}{}
	c.channels[ch] = struct{}{}
	return true, nil
}

func (h *Hub) Unsubscribe(c *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, notifier.ConversationChannel(conversationID))
}

func (h *Hub) removeLocked(c *Client, ch string) {
	if set, ok := h.byChannel[ch]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byChannel, ch)
		}
	}
	delete(c.channels, ch)
}

// envelopeHead is the part of notifier.Envelope routing needs.
type envelopeHead struct {
	Event   string `json:"event"`
	Payload struct {
		ConversationID string `json:"conversationId"`
	} `json:"payload"`
}

// Deliver implements notifier.Sink.
func (h *Hub) Deliver(channel string, payload []byte) {
	var head envelopeHead
	if err := json.Unmarshal(payload, &head); err != nil {
		h.log.Warnw("dropping undecodable event", "channel", channel, "error", err)
		return
	}
	if channel == notifier.ChannelConversations {
		h.deliverToMembers(head.Payload.ConversationID, payload)
		return
	}

	h.mu.RLock()
	h.sendLocked(h.byChannel[channel], channel, payload)
	h.mu.RUnlock()

	if head.Event == notifier.EventConversationDeleted {
		h.closeChannel(channel)
	}
}

// deliverToMembers resolves the audience before taking the lock. A failed
// lookup drops the event; clients resync on their next list fetch.
func (h *Hub) deliverToMembers(conversationID string, payload []byte) {
	if conversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), audienceLookupTimeout)
	defer cancel()
	ids, err := h.auth.MemberIDs(ctx, conversationID)
	if err != nil {
		h.log.Warnw("dropping list event", "conversation", conversationID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range ids {
		h.sendLocked(h.byUser[id], notifier.ChannelConversations, payload)
	}
}

func (h *Hub) sendLocked(targets map[*Client]struct{}, channel string, payload []byte) {
	for c := range targets {
		select {
		case c.Send <- payload:
		default:
			// slow consumer; it resyncs on reconnect
			h.log.Debugw("dropping event for slow client", "client", c.ID, "channel", channel)
		}
	}
}

// closeChannel drops every subscription to a conversation that no longer
// exists. Member removal would need the same treatment.
func (h *Hub) closeChannel(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.byChannel[channel] {
		delete(c.channels, channel)
	}
	delete(h.byChannel, channel)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RunRedis feeds the hub from Redis pub/sub until ctx is done.
func (h *Hub) RunRedis(ctx context.Context, client *redis.Client, prefix string) error {
	ps := client.PSubscribe(ctx, notifier.RedisPattern(prefix))
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.Deliver(notifier.StripRedisPrefix(prefix, msg.Channel), []byte(msg.Payload))
		}
	}
}

type controlFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message,omitempty"`
}

func encodeControl(f controlFrame) []byte {
	b, _ := json.Marshal(f)
	return b
}
