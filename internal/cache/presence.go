package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence tracks which users hold at least one open socket. Keys:
//   - <prefix>:conn:<userID>     set of socket ids
//   - <prefix>:online:<userID>   marker with ttl, refreshed on connect
type Presence struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewPresence(client *redis.Client, prefix string, ttl time.Duration) *Presence {
	return &Presence{client: client, prefix: prefix, ttl: ttl}
}

func (p *Presence) connKey(userID string) string   { return fmt.Sprintf("%s:conn:%s", p.prefix, userID) }
func (p *Presence) onlineKey(userID string) string { return fmt.Sprintf("%s:online:%s", p.prefix, userID) }

func (p *Presence) Connect(ctx context.Context, userID, socketID string) error {
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, p.connKey(userID), socketID)
	pipe.Expire(ctx, p.connKey(userID), p.ttl)
	pipe.Set(ctx, p.onlineKey(userID), time.Now().Unix(), p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Disconnect removes the socket and clears the online marker once the user
// has no sockets left on any instance.
func (p *Presence) Disconnect(ctx context.Context, userID, socketID string) error {
	if err := p.client.SRem(ctx, p.connKey(userID), socketID).Err(); err != nil {
		return err
	}
	n, err := p.client.SCard(ctx, p.connKey(userID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return p.client.Del(ctx, p.onlineKey(userID)).Err()
	}
	return nil
}

// Online reports which of ids are currently connected.
func (p *Presence) Online(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = p.onlineKey(id)
	}
	vals, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		out[ids[i]] = v != nil
	}
	return out, nil
}
