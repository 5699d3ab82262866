package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-sync-service/internal/config"
)

// Connect dials Mongo and pings the primary, retrying with exponential
// backoff until cfg.ConnectRetry elapses or ctx is done.
func Connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (*mongo.Client, error) {
	var client *mongo.Client
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		c, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return err
		}
		if err := c.Ping(cctx, readpref.Primary()); err != nil {
			_ = c.Disconnect(context.Background())
			return err
		}
		client = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = cfg.ConnectRetry
	notify := func(err error, wait time.Duration) {
		log.Warn("mongo not reachable, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes the stores rely on. The unique partial
// index on pair_key is what closes the direct-conversation creation race.
func EnsureIndexes(ctx context.Context, db *mongo.Database, cfg *config.Config) error {
	conv := db.Collection(cfg.Mongo.ConversationsCollection)
	_, err := conv.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().
				SetName("direct_pair_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"pair_key": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "members.user_id", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("member_activity_idx"),
		},
	})
	if err != nil {
		return fmt.Errorf("conversation indexes: %w", err)
	}

	msgs := db.Collection(cfg.Mongo.MessagesCollection)
	_, err = msgs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "sent_at", Value: -1}},
			Options: options.Index().SetName("conversation_sent_idx"),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "is_read", Value: 1}},
			Options: options.Index().SetName("conversation_unread_idx"),
		},
	})
	if err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	return nil
}

type timeouts struct {
	op time.Duration
}

func (t timeouts) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if t.op <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, t.op)
}

func decodeAll[T any](ctx context.Context, cur *mongo.Cursor) ([]*T, error) {
	defer cur.Close(ctx)
	out := []*T{}
	for cur.Next(ctx) {
		var v T
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, cur.Err()
}
