package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chat-sync-service/internal/models"
)

type mongoMessageStore struct {
	col *mongo.Collection
	timeouts
}

func NewMongoMessageStore(col *mongo.Collection, opTimeout time.Duration) MessageStore {
	return &mongoMessageStore{col: col, timeouts: timeouts{op: opTimeout}}
}

func (r *mongoMessageStore) Insert(ctx context.Context, m *models.Message) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	if _, err := r.col.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("messages: insert: %w", err)
	}
	return nil
}

func (r *mongoMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	var m models.Message
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messages: find: %w", err)
	}
	return &m, nil
}

func (r *mongoMessageStore) List(ctx context.Context, conversationID string, q MessageQuery) ([]*models.Message, int64, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	filter := bson.M{"conversation_id": conversationID}
	if q.UnreadOnly {
		filter["is_read"] = false
	}
	if !q.IncludeDeleted {
		filter["is_deleted"] = false
	}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("messages: count: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "sent_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(Skip(q.Page, q.Limit)).
		SetLimit(q.Limit)
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("messages: list: %w", err)
	}
	out, err := decodeAll[models.Message](ctx, cur)
	if err != nil {
		return nil, 0, fmt.Errorf("messages: decode: %w", err)
	}
	return out, total, nil
}

func (r *mongoMessageStore) MarkAllRead(ctx context.Context, conversationID string) (int64, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.col.UpdateMany(ctx,
		bson.M{"conversation_id": conversationID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("messages: mark read: %w", err)
	}
	return res.ModifiedCount, nil
}

func (r *mongoMessageStore) SoftDelete(ctx context.Context, id string) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.col.UpdateByID(ctx, id, bson.M{"$set": bson.M{"is_deleted": true}})
	if err != nil {
		return fmt.Errorf("messages: soft delete: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoMessageStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	if _, err := r.col.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("messages: delete: %w", err)
	}
	return nil
}

func (r *mongoMessageStore) DeleteByConversation(ctx context.Context, conversationID string) (int64, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.col.DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return 0, fmt.Errorf("messages: cascade delete: %w", err)
	}
	return res.DeletedCount, nil
}
