package repository

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chat-sync-service/internal/models"
)

var userProjection = bson.M{"first_name": 1, "last_name": 1, "account_name": 1, "email": 1, "active": 1}

type mongoUserDirectory struct {
	col *mongo.Collection
	timeouts
}

// NewMongoUserDirectory reads the users collection owned by the account
// service. It never writes to it.
func NewMongoUserDirectory(col *mongo.Collection, opTimeout time.Duration) UserDirectory {
	return &mongoUserDirectory{col: col, timeouts: timeouts{op: opTimeout}}
}

func (r *mongoUserDirectory) find(ctx context.Context, filter bson.M) (map[string]models.User, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	cur, err := r.col.Find(ctx, filter, options.Find().SetProjection(userProjection))
	if err != nil {
		return nil, fmt.Errorf("users: find: %w", err)
	}
	users, err := decodeAll[models.User](ctx, cur)
	if err != nil {
		return nil, fmt.Errorf("users: decode: %w", err)
	}
	out := make(map[string]models.User, len(users))
	for _, u := range users {
		out[u.ID] = *u
	}
	return out, nil
}

func (r *mongoUserDirectory) ResolveActive(ctx context.Context, ids []string) (map[string]models.User, error) {
	if len(ids) == 0 {
		return map[string]models.User{}, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}, "active": true})
}

func (r *mongoUserDirectory) Lookup(ctx context.Context, ids []string) (map[string]models.User, error) {
	if len(ids) == 0 {
		return map[string]models.User{}, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

func (r *mongoUserDirectory) ListActive(ctx context.Context, q UserQuery) ([]models.User, int64, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	filter := bson.M{"active": true}
	if q.ExcludeID != "" {
		filter["_id"] = bson.M{"$ne": q.ExcludeID}
	}
	if q.Search != "" {
		rx := containsFold(q.Search)
		filter["$or"] = bson.A{
			bson.M{"first_name": rx},
			bson.M{"last_name": rx},
		}
	}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}
	opts := options.Find().
		SetProjection(userProjection).
		SetSort(bson.D{{Key: "first_name", Value: 1}, {Key: "last_name", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(Skip(q.Page, q.Limit)).
		SetLimit(q.Limit)
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	users, err := decodeAll[models.User](ctx, cur)
	if err != nil {
		return nil, 0, fmt.Errorf("users: decode: %w", err)
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		out = append(out, *u)
	}
	return out, total, nil
}

func containsFold(search string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(search), "$options": "i"}
}
