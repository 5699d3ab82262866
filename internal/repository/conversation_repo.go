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

type mongoConversationStore struct {
	col *mongo.Collection
	timeouts
}

func NewMongoConversationStore(col *mongo.Collection, opTimeout time.Duration) ConversationStore {
	return &mongoConversationStore{col: col, timeouts: timeouts{op: opTimeout}}
}

func (r *mongoConversationStore) Create(ctx context.Context, c *models.Conversation) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	if _, err := r.col.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("conversations: insert: %w", err)
	}
	return nil
}

func (r *mongoConversationStore) findOne(ctx context.Context, filter bson.M) (*models.Conversation, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	var c models.Conversation
	err := r.col.FindOne(ctx, filter).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversations: find: %w", err)
	}
	return &c, nil
}

func (r *mongoConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *mongoConversationStore) FindDirect(ctx context.Context, pairKey string) (*models.Conversation, error) {
	return r.findOne(ctx, bson.M{"pair_key": pairKey, "is_group": false})
}

func (r *mongoConversationStore) ListForMember(ctx context.Context, userID string, f ConversationFilter) ([]*models.Conversation, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	filter := bson.M{"members.user_id": userID}
	if f.Archived != nil {
		filter["is_archived"] = *f.Archived
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("conversations: list: %w", err)
	}
	out, err := decodeAll[models.Conversation](ctx, cur)
	if err != nil {
		return nil, fmt.Errorf("conversations: decode: %w", err)
	}
	return out, nil
}

// ApplyMessage runs as one pipeline update so the counter increments and the
// summary replacement land in the same document write. $literal keeps user
// content that starts with "$" from being read as a field path.
func (r *mongoConversationStore) ApplyMessage(ctx context.Context, id, senderID string, s models.MessageSummary) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	summary := bson.D{
		{Key: "message_id", Value: s.MessageID},
		{Key: "content_preview", Value: s.ContentPreview},
		{Key: "sender_id", Value: s.SenderID},
		{Key: "sent_at", Value: s.SentAt},
		{Key: "has_attachment", Value: s.HasAttachment},
	}
	bumped := bson.D{{Key: "$mergeObjects", Value: bson.A{
		"$$m",
		bson.D{{Key: "unread_count", Value: bson.D{{Key: "$add", Value: bson.A{"$$m.unread_count", 1}}}}},
	}}}
	members := bson.D{{Key: "$map", Value: bson.D{
		{Key: "input", Value: "$members"},
		{Key: "as", Value: "m"},
		{Key: "in", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$eq", Value: bson.A{"$$m.user_id", bson.D{{Key: "$literal", Value: senderID}}}}},
			"$$m",
			bumped,
		}}}},
	}}}
	newer := bson.D{{Key: "$gt", Value: bson.A{
		bson.D{{Key: "$ifNull", Value: bson.A{"$last_message.sent_at", time.Time{}}}},
		s.SentAt,
	}}}
	lastMessage := bson.D{{Key: "$cond", Value: bson.A{
		newer,
		"$last_message",
		bson.D{{Key: "$literal", Value: summary}},
	}}}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "members", Value: members},
			{Key: "last_message", Value: lastMessage},
			{Key: "updated_at", Value: bson.D{{Key: "$max", Value: bson.A{"$updated_at", s.SentAt}}}},
		}}},
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id, "members.user_id": senderID}, update)
	if err != nil {
		return fmt.Errorf("conversations: apply message: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoConversationStore) ResetUnread(ctx context.Context, id, userID string) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "members.user_id": userID},
		bson.M{"$set": bson.M{"members.$.unread_count": 0}},
	)
	if err != nil {
		return fmt.Errorf("conversations: reset unread: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoConversationStore) ToggleArchive(ctx context.Context, id string) (bool, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "is_archived", Value: bson.D{{Key: "$not", Value: bson.A{"$is_archived"}}}}}}},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"is_archived": 1})
	var out struct {
		IsArchived bool `bson:"is_archived"`
	}
	err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("conversations: toggle archive: %w", err)
	}
	return out.IsArchived, nil
}

// AddMembers pushes each user only if absent, one conditional update per
// user, so concurrent adds of the same user cannot duplicate an entry.
func (r *mongoConversationStore) AddMembers(ctx context.Context, id string, userIDs []string, at time.Time) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	for _, uid := range userIDs {
		_, err := r.col.UpdateOne(ctx,
			bson.M{"_id": id, "is_group": true, "members.user_id": bson.M{"$ne": uid}},
			bson.M{
				"$push": bson.M{"members": models.Member{UserID: uid}},
				"$set":  bson.M{"updated_at": at},
			},
		)
		if err != nil {
			return fmt.Errorf("conversations: add member %s: %w", uid, err)
		}
	}
	n, err := r.col.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("conversations: add members: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoConversationStore) MarkSummaryDeleted(ctx context.Context, id, messageID string) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "last_message.message_id": messageID},
		bson.M{"$set": bson.M{"last_message.deleted": true}},
	)
	if err != nil {
		return fmt.Errorf("conversations: mark summary deleted: %w", err)
	}
	return nil
}

func (r *mongoConversationStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("conversations: delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
