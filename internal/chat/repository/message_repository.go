package repository

import (
	"context"
	"errors"
	"fmt"

	"chat_delivery_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrMessageNotFound no message matched
	ErrMessageNotFound = errors.New("message not found")
	// ErrDuplicateMessage (conversation_id, seq) or (conversation_id, client_id) already stored
	ErrDuplicateMessage = errors.New("duplicate message")
	// ErrVersionConflict record changed since it was read
	ErrVersionConflict = errors.New("version conflict")
)

// MessageRepository durable message store
type MessageRepository interface {
	// EnsureIndexes unique (conversation_id, seq) and (conversation_id, client_id)
	EnsureIndexes(ctx context.Context) error
	// Insert returns ErrDuplicateMessage when either unique key exists
	Insert(ctx context.Context, msg *domain.ChatMessage) error
	FindByClientID(ctx context.Context, conversationID, clientID string) (*domain.ChatMessage, error)
	FindByID(ctx context.Context, conversationID, messageID string) (*domain.ChatMessage, error)
	// FindBySeqs ascending by seq, missing seqs are simply absent
	FindBySeqs(ctx context.Context, conversationID string, seqs []int64) ([]*domain.ChatMessage, error)
	// ListRange newest limit messages with after < seq < before (0 = unbounded), ascending
	ListRange(ctx context.Context, conversationID string, before, after int64, limit int) ([]*domain.ChatMessage, error)
	// Replace writes msg when the stored version equals expectedVersion, msg.Version becomes expectedVersion+1
	Replace(ctx context.Context, msg *domain.ChatMessage, expectedVersion int64) error
}

type chatMessageRepository struct {
	coll *mongo.Collection
}

// NewMongoChatMessageRepository create a ChatMessageRepository
func NewMongoChatMessageRepository(db *mongo.Database) MessageRepository {
	return &chatMessageRepository{
		coll: db.Collection("chat_messages"),
	}
}

func (r *chatMessageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_conversation_seq"),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "client_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_conversation_client"),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("conversation_created_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

func (r *chatMessageRepository) Insert(ctx context.Context, msg *domain.ChatMessage) error {
	_, err := r.coll.InsertOne(ctx, msg)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateMessage
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *chatMessageRepository) findOne(ctx context.Context, filter bson.M) (*domain.ChatMessage, error) {
	var msg domain.ChatMessage
	err := r.coll.FindOne(ctx, filter).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return &msg, nil
}

func (r *chatMessageRepository) FindByClientID(ctx context.Context, conversationID, clientID string) (*domain.ChatMessage, error) {
	return r.findOne(ctx, bson.M{"conversation_id": conversationID, "client_id": clientID})
}

func (r *chatMessageRepository) FindByID(ctx context.Context, conversationID, messageID string) (*domain.ChatMessage, error) {
	return r.findOne(ctx, bson.M{"_id": messageID, "conversation_id": conversationID})
}

func (r *chatMessageRepository) FindBySeqs(ctx context.Context, conversationID string, seqs []int64) ([]*domain.ChatMessage, error) {
	if len(seqs) == 0 {
		return nil, nil
	}
	filter := bson.M{"conversation_id": conversationID, "seq": bson.M{"$in": seqs}}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	return r.find(ctx, filter, opts)
}

func (r *chatMessageRepository) ListRange(ctx context.Context, conversationID string, before, after int64, limit int) ([]*domain.ChatMessage, error) {
	filter := bson.M{"conversation_id": conversationID}
	seq := bson.M{}
	if before > 0 {
		seq["$lt"] = before
	}
	if after > 0 {
		seq["$gt"] = after
	}
	if len(seq) > 0 {
		filter["seq"] = seq
	}

	// after 有值時取最舊的一段, 否則取最新的一段
	sortDir := -1
	if after > 0 && before == 0 {
		sortDir = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: sortDir}}).SetLimit(int64(limit))
	msgs, err := r.find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	domain.SortBySeq(msgs)
	return msgs, nil
}

func (r *chatMessageRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.ChatMessage, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	var msgs []*domain.ChatMessage
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

func (r *chatMessageRepository) Replace(ctx context.Context, msg *domain.ChatMessage, expectedVersion int64) error {
	msg.Version = expectedVersion + 1
	filter := bson.M{"_id": msg.ID, "conversation_id": msg.ConversationID, "version": expectedVersion}
	res, err := r.coll.ReplaceOne(ctx, filter, msg)
	if err != nil {
		msg.Version = expectedVersion
		return fmt.Errorf("replace message: %w", err)
	}
	if res.MatchedCount == 0 {
		msg.Version = expectedVersion
		return ErrVersionConflict
	}
	return nil
}
