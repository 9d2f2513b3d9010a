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

// ErrThreadNotFound no thread matched
var ErrThreadNotFound = errors.New("thread not found")

// ThreadRepository thread store
type ThreadRepository interface {
	EnsureIndexes(ctx context.Context) error
	// Create returns the stored thread and false when (conversation_id, root_message_id) already existed
	Create(ctx context.Context, t *domain.Thread) (*domain.Thread, bool, error)
	Find(ctx context.Context, conversationID, threadID string) (*domain.Thread, error)
	// List newest first
	List(ctx context.Context, conversationID string, limit int) ([]*domain.Thread, error)
}

// ReportRepository moderation reports
type ReportRepository interface {
	EnsureIndexes(ctx context.Context) error
	// Add keeps the first report of a user on a message, reports true when it was new
	Add(ctx context.Context, r *domain.Report) (bool, error)
}

type threadRepository struct {
	coll *mongo.Collection
}

// NewMongoThreadRepository create a ThreadRepository
func NewMongoThreadRepository(db *mongo.Database) ThreadRepository {
	return &threadRepository{coll: db.Collection("chat_threads")}
}

func (r *threadRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "root_message_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_conversation_root"),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("conversation_created_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("create thread indexes: %w", err)
	}
	return nil
}

func (r *threadRepository) Create(ctx context.Context, t *domain.Thread) (*domain.Thread, bool, error) {
	_, err := r.coll.InsertOne(ctx, t)
	if mongo.IsDuplicateKeyError(err) {
		// 同一根訊息的並發建立，回傳先寫入的那筆
		existing, findErr := r.findOne(ctx, bson.M{"conversation_id": t.ConversationID, "root_message_id": t.RootMessageID})
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert thread: %w", err)
	}
	return t, true, nil
}

func (r *threadRepository) findOne(ctx context.Context, filter bson.M) (*domain.Thread, error) {
	var t domain.Thread
	err := r.coll.FindOne(ctx, filter).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find thread: %w", err)
	}
	return &t, nil
}

func (r *threadRepository) Find(ctx context.Context, conversationID, threadID string) (*domain.Thread, error) {
	return r.findOne(ctx, bson.M{"_id": threadID, "conversation_id": conversationID})
}

func (r *threadRepository) List(ctx context.Context, conversationID string, limit int) ([]*domain.Thread, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	var out []*domain.Thread
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode threads: %w", err)
	}
	return out, nil
}

type reportRepository struct {
	coll *mongo.Collection
}

// NewMongoReportRepository create a ReportRepository
func NewMongoReportRepository(db *mongo.Database) ReportRepository {
	return &reportRepository{coll: db.Collection("message_reports")}
}

func (r *reportRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "conversation_id", Value: 1}, {Key: "message_id", Value: 1}, {Key: "reported_by", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("uniq_message_reporter"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("status_created_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("create report indexes: %w", err)
	}
	return nil
}

func (r *reportRepository) Add(ctx context.Context, rep *domain.Report) (bool, error) {
	filter := bson.M{"conversation_id": rep.ConversationID, "message_id": rep.MessageID, "reported_by": rep.ReportedBy}
	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$setOnInsert": rep}, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// 並發 upsert 撞上唯一索引，視為已存在
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert report: %w", err)
	}
	return res.UpsertedCount == 1, nil
}
