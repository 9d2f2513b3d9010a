package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat_delivery_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrCallNotFound no session matched
	ErrCallNotFound = errors.New("call not found")
	// ErrDuplicateCall (conversation_id, call_id) already stored
	ErrDuplicateCall = errors.New("duplicate call")
	// ErrActiveCallExists another non ended call holds the conversation
	ErrActiveCallExists = errors.New("active call exists")
)

// endedCallRetention ended sessions expire after two weeks
const endedCallRetention = 14 * 24 * time.Hour

// CallRepository call session store
type CallRepository interface {
	EnsureIndexes(ctx context.Context) error
	// Create returns ErrDuplicateCall or ErrActiveCallExists on unique violations
	Create(ctx context.Context, s *domain.CallSession) error
	Find(ctx context.Context, conversationID, callID string) (*domain.CallSession, error)
	FindActive(ctx context.Context, conversationID string) (*domain.CallSession, error)
	Replace(ctx context.Context, s *domain.CallSession, expectedVersion int64) error
	// ListForUser newest first, before zero means now
	ListForUser(ctx context.Context, userID string, before time.Time, limit int) ([]*domain.CallSession, error)
}

type callRepository struct {
	coll *mongo.Collection
}

// NewMongoCallRepository create a CallRepository
func NewMongoCallRepository(db *mongo.Database) CallRepository {
	return &callRepository{coll: db.Collection("call_sessions")}
}

func (r *callRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "call_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_conversation_call"),
		},
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_active_call").
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{
			Keys:    bson.D{{Key: "participants.user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("participant_created_at"),
		},
		{
			Keys:    bson.D{{Key: "ended_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(endedCallRetention.Seconds())).SetName("ttl_ended_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("create call indexes: %w", err)
	}
	return nil
}

func (r *callRepository) Create(ctx context.Context, s *domain.CallSession) error {
	_, err := r.coll.InsertOne(ctx, s)
	if mongo.IsDuplicateKeyError(err) {
		// 區分同一通話重送與會話內已有進行中的通話
		if _, findErr := r.Find(ctx, s.ConversationID, s.CallID); findErr == nil {
			return ErrDuplicateCall
		}
		return ErrActiveCallExists
	}
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

func (r *callRepository) findOne(ctx context.Context, filter bson.M) (*domain.CallSession, error) {
	var s domain.CallSession
	err := r.coll.FindOne(ctx, filter).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find call: %w", err)
	}
	return &s, nil
}

func (r *callRepository) Find(ctx context.Context, conversationID, callID string) (*domain.CallSession, error) {
	return r.findOne(ctx, bson.M{"conversation_id": conversationID, "call_id": callID})
}

func (r *callRepository) FindActive(ctx context.Context, conversationID string) (*domain.CallSession, error) {
	return r.findOne(ctx, bson.M{"conversation_id": conversationID, "active": true})
}

func (r *callRepository) Replace(ctx context.Context, s *domain.CallSession, expectedVersion int64) error {
	s.Version = expectedVersion + 1
	filter := bson.M{"conversation_id": s.ConversationID, "call_id": s.CallID, "version": expectedVersion}
	res, err := r.coll.ReplaceOne(ctx, filter, s)
	if err != nil {
		s.Version = expectedVersion
		return fmt.Errorf("replace call: %w", err)
	}
	if res.MatchedCount == 0 {
		s.Version = expectedVersion
		return ErrVersionConflict
	}
	return nil
}

func (r *callRepository) ListForUser(ctx context.Context, userID string, before time.Time, limit int) ([]*domain.CallSession, error) {
	if before.IsZero() {
		before = time.Now()
	}
	filter := bson.M{"participants.user_id": userID, "created_at": bson.M{"$lt": before}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit)).
		SetProjection(bson.M{"signals": 0})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	var out []*domain.CallSession
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode calls: %w", err)
	}
	return out, nil
}
