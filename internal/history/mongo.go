package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wuwenbin0122/mindful.ai/internal/models"
)

// MongoStore keeps each user's log as a single document holding a messages
// array, keyed by a unique user_id index.
type MongoStore struct {
	collection *mongo.Collection
	maxTurns   int
	now        clock
}

func NewMongoStore(collection *mongo.Collection, maxTurns int) *MongoStore {
	return &MongoStore{collection: collection, maxTurns: maxTurns, now: utcNow}
}

func (s *MongoStore) Find(ctx context.Context, userID string) (*models.ConversationLog, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	var log models.ConversationLog
	err = s.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&log)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: mongo find %s: %w", userID, err)
	}

	return &log, nil
}

// AppendTurn pushes onto an existing document and inserts a fresh one when
// none matched. Losing the insert race to a concurrent writer falls back to
// pushing onto the document that writer created.
func (s *MongoStore) AppendTurn(ctx context.Context, userID string, turn models.ConversationTurn) error {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	turn = normalizeTurn(turn, s.now)
	now := s.now()
	filter := bson.M{"user_id": userID}

	res, err := s.collection.UpdateOne(ctx, filter, s.pushUpdate(turn, now))
	if err != nil {
		return fmt.Errorf("history: mongo append %s: %w", userID, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	_, err = s.collection.InsertOne(ctx, bson.M{
		"user_id":    userID,
		"messages":   []models.ConversationTurn{turn},
		"created_at": now,
		"updated_at": now,
	})
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("history: mongo create log %s: %w", userID, err)
	}

	res, err = s.collection.UpdateOne(ctx, filter, s.pushUpdate(turn, now))
	if err != nil {
		return fmt.Errorf("history: mongo append after create race %s: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("history: mongo append %s: log vanished after duplicate key", userID)
	}
	return nil
}

// UpsertTurn performs the whole append as one findOneAndUpdate with upsert.
func (s *MongoStore) UpsertTurn(ctx context.Context, userID string, turn models.ConversationTurn) error {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	turn = normalizeTurn(turn, s.now)
	now := s.now()

	update := s.pushUpdate(turn, now)
	update["$setOnInsert"] = bson.M{"created_at": now}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After).
		SetProjection(bson.M{"user_id": 1})

	var updated bson.M
	if err := s.collection.FindOneAndUpdate(ctx, bson.M{"user_id": userID}, update, opts).Decode(&updated); err != nil {
		return fmt.Errorf("history: mongo upsert %s: %w", userID, err)
	}
	return nil
}

// pushUpdate appends one turn. With a cap configured the array is re-sorted by
// timestamp and only the newest maxTurns entries are kept.
func (s *MongoStore) pushUpdate(turn models.ConversationTurn, now time.Time) bson.M {
	var value interface{} = turn
	if s.maxTurns > 0 {
		value = bson.M{
			"$each":  []models.ConversationTurn{turn},
			"$sort":  bson.M{"timestamp": 1},
			"$slice": -s.maxTurns,
		}
	}

	return bson.M{
		"$push": bson.M{"messages": value},
		"$set":  bson.M{"updated_at": now},
	}
}
