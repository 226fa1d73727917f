package dlq

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

/*
MongoDB Schema:

Collection: futuremsg_dlq

Document structure:
{
    "_id": string (dead letter ID),
    "original_id": string,
    "source": string,
    "destination": string,
    "payload": Binary,
    "metadata": object,
    "fire_time": ISODate,
    "error": string,
    "created_at": ISODate,
    "retried_at": ISODate (optional)
}

Indexes:
db.futuremsg_dlq.createIndex({ "created_at": 1 })
db.futuremsg_dlq.createIndex({ "destination": 1, "created_at": 1 })
*/

// MongoMessage is the document form of a Message
type MongoMessage struct {
	ID          string            `bson:"_id"`
	OriginalID  string            `bson:"original_id"`
	Source      string            `bson:"source"`
	Destination string            `bson:"destination"`
	Payload     []byte            `bson:"payload,omitempty"`
	Metadata    map[string]string `bson:"metadata,omitempty"`
	FireTime    time.Time         `bson:"fire_time"`
	Error       string            `bson:"error"`
	CreatedAt   time.Time         `bson:"created_at"`
	RetriedAt   *time.Time        `bson:"retried_at,omitempty"`
}

// ToMessage converts the document to a Message
func (m *MongoMessage) ToMessage() *Message {
	return &Message{
		ID:          m.ID,
		OriginalID:  m.OriginalID,
		Source:      m.Source,
		Destination: m.Destination,
		Payload:     m.Payload,
		Metadata:    m.Metadata,
		FireTime:    m.FireTime,
		Error:       m.Error,
		CreatedAt:   m.CreatedAt,
		RetriedAt:   m.RetriedAt,
	}
}

// FromMessage converts a Message to its document form
func FromMessage(msg *Message) *MongoMessage {
	return &MongoMessage{
		ID:          msg.ID,
		OriginalID:  msg.OriginalID,
		Source:      msg.Source,
		Destination: msg.Destination,
		Payload:     msg.Payload,
		Metadata:    msg.Metadata,
		FireTime:    msg.FireTime,
		Error:       msg.Error,
		CreatedAt:   msg.CreatedAt,
		RetriedAt:   msg.RetriedAt,
	}
}

// MongoStore implements Store in a MongoDB collection.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore creates a store in the futuremsg_dlq collection
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection("futuremsg_dlq")}
}

// WithCollection sets a custom collection name
func (s *MongoStore) WithCollection(name string) *MongoStore {
	s.collection = s.collection.Database().Collection(name)
	return s
}

// Indexes returns the indexes used by List and DeleteOlderThan
func (s *MongoStore) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "destination", Value: 1}, {Key: "created_at", Value: 1}}},
	}
}

// EnsureIndexes creates the indexes
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, s.Indexes())
	return err
}

func (s *MongoStore) Store(ctx context.Context, msg *Message) error {
	if _, err := s.collection.InsertOne(ctx, FromMessage(msg)); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Message, error) {
	var doc MongoMessage
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	return doc.ToMessage(), nil
}

func buildFilter(filter Filter) bson.M {
	f := bson.M{}
	if filter.Destination != "" {
		f["destination"] = filter.Destination
	}
	if filter.Source != "" {
		f["source"] = filter.Source
	}
	created := bson.M{}
	if !filter.StartTime.IsZero() {
		created["$gte"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		created["$lte"] = filter.EndTime
	}
	if len(created) > 0 {
		f["created_at"] = created
	}
	if filter.Error != "" {
		f["error"] = bson.M{"$regex": regexp.QuoteMeta(filter.Error)}
	}
	if filter.ExcludeRetried {
		f["retried_at"] = bson.M{"$exists": false}
	}
	return f
}

func (s *MongoStore) List(ctx context.Context, filter Filter) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := s.collection.Find(ctx, buildFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*Message
	for cursor.Next(ctx) {
		var doc MongoMessage
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		out = append(out, doc.ToMessage())
	}
	return out, cursor.Err()
}

func (s *MongoStore) Count(ctx context.Context, filter Filter) (int64, error) {
	return s.collection.CountDocuments(ctx, buildFilter(filter))
}

func (s *MongoStore) MarkRetried(ctx context.Context, id string) error {
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"retried_at": time.Now()}})
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := s.collection.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": time.Now().Add(-age)}})
	if err != nil {
		return 0, fmt.Errorf("delete many: %w", err)
	}
	return res.DeletedCount, nil
}

var _ Store = (*MongoStore)(nil)
