package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

/*
MongoDB Schema:

Collection: futuremsg_journal

Document structure:
{
    "_id": ObjectId,
    "journal": string (journal name),
    "seq": int64,
    "data": Binary,
    "created_at": ISODate
}

Indexes:
db.futuremsg_journal.createIndex({ "journal": 1, "seq": 1 }, { unique: true })
*/

// MongoRecord is a journal record document
type MongoRecord struct {
	Journal   string    `bson:"journal"`
	Seq       int64     `bson:"seq"`
	Data      []byte    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
}

// Mongo stores a journal in a MongoDB collection.
type Mongo struct {
	collection *mongo.Collection
	name       string

	mu     sync.Mutex
	last   uint64
	loaded bool
}

// NewMongo creates a journal named name in the futuremsg_journal collection
func NewMongo(db *mongo.Database, name string) *Mongo {
	return &Mongo{
		collection: db.Collection("futuremsg_journal"),
		name:       name,
	}
}

// WithCollection sets a custom collection name
func (m *Mongo) WithCollection(name string) *Mongo {
	m.collection = m.collection.Database().Collection(name)
	return m
}

// Collection returns the underlying MongoDB collection
func (m *Mongo) Collection() *mongo.Collection {
	return m.collection
}

// Indexes returns the required indexes for the journal collection.
func (m *Mongo) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "journal", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
}

// EnsureIndexes creates the required indexes
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateMany(ctx, m.Indexes())
	return err
}

func (m *Mongo) load(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	var rec MongoRecord
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
	err := m.collection.FindOne(ctx, bson.M{"journal": m.name}, opts).Decode(&rec)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return fmt.Errorf("find last: %w", err)
	default:
		m.last = uint64(rec.Seq)
	}
	m.loaded = true
	return nil
}

// Append inserts a record document
func (m *Mongo) Append(ctx context.Context, data []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(ctx); err != nil {
		return 0, err
	}

	seq := m.last + 1
	_, err := m.collection.InsertOne(ctx, MongoRecord{
		Journal:   m.name,
		Seq:       int64(seq),
		Data:      data,
		CreatedAt: time.Now(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("sequence %d already written by another writer: %w", seq, err)
		}
		return 0, fmt.Errorf("insert: %w", err)
	}
	m.last = seq
	return seq, nil
}

// Replay streams records ordered by sequence
func (m *Mongo) Replay(ctx context.Context, from uint64, fn func(seq uint64, data []byte) error) error {
	if from < 1 {
		from = 1
	}
	filter := bson.M{"journal": m.name, "seq": bson.M{"$gte": int64(from)}}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("find: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var rec MongoRecord
		if err := cursor.Decode(&rec); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if err := fn(uint64(rec.Seq), rec.Data); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// LastSequence returns the highest stored sequence number
func (m *Mongo) LastSequence(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(ctx); err != nil {
		return 0, err
	}
	return m.last, nil
}

// Close is a no-op; the caller owns the client
func (m *Mongo) Close(ctx context.Context) error {
	return nil
}

// Compile-time check
var _ Journal = (*Mongo)(nil)
