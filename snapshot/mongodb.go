package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

/*
MongoDB Schema:

Collection: futuremsg_snapshots

Document structure:
{
    "_id": string ("{name}:{seq}"),
    "store": string,
    "seq": int64,
    "as_of": ISODate,
    "count": int,
    "data": Binary
}

Indexes:
db.futuremsg_snapshots.createIndex({ "store": 1, "seq": -1 })
*/

// MongoSnapshot is a snapshot document
type MongoSnapshot struct {
	ID    string    `bson:"_id"`
	Store string    `bson:"store"`
	Seq   int64     `bson:"seq"`
	AsOf  time.Time `bson:"as_of"`
	Count int       `bson:"count"`
	Data  []byte    `bson:"data"`
}

// Mongo stores snapshots in a MongoDB collection
type Mongo struct {
	collection *mongo.Collection
	name       string
}

// NewMongo creates a store named name in the futuremsg_snapshots collection
func NewMongo(db *mongo.Database, name string) *Mongo {
	return &Mongo{
		collection: db.Collection("futuremsg_snapshots"),
		name:       name,
	}
}

// WithCollection sets a custom collection name
func (m *Mongo) WithCollection(name string) *Mongo {
	m.collection = m.collection.Database().Collection(name)
	return m
}

// Indexes returns the required indexes for the snapshot collection.
func (m *Mongo) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "store", Value: 1}, {Key: "seq", Value: -1}}},
	}
}

// EnsureIndexes creates the required indexes
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateMany(ctx, m.Indexes())
	return err
}

// Save upserts the snapshot document
func (m *Mongo) Save(ctx context.Context, snap Snapshot) error {
	doc := MongoSnapshot{
		ID:    fmt.Sprintf("%s:%d", m.name, snap.Sequence),
		Store: m.name,
		Seq:   int64(snap.Sequence),
		AsOf:  snap.AsOf,
		Count: snap.Count,
		Data:  snap.Data,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts); err != nil {
		return fmt.Errorf("replace: %w", err)
	}
	return nil
}

// LoadLatest returns the newest snapshot at or below maxSeq
func (m *Mongo) LoadLatest(ctx context.Context, maxSeq uint64) (*Snapshot, error) {
	filter := bson.M{"store": m.name}
	if maxSeq > 0 {
		filter["seq"] = bson.M{"$lte": int64(maxSeq)}
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})

	var doc MongoSnapshot
	err := m.collection.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	return &Snapshot{
		Sequence: uint64(doc.Seq),
		AsOf:     doc.AsOf,
		Count:    doc.Count,
		Data:     doc.Data,
	}, nil
}

// Close is a no-op; the caller owns the client
func (m *Mongo) Close(ctx context.Context) error {
	return nil
}

// Compile-time check
var _ Store = (*Mongo)(nil)
