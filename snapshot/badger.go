package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// headerSize is the encoded AsOf and Count preceding the snapshot data.
const headerSize = 16

// Badger stores snapshots in BadgerDB under "snapshot:{name}:" followed by
// the big-endian sequence number.
type Badger struct {
	db     *badger.DB
	prefix []byte
	ownsDB bool
}

// NewBadger creates a store named name inside an open database.
// The caller keeps ownership of db.
func NewBadger(db *badger.DB, name string) (*Badger, error) {
	if strings.Contains(name, ":") {
		return nil, fmt.Errorf("snapshot store name %q must not contain ':'", name)
	}
	return &Badger{
		db:     db,
		prefix: []byte(fmt.Sprintf("snapshot:%s:", name)),
	}, nil
}

// OpenBadger opens (or creates) a database in dir and a store named name
// inside it. Close closes the database.
func OpenBadger(dir, name string) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	b, err := NewBadger(db, name)
	if err != nil {
		db.Close()
		return nil, err
	}
	b.ownsDB = true
	return b, nil
}

// Save writes snap under its sequence number
func (b *Badger) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val := make([]byte, headerSize+len(snap.Data))
	binary.BigEndian.PutUint64(val[0:8], uint64(snap.AsOf.UnixNano()))
	binary.BigEndian.PutUint64(val[8:16], uint64(snap.Count))
	copy(val[headerSize:], snap.Data)

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.encodeKey(snap.Sequence), val)
	})
	if err != nil {
		return fmt.Errorf("badger save: %w", err)
	}
	return nil
}

// LoadLatest seeks backwards from maxSeq
func (b *Badger) LoadLatest(ctx context.Context, maxSeq uint64) (*Snapshot, error) {
	if maxSeq == 0 {
		maxSeq = ^uint64(0)
	}
	var snap *Snapshot
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(b.encodeKey(maxSeq))
		if !it.ValidForPrefix(b.prefix) {
			return nil
		}
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(val) < headerSize {
			return errors.New("truncated snapshot record")
		}
		snap = &Snapshot{
			Sequence: b.decodeKey(item.Key()),
			AsOf:     time.Unix(0, int64(binary.BigEndian.Uint64(val[0:8]))),
			Count:    int(binary.BigEndian.Uint64(val[8:16])),
			Data:     val[headerSize:],
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger load: %w", err)
	}
	return snap, nil
}

// Close closes the database if this store opened it
func (b *Badger) Close(ctx context.Context) error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}

func (b *Badger) encodeKey(seq uint64) []byte {
	key := make([]byte, len(b.prefix)+8)
	copy(key, b.prefix)
	binary.BigEndian.PutUint64(key[len(b.prefix):], seq)
	return key
}

func (b *Badger) decodeKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(b.prefix):])
}

// Compile-time check
var _ Store = (*Badger)(nil)
