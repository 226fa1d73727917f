package journal

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Badger stores a journal in BadgerDB.
//
// Keys are "journal:{name}:" followed by the big-endian sequence number, so
// a prefix iteration yields records in sequence order. Several journals may
// share one database under different names; a name may not contain ':'.
type Badger struct {
	db     *badger.DB
	prefix []byte
	ownsDB bool

	mu   sync.Mutex
	last uint64
}

// NewBadger creates a journal named name inside an open database.
// The caller keeps ownership of db.
func NewBadger(db *badger.DB, name string) (*Badger, error) {
	if strings.Contains(name, ":") {
		return nil, fmt.Errorf("journal name %q must not contain ':'", name)
	}
	b := &Badger{
		db:     db,
		prefix: []byte(fmt.Sprintf("journal:%s:", name)),
	}
	last, err := b.scanLast()
	if err != nil {
		return nil, fmt.Errorf("load last sequence: %w", err)
	}
	b.last = last
	return b, nil
}

// OpenBadger opens (or creates) a database in dir and a journal named name
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

// Append writes data under the next sequence number
func (b *Badger) Append(ctx context.Context, data []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := b.last + 1
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.encodeKey(seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("badger append: %w", err)
	}
	b.last = seq
	return seq, nil
}

// Replay iterates records from the given sequence
func (b *Badger) Replay(ctx context.Context, from uint64, fn func(seq uint64, data []byte) error) error {
	if from < 1 {
		from = 1
	}
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = b.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(b.encodeKey(from)); it.ValidForPrefix(b.prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			seq := b.decodeKey(item.Key())
			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("badger read %d: %w", seq, err)
			}
			if err := fn(seq, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastSequence returns the highest stored sequence number
func (b *Badger) LastSequence(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, nil
}

// Close closes the database if this journal opened it
func (b *Badger) Close(ctx context.Context) error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}

// DB returns the underlying database
func (b *Badger) DB() *badger.DB {
	return b.db
}

func (b *Badger) scanLast() (uint64, error) {
	var last uint64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		endKey := append(append([]byte(nil), b.prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(endKey)
		if !it.ValidForPrefix(b.prefix) {
			return nil
		}
		last = b.decodeKey(it.Item().Key())
		return nil
	})
	return last, err
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
var _ Journal = (*Badger)(nil)
