// ABOUTME: BoltDB implementation of ConversationStore using go.etcd.io/bbolt
// ABOUTME: Keeps one nested bucket of sequenced checkpoints per thread plus a thread index bucket

package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	checkpointsBucket = []byte("checkpoints")
	threadIndexBucket = []byte("thread_index")
)

// BoltStore implements ConversationStore on a single bbolt file.
// Each committed Update is fsync'd before it returns.
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewBoltStore opens (or creates) the bolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	logger := slog.Default().With("component", "store", "backend", "bolt")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(checkpointsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(threadIndexBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	logger.Info("bolt store initialized", "path", path)
	return &BoltStore{db: db, logger: logger}, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Append writes one checkpoint into the thread's bucket, registering the
// thread in the index the first time it is seen.
func (s *BoltStore) Append(ctx context.Context, threadID string, msg Message) error {
	if err := validateAppend(threadID, msg); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(checkpointsBucket)
		b := root.Bucket([]byte(threadID))
		if b == nil {
			var err error
			b, err = root.CreateBucket([]byte(threadID))
			if err != nil {
				return fmt.Errorf("creating thread bucket: %w", err)
			}
			index := tx.Bucket(threadIndexBucket)
			seq, err := index.NextSequence()
			if err != nil {
				return err
			}
			if err := index.Put(itob(seq), []byte(threadID)); err != nil {
				return fmt.Errorf("indexing thread: %w", err)
			}
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		enc, err := json.Marshal(newCheckpoint(threadID, int(seq)-1, msg))
		if err != nil {
			return fmt.Errorf("encoding checkpoint: %w", err)
		}
		return b.Put(itob(seq), enc)
	})
	if err != nil {
		return fmt.Errorf("appending checkpoint: %w", err)
	}
	return nil
}

// Load returns the thread's messages in sequence order.
func (s *BoltStore) Load(ctx context.Context, threadID string) ([]Message, error) {
	var raw [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(checkpointsBucket).Bucket([]byte(threadID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			// v is only valid for the life of the transaction
			raw = append(raw, append([]byte(nil), v...))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading checkpoints: %w", err)
	}
	return replay(s.logger, threadID, raw), nil
}

// ListThreads returns threads in the order they were first written. Thread
// buckets missing from the index are appended afterwards in key order.
func (s *BoltStore) ListThreads(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(threadIndexBucket).ForEach(func(_, v []byte) error {
			ids = append(ids, string(v))
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(checkpointsBucket).ForEach(func(k, v []byte) error {
			// nil value marks a nested bucket
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	return distinct(ids), nil
}

// Close closes the bolt database
func (s *BoltStore) Close() error {
	s.logger.Info("closing bolt store")
	return s.db.Close()
}

// Verify BoltStore implements ConversationStore at compile time.
var _ ConversationStore = (*BoltStore)(nil)
