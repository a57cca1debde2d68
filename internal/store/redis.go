// ABOUTME: Redis implementation of ConversationStore using go-redis
// ABOUTME: Stores each thread as a list of JSON checkpoints and logs every append to a stream

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// scanPageSize bounds each XRANGE call made while listing threads
const scanPageSize = 500

// RedisStore implements ConversationStore on a Redis server.
//
// Keys, for a prefix P:
//
//	P:thread:<id>   list of JSON checkpoints in append order
//	P:step:<id>     per-thread step counter
//	P:checkpoints   stream with one entry (thread_id, checkpoint_id) per append
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts *redis.Options, prefix string) (*RedisStore, error) {
	logger := slog.Default().With("component", "store", "backend", "redis")

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	logger.Info("redis store initialized", "addr", opts.Addr, "prefix", prefix)
	return &RedisStore{client: client, prefix: prefix, logger: logger}, nil
}

func (s *RedisStore) threadKey(threadID string) string {
	return s.prefix + ":thread:" + threadID
}

func (s *RedisStore) stepKey(threadID string) string {
	return s.prefix + ":step:" + threadID
}

func (s *RedisStore) streamKey() string {
	return s.prefix + ":checkpoints"
}

// Append pushes the checkpoint and its stream entry in one MULTI/EXEC.
func (s *RedisStore) Append(ctx context.Context, threadID string, msg Message) error {
	if err := validateAppend(threadID, msg); err != nil {
		return err
	}

	step, err := s.client.Incr(ctx, s.stepKey(threadID)).Result()
	if err != nil {
		return fmt.Errorf("allocating step: %w", err)
	}

	cp := newCheckpoint(threadID, int(step)-1, msg)
	enc, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.threadKey(threadID), enc)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.streamKey(),
			Values: map[string]any{
				"thread_id":     threadID,
				"checkpoint_id": cp.ID,
			},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

// Load returns the thread's messages in list order.
func (s *RedisStore) Load(ctx context.Context, threadID string) ([]Message, error) {
	values, err := s.client.LRange(ctx, s.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading thread: %w", err)
	}

	raw := make([][]byte, len(values))
	for i, v := range values {
		raw[i] = []byte(v)
	}
	return replay(s.logger, threadID, raw), nil
}

// ListThreads scans the checkpoint stream from the start and returns each
// thread the first time it appears.
func (s *RedisStore) ListThreads(ctx context.Context) ([]string, error) {
	var ids []string
	start := "-"
	for {
		entries, err := s.client.XRangeN(ctx, s.streamKey(), start, "+", scanPageSize).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning checkpoint stream: %w", err)
		}
		for _, e := range entries {
			id, ok := e.Values["thread_id"].(string)
			if !ok || id == "" {
				s.logger.Debug("skipping stream entry without thread_id", "entry_id", e.ID)
				continue
			}
			ids = append(ids, id)
		}
		if len(entries) < scanPageSize {
			break
		}
		// exclusive range start
		start = "(" + entries[len(entries)-1].ID
	}
	return distinct(ids), nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	s.logger.Info("closing redis store")
	return s.client.Close()
}

// Verify RedisStore implements ConversationStore at compile time.
var _ ConversationStore = (*RedisStore)(nil)
