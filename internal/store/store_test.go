// ABOUTME: Conformance tests run against every ConversationStore backend
// ABOUTME: Covers append order, empty loads, thread listing dedupe, validation and concurrency

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendFactory struct {
	name string
	open func(t *testing.T) ConversationStore
}

func newTestSQLite(t *testing.T, driver string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStoreWithDriver(filepath.Join(t.TempDir(), "chat.db"), driver)
	if err != nil {
		if driver == DriverCGO && strings.Contains(err.Error(), "cgo") {
			t.Skipf("sqlite3 driver unavailable: %v", err)
		}
		t.Fatalf("NewSQLiteStoreWithDriver(%s) failed: %v", driver, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "chat.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newTestRedis connects to COVEN_CHAT_TEST_REDIS under a throwaway key prefix.
func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("COVEN_CHAT_TEST_REDIS")
	if addr == "" {
		t.Skip("COVEN_CHAT_TEST_REDIS not set")
	}
	ctx := context.Background()
	prefix := "coven-chat-test-" + uuid.NewString()
	s, err := NewRedisStore(ctx, &redis.Options{Addr: addr}, prefix)
	require.NoError(t, err)
	t.Cleanup(func() {
		keys, _ := s.client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			s.client.Del(ctx, keys...)
		}
		s.Close()
	})
	return s
}

func backends() []backendFactory {
	return []backendFactory{
		{"memory", func(t *testing.T) ConversationStore { return NewMemoryStore() }},
		{"sqlite", func(t *testing.T) ConversationStore { return newTestSQLite(t, DriverModernC) }},
		{"sqlite3", func(t *testing.T) ConversationStore { return newTestSQLite(t, DriverCGO) }},
		{"bolt", func(t *testing.T) ConversationStore { return newTestBolt(t) }},
		{"redis", func(t *testing.T) ConversationStore { return newTestRedis(t) }},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s ConversationStore)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func TestStore_AppendThenLoadPreservesOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ConversationStore) {
		ctx := context.Background()
		want := []Message{
			UserMessage("Hello"),
			AssistantMessage("Hi there"),
			UserMessage("How are you?"),
			AssistantMessage("Fine."),
		}
		for _, m := range want {
			require.NoError(t, s.Append(ctx, "t1", m))
		}

		got, err := s.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestStore_LoadUnknownThreadIsEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ConversationStore) {
		got, err := s.Load(context.Background(), "never-written")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestStore_ListThreadsEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ConversationStore) {
		ids, err := s.ListThreads(context.Background())
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestStore_ListThreadsDeduplicates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ConversationStore) {
		ctx := context.Background()
		// Several records per thread, interleaved
		require.NoError(t, s.Append(ctx, "a", UserMessage("1")))
		require.NoError(t, s.Append(ctx, "b", UserMessage("2")))
		require.NoError(t, s.Append(ctx, "a", AssistantMessage("3")))
		require.NoError(t, s.Append(ctx, "b", AssistantMessage("4")))
		require.NoError(t, s.Append(ctx, "a", UserMessage("5")))

		ids, err := s.ListThreads(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids)
	})
}

func TestStore_ListedIDsLoadTheirThreads(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ConversationStore) {
		ctx := context.Background()
		ids := []string{" padded ", "tab\tinside", "trailing\n", "plain"}
		for _, id := range ids {
			require.NoError(t, s.Append(ctx, id, UserMessage("from "+id)))
		}

		listed, err := s.ListThreads(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, ids, listed)

		for _, id := range listed {
			got, err := s.Load(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, []Message{UserMessage("from " + id)}, got, "thread %q", id)
		}
	})
}

func TestStore_ThreadsAreIsolated(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ConversationStore) {
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, "a", UserMessage("for a")))
		require.NoError(t, s.Append(ctx, "b", UserMessage("for b")))

		a, err := s.Load(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []Message{UserMessage("for a")}, a)

		b, err := s.Load(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, []Message{UserMessage("for b")}, b)
	})
}

func TestStore_AppendValidation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ConversationStore) {
		ctx := context.Background()

		err := s.Append(ctx, "", UserMessage("hi"))
		assert.ErrorIs(t, err, ErrEmptyThreadID)

		err = s.Append(ctx, "t1", Message{Role: "system", Content: "hi"})
		assert.ErrorIs(t, err, ErrInvalidMessage)

		err = s.Append(ctx, "t1", UserMessage(""))
		assert.ErrorIs(t, err, ErrInvalidMessage)

		// Rejected appends must not create the thread
		ids, err := s.ListThreads(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestStore_ConcurrentAppends(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ConversationStore) {
		ctx := context.Background()
		const threads = 4
		const perThread = 10

		var wg sync.WaitGroup
		for i := 0; i < threads; i++ {
			for j := 0; j < perThread; j++ {
				wg.Add(1)
				go func(i, j int) {
					defer wg.Done()
					err := s.Append(ctx, fmt.Sprintf("thread-%d", i), UserMessage(fmt.Sprintf("msg-%d", j)))
					assert.NoError(t, err)
				}(i, j)
			}
		}
		wg.Wait()

		ids, err := s.ListThreads(ctx)
		require.NoError(t, err)
		assert.Len(t, ids, threads)

		for i := 0; i < threads; i++ {
			msgs, err := s.Load(ctx, fmt.Sprintf("thread-%d", i))
			require.NoError(t, err)
			assert.Len(t, msgs, perThread)
		}
	})
}

func TestStore_NewThreadListedOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ConversationStore) {
		ctx := context.Background()
		id := uuid.NewString()
		require.NoError(t, s.Append(ctx, id, UserMessage("Hello")))
		require.NoError(t, s.Append(ctx, id, AssistantMessage("Hi there")))

		ids, err := s.ListThreads(ctx)
		require.NoError(t, err)

		count := 0
		for _, got := range ids {
			if got == id {
				count++
			}
		}
		assert.Equal(t, 1, count, "thread %s should be listed exactly once", id)
	})
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("user")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, r)

	r, err = ParseRole("assistant")
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, r)

	_, err = ParseRole("tool")
	assert.Error(t, err)
}

func TestCheckpointMessage(t *testing.T) {
	tests := []struct {
		name string
		cp   Checkpoint
		ok   bool
	}{
		{"user", Checkpoint{Role: RoleUser, Content: "hi"}, true},
		{"assistant", Checkpoint{Role: RoleAssistant, Content: "hi"}, true},
		{"unknown role", Checkpoint{Role: "system", Content: "hi"}, false},
		{"empty content", Checkpoint{Role: RoleUser}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := tt.cp.Message()
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestNewCheckpoint_Source(t *testing.T) {
	assert.Equal(t, SourceInput, newCheckpoint("t", 0, UserMessage("a")).Source)
	assert.Equal(t, SourceLoop, newCheckpoint("t", 1, AssistantMessage("b")).Source)
}

func TestReplay_SkipsMalformed(t *testing.T) {
	raw := [][]byte{
		[]byte(`{"role":"user","content":"one"}`),
		[]byte(`not json`),
		[]byte(`{"role":"system","content":"nope"}`),
		[]byte(`{"role":"assistant","content":""}`),
		[]byte(``),
		[]byte(`{"role":"assistant","content":"two"}`),
	}

	got := replay(NewMemoryStore().logger, "t", raw)
	assert.Equal(t, []Message{UserMessage("one"), AssistantMessage("two")}, got)
}

func TestDistinct(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, distinct([]string{"a", "b", "a", "c", "b"}))
	assert.Empty(t, distinct(nil))
}
