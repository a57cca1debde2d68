// ABOUTME: Tests for the Redis store that need a live server
// ABOUTME: Run only when COVEN_CHAT_TEST_REDIS names a reachable Redis address

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_LoadSkipsMalformedEntries(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "t1", UserMessage("first")))
	require.NoError(t, s.client.RPush(ctx, s.threadKey("t1"), "junk", `{"role":"bot","content":"x"}`).Err())
	require.NoError(t, s.Append(ctx, "t1", AssistantMessage("second")))

	msgs, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []Message{UserMessage("first"), AssistantMessage("second")}, msgs)
}

func TestRedisStore_ListThreadsPagesThroughStream(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	// More entries than one XRANGE page, all for two threads
	for i := 0; i < scanPageSize+10; i++ {
		id := "a"
		if i%2 == 1 {
			id = "b"
		}
		require.NoError(t, s.Append(ctx, id, UserMessage("x")))
	}

	ids, err := s.ListThreads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}
