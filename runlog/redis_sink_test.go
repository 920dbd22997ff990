package runlog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/flowgraph/types"
)

func redisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisSink(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	runID := "test-" + uuid.NewString()
	defer client.Del(ctx, redisKey(runID))

	sink := NewRedisSink(client, time.Minute)
	now := time.Now()
	require.NoError(t, sink.Append(ctx, entry(runID, "llm", 1, types.NodeRetrying, now)))
	require.NoError(t, sink.Append(ctx, entry(runID, "llm", 2, types.NodeCompleted, now.Add(time.Millisecond))))

	trail, err := sink.LoadTrail(ctx, runID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, 1, trail[0].Attempt)
	assert.Equal(t, types.NodeCompleted, trail[1].Status)

	ttl, err := client.TTL(ctx, redisKey(runID)).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)
}

func TestRedisSinkDefaultTTL(t *testing.T) {
	sink := NewRedisSink(nil, 0)
	assert.Equal(t, DefaultRedisTTL, sink.ttl)
}
