package runlog

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/flowgraph/types"
	"github.com/warriorguo/flowgraph/utils"
)

const (
	RedisKeyPrefix  = "flowgraph:runlog:"
	DefaultRedisTTL = 7 * 24 * time.Hour
)

var (
	_ types.RunLogSink = &RedisSink{}
)

// RedisSink pushes entries on one redis list per run, expiring after ttl.
type RedisSink struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisSink(client redis.UniversalClient, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisSink{client: client, ttl: ttl}
}

func redisKey(runID string) string {
	return RedisKeyPrefix + runID
}

func (r *RedisSink) Append(ctx context.Context, entry types.RunLogEntry) error {
	b, err := utils.Serialize(entry)
	if err != nil {
		return errors.Trace(err)
	}

	key := redisKey(entry.RunID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, b)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	return errors.Annotatef(err, "push run log %s", key)
}

func (r *RedisSink) LoadTrail(ctx context.Context, runID string) ([]types.RunLogEntry, error) {
	values, err := r.client.LRange(ctx, redisKey(runID), 0, -1).Result()
	if err != nil {
		return nil, errors.Annotatef(err, "read run log %s", redisKey(runID))
	}

	entries := make([]types.RunLogEntry, 0, len(values))
	for _, v := range values {
		entry := types.RunLogEntry{}
		if err := utils.Unserialize([]byte(v), &entry); err != nil {
			log.WithField("run_id", runID).Errorf("unserialize run log entry %s failed: %v", v, err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
