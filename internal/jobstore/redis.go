package jobstore

import (
	"context"
	"encoding/json"
	"time"

	"clipmill/internal/batch"

	"github.com/redis/go-redis/v9"
)

// kv is the subset of *redis.Client used here.
type kv interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisSink stores the latest snapshot of each job as JSON under
// <prefix><jobID>, expiring ttl after the last write.
type RedisSink struct {
	rdb    kv
	prefix string
	ttl    time.Duration
}

func NewRedisSink(rdb kv, prefix string, ttl time.Duration) *RedisSink {
	if prefix == "" {
		prefix = "clipmill:job:"
	}
	return &RedisSink{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisSink) Key(jobID string) string { return s.prefix + jobID }

func (s *RedisSink) Save(ctx context.Context, snap batch.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.Key(snap.ID), payload, s.ttl).Err()
}

// Load reads a mirrored snapshot; redis.Nil when absent.
func (s *RedisSink) Load(ctx context.Context, jobID string) (batch.Snapshot, error) {
	var snap batch.Snapshot
	raw, err := s.rdb.Get(ctx, s.Key(jobID)).Bytes()
	if err != nil {
		return snap, err
	}
	err = json.Unmarshal(raw, &snap)
	return snap, err
}
