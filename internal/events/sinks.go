package events

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QueueKey is the Redis list events are appended to.
const QueueKey = "shield:events"

// RedisSink appends JSON envelopes to a Redis list for indexers to consume.
type RedisSink struct {
	rdb *redis.Client
	key string
	seq atomic.Uint64
}

// NewRedisSink resumes sequence numbering from the current list length.
func NewRedisSink(ctx context.Context, rdb *redis.Client) (*RedisSink, error) {
	n, err := rdb.LLen(ctx, QueueKey).Result()
	if err != nil {
		return nil, fmt.Errorf("llen %s: %w", QueueKey, err)
	}
	s := &RedisSink{rdb: rdb, key: QueueKey}
	s.seq.Store(uint64(n))
	return s, nil
}

// Publish pushes the whole batch in one round trip.
func (s *RedisSink) Publish(ctx context.Context, evs []Event) error {
	if len(evs) == 0 {
		return nil
	}
	vals := make([]any, 0, len(evs))
	for _, ev := range evs {
		raw, err := Encode(s.seq.Add(1), ev)
		if err != nil {
			return fmt.Errorf("encode %s: %w", ev.Name(), err)
		}
		vals = append(vals, string(raw))
	}
	return s.rdb.RPush(ctx, s.key, vals...).Err()
}

// LogSink writes every event to a zap logger.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(_ context.Context, evs []Event) error {
	for _, ev := range evs {
		s.log.Info("ledger event", zap.String("event", ev.Name()), zap.Any("data", ev))
	}
	return nil
}
