package throttle

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	dErrors "buildgate/pkg/domain-errors"
)

const throttleKeyPrefix = "throttle:repo:"

// RedisStore implements the sliding window on a Redis sorted set, scored by
// event time. Shared by all instances of the service.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Allow trims expired members, counts the remainder, and records the event
// when the window has room. The pipeline keeps the round trips down; the
// small race between count and add is acceptable for throttling.
func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := time.Now()
	cutoff := now.Add(-window)
	redisKey := throttleKeyPrefix + key

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(cutoff.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "throttle store unavailable")
	}

	count := int(countCmd.Val())
	if count+1 > limit {
		return &Result{
			Allowed: false,
			ResetAt: now.Add(window),
			Limit:   limit,
		}, nil
	}

	pipe = s.client.Pipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "throttle store unavailable")
	}

	return &Result{
		Allowed:   true,
		Remaining: limit - count - 1,
		ResetAt:   now.Add(window),
		Limit:     limit,
	}, nil
}

// Reset clears the window for a key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, throttleKeyPrefix+key).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "throttle store unavailable")
	}
	return nil
}
