package history

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
)

const (
	// Redis key prefix for contributor history hashes
	historyKeyPrefix = "history:actor:"

	fieldContributions = "merged_contributions"
	fieldPriorDenial   = "prior_denial"
)

// RedisStore is a Redis-backed contributor history store. This is the
// production implementation for deployments where multiple instances share
// history state.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed history store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the recorded history for an actor. A missing key means the
// actor has no history; Redis outages map to a retryable error.
func (s *RedisStore) Get(ctx context.Context, login id.ActorLogin) (models.ContributorHistory, error) {
	values, err := s.client.HGetAll(ctx, historyKey(login)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.ContributorHistory{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "history store unavailable")
	}

	var h models.ContributorHistory
	if raw, ok := values[fieldContributions]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return models.ContributorHistory{}, dErrors.Wrap(err, dErrors.CodeInternal, "corrupt contribution count")
		}
		h.MergedContributions = n
	}
	if raw, ok := values[fieldPriorDenial]; ok {
		h.PriorDenial = raw == "1"
	}
	return h, nil
}

// RecordContribution increments the actor's merged contribution count.
// HINCRBY creates the hash when absent, so first contributions need no
// separate initialization.
func (s *RedisStore) RecordContribution(ctx context.Context, login id.ActorLogin) error {
	if err := s.client.HIncrBy(ctx, historyKey(login), fieldContributions, 1).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "history store unavailable")
	}
	return nil
}

// RecordDenial marks the actor as having a prior denial on record.
func (s *RedisStore) RecordDenial(ctx context.Context, login id.ActorLogin) error {
	if err := s.client.HSet(ctx, historyKey(login), fieldPriorDenial, "1").Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "history store unavailable")
	}
	return nil
}

// Set replaces an actor's history wholesale.
func (s *RedisStore) Set(ctx context.Context, login id.ActorLogin, h models.ContributorHistory) error {
	denial := "0"
	if h.PriorDenial {
		denial = "1"
	}
	err := s.client.HSet(ctx, historyKey(login),
		fieldContributions, strconv.Itoa(h.MergedContributions),
		fieldPriorDenial, denial,
	).Err()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "history store unavailable")
	}
	return nil
}

func historyKey(login id.ActorLogin) string {
	return historyKeyPrefix + login.String()
}
