// Package cache keeps fraud probabilities of already scored transactions in
// Redis. Entries are keyed by model artifact id and transaction id, so a newly
// activated model never sees scores produced by its predecessor.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "fraud:score"

// ScoreCache looks up and stores per-transaction probabilities.
type ScoreCache interface {
	// Get returns the cached scores among txnIDs. Missing ids are absent from the map.
	Get(ctx context.Context, modelID string, txnIDs []string) (map[string]float64, error)
	Set(ctx context.Context, modelID string, scores map[string]float64) error
	Close() error
}

// Key is the Redis key of one score.
func Key(modelID, txnID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, modelID, txnID)
}

// Redis is a ScoreCache backed by go-redis.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr string, db int, ttl time.Duration) (*Redis, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("score cache ttl must be positive, got %s", ttl)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

func (c *Redis) Get(ctx context.Context, modelID string, txnIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(txnIDs))
	if len(txnIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(txnIDs))
	for i, id := range txnIDs {
		keys[i] = Key(modelID, id)
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget scores: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			log.Warn().Str("key", keys[i]).Str("value", s).Msg("Ignoring malformed cached score")
			continue
		}
		out[txnIDs[i]] = p
	}
	return out, nil
}

func (c *Redis) Set(ctx context.Context, modelID string, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, p := range scores {
			pipe.Set(ctx, Key(modelID, id), strconv.FormatFloat(p, 'g', -1, 64), c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store %d scores: %w", len(scores), err)
	}
	return nil
}

func (c *Redis) Close() error {
	return c.rdb.Close()
}

// Nop is a ScoreCache that stores nothing. It is used when no Redis address
// is configured.
type Nop struct{}

func (Nop) Get(context.Context, string, []string) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (Nop) Set(context.Context, string, map[string]float64) error { return nil }

func (Nop) Close() error { return nil }

// Open returns a Redis cache for addr, or Nop when addr is empty.
func Open(ctx context.Context, addr string, db int, ttl time.Duration) (ScoreCache, error) {
	if addr == "" {
		log.Info().Msg("Score cache disabled")
		return Nop{}, nil
	}
	c, err := NewRedis(ctx, addr, db, ttl)
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", addr).Int("db", db).Dur("ttl", ttl).Msg("Score cache connected")
	return c, nil
}
