package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

var errPreconditionFailed = errors.New("session: precondition failed")

// BreakerConfig controls when the Redis backend stops calling Redis.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 10 * time.Second
	}
	return c
}

// RedisBackend implements Backend with WATCH/MULTI/EXEC.
type RedisBackend struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
}

func NewRedisBackend(client *redis.Client, cfg BreakerConfig) *RedisBackend {
	cfg = cfg.withDefaults()
	return &RedisBackend{
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "session-store",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}
}

// State exposes the breaker state for health reporting.
func (b *RedisBackend) State() gobreaker.State {
	return b.breaker.State()
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := b.breaker.Execute(func() (interface{}, error) {
		val, err := b.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return val, nil
	})
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	if res == nil {
		return "", false, nil
	}
	return res.(string), true, nil
}

func (b *RedisBackend) AtomicMultiSet(ctx context.Context, preconditions []Precondition, writes []Write) (bool, error) {
	watched := make([]string, 0, len(preconditions))
	for _, p := range preconditions {
		watched = append(watched, p.Key)
	}

	res, err := b.breaker.Execute(func() (interface{}, error) {
		err := b.client.Watch(ctx, func(tx *redis.Tx) error {
			for _, p := range preconditions {
				val, err := tx.Get(ctx, p.Key).Result()
				exists := true
				if errors.Is(err, redis.Nil) {
					exists = false
				} else if err != nil {
					return err
				}
				if !p.Holds(val, exists) {
					return errPreconditionFailed
				}
			}

			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, w := range writes {
					switch w.kind {
					case writeSet:
						pipe.Set(ctx, w.Key, w.Value, w.TTL)
					case writeDelete:
						pipe.Del(ctx, w.Key)
					case writeExpire:
						pipe.Expire(ctx, w.Key, w.TTL)
					}
				}
				return nil
			})
			return err
		}, watched...)

		// lost races are not backend failures
		if errors.Is(err, errPreconditionFailed) || errors.Is(err, redis.TxFailedErr) {
			return false, nil
		}
		if err != nil {
			return nil, err
		}
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("atomic multi-set: %w", err)
	}
	return res.(bool), nil
}
