package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/healops-policy-engine/internal/domain"
)

// DecisionCache — мемоизация решений. Чистый акселератор: промах или
// ошибка чтения никогда не блокируют оценку.
type DecisionCache interface {
	// Get возвращает (nil, nil) на промахе
	Get(ctx context.Context, key string) (*domain.Decision, error)
	Set(ctx context.Context, key string, d domain.Decision, ttl time.Duration) error
}

// RedisDecisionCache хранит сериализованные решения в Redis за
// circuit breaker'ом: если Redis штормит, выбитый предохранитель
// деградирует кэш до постоянного промаха вместо таймаута на каждый вызов.
type RedisDecisionCache struct {
	rdb    *redis.Client
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewRedisDecisionCache(rdb *redis.Client, logger *zap.Logger) *RedisDecisionCache {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "decision-cache",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &RedisDecisionCache{
		rdb:    rdb,
		cb:     cb,
		logger: logger.Named("decision-cache"),
	}
}

func (c *RedisDecisionCache) Get(ctx context.Context, key string) (*domain.Decision, error) {
	raw, err := c.cb.Execute(func() (interface{}, error) {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return []byte(nil), nil // Промах — не ошибка для предохранителя
		}
		return data, err
	})
	if err != nil {
		return nil, fmt.Errorf("decision cache get: %w", err)
	}

	data := raw.([]byte)
	if data == nil {
		return nil, nil
	}

	var d domain.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		// Битую запись трактуем как промах, она перезапишется
		c.logger.Warn("corrupted cache entry, ignoring", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return &d, nil
}

func (c *RedisDecisionCache) Set(ctx context.Context, key string, d domain.Decision, ttl time.Duration) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("decision cache marshal: %w", err)
	}

	_, err = c.cb.Execute(func() (interface{}, error) {
		return nil, c.rdb.Set(ctx, key, data, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("decision cache set: %w", err)
	}
	return nil
}
