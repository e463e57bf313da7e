package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/teeban10/kasagi-main/internal/v1/metrics"
)

// RedisConfig configures the production Coordinator. Exactly one of
// (SentinelAddrs, MasterName) or Addr should be set: Sentinel mode for a
// production Redis Sentinel cluster, a plain Addr for single-instance
// development (see internal/v1/config).
type RedisConfig struct {
	SentinelAddrs []string
	MasterName    string
	Addr          string
	Password      string
}

// RedisCoordinator is the production Coordinator, backed by a
// Sentinel-aware redis.UniversalClient wrapped in a gobreaker circuit
// breaker, mirroring the teacher's bus.Service.
type RedisCoordinator struct {
	client redis.UniversalClient
	cb     *gobreaker.CircuitBreaker
}

// NewRedisCoordinator connects to Redis (via Sentinel failover if
// SentinelAddrs is set, otherwise a single Addr) and verifies connectivity
// immediately.
func NewRedisCoordinator(cfg RedisConfig) (*RedisCoordinator, error) {
	var client redis.UniversalClient
	if len(cfg.SentinelAddrs) > 0 {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DialTimeout:   10 * time.Second,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			PoolSize:      10,
			MinIdleConns:  2,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DialTimeout:  10 * time.Second,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("coordinator: failed to reach redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "coordinator",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("coordinator").Set(stateVal)
		},
	}

	slog.Info("coordinator connected", "sentinel", len(cfg.SentinelAddrs) > 0)
	return &RedisCoordinator{client: client, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func (c *RedisCoordinator) Publish(ctx context.Context, channel string, payload []byte) error {
	start := time.Now()
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.client.Publish(ctx, channel, payload).Err()
	})
	metrics.RedisOperationDuration.WithLabelValues("publish").Observe(time.Since(start).Seconds())

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.RedisOperationsTotal.WithLabelValues("publish", "breaker_open").Inc()
			slog.Warn("coordinator circuit open, dropping publish", "channel", channel)
			return nil
		}
		metrics.RedisOperationsTotal.WithLabelValues("publish", "error").Inc()
		return err
	}
	metrics.RedisOperationsTotal.WithLabelValues("publish", "ok").Inc()
	return nil
}

// SubscribePattern runs a PSUBSCRIBE loop until ctx is cancelled. The
// go-redis client re-establishes the subscription transparently across
// reconnects, satisfying §4.5's re-subscription requirement without extra
// bookkeeping here.
func (c *RedisCoordinator) SubscribePattern(ctx context.Context, pattern string, handler PatternHandler) error {
	pubsub := c.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("coordinator: psubscribe %s: %w", pattern, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("coordinator subscription channel closed", "pattern", pattern)
					return
				}
				handler(msg.Channel, []byte(msg.Payload))
			}
		}
	}()

	return nil
}

func (c *RedisCoordinator) HashSet(ctx context.Context, key string, fields map[string]string) error {
	start := time.Now()
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}

	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.client.HSet(ctx, key, args...).Err()
	})
	metrics.RedisOperationDuration.WithLabelValues("hset").Observe(time.Since(start).Seconds())

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.RedisOperationsTotal.WithLabelValues("hset", "breaker_open").Inc()
			slog.Warn("coordinator circuit open, skipping hset", "key", key)
			return nil
		}
		metrics.RedisOperationsTotal.WithLabelValues("hset", "error").Inc()
		return err
	}
	metrics.RedisOperationsTotal.WithLabelValues("hset", "ok").Inc()
	return nil
}

func (c *RedisCoordinator) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	start := time.Now()
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.client.HGetAll(ctx, key).Result()
	})
	metrics.RedisOperationDuration.WithLabelValues("hgetall").Observe(time.Since(start).Seconds())

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.RedisOperationsTotal.WithLabelValues("hgetall", "breaker_open").Inc()
			slog.Warn("coordinator circuit open, returning empty hash", "key", key)
			return map[string]string{}, nil
		}
		metrics.RedisOperationsTotal.WithLabelValues("hgetall", "error").Inc()
		return nil, err
	}
	metrics.RedisOperationsTotal.WithLabelValues("hgetall", "ok").Inc()
	return res.(map[string]string), nil
}

func (c *RedisCoordinator) Del(ctx context.Context, key string) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.client.Del(ctx, key).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.RedisOperationsTotal.WithLabelValues("del", "breaker_open").Inc()
			return nil
		}
		metrics.RedisOperationsTotal.WithLabelValues("del", "error").Inc()
		return err
	}
	metrics.RedisOperationsTotal.WithLabelValues("del", "ok").Inc()
	return nil
}

func (c *RedisCoordinator) Ping(ctx context.Context) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.client.Ping(ctx).Err()
	})
	if err == gobreaker.ErrOpenState {
		metrics.RedisOperationsTotal.WithLabelValues("ping", "breaker_open").Inc()
		return err
	}
	return err
}

func (c *RedisCoordinator) Close() error {
	return c.client.Close()
}
