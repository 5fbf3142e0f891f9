package inventory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterClient is the minimal client surface used by RedisCounter;
// *redis.Client satisfies it.
type RedisCounterClient interface {
	DecrBy(ctx context.Context, key string, decrement int64) *redis.IntCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCounter keeps a per-product stock counter in Redis for CACHE_FIRST
// products.
type RedisCounter struct {
	client    RedisCounterClient
	keyPrefix string
	logf      func(format string, args ...any)
}

// NewRedisCounter constructs a Redis-backed stock counter.
func NewRedisCounter(client RedisCounterClient, logf func(format string, args ...any)) *RedisCounter {
	if logf == nil {
		logf = log.Printf
	}
	return &RedisCounter{client: client, keyPrefix: "stock:", logf: logf}
}

func (r *RedisCounter) key(productID string) string {
	return r.keyPrefix + productID
}

// Reserve decrements the counter by qty. A negative result means the balance
// could not cover the reservation: the decrement is undone immediately and
// ErrCacheShort is returned. A missing key decrements from zero and is
// therefore also reported short.
func (r *RedisCounter) Reserve(ctx context.Context, productID string, qty int) error {
	after, err := r.client.DecrBy(ctx, r.key(productID), int64(qty)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if after < 0 {
		if _, rbErr := r.client.IncrBy(ctx, r.key(productID), int64(qty)).Result(); rbErr != nil {
			r.logf("rollback of short reservation failed. productId=%s: %v", productID, rbErr)
		}
		return ErrCacheShort
	}
	return nil
}

// Restore adds qty back to the counter.
func (r *RedisCounter) Restore(ctx context.Context, productID string, qty int) error {
	if _, err := r.client.IncrBy(ctx, r.key(productID), int64(qty)).Result(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Sync overwrites the counter with the durable stock value.
func (r *RedisCounter) Sync(ctx context.Context, productID string, stock int) error {
	if err := r.client.Set(ctx, r.key(productID), stock, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// BreakerCounter wraps a Counter with a circuit breaker so a flapping cache
// stops being probed on every request. ErrCacheShort is a healthy answer and
// never trips the breaker; only unavailability does. When the breaker lets a
// probe through after an open period, the counter is synced from the durable
// store first so the probe does not reserve against a stale balance.
type BreakerCounter struct {
	base    Counter
	breaker *CircuitBreaker
	stocks  StockStore
	logf    func(format string, args ...any)
}

// NewBreakerCounter constructs the decorated counter.
func NewBreakerCounter(base Counter, breaker *CircuitBreaker, stocks StockStore, logf func(format string, args ...any)) *BreakerCounter {
	if logf == nil {
		logf = log.Printf
	}
	return &BreakerCounter{base: base, breaker: breaker, stocks: stocks, logf: logf}
}

// Reserve runs the reservation through the breaker.
func (b *BreakerCounter) Reserve(ctx context.Context, productID string, qty int) error {
	if b.breaker.State() == BreakerHalfOpen {
		b.resync(ctx, productID)
	}

	var short bool
	err := b.breaker.Execute(func() error {
		err := b.base.Reserve(ctx, productID, qty)
		if errors.Is(err, ErrCacheShort) {
			short = true
			return nil
		}
		return err
	})
	if short {
		return ErrCacheShort
	}
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return err
}

// Restore runs the restore through the breaker.
func (b *BreakerCounter) Restore(ctx context.Context, productID string, qty int) error {
	err := b.breaker.Execute(func() error {
		return b.base.Restore(ctx, productID, qty)
	})
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return err
}

// Sync runs the overwrite through the breaker.
func (b *BreakerCounter) Sync(ctx context.Context, productID string, stock int) error {
	err := b.breaker.Execute(func() error {
		return b.base.Sync(ctx, productID, stock)
	})
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return err
}

// resync refreshes the counter from the durable stock before a half-open
// probe. The counter may have missed increments while the breaker was open.
func (b *BreakerCounter) resync(ctx context.Context, productID string) {
	stock, err := b.stocks.Stock(ctx, productID)
	if err != nil {
		b.logf("stock read for counter resync failed. productId=%s: %v", productID, err)
		return
	}
	if err := b.base.Sync(ctx, productID, stock); err != nil {
		b.logf("counter resync failed. productId=%s: %v", productID, err)
	}
}
