// Package inventory implements the stock adjustment engine: idempotent
// decrease/increase operations over a durable product store, optionally
// fronted by a cache counter for hot products.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log"
)

var (
	// ErrProductNotFound indicates the product id has no row.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock indicates the decrement would drive stock negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCacheShort is returned by a Counter when the cached balance cannot
	// cover the reservation.
	ErrCacheShort = errors.New("cache balance short")
	// ErrCacheUnavailable is returned by a Counter when the cache cannot be
	// reached; the engine falls back to the durable path.
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// Strategy selects how Decrease serializes concurrent decrements for a
// product.
type Strategy string

const (
	// StrategyDBOnly decrements through a conditional update on the durable
	// row only.
	StrategyDBOnly Strategy = "DB_ONLY"
	// StrategyCacheFirst reserves against a cache counter before committing
	// durably, shedding doomed requests early.
	StrategyCacheFirst Strategy = "CACHE_FIRST"
)

// Op labels the direction of a recorded adjustment.
type Op string

const (
	OpDecrease Op = "DECREASE"
	OpIncrease Op = "INCREASE"
)

// RecordStatus is the recorded outcome of an adjustment.
type RecordStatus string

const (
	RecordSuccess           RecordStatus = "SUCCESS"
	RecordInsufficientStock RecordStatus = "INSUFFICIENT_STOCK"
)

// StockResult is the outcome reported to callers.
type StockResult struct {
	Success        bool
	RemainingStock int
	Message        string
}

// LedgerEntry is one completed adjustment keyed by idempotency key. Only
// settled outcomes are recorded; transient failures never are, so a retry
// with the same key re-executes.
type LedgerEntry struct {
	RequestID      string
	OrderID        string
	ProductID      string
	Op             Op
	Quantity       int
	Status         RecordStatus
	Message        string
	RemainingStock int
}

// Ledger is the idempotency record store.
type Ledger interface {
	// Lookup returns the recorded entry for the key, if any.
	Lookup(ctx context.Context, requestID string) (LedgerEntry, bool, error)
	// RecordOnce inserts the entry unless the key is already taken, and
	// returns the entry that won. Losing the race is not an error: the
	// winner's outcome is what every caller with this key must see.
	RecordOnce(ctx context.Context, e LedgerEntry) (LedgerEntry, error)
}

// StockStore is the durable product surface the engine needs.
type StockStore interface {
	// Strategy returns the adjustment strategy configured for the product.
	Strategy(ctx context.Context, productID string) (Strategy, error)
	// DecrementIf atomically decrements stock when the balance covers qty,
	// returning the remaining stock. Returns ErrInsufficientStock or
	// ErrProductNotFound otherwise. orderID and requestID are carried into
	// the movement audit row.
	DecrementIf(ctx context.Context, productID, orderID string, qty int, requestID string) (int, error)
	// Increment unconditionally adds qty and returns the remaining stock.
	Increment(ctx context.Context, productID, orderID string, qty int, requestID string) (int, error)
	// Stock returns the current stock balance.
	Stock(ctx context.Context, productID string) (int, error)
}

// Counter is the cache-side reservation counter for CACHE_FIRST products.
type Counter interface {
	// Reserve decrements the cached balance by qty. ErrCacheShort means the
	// balance cannot cover it (already rolled back); ErrCacheUnavailable
	// means the cache could not answer.
	Reserve(ctx context.Context, productID string, qty int) error
	// Restore adds qty back after a reservation whose durable commit failed.
	Restore(ctx context.Context, productID string, qty int) error
	// Sync overwrites the cached balance with the durable stock value.
	Sync(ctx context.Context, productID string, stock int) error
}

// EngineMetrics counts noteworthy engine events.
type EngineMetrics interface {
	CacheFallback()
	CacheRestore()
}

type nopMetrics struct{}

func (nopMetrics) CacheFallback() {}
func (nopMetrics) CacheRestore()  {}

// Engine coordinates the ledger, the durable store and the cache counter.
type Engine struct {
	ledger  Ledger
	store   StockStore
	cache   Counter
	metrics EngineMetrics
	logf    func(format string, args ...any)
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithCache installs the cache counter used for CACHE_FIRST products.
// Without it every product runs the durable path.
func WithCache(c Counter) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// WithMetrics installs the metrics sink.
func WithMetrics(m EngineMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides the default log.Printf logger.
func WithLogger(logf func(format string, args ...any)) EngineOption {
	return func(e *Engine) { e.logf = logf }
}

// NewEngine constructs an Engine.
func NewEngine(ledger Ledger, store StockStore, opts ...EngineOption) *Engine {
	e := &Engine{
		ledger:  ledger,
		store:   store,
		metrics: nopMetrics{},
		logf:    log.Printf,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decrease decrements stock for an order, exactly once per idempotency key.
// A replayed key returns the recorded outcome without touching stock.
func (e *Engine) Decrease(ctx context.Context, productID, orderID string, qty int, idemKey string) (StockResult, error) {
	if idemKey == "" {
		return StockResult{}, errors.New("missing idempotency key")
	}
	if qty <= 0 {
		return StockResult{}, fmt.Errorf("invalid quantity %d", qty)
	}

	if entry, ok, err := e.ledger.Lookup(ctx, idemKey); err != nil {
		return StockResult{}, fmt.Errorf("ledger lookup: %w", err)
	} else if ok {
		e.logf("decrease replayed from ledger. requestId=%s status=%s", idemKey, entry.Status)
		return entryResult(entry)
	}

	strategy, err := e.store.Strategy(ctx, productID)
	if err != nil {
		return StockResult{}, err
	}

	if strategy == StrategyCacheFirst && e.cache != nil {
		return e.decreaseCacheFirst(ctx, productID, orderID, qty, idemKey)
	}
	return e.decreaseDurable(ctx, productID, orderID, qty, idemKey)
}

func (e *Engine) decreaseDurable(ctx context.Context, productID, orderID string, qty int, idemKey string) (StockResult, error) {
	remaining, err := e.store.DecrementIf(ctx, productID, orderID, qty, idemKey)
	switch {
	case err == nil:
		return e.record(ctx, LedgerEntry{
			RequestID: idemKey, OrderID: orderID, ProductID: productID,
			Op: OpDecrease, Quantity: qty,
			Status: RecordSuccess, RemainingStock: remaining,
		})
	case errors.Is(err, ErrInsufficientStock):
		stock, stockErr := e.store.Stock(ctx, productID)
		if stockErr != nil {
			return StockResult{}, fmt.Errorf("read stock after refusal: %w", stockErr)
		}
		return e.record(ctx, LedgerEntry{
			RequestID: idemKey, OrderID: orderID, ProductID: productID,
			Op: OpDecrease, Quantity: qty,
			Status: RecordInsufficientStock, RemainingStock: stock,
		})
	default:
		return StockResult{}, err
	}
}

func (e *Engine) decreaseCacheFirst(ctx context.Context, productID, orderID string, qty int, idemKey string) (StockResult, error) {
	err := e.cache.Reserve(ctx, productID, qty)
	switch {
	case err == nil:
	case errors.Is(err, ErrCacheShort):
		// Fast fail from the cache alone. Deliberately NOT recorded: the
		// durable store was never consulted, and stock may return before a
		// retry under a fresh key.
		return StockResult{Success: false, Message: "insufficient stock"}, ErrInsufficientStock
	case errors.Is(err, ErrCacheUnavailable):
		e.metrics.CacheFallback()
		e.logf("cache unavailable, falling back to durable decrement. productId=%s", productID)
		return e.decreaseDurable(ctx, productID, orderID, qty, idemKey)
	default:
		return StockResult{}, fmt.Errorf("cache reserve: %w", err)
	}

	remaining, err := e.store.DecrementIf(ctx, productID, orderID, qty, idemKey)
	switch {
	case err == nil:
		return e.record(ctx, LedgerEntry{
			RequestID: idemKey, OrderID: orderID, ProductID: productID,
			Op: OpDecrease, Quantity: qty,
			Status: RecordSuccess, RemainingStock: remaining,
		})
	case errors.Is(err, ErrInsufficientStock):
		// Cache said yes, durable said no: the counter drifted upward. Put
		// the reservation back (overwriting would erase concurrent in-flight
		// reservations) and record the refusal.
		e.metrics.CacheRestore()
		if restoreErr := e.cache.Restore(ctx, productID, qty); restoreErr != nil {
			e.logf("cache restore after drift failed. productId=%s: %v", productID, restoreErr)
		}
		stock, stockErr := e.store.Stock(ctx, productID)
		if stockErr != nil {
			return StockResult{}, fmt.Errorf("read stock after drift: %w", stockErr)
		}
		return e.record(ctx, LedgerEntry{
			RequestID: idemKey, OrderID: orderID, ProductID: productID,
			Op: OpDecrease, Quantity: qty,
			Status: RecordInsufficientStock, RemainingStock: stock,
		})
	default:
		// Transient durable failure: release the reservation so the cached
		// balance does not leak downward, and let the caller retry.
		if restoreErr := e.cache.Restore(ctx, productID, qty); restoreErr != nil {
			e.logf("cache restore after durable failure failed. productId=%s: %v", productID, restoreErr)
		}
		return StockResult{}, err
	}
}

// Increase adds stock back for an order, exactly once per idempotency key.
// The durable store is the authority; the cache counter is reconciled after.
func (e *Engine) Increase(ctx context.Context, productID, orderID string, qty int, idemKey string) (StockResult, error) {
	if idemKey == "" {
		return StockResult{}, errors.New("missing idempotency key")
	}
	if qty <= 0 {
		return StockResult{}, fmt.Errorf("invalid quantity %d", qty)
	}

	if entry, ok, err := e.ledger.Lookup(ctx, idemKey); err != nil {
		return StockResult{}, fmt.Errorf("ledger lookup: %w", err)
	} else if ok {
		e.logf("increase replayed from ledger. requestId=%s status=%s", idemKey, entry.Status)
		return entryResult(entry)
	}

	remaining, err := e.store.Increment(ctx, productID, orderID, qty, idemKey)
	if err != nil {
		return StockResult{}, err
	}

	if e.cache != nil {
		if strategy, serr := e.store.Strategy(ctx, productID); serr == nil && strategy == StrategyCacheFirst {
			if syncErr := e.cache.Sync(ctx, productID, remaining); syncErr != nil {
				e.logf("cache resync after increase failed. productId=%s: %v", productID, syncErr)
			}
		}
	}

	return e.record(ctx, LedgerEntry{
		RequestID: idemKey, OrderID: orderID, ProductID: productID,
		Op: OpIncrease, Quantity: qty,
		Status: RecordSuccess, RemainingStock: remaining,
	})
}

// record persists the outcome and returns whichever entry won the key. Two
// racing calls with one key thus answer identically. The caller-facing
// message is stored with the entry so a replay reads it back rather than
// re-deriving it.
func (e *Engine) record(ctx context.Context, entry LedgerEntry) (StockResult, error) {
	if entry.Message == "" {
		entry.Message = statusMessage(entry.Status)
	}
	won, err := e.ledger.RecordOnce(ctx, entry)
	if err != nil {
		return StockResult{}, fmt.Errorf("ledger record: %w", err)
	}
	return entryResult(won)
}

func entryResult(entry LedgerEntry) (StockResult, error) {
	message := entry.Message
	if message == "" {
		message = statusMessage(entry.Status)
	}
	switch entry.Status {
	case RecordSuccess:
		return StockResult{
			Success:        true,
			RemainingStock: entry.RemainingStock,
			Message:        message,
		}, nil
	case RecordInsufficientStock:
		return StockResult{
			Success:        false,
			RemainingStock: entry.RemainingStock,
			Message:        message,
		}, ErrInsufficientStock
	default:
		return StockResult{}, fmt.Errorf("unexpected ledger status %q", entry.Status)
	}
}

func statusMessage(status RecordStatus) string {
	switch status {
	case RecordSuccess:
		return "stock adjusted"
	case RecordInsufficientStock:
		return "insufficient stock"
	}
	return ""
}
