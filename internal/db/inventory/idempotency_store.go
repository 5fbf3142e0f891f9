package invdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stockline/internal/inventory"
)

// IdempotencyStore records settled stock adjustments keyed by request id.
// The primary key is the uniqueness guarantee: a second insert with the same
// key is a no-op and the original row answers.
type IdempotencyStore struct {
	db *sql.DB
}

// NewIdempotencyStore constructs an IdempotencyStore backed by Postgres.
func NewIdempotencyStore(db *sql.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// NewIdempotencyStoreWithSchema initializes the schema then returns the store.
func NewIdempotencyStoreWithSchema(ctx context.Context, db *sql.DB) (*IdempotencyStore, error) {
	store := NewIdempotencyStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the adjustments table if it does not exist.
func (s *IdempotencyStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS stock_adjustments (
			request_id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			op TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			remaining INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Lookup returns the recorded adjustment for the request id, if any.
func (s *IdempotencyStore) Lookup(ctx context.Context, requestID string) (inventory.LedgerEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, order_id, product_id, op, quantity, status, message, remaining
		FROM stock_adjustments
		WHERE request_id = $1`,
		requestID,
	)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inventory.LedgerEntry{}, false, nil
		}
		return inventory.LedgerEntry{}, false, err
	}
	return entry, true, nil
}

// RecordOnce inserts the entry unless the request id is already taken, then
// reads back whichever row won. Racing writers with one key both end up
// returning the same recorded outcome.
func (s *IdempotencyStore) RecordOnce(ctx context.Context, e inventory.LedgerEntry) (inventory.LedgerEntry, error) {
	if e.RequestID == "" {
		return inventory.LedgerEntry{}, fmt.Errorf("request id required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_adjustments (request_id, order_id, product_id, op, quantity, status, message, remaining)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id) DO NOTHING`,
		e.RequestID, e.OrderID, e.ProductID, e.Op, e.Quantity, e.Status, e.Message, e.RemainingStock,
	)
	if err != nil {
		return inventory.LedgerEntry{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, order_id, product_id, op, quantity, status, message, remaining
		FROM stock_adjustments
		WHERE request_id = $1`,
		e.RequestID,
	)
	winner, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inventory.LedgerEntry{}, fmt.Errorf("adjustment not found after insert")
		}
		return inventory.LedgerEntry{}, err
	}
	return winner, nil
}

func scanEntry(row *sql.Row) (inventory.LedgerEntry, error) {
	var e inventory.LedgerEntry
	var op, status string
	err := row.Scan(&e.RequestID, &e.OrderID, &e.ProductID, &op, &e.Quantity, &status, &e.Message, &e.RemainingStock)
	if err != nil {
		return inventory.LedgerEntry{}, err
	}
	e.Op = inventory.Op(op)
	e.Status = inventory.RecordStatus(status)
	return e, nil
}
