// Package ordersdb persists orders in Postgres.
package ordersdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stockline/internal/orders"
)

// OrderStore persists orders and enforces their status transitions.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore constructs an OrderStore backed by Postgres.
func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

// NewOrderStoreWithSchema initializes the schema then returns the store.
func NewOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*OrderStore, error) {
	store := NewOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the orders table if it does not exist.
func (s *OrderStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			buyer_id TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			status TEXT NOT NULL,
			fail_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// CreatePending inserts the order in PENDING and returns the stored row.
func (s *OrderStore) CreatePending(ctx context.Context, o orders.Order) (orders.Order, error) {
	if o.ID == "" {
		return orders.Order{}, fmt.Errorf("order id required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, product_id, buyer_id, quantity, status)
		VALUES ($1, $2, $3, $4, $5)`,
		o.ID, o.ProductID, o.BuyerID, o.Quantity, orders.StatusPending,
	)
	if err != nil {
		return orders.Order{}, err
	}
	return s.Find(ctx, o.ID)
}

// Find returns the order by id.
func (s *OrderStore) Find(ctx context.Context, id string) (orders.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, buyer_id, quantity, status, fail_reason, created_at, updated_at
		FROM orders
		WHERE id = $1`,
		id,
	)

	var o orders.Order
	var status string
	var failReason sql.NullString
	err := row.Scan(&o.ID, &o.ProductID, &o.BuyerID, &o.Quantity, &status, &failReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return orders.Order{}, orders.ErrNotFound
		}
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)
	o.FailReason = failReason.String
	return o, nil
}

// MarkConfirmed moves a PENDING order to CONFIRMED.
func (s *OrderStore) MarkConfirmed(ctx context.Context, id string) (orders.Order, error) {
	return s.transition(ctx, id, orders.StatusPending, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, orders.StatusConfirmed, orders.StatusPending,
	)
}

// MarkFailed moves a PENDING order to FAILED and records the reason.
func (s *OrderStore) MarkFailed(ctx context.Context, id, reason string) (orders.Order, error) {
	return s.transition(ctx, id, orders.StatusPending, `
		UPDATE orders
		SET status = $2, fail_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`,
		id, orders.StatusFailed, reason, orders.StatusPending,
	)
}

// MarkCancelled moves a CONFIRMED order to CANCELLED.
func (s *OrderStore) MarkCancelled(ctx context.Context, id string) (orders.Order, error) {
	return s.transition(ctx, id, orders.StatusConfirmed, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, orders.StatusCancelled, orders.StatusConfirmed,
	)
}

// transition runs a conditional status update. Zero affected rows means the
// order is missing or not in the expected state; the read back tells which.
func (s *OrderStore) transition(ctx context.Context, id string, expected orders.Status, query string, args ...any) (orders.Order, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return orders.Order{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return orders.Order{}, err
	}
	if affected > 0 {
		return s.Find(ctx, id)
	}

	current, err := s.Find(ctx, id)
	if err != nil {
		return orders.Order{}, err
	}
	return orders.Order{}, fmt.Errorf("order %s is %s, want %s: %w",
		id, current.Status, expected, orders.ErrInvalidTransition)
}
