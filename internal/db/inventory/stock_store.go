// Package invdb persists products, stock movements and adjustment records in
// Postgres.
package invdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stockline/internal/inventory"
)

// StockStore persists products and their stock balance. A CHECK constraint
// keeps stock non-negative even if a query slips past the conditional guard.
type StockStore struct {
	db *sql.DB
}

// NewStockStore constructs a StockStore backed by Postgres.
func NewStockStore(db *sql.DB) *StockStore {
	return &StockStore{db: db}
}

// NewStockStoreWithSchema initializes the schema then returns the store.
func NewStockStoreWithSchema(ctx context.Context, db *sql.DB) (*StockStore, error) {
	store := NewStockStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the product and movement tables if they do not exist.
func (s *StockStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			stock INTEGER NOT NULL CHECK (stock >= 0),
			strategy TEXT NOT NULL DEFAULT 'DB_ONLY',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS stock_movements (
			id BIGSERIAL PRIMARY KEY,
			product_id TEXT NOT NULL,
			order_id TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			delta INTEGER NOT NULL,
			remaining INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Strategy returns the adjustment strategy configured for the product.
func (s *StockStore) Strategy(ctx context.Context, productID string) (inventory.Strategy, error) {
	var strategy string
	row := s.db.QueryRowContext(ctx, `SELECT strategy FROM products WHERE id = $1`, productID)
	if err := row.Scan(&strategy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", inventory.ErrProductNotFound
		}
		return "", err
	}
	return inventory.Strategy(strategy), nil
}

// DecrementIf atomically decrements stock when the balance covers qty and
// returns the remaining stock. The guard in the WHERE clause is what makes
// concurrent decrements admit at most floor(stock/qty) winners.
func (s *StockStore) DecrementIf(ctx context.Context, productID, orderID string, qty int, requestID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
		RETURNING stock`,
		productID, qty,
	)

	var remaining int
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, s.diagnoseRefusal(ctx, productID)
		}
		return 0, err
	}

	if err := s.appendMovement(ctx, productID, orderID, requestID, -qty, remaining); err != nil {
		return 0, err
	}
	return remaining, nil
}

// Increment unconditionally adds qty and returns the remaining stock.
func (s *StockStore) Increment(ctx context.Context, productID, orderID string, qty int, requestID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING stock`,
		productID, qty,
	)

	var remaining int
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, inventory.ErrProductNotFound
		}
		return 0, err
	}

	if err := s.appendMovement(ctx, productID, orderID, requestID, qty, remaining); err != nil {
		return 0, err
	}
	return remaining, nil
}

// Stock returns the current stock balance.
func (s *StockStore) Stock(ctx context.Context, productID string) (int, error) {
	var stock int
	row := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID)
	if err := row.Scan(&stock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, inventory.ErrProductNotFound
		}
		return 0, err
	}
	return stock, nil
}

// Create inserts a product and returns the stored row.
func (s *StockStore) Create(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	if p.ID == "" {
		return inventory.Product{}, fmt.Errorf("product id required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, stock, strategy)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Name, p.Stock, p.Strategy,
	)
	if err != nil {
		return inventory.Product{}, err
	}
	return s.Product(ctx, p.ID)
}

// Product returns the product row by id.
func (s *StockStore) Product(ctx context.Context, id string) (inventory.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, stock, strategy FROM products WHERE id = $1`, id)

	var p inventory.Product
	var strategy string
	if err := row.Scan(&p.ID, &p.Name, &p.Stock, &strategy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inventory.Product{}, inventory.ErrProductNotFound
		}
		return inventory.Product{}, err
	}
	p.Strategy = inventory.Strategy(strategy)
	return p, nil
}

// SetStrategy updates the product's adjustment strategy.
func (s *StockStore) SetStrategy(ctx context.Context, id string, strategy inventory.Strategy) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET strategy = $2, updated_at = NOW() WHERE id = $1`,
		id, strategy,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return inventory.ErrProductNotFound
	}
	return nil
}

func (s *StockStore) appendMovement(ctx context.Context, productID, orderID, requestID string, delta, remaining int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_movements (product_id, order_id, request_id, delta, remaining)
		VALUES ($1, $2, $3, $4, $5)`,
		productID, orderID, requestID, delta, remaining,
	)
	return err
}

// diagnoseRefusal distinguishes a missing product from a short balance after
// a guarded update touched no row.
func (s *StockStore) diagnoseRefusal(ctx context.Context, productID string) error {
	var stock int
	row := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID)
	if err := row.Scan(&stock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inventory.ErrProductNotFound
		}
		return err
	}
	return inventory.ErrInsufficientStock
}
