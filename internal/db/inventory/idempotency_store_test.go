package invdb

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"stockline/internal/inventory"
)

func adjustmentRows(e inventory.LedgerEntry) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"request_id", "order_id", "product_id", "op", "quantity", "status", "message", "remaining",
	}).AddRow(e.RequestID, e.OrderID, e.ProductID, string(e.Op), e.Quantity, string(e.Status), e.Message, e.RemainingStock)
}

func TestIdempotencyStore_LookupMiss(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT request_id, order_id").
		WithArgs("DEC-o1").
		WillReturnRows(sqlmock.NewRows([]string{
			"request_id", "order_id", "product_id", "op", "quantity", "status", "message", "remaining",
		}))
	mock.ExpectClose()

	store := NewIdempotencyStore(db)
	_, ok, err := store.Lookup(context.Background(), "DEC-o1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatalf("expected miss")
	}
}

func TestIdempotencyStore_LookupHit(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	want := inventory.LedgerEntry{
		RequestID: "DEC-o1", OrderID: "o1", ProductID: "p1",
		Op: inventory.OpDecrease, Quantity: 3,
		Status: inventory.RecordSuccess, Message: "stock adjusted", RemainingStock: 7,
	}
	mock.ExpectQuery("SELECT request_id, order_id").
		WithArgs("DEC-o1").
		WillReturnRows(adjustmentRows(want))
	mock.ExpectClose()

	store := NewIdempotencyStore(db)
	got, ok, err := store.Lookup(context.Background(), "DEC-o1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || got != want {
		t.Fatalf("expected %+v, got %+v (ok=%v)", want, got, ok)
	}
}

func TestIdempotencyStore_RecordOnceWins(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	entry := inventory.LedgerEntry{
		RequestID: "DEC-o1", OrderID: "o1", ProductID: "p1",
		Op: inventory.OpDecrease, Quantity: 3,
		Status: inventory.RecordSuccess, Message: "stock adjusted", RemainingStock: 7,
	}
	mock.ExpectExec("INSERT INTO stock_adjustments").
		WithArgs("DEC-o1", "o1", "p1", "DECREASE", 3, "SUCCESS", "stock adjusted", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT request_id, order_id").
		WithArgs("DEC-o1").
		WillReturnRows(adjustmentRows(entry))
	mock.ExpectClose()

	store := NewIdempotencyStore(db)
	got, err := store.RecordOnce(context.Background(), entry)
	if err != nil {
		t.Fatalf("RecordOnce: %v", err)
	}
	if got != entry {
		t.Fatalf("expected %+v, got %+v", entry, got)
	}
}

func TestIdempotencyStore_RecordOnceLosesRace(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	loser := inventory.LedgerEntry{
		RequestID: "DEC-o1", OrderID: "o1", ProductID: "p1",
		Op: inventory.OpDecrease, Quantity: 3,
		Status: inventory.RecordSuccess, Message: "stock adjusted", RemainingStock: 4,
	}
	winner := loser
	winner.RemainingStock = 7

	mock.ExpectExec("INSERT INTO stock_adjustments").
		WithArgs("DEC-o1", "o1", "p1", "DECREASE", 3, "SUCCESS", "stock adjusted", 4).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT request_id, order_id").
		WithArgs("DEC-o1").
		WillReturnRows(adjustmentRows(winner))
	mock.ExpectClose()

	store := NewIdempotencyStore(db)
	got, err := store.RecordOnce(context.Background(), loser)
	if err != nil {
		t.Fatalf("RecordOnce: %v", err)
	}
	if got != winner {
		t.Fatalf("the stored row must win the race: expected %+v, got %+v", winner, got)
	}
}

func TestIdempotencyStore_RecordOnceRequiresKey(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)
	mock.ExpectClose()

	store := NewIdempotencyStore(db)
	if _, err := store.RecordOnce(context.Background(), inventory.LedgerEntry{}); err == nil {
		t.Fatalf("expected error for missing request id")
	}
}
