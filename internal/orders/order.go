package orders

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// ErrNotFound signals an order id with no stored order.
var ErrNotFound = errors.New("order not found")

// ErrInvalidTransition signals a status change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid order status transition")

// Order is the ledger entry for a single purchase. Orders are created in
// PENDING and only ever move forward; they are never deleted.
type Order struct {
	ID         string
	ProductID  string
	BuyerID    string
	Quantity   int
	Status     Status
	FailReason string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// New builds a PENDING order.
func New(id, productID, buyerID string, quantity int) Order {
	now := time.Now().UTC()
	return Order{
		ID:        id,
		ProductID: productID,
		BuyerID:   buyerID,
		Quantity:  quantity,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another: PENDING may become CONFIRMED or FAILED, CONFIRMED may become
// CANCELLED, and nothing else moves.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusFailed
	case StatusConfirmed:
		return to == StatusCancelled
	default:
		return false
	}
}
