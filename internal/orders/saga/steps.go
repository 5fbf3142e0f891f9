package saga

import (
	"context"
	"errors"
	"fmt"
	"log"

	"stockline/internal/invclient"
	"stockline/internal/messaging"
	"stockline/internal/orders"
)

// OrderStore is the order persistence surface the steps depend on.
type OrderStore interface {
	CreatePending(ctx context.Context, o orders.Order) (orders.Order, error)
	Find(ctx context.Context, id string) (orders.Order, error)
	MarkConfirmed(ctx context.Context, id string) (orders.Order, error)
	MarkFailed(ctx context.Context, id, reason string) (orders.Order, error)
	MarkCancelled(ctx context.Context, id string) (orders.Order, error)
}

// StockClient is the remote inventory surface the steps depend on.
type StockClient interface {
	Decrease(ctx context.Context, productID, orderID string, quantity int, idemKey string) (invclient.StockResult, error)
	Increase(ctx context.Context, productID, orderID string, quantity int, idemKey string) (invclient.StockResult, error)
}

// RequestPublisher publishes stock decrease requests for the async flow.
type RequestPublisher interface {
	PublishDecreaseRequest(ctx context.Context, ev messaging.DecreaseRequest) error
}

// FailReasonCompensated is recorded on orders whose stock decrement was
// rolled back by compensation.
const FailReasonCompensated = "COMPENSATED"

// failReasonInventoryError is recorded when a pending order is invalidated
// because the inventory side never produced a usable answer.
const failReasonInventoryError = "INVENTORY SERVICE ERROR"

func logf(f func(format string, args ...any), format string, args ...any) {
	if f != nil {
		f(format, args...)
		return
	}
	log.Printf(format, args...)
}

// CreateOrderPendingStep persists the order in PENDING and derives the
// idempotency keys from its id.
type CreateOrderPendingStep struct {
	Store OrderStore
	NewID func() string
	Logf  func(format string, args ...any)
}

func (s *CreateOrderPendingStep) Name() string { return "CreateOrderPending" }

func (s *CreateOrderPendingStep) Execute(ctx context.Context, sc Context) (Context, error) {
	o := orders.New(s.NewID(), sc.ProductID, sc.BuyerID, sc.Quantity)
	created, err := s.Store.CreatePending(ctx, o)
	if err != nil {
		return sc, fmt.Errorf("create pending order: %w", err)
	}
	logf(s.Logf, "order PENDING created. orderId=%s", created.ID)
	return sc.WithOrder(created), nil
}

// Compensate invalidates the pending order. It is also invoked directly by
// the async result consumer when the inventory side reports failure.
func (s *CreateOrderPendingStep) Compensate(ctx context.Context, sc Context) (Context, error) {
	failed, err := s.Store.MarkFailed(ctx, sc.OrderID, failReasonInventoryError)
	if err != nil {
		return sc, fmt.Errorf("mark order %s failed: %w", sc.OrderID, err)
	}
	logf(s.Logf, "order marked FAILED by compensation. orderId=%s", sc.OrderID)
	return sc.WithOrder(failed), nil
}

// DecreaseStockAndConfirmStep calls the remote decrease with the DEC key and
// confirms the order on success.
type DecreaseStockAndConfirmStep struct {
	Stock StockClient
	Store OrderStore
	Logf  func(format string, args ...any)
}

func (s *DecreaseStockAndConfirmStep) Name() string { return "DecreaseStockAndConfirm" }

func (s *DecreaseStockAndConfirmStep) Execute(ctx context.Context, sc Context) (Context, error) {
	_, err := s.Stock.Decrease(ctx, sc.ProductID, sc.OrderID, sc.Quantity, sc.DecKey)
	if err != nil {
		var be *invclient.BusinessError
		if errors.As(err, &be) {
			// 4xx: the decrement definitively did not happen. Record the
			// business outcome and stop without compensation.
			logf(s.Logf, "stock decrease rejected. orderId=%s msg=%s", sc.OrderID, be.Message)
			failed, markErr := s.Store.MarkFailed(ctx, sc.OrderID, be.Message)
			if markErr != nil {
				return sc, CompensateError("mark order failed after rejection", markErr)
			}
			return sc.WithOrder(failed), BusinessError("order failed by inventory rejection", err)
		}

		var de *invclient.DependencyError
		if errors.As(err, &de) {
			return sc, RetryableError("inventory dependency failure", err)
		}

		// Unknown transport error: the decrement may have landed.
		return sc, CompensateError("unclassified error after stock decrease call", err)
	}

	logf(s.Logf, "stock decreased. orderId=%s productId=%s qty=%d", sc.OrderID, sc.ProductID, sc.Quantity)

	confirmed, err := s.Store.MarkConfirmed(ctx, sc.OrderID)
	if err != nil {
		// The decrement landed but the order could not be confirmed.
		return sc, CompensateError("confirm order after stock decrease", err)
	}
	logf(s.Logf, "order CONFIRMED. orderId=%s", sc.OrderID)
	return sc.WithOrder(confirmed), nil
}

// Compensate restores the stock with the INC key and records the order as
// FAILED("COMPENSATED").
func (s *DecreaseStockAndConfirmStep) Compensate(ctx context.Context, sc Context) (Context, error) {
	logf(s.Logf, "compensating stock decrease. orderId=%s productId=%s qty=%d", sc.OrderID, sc.ProductID, sc.Quantity)

	if _, err := s.Stock.Increase(ctx, sc.ProductID, sc.OrderID, sc.Quantity, sc.IncKey); err != nil {
		return sc, fmt.Errorf("compensation increase for order %s: %w", sc.OrderID, err)
	}

	failed, err := s.Store.MarkFailed(ctx, sc.OrderID, FailReasonCompensated)
	if err != nil {
		return sc, fmt.Errorf("mark order %s compensated: %w", sc.OrderID, err)
	}
	return sc.WithOrder(failed), nil
}

// IncreaseStockByCancelStep restores stock with the INC key as the first leg
// of the cancel flow.
type IncreaseStockByCancelStep struct {
	Stock StockClient
	Logf  func(format string, args ...any)
}

func (s *IncreaseStockByCancelStep) Name() string { return "IncreaseStockByCancel" }

func (s *IncreaseStockByCancelStep) Execute(ctx context.Context, sc Context) (Context, error) {
	logf(s.Logf, "cancel saga - increasing stock. orderId=%s productId=%s qty=%d", sc.OrderID, sc.ProductID, sc.Quantity)

	_, err := s.Stock.Increase(ctx, sc.ProductID, sc.OrderID, sc.Quantity, sc.IncKey)
	if err == nil {
		return sc, nil
	}

	var de *invclient.DependencyError
	if errors.As(err, &de) {
		return sc, RetryableError("cancel increase dependency failure", err)
	}

	var be *invclient.BusinessError
	if errors.As(err, &be) {
		// 4xx on increase (e.g. product gone): cancel is impossible, order
		// stays CONFIRMED.
		return sc, BusinessError("cancel increase rejected", err)
	}

	return sc, CompensateError("unclassified error after stock increase call", err)
}

// Compensate undoes the increase with the DEC key; the order status is left
// untouched.
func (s *IncreaseStockByCancelStep) Compensate(ctx context.Context, sc Context) (Context, error) {
	logf(s.Logf, "cancel saga - compensating increase with decrease. orderId=%s", sc.OrderID)

	if _, err := s.Stock.Decrease(ctx, sc.ProductID, sc.OrderID, sc.Quantity, sc.DecKey); err != nil {
		return sc, fmt.Errorf("compensation decrease for order %s: %w", sc.OrderID, err)
	}
	return sc, nil
}

// CancelOrderStep moves the order to CANCELLED once its stock is restored.
type CancelOrderStep struct {
	Store OrderStore
	Logf  func(format string, args ...any)
}

func (s *CancelOrderStep) Name() string { return "CancelOrder" }

func (s *CancelOrderStep) Execute(ctx context.Context, sc Context) (Context, error) {
	cancelled, err := s.Store.MarkCancelled(ctx, sc.OrderID)
	if err != nil {
		// Stock was already restored; the prior step's compensation undoes
		// that, so this failure must trigger the unwind.
		return sc, CompensateError("cancel order", err)
	}
	logf(s.Logf, "order CANCELLED. orderId=%s", sc.OrderID)
	return sc.WithOrder(cancelled), nil
}

// Compensate is a no-op: the stock restore is undone by
// IncreaseStockByCancelStep.Compensate, not here.
func (s *CancelOrderStep) Compensate(ctx context.Context, sc Context) (Context, error) {
	return sc, nil
}

// PublishDecreaseStep hands the stock decrement to the broker instead of
// calling the inventory service inline. The requestId carries the DEC key so
// the inventory side can deduplicate.
type PublishDecreaseStep struct {
	Publisher RequestPublisher
	Logf      func(format string, args ...any)
}

func (s *PublishDecreaseStep) Name() string { return "PublishDecreaseRequest" }

func (s *PublishDecreaseStep) Execute(ctx context.Context, sc Context) (Context, error) {
	ev := messaging.DecreaseRequest{
		OrderID:   sc.OrderID,
		ProductID: sc.ProductID,
		Quantity:  sc.Quantity,
		RequestID: sc.DecKey,
	}
	if err := s.Publisher.PublishDecreaseRequest(ctx, ev); err != nil {
		return sc, fmt.Errorf("publish decrease request for order %s: %w", sc.OrderID, err)
	}
	logf(s.Logf, "decrease request published. orderId=%s requestId=%s", sc.OrderID, sc.DecKey)
	return sc, nil
}

// Compensate is a no-op: a request that was never published has no remote
// effect, and a published one is answered through the result queue.
func (s *PublishDecreaseStep) Compensate(ctx context.Context, sc Context) (Context, error) {
	return sc, nil
}
