package saga

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"stockline/internal/messaging"
	"stockline/internal/orders"
)

// ErrAsyncDisabled is returned by StartOrderAsync when no publisher is wired.
var ErrAsyncDisabled = errors.New("async ordering is not configured")

// ErrPublishFailed is returned when the decrease request could not be handed
// to the broker; the order has already been invalidated.
var ErrPublishFailed = errors.New("decrease request publish failed")

// Service owns the order flows. Each flow is a saga run; the service seeds
// the context, picks the steps, and reports the resulting order.
type Service struct {
	store     OrderStore
	stock     StockClient
	publisher RequestPublisher
	orch      *Orchestrator
	newID     func() string
	notify    func(orders.Order)
	logf      func(format string, args ...any)
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithPublisher enables the async flow.
func WithPublisher(p RequestPublisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// WithNotifier installs a callback invoked after every order status change.
func WithNotifier(notify func(orders.Order)) ServiceOption {
	return func(s *Service) { s.notify = notify }
}

// WithIDGenerator overrides the order id source.
func WithIDGenerator(newID func() string) ServiceOption {
	return func(s *Service) { s.newID = newID }
}

// WithServiceLogger overrides the default log.Printf logger.
func WithServiceLogger(logf func(format string, args ...any)) ServiceOption {
	return func(s *Service) { s.logf = logf }
}

// NewService constructs a Service.
func NewService(store OrderStore, stock StockClient, metrics Metrics, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		stock: stock,
		newID: uuid.NewString,
		logf:  log.Printf,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.orch = NewOrchestrator(s.logf, metrics)
	return s
}

// StartOrder runs the synchronous create flow: persist PENDING, decrement
// stock remotely, confirm. The returned order carries the final status; a
// non-nil error means the flow hit a retryable dependency failure and the
// caller may retry the whole call.
func (s *Service) StartOrder(ctx context.Context, productID, buyerID string, quantity int) (orders.Order, error) {
	if err := validateRequest(productID, buyerID, quantity); err != nil {
		return orders.Order{}, err
	}

	steps := []Step{
		&CreateOrderPendingStep{Store: s.store, NewID: s.newID, Logf: s.logf},
		&DecreaseStockAndConfirmStep{Stock: s.stock, Store: s.store, Logf: s.logf},
	}

	sc, err := s.orch.Run(ctx, steps, NewContext(productID, buyerID, quantity))
	if err != nil {
		return sc.Order, err
	}
	s.notifyOrder(sc.Order)
	return sc.Order, nil
}

// StartOrderAsync runs the broker-backed create flow: persist PENDING,
// publish the decrease request, and return immediately. The order is settled
// later by HandleStockResult.
func (s *Service) StartOrderAsync(ctx context.Context, productID, buyerID string, quantity int) (orders.Order, error) {
	if s.publisher == nil {
		return orders.Order{}, ErrAsyncDisabled
	}
	if err := validateRequest(productID, buyerID, quantity); err != nil {
		return orders.Order{}, err
	}

	steps := []Step{
		&CreateOrderPendingStep{Store: s.store, NewID: s.newID, Logf: s.logf},
		&PublishDecreaseStep{Publisher: s.publisher, Logf: s.logf},
	}

	sc, err := s.orch.Run(ctx, steps, NewContext(productID, buyerID, quantity))
	if err != nil {
		return sc.Order, err
	}
	s.notifyOrder(sc.Order)

	// A failed publish has already been compensated into FAILED; surface it
	// so the caller does not wait for a result that will never come.
	if sc.Order.Status == orders.StatusFailed {
		return sc.Order, ErrPublishFailed
	}
	return sc.Order, nil
}

// StartCancel runs the cancel flow on a CONFIRMED order: restore stock
// remotely, then mark the order CANCELLED.
func (s *Service) StartCancel(ctx context.Context, orderID string) (orders.Order, error) {
	o, err := s.store.Find(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if o.Status != orders.StatusConfirmed {
		return o, fmt.Errorf("order %s is %s, only CONFIRMED orders can be cancelled: %w",
			orderID, o.Status, orders.ErrInvalidTransition)
	}

	steps := []Step{
		&IncreaseStockByCancelStep{Stock: s.stock, Logf: s.logf},
		&CancelOrderStep{Store: s.store, Logf: s.logf},
	}

	sc, err := s.orch.Run(ctx, steps, ContextFromOrder(o))
	if err != nil {
		return sc.Order, err
	}
	if sc.Order.Status != o.Status {
		s.notifyOrder(sc.Order)
	}
	return sc.Order, nil
}

// FindOrder returns the order by id.
func (s *Service) FindOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return s.store.Find(ctx, orderID)
}

// HandleStockResult settles a PENDING order from an async decrease outcome.
// Results for unknown or already-settled orders are ignored: redeliveries
// and late results must not move an order twice.
func (s *Service) HandleStockResult(ctx context.Context, ev messaging.StockResult) error {
	o, err := s.store.Find(ctx, ev.OrderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			s.logf("stock result for unknown order ignored. orderId=%s", ev.OrderID)
			return nil
		}
		return err
	}
	if o.Status != orders.StatusPending {
		s.logf("stale stock result ignored. orderId=%s status=%s", ev.OrderID, o.Status)
		return nil
	}

	if ev.Success {
		confirmed, err := s.store.MarkConfirmed(ctx, ev.OrderID)
		if err != nil {
			return fmt.Errorf("confirm order %s from stock result: %w", ev.OrderID, err)
		}
		s.logf("order CONFIRMED by stock result. orderId=%s", ev.OrderID)
		s.notifyOrder(confirmed)
		return nil
	}

	reason := ev.Message
	if reason == "" {
		reason = failReasonInventoryError
	}
	failed, err := s.store.MarkFailed(ctx, ev.OrderID, reason)
	if err != nil {
		return fmt.Errorf("fail order %s from stock result: %w", ev.OrderID, err)
	}
	s.logf("order FAILED by stock result. orderId=%s reason=%s", ev.OrderID, reason)
	s.notifyOrder(failed)
	return nil
}

func (s *Service) notifyOrder(o orders.Order) {
	if s.notify != nil && o.ID != "" {
		s.notify(o)
	}
}

func validateRequest(productID, buyerID string, quantity int) error {
	if productID == "" {
		return errors.New("product id required")
	}
	if buyerID == "" {
		return errors.New("buyer id required")
	}
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	return nil
}
