// Package saga runs the order flows as ordered step lists with explicit
// compensation. Each step's failure carries an ErrorType tag that tells the
// orchestrator whether to stop, rethrow, or unwind.
package saga

import (
	"context"
	"errors"
	"fmt"

	"stockline/internal/orders"
)

// ErrorType classifies a step failure for the orchestrator.
type ErrorType int

const (
	// Business: the step already recorded the failure on the order (e.g.
	// marked it FAILED); nothing was mutated remotely, so no compensation
	// and no retry.
	Business ErrorType = iota
	// Retryable: the remote dependency failed in an unknown state; the
	// error is rethrown to the caller, which owns retry policy.
	Retryable
	// Compensate: a possibly-committed mutation must be unwound.
	Compensate
)

func (t ErrorType) String() string {
	switch t {
	case Business:
		return "BUSINESS"
	case Retryable:
		return "RETRYABLE"
	case Compensate:
		return "COMPENSATE"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// StepError tags a step failure with its ErrorType. Errors without this tag
// are treated conservatively as Compensate.
type StepError struct {
	Type  ErrorType
	Msg   string
	Cause error
}

func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Msg)
}

func (e *StepError) Unwrap() error { return e.Cause }

// BusinessError tags err as a business failure.
func BusinessError(msg string, cause error) *StepError {
	return &StepError{Type: Business, Msg: msg, Cause: cause}
}

// RetryableError tags err as retryable by the caller.
func RetryableError(msg string, cause error) *StepError {
	return &StepError{Type: Retryable, Msg: msg, Cause: cause}
}

// CompensateError tags err as requiring compensation.
func CompensateError(msg string, cause error) *StepError {
	return &StepError{Type: Compensate, Msg: msg, Cause: cause}
}

// ClassifyError returns the ErrorType carried by err, defaulting to
// Compensate for untagged errors.
func ClassifyError(err error) ErrorType {
	var se *StepError
	if errors.As(err, &se) {
		return se.Type
	}
	return Compensate
}

// Context is the accumulator threaded through a single saga run. Steps
// receive it by value and return an updated copy; no context is ever shared
// across concurrent runs.
type Context struct {
	ProductID string
	BuyerID   string
	Quantity  int

	// OrderID and the derived keys are set once the pending order exists.
	OrderID string
	DecKey  string
	IncKey  string

	Order orders.Order
}

// NewContext seeds a context for the create flow.
func NewContext(productID, buyerID string, quantity int) Context {
	return Context{ProductID: productID, BuyerID: buyerID, Quantity: quantity}
}

// ContextFromOrder seeds a context for flows that start from a stored order
// (cancel, async result handling).
func ContextFromOrder(o orders.Order) Context {
	sc := Context{
		ProductID: o.ProductID,
		BuyerID:   o.BuyerID,
		Quantity:  o.Quantity,
		Order:     o,
	}
	return sc.withOrderID(o.ID)
}

// WithOrder records the latest order snapshot on the context and derives the
// idempotency keys from its id.
func (c Context) WithOrder(o orders.Order) Context {
	c.Order = o
	return c.withOrderID(o.ID)
}

func (c Context) withOrderID(id string) Context {
	c.OrderID = id
	c.DecKey = "DEC-" + id
	c.IncKey = "INC-" + id
	return c
}

// Step is one unit of a saga flow. Execute returns the updated context even
// when it fails, so the orchestrator always holds the latest order snapshot.
// Compensate undoes whatever Execute changed; it runs at most once and only
// if Execute completed.
type Step interface {
	Name() string
	Execute(ctx context.Context, sc Context) (Context, error)
	Compensate(ctx context.Context, sc Context) (Context, error)
}
