package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"stockline/internal/inventory"
)

// Reader is the minimal kafka reader surface used by the consumers;
// *kafka.Reader satisfies it.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// StockAdjuster is the inventory engine surface the request consumer drives.
type StockAdjuster interface {
	Decrease(ctx context.Context, productID, orderID string, quantity int, idemKey string) (inventory.StockResult, error)
}

// ResultSink receives the outcome of a decrease request.
type ResultSink interface {
	PublishResult(ctx context.Context, ev StockResult) error
}

// RequestConsumer runs on the inventory side: it consumes decrease requests,
// applies them through the engine, and publishes the outcome.
type RequestConsumer struct {
	reader  Reader
	engine  StockAdjuster
	results ResultSink
	logf    func(format string, args ...any)
}

// NewRequestConsumer constructs a RequestConsumer.
func NewRequestConsumer(reader Reader, engine StockAdjuster, results ResultSink, logf func(format string, args ...any)) *RequestConsumer {
	if logf == nil {
		logf = log.Printf
	}
	return &RequestConsumer{reader: reader, engine: engine, results: results, logf: logf}
}

// Run consumes until the context is cancelled.
func (c *RequestConsumer) Run(ctx context.Context) {
	runLoop(ctx, c.reader, c.logf, c.process)
}

func (c *RequestConsumer) process(ctx context.Context, msg kafka.Message) {
	var ev DecreaseRequest
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.logf("skipping undecodable decrease request: %v", err)
		return
	}

	c.logf("decrease request received. orderId=%s productId=%s qty=%d", ev.OrderID, ev.ProductID, ev.Quantity)

	result := StockResult{OrderID: ev.OrderID, Success: true}
	_, err := c.engine.Decrease(ctx, ev.ProductID, ev.OrderID, ev.Quantity, ev.RequestID)
	switch {
	case err == nil:
	case errors.Is(err, inventory.ErrInsufficientStock):
		result = StockResult{OrderID: ev.OrderID, Message: ResultInsufficientStock}
	case errors.Is(err, inventory.ErrProductNotFound):
		result = StockResult{OrderID: ev.OrderID, Message: ResultProductNotFound}
	default:
		c.logf("decrease request failed. orderId=%s: %v", ev.OrderID, err)
		result = StockResult{OrderID: ev.OrderID, Message: ResultSystemError}
	}

	if err := c.results.PublishResult(ctx, result); err != nil {
		c.logf("result publish failed. orderId=%s: %v", ev.OrderID, err)
	}
}

// ResultHandler receives stock results on the orders side.
type ResultHandler interface {
	HandleStockResult(ctx context.Context, ev StockResult) error
}

// ResultConsumer runs on the orders side: it consumes stock results and
// finalizes (or compensates) the matching order.
type ResultConsumer struct {
	reader  Reader
	handler ResultHandler
	logf    func(format string, args ...any)
}

// NewResultConsumer constructs a ResultConsumer.
func NewResultConsumer(reader Reader, handler ResultHandler, logf func(format string, args ...any)) *ResultConsumer {
	if logf == nil {
		logf = log.Printf
	}
	return &ResultConsumer{reader: reader, handler: handler, logf: logf}
}

// Run consumes until the context is cancelled.
func (c *ResultConsumer) Run(ctx context.Context) {
	runLoop(ctx, c.reader, c.logf, c.process)
}

func (c *ResultConsumer) process(ctx context.Context, msg kafka.Message) {
	var ev StockResult
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.logf("skipping undecodable stock result: %v", err)
		return
	}
	if err := c.handler.HandleStockResult(ctx, ev); err != nil {
		c.logf("stock result handling failed. orderId=%s: %v", ev.OrderID, err)
	}
}

// runLoop is the shared fetch/process/commit cycle. A message is committed
// even when processing failed: both consumers deduplicate by key or order
// status, so redelivery is safe but endless redelivery of a poison message
// is not.
func runLoop(ctx context.Context, reader Reader, logf func(format string, args ...any), process func(context.Context, kafka.Message)) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logf("consumer shutting down")
				return
			}
			logf("fetch message failed, backing off: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		process(ctx, msg)

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logf("commit failed: %v", err)
		}
	}
}
