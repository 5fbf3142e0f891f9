package messaging

import (
	"context"
	"encoding/json"
	"log"

	"github.com/segmentio/kafka-go"
)

// Writer is the minimal kafka writer surface used by the publishers;
// *kafka.Writer satisfies it.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// DecreasePublisher publishes decrease requests to the request topic,
// keyed by order id so one order's messages stay ordered.
type DecreasePublisher struct {
	writer Writer
	logf   func(format string, args ...any)
}

// NewDecreasePublisher constructs a DecreasePublisher.
func NewDecreasePublisher(writer Writer, logf func(format string, args ...any)) *DecreasePublisher {
	if logf == nil {
		logf = log.Printf
	}
	return &DecreasePublisher{writer: writer, logf: logf}
}

// PublishDecreaseRequest serializes and publishes the event.
func (p *DecreasePublisher) PublishDecreaseRequest(ctx context.Context, ev DecreaseRequest) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: value,
	})
	if err != nil {
		p.logf("publish decrease request failed. orderId=%s: %v", ev.OrderID, err)
		return err
	}
	return nil
}

// ResultPublisher publishes stock results to the result queue. Publishes are
// retried: losing a result strands the order in PENDING, so transient broker
// errors are worth absorbing here.
type ResultPublisher struct {
	writer Writer
	retry  RetryPolicy
	logf   func(format string, args ...any)
}

// NewResultPublisher constructs a ResultPublisher.
func NewResultPublisher(writer Writer, retry RetryPolicy, logf func(format string, args ...any)) *ResultPublisher {
	if logf == nil {
		logf = log.Printf
	}
	return &ResultPublisher{writer: writer, retry: retry, logf: logf}
}

// PublishResult serializes and publishes the event, retrying per the policy.
func (p *ResultPublisher) PublishResult(ctx context.Context, ev StockResult) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: value,
	}
	err = p.retry.Do(ctx, func() error {
		return p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		p.logf("publish stock result failed. orderId=%s: %v", ev.OrderID, err)
		return err
	}
	return nil
}
