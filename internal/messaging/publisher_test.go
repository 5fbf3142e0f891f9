package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []kafka.Message
	errs []error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if len(w.errs) > 0 {
		err := w.errs[0]
		w.errs = w.errs[1:]
		if err != nil {
			return err
		}
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestDecreasePublisher_KeysByOrderID(t *testing.T) {
	writer := &fakeWriter{}
	pub := NewDecreasePublisher(writer, func(string, ...any) {})

	ev := DecreaseRequest{OrderID: "order-1", ProductID: "prod-1", Quantity: 3, RequestID: "DEC-order-1"}
	if err := pub.PublishDecreaseRequest(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(writer.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.msgs))
	}
	msg := writer.msgs[0]
	if string(msg.Key) != "order-1" {
		t.Fatalf("expected key by order id, got %q", msg.Key)
	}

	var decoded DecreaseRequest
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != ev {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestDecreasePublisher_SurfacesWriteError(t *testing.T) {
	writer := &fakeWriter{errs: []error{errors.New("broker down")}}
	pub := NewDecreasePublisher(writer, func(string, ...any) {})

	if err := pub.PublishDecreaseRequest(context.Background(), DecreaseRequest{OrderID: "order-1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestResultPublisher_RetriesTransientFailures(t *testing.T) {
	writer := &fakeWriter{errs: []error{errors.New("transient"), errors.New("transient")}}
	pub := NewResultPublisher(writer, RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}, func(string, ...any) {})

	ev := StockResult{OrderID: "order-1", Success: true}
	if err := pub.PublishResult(context.Background(), ev); err != nil {
		t.Fatalf("expected retries to succeed, got: %v", err)
	}
	if len(writer.msgs) != 1 {
		t.Fatalf("expected exactly one delivered message, got %d", len(writer.msgs))
	}
}

func TestResultPublisher_GivesUpAfterMaxAttempts(t *testing.T) {
	writer := &fakeWriter{errs: []error{
		errors.New("down"), errors.New("down"), errors.New("down"),
	}}
	pub := NewResultPublisher(writer, RetryPolicy{
		MaxAttempts: 3,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}, func(string, ...any) {})

	if err := pub.PublishResult(context.Background(), StockResult{OrderID: "order-1"}); err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
}
