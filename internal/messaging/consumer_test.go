package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"stockline/internal/inventory"
)

type fakeReader struct {
	msgs      chan kafka.Message
	committed chan kafka.Message
}

func newFakeReader(size int) *fakeReader {
	return &fakeReader{
		msgs:      make(chan kafka.Message, size),
		committed: make(chan kafka.Message, size),
	}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-r.msgs:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		r.committed <- msg
	}
	return nil
}

type mapAdjuster struct {
	errs map[string]error
	keys []string
}

func (a *mapAdjuster) Decrease(ctx context.Context, productID, orderID string, qty int, idemKey string) (inventory.StockResult, error) {
	a.keys = append(a.keys, idemKey)
	if err := a.errs[productID]; err != nil {
		return inventory.StockResult{}, err
	}
	return inventory.StockResult{Success: true, RemainingStock: 5}, nil
}

type collectSink struct {
	results chan StockResult
}

func (s *collectSink) PublishResult(ctx context.Context, ev StockResult) error {
	s.results <- ev
	return nil
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func awaitResult(t *testing.T, ch chan StockResult) StockResult {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for result")
		return StockResult{}
	}
}

func TestRequestConsumer_MapsOutcomesToResults(t *testing.T) {
	reader := newFakeReader(8)
	adjuster := &mapAdjuster{errs: map[string]error{
		"short": inventory.ErrInsufficientStock,
		"ghost": inventory.ErrProductNotFound,
		"down":  errors.New("db down"),
	}}
	sink := &collectSink{results: make(chan StockResult, 8)}
	consumer := NewRequestConsumer(reader, adjuster, sink, func(string, ...any) {})

	requests := []DecreaseRequest{
		{OrderID: "o1", ProductID: "ok", Quantity: 1, RequestID: "DEC-o1"},
		{OrderID: "o2", ProductID: "short", Quantity: 1, RequestID: "DEC-o2"},
		{OrderID: "o3", ProductID: "ghost", Quantity: 1, RequestID: "DEC-o3"},
		{OrderID: "o4", ProductID: "down", Quantity: 1, RequestID: "DEC-o4"},
	}
	for _, req := range requests {
		reader.msgs <- kafka.Message{Key: []byte(req.OrderID), Value: encode(t, req)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	want := map[string]StockResult{
		"o1": {OrderID: "o1", Success: true},
		"o2": {OrderID: "o2", Message: ResultInsufficientStock},
		"o3": {OrderID: "o3", Message: ResultProductNotFound},
		"o4": {OrderID: "o4", Message: ResultSystemError},
	}
	for range requests {
		got := awaitResult(t, sink.results)
		if got != want[got.OrderID] {
			t.Fatalf("unexpected result for %s: %+v", got.OrderID, got)
		}
	}

	cancel()
	<-done

	if len(adjuster.keys) != 4 || adjuster.keys[0] != "DEC-o1" {
		t.Fatalf("expected request ids forwarded as idempotency keys, got %v", adjuster.keys)
	}
	if len(reader.committed) != 4 {
		t.Fatalf("expected all messages committed, got %d", len(reader.committed))
	}
}

func TestRequestConsumer_SkipsUndecodableMessages(t *testing.T) {
	reader := newFakeReader(2)
	sink := &collectSink{results: make(chan StockResult, 2)}
	consumer := NewRequestConsumer(reader, &mapAdjuster{}, sink, func(string, ...any) {})

	reader.msgs <- kafka.Message{Value: []byte("not json")}
	reader.msgs <- kafka.Message{Value: encode(t, DecreaseRequest{OrderID: "o1", ProductID: "ok", Quantity: 1, RequestID: "DEC-o1"})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	got := awaitResult(t, sink.results)
	if got.OrderID != "o1" {
		t.Fatalf("expected the valid message processed, got %+v", got)
	}

	cancel()
	<-done

	// The poison message is committed too so it is not redelivered forever.
	if len(reader.committed) != 2 {
		t.Fatalf("expected both messages committed, got %d", len(reader.committed))
	}
}

type collectHandler struct {
	events chan StockResult
	err    error
}

func (h *collectHandler) HandleStockResult(ctx context.Context, ev StockResult) error {
	h.events <- ev
	return h.err
}

func TestResultConsumer_DispatchesToHandler(t *testing.T) {
	reader := newFakeReader(2)
	handler := &collectHandler{events: make(chan StockResult, 2)}
	consumer := NewResultConsumer(reader, handler, func(string, ...any) {})

	ev := StockResult{OrderID: "o1", Success: true}
	reader.msgs <- kafka.Message{Key: []byte("o1"), Value: encode(t, ev)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	select {
	case got := <-handler.events:
		if got != ev {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for dispatch")
	}

	cancel()
	<-done
}

func TestResultConsumer_CommitsDespiteHandlerError(t *testing.T) {
	reader := newFakeReader(1)
	handler := &collectHandler{events: make(chan StockResult, 1), err: errors.New("store down")}
	consumer := NewResultConsumer(reader, handler, func(string, ...any) {})

	reader.msgs <- kafka.Message{Value: encode(t, StockResult{OrderID: "o1"})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	<-handler.events
	select {
	case <-reader.committed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for commit")
	}

	cancel()
	<-done
}
