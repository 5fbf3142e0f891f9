package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stockline/internal/orders"
	"stockline/internal/orders/saga"
)

type stubService struct {
	order    orders.Order
	err      error
	lastCall string
}

func (s *stubService) StartOrder(ctx context.Context, productID, buyerID string, quantity int) (orders.Order, error) {
	s.lastCall = "start"
	return s.order, s.err
}

func (s *stubService) StartOrderAsync(ctx context.Context, productID, buyerID string, quantity int) (orders.Order, error) {
	s.lastCall = "async"
	return s.order, s.err
}

func (s *stubService) StartCancel(ctx context.Context, orderID string) (orders.Order, error) {
	s.lastCall = "cancel"
	return s.order, s.err
}

func (s *stubService) FindOrder(ctx context.Context, orderID string) (orders.Order, error) {
	s.lastCall = "find"
	return s.order, s.err
}

func discardLogf(string, ...any) {}

func do(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHTTP_CreateOrder(t *testing.T) {
	svc := &stubService{order: orders.New("order-1", "prod-1", "buyer-1", 3)}
	svc.order.Status = orders.StatusConfirmed
	h := NewHandler(svc, nil, discardLogf)

	rec := do(t, h, http.MethodPost, "/orders", `{"productId":"prod-1","buyerId":"buyer-1","quantity":3}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var body orderResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != "order-1" || body.Status != "CONFIRMED" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestHTTP_CreateOrderValidation(t *testing.T) {
	h := NewHandler(&stubService{}, nil, discardLogf)

	rec := do(t, h, http.MethodPost, "/orders", `{"productId":"","buyerId":"b","quantity":3}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/orders", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHTTP_CreateOrderDependencyFailure(t *testing.T) {
	svc := &stubService{err: errors.New("inventory down")}
	h := NewHandler(svc, nil, discardLogf)

	rec := do(t, h, http.MethodPost, "/orders", `{"productId":"p","buyerId":"b","quantity":1}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHTTP_CreateOrderAsync(t *testing.T) {
	svc := &stubService{order: orders.New("order-1", "prod-1", "buyer-1", 3)}
	h := NewHandler(svc, nil, discardLogf)

	rec := do(t, h, http.MethodPost, "/orders/async", `{"productId":"p","buyerId":"b","quantity":1}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	var body orderResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "PENDING" {
		t.Fatalf("async create must return PENDING, got %s", body.Status)
	}
}

func TestHTTP_CreateOrderAsyncDisabled(t *testing.T) {
	svc := &stubService{err: saga.ErrAsyncDisabled}
	h := NewHandler(svc, nil, discardLogf)

	rec := do(t, h, http.MethodPost, "/orders/async", `{"productId":"p","buyerId":"b","quantity":1}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHTTP_CancelOrder(t *testing.T) {
	svc := &stubService{order: func() orders.Order {
		o := orders.New("order-1", "p", "b", 1)
		o.Status = orders.StatusCancelled
		return o
	}()}
	h := NewHandler(svc, nil, discardLogf)

	rec := do(t, h, http.MethodPost, "/orders/order-1/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.lastCall != "cancel" {
		t.Fatalf("expected cancel invoked, got %q", svc.lastCall)
	}
}

func TestHTTP_CancelErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", orders.ErrNotFound, http.StatusNotFound},
		{"wrong state", orders.ErrInvalidTransition, http.StatusConflict},
		{"dependency", errors.New("down"), http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&stubService{err: tc.err}, nil, discardLogf)
			rec := do(t, h, http.MethodPost, "/orders/order-1/cancel", "")
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
		})
	}
}

func TestHTTP_GetOrder(t *testing.T) {
	svc := &stubService{order: orders.New("order-1", "p", "b", 1)}
	h := NewHandler(svc, nil, discardLogf)

	rec := do(t, h, http.MethodGet, "/orders/order-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	svc.err = orders.ErrNotFound
	rec = do(t, h, http.MethodGet, "/orders/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
