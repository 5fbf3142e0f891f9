// Package httpapi serves the orders HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"stockline/internal/orders"
	"stockline/internal/orders/saga"
)

// OrderService is the service surface the HTTP layer drives.
type OrderService interface {
	StartOrder(ctx context.Context, productID, buyerID string, quantity int) (orders.Order, error)
	StartOrderAsync(ctx context.Context, productID, buyerID string, quantity int) (orders.Order, error)
	StartCancel(ctx context.Context, orderID string) (orders.Order, error)
	FindOrder(ctx context.Context, orderID string) (orders.Order, error)
}

// Handler serves the orders HTTP API.
type Handler struct {
	service OrderService
	ws      http.HandlerFunc
	logf    func(format string, args ...any)
}

// NewHandler constructs the handler. ws serves the order event WebSocket and
// may be nil.
func NewHandler(service OrderService, ws http.HandlerFunc, logf func(format string, args ...any)) *Handler {
	if logf == nil {
		logf = log.Printf
	}
	return &Handler{service: service, ws: ws, logf: logf}
}

// Routes registers all endpoints on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", h.createOrder)
	mux.HandleFunc("POST /orders/async", h.createOrderAsync)
	mux.HandleFunc("POST /orders/{id}/cancel", h.cancelOrder)
	mux.HandleFunc("GET /orders/{id}", h.getOrder)
	if h.ws != nil {
		mux.HandleFunc("GET /ws/orders", h.ws)
	}
	return mux
}

type createRequest struct {
	ProductID string `json:"productId"`
	BuyerID   string `json:"buyerId"`
	Quantity  int    `json:"quantity"`
}

type orderResponse struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"productId"`
	BuyerID    string    `json:"buyerId"`
	Quantity   int       `json:"quantity"`
	Status     string    `json:"status"`
	FailReason string    `json:"failReason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toResponse(o orders.Order) orderResponse {
	return orderResponse{
		ID:         o.ID,
		ProductID:  o.ProductID,
		BuyerID:    o.BuyerID,
		Quantity:   o.Quantity,
		Status:     string(o.Status),
		FailReason: o.FailReason,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCreate(w, r)
	if !ok {
		return
	}

	o, err := h.service.StartOrder(r.Context(), req.ProductID, req.BuyerID, req.Quantity)
	if err != nil {
		h.logf("create order failed: %v", err)
		writeError(w, http.StatusServiceUnavailable, "DEPENDENCY_ERROR", "inventory service unavailable, retry later")
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(o))
}

func (h *Handler) createOrderAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCreate(w, r)
	if !ok {
		return
	}

	o, err := h.service.StartOrderAsync(r.Context(), req.ProductID, req.BuyerID, req.Quantity)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, toResponse(o))
	case errors.Is(err, saga.ErrAsyncDisabled):
		writeError(w, http.StatusConflict, "ASYNC_DISABLED", "async ordering is not configured")
	case errors.Is(err, saga.ErrPublishFailed):
		writeError(w, http.StatusServiceUnavailable, "PUBLISH_FAILED", "order request could not be queued")
	default:
		h.logf("create order async failed: %v", err)
		writeError(w, http.StatusServiceUnavailable, "DEPENDENCY_ERROR", "order could not be accepted, retry later")
	}
}

func (h *Handler) decodeCreate(w http.ResponseWriter, r *http.Request) (createRequest, bool) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body is not valid JSON")
		return req, false
	}
	if req.ProductID == "" || req.BuyerID == "" || req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "productId, buyerId and a positive quantity are required")
		return req, false
	}
	return req, true
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	o, err := h.service.StartCancel(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toResponse(o))
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order does not exist")
	case errors.Is(err, orders.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "STATE_CONFLICT", "only CONFIRMED orders can be cancelled")
	default:
		h.logf("cancel order failed. orderId=%s: %v", id, err)
		writeError(w, http.StatusServiceUnavailable, "DEPENDENCY_ERROR", "inventory service unavailable, retry later")
	}
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	o, err := h.service.FindOrder(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toResponse(o))
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order does not exist")
	default:
		h.logf("get order failed. orderId=%s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "SYSTEM_ERROR", "get order failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
