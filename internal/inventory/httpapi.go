package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// Product is a catalog row.
type Product struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Stock    int      `json:"stock"`
	Strategy Strategy `json:"strategy"`
}

// Adjuster is the engine surface the HTTP layer drives.
type Adjuster interface {
	Decrease(ctx context.Context, productID, orderID string, qty int, idemKey string) (StockResult, error)
	Increase(ctx context.Context, productID, orderID string, qty int, idemKey string) (StockResult, error)
}

// Catalog is the product admin surface.
type Catalog interface {
	Create(ctx context.Context, p Product) (Product, error)
	Product(ctx context.Context, id string) (Product, error)
	SetStrategy(ctx context.Context, id string, s Strategy) error
}

// Handler serves the inventory HTTP API.
type Handler struct {
	engine  Adjuster
	catalog Catalog
	cache   Counter
	logf    func(format string, args ...any)
}

// NewHandler constructs the handler. cache may be nil when no counter is
// deployed; the cache-load endpoint then answers 409.
func NewHandler(engine Adjuster, catalog Catalog, cache Counter, logf func(format string, args ...any)) *Handler {
	if logf == nil {
		logf = log.Printf
	}
	return &Handler{engine: engine, catalog: catalog, cache: cache, logf: logf}
}

// Routes registers all endpoints on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /products/{id}/stock/decrease-by-order", h.decreaseByOrder)
	mux.HandleFunc("PATCH /products/{id}/stock/increase-by-order", h.increaseByOrder)
	mux.HandleFunc("POST /products", h.createProduct)
	mux.HandleFunc("GET /products/{id}", h.getProduct)
	mux.HandleFunc("PATCH /products/{id}/strategy", h.setStrategy)
	mux.HandleFunc("POST /products/{id}/stock/cache-load", h.loadCache)
	return mux
}

type adjustRequest struct {
	OrderID  string `json:"orderId"`
	Quantity int    `json:"quantity"`
}

type stockResponse struct {
	Success        bool   `json:"success"`
	RemainingStock int    `json:"remainingStock"`
	Message        string `json:"message"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) decreaseByOrder(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.engine.Decrease)
}

func (h *Handler) increaseByOrder(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.engine.Increase)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string, int, string) (StockResult, error)) {
	productID := r.PathValue("id")

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		writeError(w, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required")
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body is not valid JSON")
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "quantity must be positive")
		return
	}

	result, err := op(r.Context(), productID, req.OrderID, req.Quantity, idemKey)
	if err != nil {
		h.writeAdjustError(w, productID, req.OrderID, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{
		Success:        result.Success,
		RemainingStock: result.RemainingStock,
		Message:        result.Message,
	})
}

func (h *Handler) writeAdjustError(w http.ResponseWriter, productID, orderID string, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		writeError(w, http.StatusBadRequest, "INSUFFICIENT_STOCK", "not enough stock for the requested quantity")
	case errors.Is(err, ErrProductNotFound):
		writeError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "product does not exist")
	default:
		h.logf("stock adjustment failed. productId=%s orderId=%s: %v", productID, orderID, err)
		writeError(w, http.StatusInternalServerError, "SYSTEM_ERROR", "stock adjustment failed")
	}
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var p Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body is not valid JSON")
		return
	}
	if p.ID == "" || p.Stock < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "id is required and stock must not be negative")
		return
	}
	if p.Strategy == "" {
		p.Strategy = StrategyDBOnly
	}
	if p.Strategy != StrategyDBOnly && p.Strategy != StrategyCacheFirst {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown strategy")
		return
	}

	created, err := h.catalog.Create(r.Context(), p)
	if err != nil {
		h.logf("create product failed. productId=%s: %v", p.ID, err)
		writeError(w, http.StatusInternalServerError, "SYSTEM_ERROR", "create product failed")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Product(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "product does not exist")
			return
		}
		h.logf("get product failed. productId=%s: %v", r.PathValue("id"), err)
		writeError(w, http.StatusInternalServerError, "SYSTEM_ERROR", "get product failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type strategyRequest struct {
	Strategy Strategy `json:"strategy"`
}

func (h *Handler) setStrategy(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body is not valid JSON")
		return
	}
	if req.Strategy != StrategyDBOnly && req.Strategy != StrategyCacheFirst {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown strategy")
		return
	}

	productID := r.PathValue("id")
	if err := h.catalog.SetStrategy(r.Context(), productID, req.Strategy); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "product does not exist")
			return
		}
		h.logf("set strategy failed. productId=%s: %v", productID, err)
		writeError(w, http.StatusInternalServerError, "SYSTEM_ERROR", "set strategy failed")
		return
	}

	// Flipping to CACHE_FIRST without a warm counter would shed every
	// request as short, so seed it from the durable stock right away.
	if req.Strategy == StrategyCacheFirst && h.cache != nil {
		if err := h.loadCounter(r.Context(), productID); err != nil {
			h.logf("counter seed after strategy flip failed. productId=%s: %v", productID, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, http.StatusConflict, "NO_CACHE", "no cache counter is configured")
		return
	}
	productID := r.PathValue("id")
	if err := h.loadCounter(r.Context(), productID); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "product does not exist")
			return
		}
		h.logf("cache load failed. productId=%s: %v", productID, err)
		writeError(w, http.StatusInternalServerError, "SYSTEM_ERROR", "cache load failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadCounter(ctx context.Context, productID string) error {
	p, err := h.catalog.Product(ctx, productID)
	if err != nil {
		return err
	}
	return h.cache.Sync(ctx, productID, p.Stock)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
