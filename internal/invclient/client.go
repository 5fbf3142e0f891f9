package invclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"
)

// StockResult is the inventory service's answer to a stock adjustment.
type StockResult struct {
	Success        bool   `json:"success"`
	RemainingStock int    `json:"remainingStock"`
	Message        string `json:"message"`
}

// Error codes returned by the inventory service in 4xx bodies.
const (
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeProductNotFound   = "PRODUCT_NOT_FOUND"
)

// BusinessError is a definitive 4xx rejection from the inventory service.
// No stock mutation happened, so the caller must not retry and has nothing
// to compensate.
type BusinessError struct {
	Code    string
	Message string
	Status  int
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("inventory rejected request: %s (%s)", e.Message, e.Code)
}

// DependencyError is a 5xx or timeout from the inventory service. The
// mutation state is unknown; the caller owns any retry policy.
type DependencyError struct {
	Status  int
	Message string
	Cause   error
}

func (e *DependencyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("inventory dependency failure: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("inventory dependency failure: %s (status %d)", e.Message, e.Status)
}

func (e *DependencyError) Unwrap() error { return e.Cause }

// IsInsufficientStock reports whether err is the inventory service's
// insufficient-stock rejection.
func IsInsufficientStock(err error) bool {
	var be *BusinessError
	return errors.As(err, &be) && be.Code == CodeInsufficientStock
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type adjustRequest struct {
	OrderID  string `json:"orderId"`
	Quantity int    `json:"quantity"`
}

// Client calls the inventory service over HTTP. Every state-changing call
// forwards the caller's idempotency key; the client never mints its own.
type Client struct {
	baseURL string
	http    *http.Client
	logf    func(format string, args ...any)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger overrides the log function.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(c *Client) { c.logf = logf }
}

// New constructs a Client for the given inventory base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
			Timeout: 10 * time.Second,
		},
		logf: log.Printf,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decrease asks the inventory service to subtract quantity from the product's
// stock on behalf of an order.
func (c *Client) Decrease(ctx context.Context, productID, orderID string, quantity int, idemKey string) (StockResult, error) {
	path := fmt.Sprintf("/products/%s/stock/decrease-by-order", productID)
	return c.adjust(ctx, path, orderID, quantity, idemKey)
}

// Increase asks the inventory service to add quantity back to the product's
// stock on behalf of an order.
func (c *Client) Increase(ctx context.Context, productID, orderID string, quantity int, idemKey string) (StockResult, error) {
	path := fmt.Sprintf("/products/%s/stock/increase-by-order", productID)
	return c.adjust(ctx, path, orderID, quantity, idemKey)
}

func (c *Client) adjust(ctx context.Context, path, orderID string, quantity int, idemKey string) (StockResult, error) {
	if idemKey == "" {
		return StockResult{}, errors.New("idempotency key required")
	}

	body, err := json.Marshal(adjustRequest{OrderID: orderID, Quantity: quantity})
	if err != nil {
		return StockResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return StockResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idemKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return StockResult{}, &DependencyError{Message: "inventory call timed out", Cause: err}
		}
		// Connection-level failures leave the mutation state unknown in a
		// way we cannot classify; surface them untyped so the saga treats
		// them as compensatable.
		return StockResult{}, fmt.Errorf("inventory call failed: %w", err)
	}
	defer resp.Body.Close()

	return c.decode(resp)
}

func (c *Client) decode(resp *http.Response) (StockResult, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return StockResult{}, fmt.Errorf("read inventory response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var result StockResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return StockResult{}, fmt.Errorf("decode inventory response: %w", err)
		}
		return result, nil
	}

	var apiErr apiError
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &apiErr); err != nil {
			c.logf("inventory error body undecodable (status %d): %v", resp.StatusCode, err)
		}
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return StockResult{}, &BusinessError{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Status:  resp.StatusCode,
		}
	}

	return StockResult{}, &DependencyError{
		Status:  resp.StatusCode,
		Message: "inventory service call failed",
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
