// Package messaging carries the broker leg of the order saga: the
// decrease-request topic consumed by the inventory service and the
// stock-result queue consumed by the orders service.
package messaging

// DecreaseRequest asks the inventory service to decrement stock for an
// order. RequestID equals the order's DEC idempotency key so the inventory
// side deduplicates redeliveries.
type DecreaseRequest struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	RequestID string `json:"requestId"`
}

// StockResult reports the outcome of a DecreaseRequest back to the orders
// service.
type StockResult struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Messages carried in StockResult when the decrease fails.
const (
	ResultInsufficientStock = "INSUFFICIENT_STOCK"
	ResultProductNotFound   = "PRODUCT_NOT_FOUND"
	ResultSystemError       = "SYSTEM_ERROR"
)
