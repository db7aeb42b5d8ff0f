package dto

import "github.com/shopspring/decimal"

// CreateOrderRequest is the body of POST /vendor/invoices/:id/orders.
// An absent partial_amount pays the whole remaining balance.
type CreateOrderRequest struct {
	PartialAmount *decimal.Decimal `json:"partial_amount"`
}

// CaptureRequest is the body of POST /vendor/payments/:order_id/capture
type CaptureRequest struct {
	InvoiceID         string `json:"invoice_id" binding:"required,uuid"`
	ConfirmationToken string `json:"confirmation_token" binding:"required"`
}

// InvoiceURI binds the :id path parameter
type InvoiceURI struct {
	ID string `uri:"id" binding:"required,uuid"`
}

// OrderURI binds the :order_id path parameter
type OrderURI struct {
	OrderID string `uri:"order_id" binding:"required,max=64"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}
