package billing

import (
	"errors"

	"github.com/stallmarket/backend/internal/domain/shared"
)

// Machine-readable failures surfaced to payment-flow callers
var (
	ErrInvoiceNotFound      = shared.NewNotFoundError("INVOICE_NOT_FOUND", "Invoice not found")
	ErrLeaseNotFound        = shared.NewNotFoundError("LEASE_NOT_FOUND", "Lease not found")
	ErrStallNotFound        = shared.NewNotFoundError("STALL_NOT_FOUND", "Stall not found")
	ErrOrderNotFound        = shared.NewNotFoundError("ORDER_NOT_FOUND", "No invoice is linked to this order")
	ErrPendingNotFound      = shared.NewNotFoundError("PENDING_PAYMENT_NOT_FOUND", "Pending payment not found")
	ErrNotInvoiceOwner      = shared.NewAuthorizationError("NOT_INVOICE_OWNER", "Invoice does not belong to this vendor")
	ErrVendorInactive       = shared.NewAuthorizationError("VENDOR_INACTIVE", "Vendor account is not active")
	ErrLeaseInactive        = shared.NewAuthorizationError("LEASE_INACTIVE", "Lease is not active")
	ErrInvalidConfirmation  = shared.NewAuthorizationError("INVALID_CONFIRMATION", "Payment confirmation is invalid or expired")
	ErrInvoiceNotPayable    = shared.NewStateConflictError("INVOICE_NOT_PAYABLE", "Invoice is not open for payment")
	ErrGraceExpired         = shared.NewStateConflictError("GRACE_EXPIRED", "Payment window for this invoice has closed")
	ErrNoRemainingBalance   = shared.NewStateConflictError("NO_REMAINING_BALANCE", "Invoice has no remaining balance")
	ErrOrderNotPinned       = shared.NewStateConflictError("ORDER_NOT_PINNED", "Order has no pinned amount; start the payment again")
	ErrInvoiceMismatch      = shared.NewValidationError("INVOICE_MISMATCH", "Order does not belong to this invoice")
	ErrInvalidPartialAmount = shared.NewValidationError("INVALID_PARTIAL_AMOUNT", "Partial amount must be greater than zero and not exceed the remaining balance")
	ErrInvalidAmount        = shared.NewValidationError("INVALID_AMOUNT", "Amount must be greater than zero")
	ErrAmountMismatch       = shared.NewIntegrityError("AMOUNT_MISMATCH", "Captured amount does not match the confirmed amount")
	ErrCurrencyMismatch     = shared.NewIntegrityError("CURRENCY_MISMATCH", "Captured currency does not match the invoice currency")
	ErrOverpayment          = shared.NewIntegrityError("OVERPAYMENT", "Capture would exceed the invoice amount")
)

// Storage-level outcomes that callers resolve rather than surface
var (
	ErrOrderAlreadyAttached  = errors.New("billing: pending payment already has a gateway order")
	ErrCaptureConflict       = errors.New("billing: invoice changed or capture already applied")
	ErrCaptureAlreadyAudited = errors.New("billing: capture id already recorded")
)

// Gateway failures. Adapters wrap these so callers can classify with errors.Is.
var (
	ErrGatewayUnavailable = shared.NewDomainError(shared.KindTransientGateway, "GATEWAY_UNAVAILABLE", "Payment gateway is temporarily unavailable")
	ErrGatewayRejected    = shared.NewDomainError(shared.KindPermanentGateway, "GATEWAY_REJECTED", "Payment gateway rejected the request")
)
