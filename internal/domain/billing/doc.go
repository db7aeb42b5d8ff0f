// Package billing provides the domain model for stall rent billing and the
// payment lifecycle of a leased market.
//
// This package implements the rent billing bounded context, which is responsible for:
//   - Generating one invoice per lease per billing month
//   - Tracking the grace window after an invoice falls due
//   - Crediting gateway captures against invoices exactly once
//
// Key Aggregates:
//   - Lease: A vendor's right to occupy a Stall for a monthly rent
//   - Invoice: A monthly rent obligation and its payment state
//   - PendingPayment: The local record of an in-flight gateway order
//
// Value Objects:
//   - Policy: Due day, grace days, reminder offsets and throttle window
//   - OrderPin: The amount a vendor agreed to pay for a gateway order
//
// Every side effect that crosses aggregates (termination frees the stall,
// a capture credits the invoice and closes the pending record) is carried
// out by the application layer inside a single transaction.
package billing
