package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stallmarket/backend/internal/domain/billing"
	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// formatMoney renders an amount with its currency symbol, falling back to
// the ISO code when the currency is unknown.
func formatMoney(amount decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%s %s", strings.ToUpper(code), amount.StringFixed(2))
	}
	return printer.Sprint(currency.Symbol(unit.Amount(amount.Round(2).InexactFloat64())))
}

func reminderMessage(inv *billing.Invoice, kind billing.ReminderKind, policy billing.Policy) billing.Message {
	due := inv.DueDate.Format("2 January 2006")
	remaining := formatMoney(inv.Remaining(), inv.Currency)

	var subject, body string
	switch kind {
	case billing.ReminderDueDay:
		subject = "Rent due today"
		body = printer.Sprintf("Your stall rent for %s is due today. Remaining balance: %s.", inv.BillingPeriod, remaining)
	case billing.ReminderLastGraceDay:
		subject = "Final day to pay rent"
		body = printer.Sprintf("Today is the last day to pay %s for %s (due %s). Unpaid leases are terminated after today.",
			remaining, inv.BillingPeriod, due)
	default:
		subject = "Upcoming rent payment"
		body = printer.Sprintf("Your stall rent of %s for %s is due on %s. A %d-day grace period applies.",
			remaining, inv.BillingPeriod, due, policy.GraceDays)
	}

	invoiceID := inv.ID
	leaseID := inv.LeaseID
	return billing.Message{
		Kind:      billing.NotifyReminder,
		Subject:   subject,
		Body:      body,
		InvoiceID: &invoiceID,
		LeaseID:   &leaseID,
	}
}

func terminationMessage(lease *billing.Lease, inv *billing.Invoice) billing.Message {
	leaseID := lease.ID
	msg := billing.Message{
		Kind:    billing.NotifyLeaseTerminated,
		Subject: "Lease terminated",
		LeaseID: &leaseID,
	}
	if inv != nil {
		invoiceID := inv.ID
		msg.InvoiceID = &invoiceID
		msg.Body = printer.Sprintf("Your lease was terminated because rent for %s (%s outstanding) was not paid within the grace period.",
			inv.BillingPeriod, formatMoney(inv.Remaining(), inv.Currency))
	} else {
		msg.Body = "Your lease was terminated because rent was not paid within the grace period."
	}
	return msg
}

func paymentReceivedMessage(inv *billing.Invoice, credited decimal.Decimal) billing.Message {
	invoiceID := inv.ID
	leaseID := inv.LeaseID
	status := cases.Title(language.English).String(string(inv.Status))
	body := printer.Sprintf("We received %s for %s. Invoice status: %s.",
		formatMoney(credited, inv.Currency), inv.BillingPeriod, status)
	if inv.ReceiptNumber != nil {
		body += " Receipt " + *inv.ReceiptNumber + "."
	}
	return billing.Message{
		Kind:      billing.NotifyPaymentReceived,
		Subject:   "Payment received",
		Body:      body,
		InvoiceID: &invoiceID,
		LeaseID:   &leaseID,
	}
}
