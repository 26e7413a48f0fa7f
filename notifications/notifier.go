package notifications

import (
	"context"
	"fmt"

	"github.com/smartcare/billing/models"
)

// Notifier is the dispatch contract the ledger calls when a domain event
// fires. Implementations decide what (if anything) to deliver; delivery
// mechanics stay out of the ledger.
type Notifier interface {
	Notify(ctx context.Context, userID int64, kind models.EventKind, payload map[string]interface{}) error
}

// EmailSender is the outbound delivery collaborator. The dispatcher never
// blocks a ledger transaction on it.
type EmailSender interface {
	Send(ctx context.Context, userID int64, subject, body string) error
}

// Deduper suppresses repeat deliveries of the same logical event, used for
// reminder sweeps which are safe to re-run.
type Deduper interface {
	Once(ctx context.Context, key string, ttlSeconds int) (bool, error)
}

func titleFor(kind models.EventKind) string {
	switch kind {
	case models.EventPaymentSuccess:
		return "Payment Successful"
	case models.EventPaymentFailed:
		return "Payment Failed"
	case models.EventInvoiceGenerated:
		return "New Invoice Generated"
	case models.EventInvoiceOverdue:
		return "Invoice Overdue"
	case models.EventInvoiceReminder:
		return "Invoice Payment Reminder"
	default:
		return string(kind)
	}
}

func messageFor(kind models.EventKind, payload map[string]interface{}) string {
	number := payload["invoice_number"]
	amount := payload["amount"]
	switch kind {
	case models.EventPaymentSuccess:
		return fmt.Sprintf("Your payment of %v for invoice #%v has been processed successfully.", amount, number)
	case models.EventPaymentFailed:
		msg := fmt.Sprintf("Your payment of %v for invoice #%v failed. Please try again or use a different payment method.", amount, number)
		if reason, ok := payload["failure_reason"].(string); ok && reason != "" {
			msg += " Reason: " + reason
		}
		return msg
	case models.EventInvoiceGenerated:
		return fmt.Sprintf("A new invoice #%v for %v has been generated and is ready for payment.", number, amount)
	case models.EventInvoiceOverdue:
		return fmt.Sprintf("Invoice #%v for %v is now overdue. Please make payment to avoid late fees.", number, amount)
	case models.EventInvoiceReminder:
		return fmt.Sprintf("Invoice #%v for %v is due soon. Please make payment before the due date.", number, amount)
	default:
		return string(kind)
	}
}
