package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft          InvoiceStatus = "draft"
	InvoiceStatusPending        InvoiceStatus = "pending"
	InvoiceStatusPaid           InvoiceStatus = "paid"
	InvoiceStatusFailed         InvoiceStatus = "failed"
	InvoiceStatusCancelled      InvoiceStatus = "cancelled"
	InvoiceStatusOverdue        InvoiceStatus = "overdue"
	InvoiceStatusPartialPayment InvoiceStatus = "partial_payment"
)

// IsTerminal reports whether no further transition can leave the status.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled || s == InvoiceStatusFailed
}

type Invoice struct {
	ID             int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	InvoiceNumber  string          `json:"invoice_number" gorm:"uniqueIndex;not null"`
	UserID         int64           `json:"user_id" gorm:"not null;index"`
	AppointmentID  *int64          `json:"appointment_id,omitempty" gorm:"uniqueIndex"`
	Status         InvoiceStatus   `json:"status" gorm:"not null;default:'pending';index"`
	Subtotal       decimal.Decimal `json:"subtotal" gorm:"type:numeric(10,2);not null"`
	TaxAmount      decimal.Decimal `json:"tax_amount" gorm:"type:numeric(10,2);not null"`
	DiscountAmount decimal.Decimal `json:"discount_amount" gorm:"type:numeric(10,2);not null"`
	TotalAmount    decimal.Decimal `json:"total_amount" gorm:"type:numeric(10,2);not null"`
	PaidAmount     decimal.Decimal `json:"paid_amount" gorm:"type:numeric(10,2);not null"`
	Currency       string          `json:"currency" gorm:"size:3;not null"`
	Description    string          `json:"description"`
	Notes          string          `json:"notes" gorm:"size:1000"`
	DueDate        time.Time       `json:"due_date" gorm:"index"`
	PaidDate       *time.Time      `json:"paid_date,omitempty"`
	Version        int64           `json:"-" gorm:"not null;default:0"`
	CreatedAt      time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (inv *Invoice) RemainingAmount() decimal.Decimal {
	return inv.TotalAmount.Sub(inv.PaidAmount)
}

// IsOverdue reports whether the invoice still carries an open balance past
// its due date.
func (inv *Invoice) IsOverdue(now time.Time) bool {
	switch inv.Status {
	case InvoiceStatusPending, InvoiceStatusPartialPayment:
		return now.After(inv.DueDate)
	}
	return false
}

type CreateInvoiceRequest struct {
	UserID         int64           `json:"user_id"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Currency       string          `json:"currency,omitempty"`
	Description    string          `json:"description,omitempty"`
	AppointmentID  *int64          `json:"appointment_id,omitempty"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
}

type InvoiceResponse struct {
	Invoice  *Invoice   `json:"invoice"`
	Payments []*Payment `json:"payments,omitempty"`
}

type InvoiceListResponse struct {
	Invoices []*Invoice `json:"invoices"`
	Total    int        `json:"total"`
}
