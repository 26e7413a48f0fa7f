package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusProcessing    PaymentStatus = "processing"
	PaymentStatusCompleted     PaymentStatus = "completed"
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusCancelled     PaymentStatus = "cancelled"
	PaymentStatusRefunded      PaymentStatus = "refunded"
	PaymentStatusPartialRefund PaymentStatus = "partial_refund"
)

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled,
		PaymentStatusRefunded, PaymentStatusPartialRefund:
		return true
	}
	return false
}

type Payment struct {
	ID               int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	PaymentReference string          `json:"payment_reference" gorm:"uniqueIndex;not null"`
	UserID           int64           `json:"user_id" gorm:"not null;index"`
	InvoiceID        int64           `json:"invoice_id" gorm:"not null;index"`
	PaymentMethodID  *int64          `json:"payment_method_id,omitempty"`
	Status           PaymentStatus   `json:"status" gorm:"not null;default:'pending';index"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:numeric(10,2);not null"`
	Currency         string          `json:"currency" gorm:"size:3;not null"`
	GatewayIntentID  string          `json:"gateway_intent_id" gorm:"uniqueIndex"`
	GatewayChargeID  string          `json:"gateway_charge_id" gorm:"index"`
	TransactionFee   decimal.Decimal `json:"transaction_fee" gorm:"type:numeric(10,2);not null"`
	NetAmount        decimal.Decimal `json:"net_amount" gorm:"type:numeric(10,2);not null"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	Description      string          `json:"description,omitempty"`
	RefundAmount     decimal.Decimal `json:"refund_amount" gorm:"type:numeric(10,2);not null"`
	RefundedAt       *time.Time      `json:"refunded_at,omitempty"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (p *Payment) CanBeRefunded() bool {
	return (p.Status == PaymentStatusCompleted || p.Status == PaymentStatusPartialRefund) &&
		p.RefundAmount.LessThan(p.Amount)
}

type PaymentRequest struct {
	InvoiceID       int64           `json:"invoice_id"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethodID *int64          `json:"payment_method_id,omitempty"`
	Description     string          `json:"description,omitempty"`
}

// PaymentIntentResponse is what the client needs to complete the charge on
// the gateway side.
type PaymentIntentResponse struct {
	PaymentID       int64           `json:"payment_id"`
	GatewayIntentID string          `json:"gateway_intent_id"`
	ClientSecret    string          `json:"client_secret"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	GatewayStatus   string          `json:"gateway_status"`
}

type RefundRequest struct {
	PaymentID int64            `json:"payment_id"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

type PaymentListResponse struct {
	Payments []*Payment `json:"payments"`
	Total    int        `json:"total"`
}
