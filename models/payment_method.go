package models

import (
	"time"
)

type PaymentMethodType string

const (
	PaymentMethodTypeCreditCard    PaymentMethodType = "credit_card"
	PaymentMethodTypeDebitCard     PaymentMethodType = "debit_card"
	PaymentMethodTypeBankAccount   PaymentMethodType = "bank_account"
	PaymentMethodTypeDigitalWallet PaymentMethodType = "digital_wallet"
)

// PaymentMethod is a tokenized instrument vaulted with the gateway. Only
// masked metadata is stored locally.
type PaymentMethod struct {
	ID             int64             `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID         int64             `json:"user_id" gorm:"not null;index"`
	Type           PaymentMethodType `json:"type" gorm:"not null"`
	GatewayTokenID string            `json:"gateway_token_id" gorm:"not null;uniqueIndex"`
	CardLastFour   string            `json:"card_last_four,omitempty" gorm:"size:4"`
	CardBrand      string            `json:"card_brand,omitempty"`
	CardExpMonth   int               `json:"card_exp_month,omitempty"`
	CardExpYear    int               `json:"card_exp_year,omitempty"`
	IsDefault      bool              `json:"is_default" gorm:"not null;default:false"`
	IsActive       bool              `json:"is_active" gorm:"not null;default:true"`
	CreatedAt      time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

type AddPaymentMethodRequest struct {
	GatewayTokenID string            `json:"gateway_token_id"`
	Type           PaymentMethodType `json:"type"`
	SetAsDefault   bool              `json:"set_as_default,omitempty"`
}

type PaymentMethodListResponse struct {
	PaymentMethods []*PaymentMethod `json:"payment_methods"`
	Total          int              `json:"total"`
}
