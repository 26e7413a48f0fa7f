package models

import (
	"time"
)

// Customer maps a platform user to their customer record on the gateway.
// Created lazily the first time a payment method is vaulted.
type Customer struct {
	ID                int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID            int64     `json:"user_id" gorm:"not null;uniqueIndex"`
	GatewayCustomerID string    `json:"gateway_customer_id" gorm:"not null;uniqueIndex"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	CreatedAt         time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
