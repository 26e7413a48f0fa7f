package models

import (
	"time"
)

type WebhookEventStatus string

const (
	WebhookEventStatusPending    WebhookEventStatus = "pending"
	WebhookEventStatusProcessing WebhookEventStatus = "processing"
	WebhookEventStatusCompleted  WebhookEventStatus = "completed"
	WebhookEventStatusFailed     WebhookEventStatus = "failed"
)

// WebhookEvent records every inbound gateway event. The gateway delivers
// at-least-once, so the same EventID may arrive more than once; completed
// events are acknowledged without reprocessing.
type WebhookEvent struct {
	ID              string             `json:"id" gorm:"primaryKey"`
	EventID         string             `json:"event_id" gorm:"not null;uniqueIndex"`
	EventType       string             `json:"event_type" gorm:"not null"`
	GatewayIntentID string             `json:"gateway_intent_id" gorm:"index"`
	GatewayStatus   string             `json:"gateway_status"`
	Status          WebhookEventStatus `json:"status" gorm:"not null;default:'pending'"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	ProcessedAt     *time.Time         `json:"processed_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time          `json:"updated_at" gorm:"autoUpdateTime"`
}
