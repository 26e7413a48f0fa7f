package models

import (
	"time"
)

type EventKind string

const (
	EventPaymentSuccess   EventKind = "payment_success"
	EventPaymentFailed    EventKind = "payment_failed"
	EventInvoiceGenerated EventKind = "invoice_generated"
	EventInvoiceOverdue   EventKind = "invoice_overdue"
	EventInvoiceReminder  EventKind = "invoice_reminder"
)

type NotificationTaskStatus string

const (
	NotificationTaskStatusPending NotificationTaskStatus = "pending"
	NotificationTaskStatusSent    NotificationTaskStatus = "sent"
	NotificationTaskStatusFailed  NotificationTaskStatus = "failed"
)

// NotificationTask is an outbox row: enqueued inside the same transaction
// as the state change it reports, delivered by a background worker.
type NotificationTask struct {
	ID          int64                  `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID      int64                  `json:"user_id" gorm:"not null;index"`
	Kind        EventKind              `json:"kind" gorm:"not null"`
	Title       string                 `json:"title" gorm:"not null"`
	Message     string                 `json:"message" gorm:"size:1000"`
	Payload     string                 `json:"payload" gorm:"size:2000"`
	SendEmail   bool                   `json:"send_email" gorm:"not null;default:false"`
	Status      NotificationTaskStatus `json:"status" gorm:"not null;default:'pending';index"`
	Attempts    int                    `json:"attempts" gorm:"not null;default:0"`
	LastError   string                 `json:"last_error,omitempty"`
	DeliveredAt *time.Time             `json:"delivered_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time              `json:"updated_at" gorm:"autoUpdateTime"`
}
