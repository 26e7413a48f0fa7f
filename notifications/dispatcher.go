package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartcare/billing/models"
)

const (
	maxDeliveryAttempts = 5
	reminderDedupTTL    = 24 * 60 * 60 // seconds
)

type TaskStore interface {
	Create(ctx context.Context, task *models.NotificationTask) error
	ListPending(ctx context.Context, limit int) ([]*models.NotificationTask, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string, retryable bool) error
}

// Dispatcher implements Notifier as an outbox: Notify persists a task in the
// caller's transaction, and a background worker delivers it later. A failed
// delivery never unwinds the ledger state change that produced the event.
type Dispatcher struct {
	store        TaskStore
	sender       EmailSender
	deduper      Deduper
	emailEnabled bool
	emailByKind  map[models.EventKind]bool
	interval     time.Duration
	batch        int
	logger       zerolog.Logger
}

func CreateDispatcher(
	store TaskStore,
	sender EmailSender,
	deduper Deduper,
	emailEnabled bool,
	emailByKind map[models.EventKind]bool,
	interval time.Duration,
	batch int,
	logger zerolog.Logger,
) *Dispatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &Dispatcher{
		store:        store,
		sender:       sender,
		deduper:      deduper,
		emailEnabled: emailEnabled,
		emailByKind:  emailByKind,
		interval:     interval,
		batch:        batch,
		logger:       logger,
	}
}

func (d *Dispatcher) Notify(ctx context.Context, userID int64, kind models.EventKind, payload map[string]interface{}) error {
	if kind == models.EventInvoiceReminder && d.deduper != nil {
		key := fmt.Sprintf("notify:reminder:%v:%v", payload["invoice_id"], payload["due_date"])
		first, err := d.deduper.Once(ctx, key, reminderDedupTTL)
		if err != nil {
			// Dedup is best effort; a cache outage must not drop reminders.
			d.logger.Warn().Err(err).Msg("reminder dedup check failed")
		} else if !first {
			return nil
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification payload: %w", err)
	}

	task := &models.NotificationTask{
		UserID:    userID,
		Kind:      kind,
		Title:     titleFor(kind),
		Message:   messageFor(kind, payload),
		Payload:   string(encoded),
		SendEmail: d.emailEnabled && d.emailByKind[kind],
		Status:    models.NotificationTaskStatusPending,
	}
	return d.store.Create(ctx, task)
}

// Start runs the delivery worker until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.deliverBatch(ctx)
			}
		}
	}()
}

func (d *Dispatcher) deliverBatch(ctx context.Context) {
	tasks, err := d.store.ListPending(ctx, d.batch)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to list pending notifications")
		return
	}

	for _, task := range tasks {
		if err := d.deliver(ctx, task); err != nil {
			retryable := task.Attempts+1 < maxDeliveryAttempts
			d.logger.Warn().Err(err).
				Int64("task_id", task.ID).
				Str("kind", string(task.Kind)).
				Bool("retryable", retryable).
				Msg("notification delivery failed")
			if markErr := d.store.MarkFailed(ctx, task.ID, err.Error(), retryable); markErr != nil {
				d.logger.Error().Err(markErr).Int64("task_id", task.ID).Msg("failed to mark notification failed")
			}
			continue
		}
		if err := d.store.MarkSent(ctx, task.ID); err != nil {
			d.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to mark notification sent")
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, task *models.NotificationTask) error {
	if !task.SendEmail || d.sender == nil {
		return nil
	}
	return d.sender.Send(ctx, task.UserID, task.Title, task.Message)
}
