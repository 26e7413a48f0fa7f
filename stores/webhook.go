package stores

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/smartcare/billing/models"
)

type WebhookStore struct {
	BaseStore
}

func CreateWebhookStore(db *gorm.DB) *WebhookStore {
	return &WebhookStore{BaseStore: BaseStore{db: db}}
}

func (s *WebhookStore) Create(ctx context.Context, event *models.WebhookEvent) error {
	return s.GetDB(ctx).Create(event).Error
}

// GetByEventID returns nil, nil for an unseen event id.
func (s *WebhookStore) GetByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := s.GetDB(ctx).First(&event, "event_id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *WebhookStore) MarkProcessing(ctx context.Context, id string) error {
	return s.GetDB(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.WebhookEventStatusProcessing,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *WebhookStore) MarkCompleted(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.GetDB(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.WebhookEventStatusCompleted,
			"processed_at": now,
			"updated_at":   now,
		}).Error
}

func (s *WebhookStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	return s.GetDB(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.WebhookEventStatusFailed,
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}
