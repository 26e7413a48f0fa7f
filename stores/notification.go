package stores

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/smartcare/billing/models"
)

type NotificationTaskStore struct {
	BaseStore
}

func CreateNotificationTaskStore(db *gorm.DB) *NotificationTaskStore {
	return &NotificationTaskStore{BaseStore: BaseStore{db: db}}
}

func (s *NotificationTaskStore) Create(ctx context.Context, task *models.NotificationTask) error {
	return s.GetDB(ctx).Create(task).Error
}

func (s *NotificationTaskStore) ListPending(ctx context.Context, limit int) ([]*models.NotificationTask, error) {
	var tasks []*models.NotificationTask
	err := s.GetDB(ctx).
		Where("status = ?", models.NotificationTaskStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *NotificationTaskStore) MarkSent(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return s.GetDB(ctx).Model(&models.NotificationTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.NotificationTaskStatusSent,
			"delivered_at": now,
			"updated_at":   now,
		}).Error
}

func (s *NotificationTaskStore) MarkFailed(ctx context.Context, id int64, errMsg string, retryable bool) error {
	status := models.NotificationTaskStatusFailed
	if retryable {
		status = models.NotificationTaskStatusPending
	}
	return s.GetDB(ctx).Model(&models.NotificationTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": errMsg,
			"updated_at": time.Now().UTC(),
		}).Error
}
