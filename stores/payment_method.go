package stores

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/smartcare/billing/apperrors"
	"github.com/smartcare/billing/models"
)

type PaymentMethodStore struct {
	BaseStore
}

func CreatePaymentMethodStore(db *gorm.DB) *PaymentMethodStore {
	return &PaymentMethodStore{BaseStore: BaseStore{db: db}}
}

func (s *PaymentMethodStore) Create(ctx context.Context, pm *models.PaymentMethod) error {
	return s.GetDB(ctx).Create(pm).Error
}

func (s *PaymentMethodStore) Update(ctx context.Context, pm *models.PaymentMethod) error {
	return s.GetDB(ctx).Save(pm).Error
}

func (s *PaymentMethodStore) GetByID(ctx context.Context, id int64) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	if err := s.GetDB(ctx).First(&pm, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("payment method %d not found", id)
		}
		return nil, err
	}
	return &pm, nil
}

func (s *PaymentMethodStore) ListActiveByUser(ctx context.Context, userID int64) ([]*models.PaymentMethod, error) {
	var pms []*models.PaymentMethod
	err := s.GetDB(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("is_default DESC, created_at DESC").
		Find(&pms).Error
	if err != nil {
		return nil, err
	}
	return pms, nil
}

// GetDefault returns nil, nil when the user has no default method.
func (s *PaymentMethodStore) GetDefault(ctx context.Context, userID int64) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	err := s.GetDB(ctx).
		Where("user_id = ? AND is_default = ? AND is_active = ?", userID, true, true).
		First(&pm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

// SetDefault atomically clears every default flag for the user and sets the
// one method. This is the single statement pair that keeps the at-most-one
// default invariant under concurrent callers.
func (s *PaymentMethodStore) SetDefault(ctx context.Context, userID, id int64) error {
	return s.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.GetDB(txCtx).Model(&models.PaymentMethod{}).
			Where("user_id = ? AND is_default = ?", userID, true).
			Updates(map[string]interface{}{"is_default": false, "updated_at": time.Now().UTC()}).Error; err != nil {
			return err
		}
		return s.GetDB(txCtx).Model(&models.PaymentMethod{}).
			Where("id = ? AND user_id = ?", id, userID).
			Updates(map[string]interface{}{"is_default": true, "updated_at": time.Now().UTC()}).Error
	})
}

// GetMostRecentActive returns the newest active method for the user,
// excluding the given id. Nil when none remain.
func (s *PaymentMethodStore) GetMostRecentActive(ctx context.Context, userID, excludeID int64) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	err := s.GetDB(ctx).
		Where("user_id = ? AND is_active = ? AND id <> ?", userID, true, excludeID).
		Order("created_at DESC").
		First(&pm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

func (s *PaymentMethodStore) CountActiveByUser(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := s.GetDB(ctx).Model(&models.PaymentMethod{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&count).Error
	return count, err
}
