package stores

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/smartcare/billing/models"
)

type CustomerStore struct {
	BaseStore
}

func CreateCustomerStore(db *gorm.DB) *CustomerStore {
	return &CustomerStore{BaseStore: BaseStore{db: db}}
}

func (s *CustomerStore) Create(ctx context.Context, c *models.Customer) error {
	return s.GetDB(ctx).Create(c).Error
}

// GetByUserID returns nil, nil when the user has no gateway customer yet.
func (s *CustomerStore) GetByUserID(ctx context.Context, userID int64) (*models.Customer, error) {
	var c models.Customer
	err := s.GetDB(ctx).First(&c, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
