package stores

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/smartcare/billing/apperrors"
)

// UserDirectory answers existence checks against the platform's shared
// users table. User CRUD itself lives with the profile service; the ledger
// only needs to know whether an owner id is real.
type UserDirectory struct {
	BaseStore
}

func CreateUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{BaseStore: BaseStore{db: db}}
}

func (s *UserDirectory) UserExists(ctx context.Context, userID int64) (bool, error) {
	var count int64
	err := s.GetDB(ctx).Table("users").Where("id = ?", userID).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UserContact returns the email and display name used when registering the
// user as a customer with the payment gateway.
func (s *UserDirectory) UserContact(ctx context.Context, userID int64) (email, name string, err error) {
	var row struct {
		Email     string
		FirstName string
		LastName  string
	}
	err = s.GetDB(ctx).Table("users").
		Select("email, first_name, last_name").
		Where("id = ?", userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", apperrors.NotFound("user %d not found", userID)
	}
	if err != nil {
		return "", "", err
	}
	return row.Email, strings.TrimSpace(row.FirstName + " " + row.LastName), nil
}
