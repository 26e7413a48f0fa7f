package stores

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/smartcare/billing/apperrors"
	"github.com/smartcare/billing/models"
)

type InvoiceStore struct {
	BaseStore
}

func CreateInvoiceStore(db *gorm.DB) *InvoiceStore {
	return &InvoiceStore{BaseStore: BaseStore{db: db}}
}

func (s *InvoiceStore) Create(ctx context.Context, inv *models.Invoice) error {
	return s.GetDB(ctx).Create(inv).Error
}

func (s *InvoiceStore) GetByID(ctx context.Context, id int64) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.GetDB(ctx).First(&inv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("invoice %d not found", id)
		}
		return nil, err
	}
	return &inv, nil
}

func (s *InvoiceStore) GetByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.GetDB(ctx).First(&inv, "invoice_number = ?", number).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("invoice %s not found", number)
		}
		return nil, err
	}
	return &inv, nil
}

// GetByAppointmentID returns nil, nil when no invoice exists for the
// appointment; the ledger uses that to enforce one invoice per appointment.
func (s *InvoiceStore) GetByAppointmentID(ctx context.Context, appointmentID int64) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.GetDB(ctx).First(&inv, "appointment_id = ?", appointmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *InvoiceStore) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Invoice, error) {
	var invoices []*models.Invoice
	err := s.GetDB(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// ListDueBefore returns invoices in any of the given statuses whose due date
// is before cutoff. Snapshot scan; callers transition rows individually.
func (s *InvoiceStore) ListDueBefore(ctx context.Context, statuses []models.InvoiceStatus, cutoff time.Time) ([]*models.Invoice, error) {
	var invoices []*models.Invoice
	err := s.GetDB(ctx).
		Where("status IN ? AND due_date < ?", statuses, cutoff).
		Order("due_date ASC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// UpdateCAS persists the invoice only if its version column still matches,
// then bumps the version. Returns a conflict error when another writer got
// there first.
func (s *InvoiceStore) UpdateCAS(ctx context.Context, inv *models.Invoice) error {
	res := s.GetDB(ctx).Model(&models.Invoice{}).
		Where("id = ? AND version = ?", inv.ID, inv.Version).
		Updates(map[string]interface{}{
			"status":      inv.Status,
			"paid_amount": inv.PaidAmount,
			"paid_date":   inv.PaidDate,
			"notes":       inv.Notes,
			"version":     inv.Version + 1,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.Conflict("invoice %d was modified concurrently", inv.ID)
	}
	inv.Version++
	return nil
}

func (s *InvoiceStore) SumTotalByUserAndStatus(ctx context.Context, userID int64, status models.InvoiceStatus) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := s.GetDB(ctx).Model(&models.Invoice{}).
		Select("SUM(total_amount)").
		Where("user_id = ? AND status = ?", userID, status).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (s *InvoiceStore) CountByUserAndStatus(ctx context.Context, userID int64, status models.InvoiceStatus) (int64, error) {
	var count int64
	err := s.GetDB(ctx).Model(&models.Invoice{}).
		Where("user_id = ? AND status = ?", userID, status).
		Count(&count).Error
	return count, err
}
