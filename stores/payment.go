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

type PaymentStore struct {
	BaseStore
}

func CreatePaymentStore(db *gorm.DB) *PaymentStore {
	return &PaymentStore{BaseStore: BaseStore{db: db}}
}

func (s *PaymentStore) Create(ctx context.Context, payment *models.Payment) error {
	return s.GetDB(ctx).Create(payment).Error
}

// Update saves mutable pre-terminal fields (gateway intent id, status while
// still PENDING). Terminal transitions go through TransitionStatus.
func (s *PaymentStore) Update(ctx context.Context, payment *models.Payment) error {
	return s.GetDB(ctx).Save(payment).Error
}

func (s *PaymentStore) GetByID(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	if err := s.GetDB(ctx).First(&payment, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("payment %d not found", id)
		}
		return nil, err
	}
	return &payment, nil
}

func (s *PaymentStore) GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.GetDB(ctx).First(&payment, "gateway_intent_id = ?", intentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("payment for intent %s not found", intentID)
		}
		return nil, err
	}
	return &payment, nil
}

func (s *PaymentStore) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.GetDB(ctx).First(&payment, "payment_reference = ?", reference).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("payment %s not found", reference)
		}
		return nil, err
	}
	return &payment, nil
}

func (s *PaymentStore) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := s.GetDB(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *PaymentStore) ListByInvoice(ctx context.Context, invoiceID int64) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := s.GetDB(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at DESC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// TransitionStatus applies fields only if the payment is currently in one of
// the from statuses. Reports whether this caller won the transition, which
// is what makes reconciliation apply a gateway fact at most once.
func (s *PaymentStore) TransitionStatus(ctx context.Context, id int64, from []models.PaymentStatus, fields map[string]interface{}) (bool, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["updated_at"] = time.Now().UTC()
	res := s.GetDB(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TransitionRefund is TransitionStatus with an extra guard on the current
// refunded amount. Two refunds racing on the same payment read the same
// refund_amount; only one row update can match it, so only one reservation
// wins.
func (s *PaymentStore) TransitionRefund(ctx context.Context, id int64, from []models.PaymentStatus, refunded decimal.Decimal, fields map[string]interface{}) (bool, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["updated_at"] = time.Now().UTC()
	res := s.GetDB(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ? AND refund_amount = ?", id, from, refunded).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListStaleOpen returns open (pending or processing) payments not touched
// since cutoff, candidates for the supervising timeout. Pending rows land
// here when the process died between committing the payment and the
// gateway call.
func (s *PaymentStore) ListStaleOpen(ctx context.Context, cutoff time.Time) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := s.GetDB(ctx).
		Where("status IN ? AND updated_at < ?",
			[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusProcessing}, cutoff).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
