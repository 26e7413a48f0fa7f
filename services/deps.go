package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartcare/billing/models"
)

// Persistence contracts the services depend on. The gorm-backed stores in
// the stores package satisfy these; tests supply in-memory fakes.

type InvoiceStore interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
	Create(ctx context.Context, inv *models.Invoice) error
	GetByID(ctx context.Context, id int64) (*models.Invoice, error)
	GetByNumber(ctx context.Context, number string) (*models.Invoice, error)
	GetByAppointmentID(ctx context.Context, appointmentID int64) (*models.Invoice, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Invoice, error)
	ListDueBefore(ctx context.Context, statuses []models.InvoiceStatus, cutoff time.Time) ([]*models.Invoice, error)
	UpdateCAS(ctx context.Context, inv *models.Invoice) error
	SumTotalByUserAndStatus(ctx context.Context, userID int64, status models.InvoiceStatus) (decimal.Decimal, error)
	CountByUserAndStatus(ctx context.Context, userID int64, status models.InvoiceStatus) (int64, error)
}

type PaymentStore interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
	Create(ctx context.Context, payment *models.Payment) error
	Update(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id int64) (*models.Payment, error)
	GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	GetByReference(ctx context.Context, reference string) (*models.Payment, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Payment, error)
	ListByInvoice(ctx context.Context, invoiceID int64) ([]*models.Payment, error)
	TransitionStatus(ctx context.Context, id int64, from []models.PaymentStatus, fields map[string]interface{}) (bool, error)
	TransitionRefund(ctx context.Context, id int64, from []models.PaymentStatus, refunded decimal.Decimal, fields map[string]interface{}) (bool, error)
	ListStaleOpen(ctx context.Context, cutoff time.Time) ([]*models.Payment, error)
}

type PaymentMethodStore interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
	Create(ctx context.Context, pm *models.PaymentMethod) error
	Update(ctx context.Context, pm *models.PaymentMethod) error
	GetByID(ctx context.Context, id int64) (*models.PaymentMethod, error)
	ListActiveByUser(ctx context.Context, userID int64) ([]*models.PaymentMethod, error)
	GetDefault(ctx context.Context, userID int64) (*models.PaymentMethod, error)
	SetDefault(ctx context.Context, userID, id int64) error
	GetMostRecentActive(ctx context.Context, userID, excludeID int64) (*models.PaymentMethod, error)
	CountActiveByUser(ctx context.Context, userID int64) (int64, error)
}

type CustomerStore interface {
	Create(ctx context.Context, c *models.Customer) error
	GetByUserID(ctx context.Context, userID int64) (*models.Customer, error)
}

type UserDirectory interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
	UserContact(ctx context.Context, userID int64) (email, name string, err error)
}

// AppointmentSource resolves the billable fee for a completed appointment.
// Appointment scheduling itself is another service's concern.
type AppointmentSource interface {
	ConsultationFee(ctx context.Context, appointmentID int64) (userID int64, fee decimal.Decimal, err error)
}
