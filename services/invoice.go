package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/smartcare/billing/apperrors"
	"github.com/smartcare/billing/config"
	"github.com/smartcare/billing/models"
	"github.com/smartcare/billing/notifications"
	"github.com/smartcare/billing/utils"
)

// InvoiceService owns the invoice lifecycle: creation, the paid-amount
// ledger, cancellation and the time-based sweeps. It is the only writer of
// invoice paid amounts and statuses.
type InvoiceService struct {
	invoiceStore InvoiceStore
	paymentStore PaymentStore
	users        UserDirectory
	appointments AppointmentSource
	notifier     notifications.Notifier
	cfg          config.PaymentConfig
	logger       zerolog.Logger
}

func CreateInvoiceService(
	invoiceStore InvoiceStore,
	paymentStore PaymentStore,
	users UserDirectory,
	appointments AppointmentSource,
	notifier notifications.Notifier,
	cfg config.PaymentConfig,
	logger zerolog.Logger,
) *InvoiceService {
	return &InvoiceService{
		invoiceStore: invoiceStore,
		paymentStore: paymentStore,
		users:        users,
		appointments: appointments,
		notifier:     notifier,
		cfg:          cfg,
		logger:       logger,
	}
}

func (s *InvoiceService) CreateInvoice(ctx context.Context, req *models.CreateInvoiceRequest) (*models.Invoice, error) {
	exists, err := s.users.UserExists(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.NotFound("user %d not found", req.UserID)
	}

	if req.Subtotal.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.Validation("subtotal must be positive")
	}
	if req.TaxAmount.IsNegative() || req.DiscountAmount.IsNegative() {
		return nil, apperrors.Validation("tax and discount must not be negative")
	}
	total := req.Subtotal.Add(req.TaxAmount).Sub(req.DiscountAmount)
	if total.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.Validation("invoice total must be positive")
	}

	currency := req.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	dueDate := time.Now().UTC().AddDate(0, 0, s.cfg.InvoiceDueDays)
	if req.DueDate != nil {
		dueDate = req.DueDate.UTC()
	}

	inv := &models.Invoice{
		InvoiceNumber:  nextInvoiceNumber(),
		UserID:         req.UserID,
		AppointmentID:  req.AppointmentID,
		Status:         models.InvoiceStatusPending,
		Subtotal:       req.Subtotal,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		TotalAmount:    total,
		PaidAmount:     decimal.Zero,
		Currency:       currency,
		Description:    req.Description,
		DueDate:        dueDate,
	}

	err = s.invoiceStore.WithTransaction(ctx, func(txCtx context.Context) error {
		if req.AppointmentID != nil {
			existing, err := s.invoiceStore.GetByAppointmentID(txCtx, *req.AppointmentID)
			if err != nil {
				return err
			}
			if existing != nil {
				return apperrors.Conflict("invoice already exists for appointment %d", *req.AppointmentID)
			}
		}
		if err := s.invoiceStore.Create(txCtx, inv); err != nil {
			return err
		}
		return s.notifier.Notify(txCtx, inv.UserID, models.EventInvoiceGenerated, invoicePayload(inv))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("invoice_number", inv.InvoiceNumber).
		Int64("user_id", inv.UserID).
		Str("total", inv.TotalAmount.String()).
		Msg("invoice created")
	return inv, nil
}

// CreateInvoiceForAppointment bills the consultation fee for a completed
// appointment. One invoice per appointment.
func (s *InvoiceService) CreateInvoiceForAppointment(ctx context.Context, appointmentID int64) (*models.Invoice, error) {
	userID, fee, err := s.appointments.ConsultationFee(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	return s.CreateInvoice(ctx, &models.CreateInvoiceRequest{
		UserID:         userID,
		Subtotal:       fee,
		TaxAmount:      decimal.Zero,
		DiscountAmount: decimal.Zero,
		AppointmentID:  &appointmentID,
	})
}

func (s *InvoiceService) GetInvoice(ctx context.Context, userID, invoiceID int64) (*models.InvoiceResponse, error) {
	inv, err := s.invoiceStore.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.UserID != userID {
		return nil, apperrors.Forbidden("invoice %d does not belong to user %d", invoiceID, userID)
	}
	payments, err := s.paymentStore.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return &models.InvoiceResponse{Invoice: inv, Payments: payments}, nil
}

func (s *InvoiceService) GetInvoiceByNumber(ctx context.Context, number string) (*models.InvoiceResponse, error) {
	inv, err := s.invoiceStore.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	payments, err := s.paymentStore.ListByInvoice(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return &models.InvoiceResponse{Invoice: inv, Payments: payments}, nil
}

func (s *InvoiceService) ListUserInvoices(ctx context.Context, userID int64, limit, offset int) ([]*models.Invoice, error) {
	return s.invoiceStore.ListByUser(ctx, userID, limit, offset)
}

func (s *InvoiceService) TotalAmountByUserAndStatus(ctx context.Context, userID int64, status models.InvoiceStatus) (decimal.Decimal, error) {
	return s.invoiceStore.SumTotalByUserAndStatus(ctx, userID, status)
}

func (s *InvoiceService) CountByUserAndStatus(ctx context.Context, userID int64, status models.InvoiceStatus) (int64, error) {
	return s.invoiceStore.CountByUserAndStatus(ctx, userID, status)
}

// ApplyPayment credits amount against the invoice and recomputes its
// status. Callers (the payment processor) guarantee at-most-once per
// completed payment; this method guarantees the credit is not lost to a
// concurrent writer by retrying the read-check-write on version conflicts.
func (s *InvoiceService) ApplyPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal) (*models.Invoice, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.Validation("payment amount must be positive")
	}

	var applied *models.Invoice
	retryCfg := utils.DefaultRetryConfig()
	retryCfg.RetryIf = apperrors.IsConflict

	err := utils.Retry(ctx, retryCfg, func() error {
		inv, err := s.invoiceStore.GetByID(ctx, invoiceID)
		if err != nil {
			return err
		}

		inv.PaidAmount = inv.PaidAmount.Add(amount)
		if inv.PaidAmount.GreaterThanOrEqual(inv.TotalAmount) {
			inv.Status = models.InvoiceStatusPaid
			now := time.Now().UTC()
			inv.PaidDate = &now
		} else if inv.PaidAmount.GreaterThan(decimal.Zero) {
			inv.Status = models.InvoiceStatusPartialPayment
		}

		if err := s.invoiceStore.UpdateCAS(ctx, inv); err != nil {
			return err
		}
		applied = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("invoice_id", applied.ID).
		Str("paid", applied.PaidAmount.String()).
		Str("status", string(applied.Status)).
		Msg("payment applied to invoice")
	return applied, nil
}

// Cancel is only legal on a zero-paid invoice; any partial payment must be
// refunded through the payment processor first.
func (s *InvoiceService) Cancel(ctx context.Context, userID, invoiceID int64, reason string) error {
	retryCfg := utils.DefaultRetryConfig()
	retryCfg.RetryIf = apperrors.IsConflict

	return utils.Retry(ctx, retryCfg, func() error {
		inv, err := s.invoiceStore.GetByID(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.UserID != userID {
			return apperrors.Forbidden("invoice %d does not belong to user %d", invoiceID, userID)
		}
		if inv.Status == models.InvoiceStatusPaid {
			return apperrors.Validation("cannot cancel paid invoice")
		}
		if inv.Status == models.InvoiceStatusCancelled {
			return apperrors.Validation("invoice is already cancelled")
		}
		if inv.Status == models.InvoiceStatusFailed {
			return apperrors.Validation("cannot cancel failed invoice")
		}
		if inv.PaidAmount.GreaterThan(decimal.Zero) {
			return apperrors.Validation("cannot cancel invoice with payments; refund them first")
		}

		inv.Status = models.InvoiceStatusCancelled
		inv.Notes = appendNote(inv.Notes, "Cancelled: "+reason)
		return s.invoiceStore.UpdateCAS(ctx, inv)
	})
}

// SweepOverdue transitions every pending invoice past its due date to
// overdue. Idempotent: rows already overdue are not selected.
func (s *InvoiceService) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.invoiceStore.ListDueBefore(ctx,
		[]models.InvoiceStatus{models.InvoiceStatusPending, models.InvoiceStatusPartialPayment}, now)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, inv := range candidates {
		if !inv.IsOverdue(now) {
			continue
		}
		inv.Status = models.InvoiceStatusOverdue
		err := s.invoiceStore.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := s.invoiceStore.UpdateCAS(txCtx, inv); err != nil {
				return err
			}
			return s.notifier.Notify(txCtx, inv.UserID, models.EventInvoiceOverdue, invoicePayload(inv))
		})
		if err != nil {
			if apperrors.IsConflict(err) {
				// Someone paid or cancelled it mid-sweep; next run re-evaluates.
				continue
			}
			return count, err
		}
		count++
	}

	if count > 0 {
		s.logger.Info().Int("count", count).Msg("invoices marked overdue")
	}
	return count, nil
}

// SweepReminders emits a reminder event for every pending or overdue
// invoice due within leadTime. Read-only; duplicate suppression is the
// notification contract's concern.
func (s *InvoiceService) SweepReminders(ctx context.Context, now time.Time, leadTime time.Duration) (int, error) {
	candidates, err := s.invoiceStore.ListDueBefore(ctx,
		[]models.InvoiceStatus{models.InvoiceStatusPending, models.InvoiceStatusOverdue}, now.Add(leadTime))
	if err != nil {
		return 0, err
	}

	count := 0
	for _, inv := range candidates {
		if err := s.notifier.Notify(ctx, inv.UserID, models.EventInvoiceReminder, invoicePayload(inv)); err != nil {
			s.logger.Warn().Err(err).Int64("invoice_id", inv.ID).Msg("failed to emit invoice reminder")
			continue
		}
		count++
	}
	return count, nil
}

func invoicePayload(inv *models.Invoice) map[string]interface{} {
	return map[string]interface{}{
		"invoice_id":     inv.ID,
		"invoice_number": inv.InvoiceNumber,
		"amount":         inv.RemainingAmount().String(),
		"currency":       inv.Currency,
		"due_date":       inv.DueDate.Format(time.RFC3339),
	}
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return strings.TrimRight(notes, "\n") + "\n" + line
}
