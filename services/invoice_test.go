package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartcare/billing/apperrors"
	"github.com/smartcare/billing/models"
)

func TestCreateInvoice(t *testing.T) {
	env := newTestEnv(7)
	ctx := context.Background()

	inv, err := env.invoices.CreateInvoice(ctx, &models.CreateInvoiceRequest{
		UserID:         7,
		Subtotal:       mustDecimal("100.00"),
		TaxAmount:      mustDecimal("8.25"),
		DiscountAmount: mustDecimal("10.00"),
		Description:    "Consultation",
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	if inv.Status != models.InvoiceStatusPending {
		t.Errorf("status = %s, want pending", inv.Status)
	}
	if !inv.TotalAmount.Equal(mustDecimal("98.25")) {
		t.Errorf("total = %s, want 98.25", inv.TotalAmount)
	}
	if !inv.PaidAmount.IsZero() {
		t.Errorf("paid = %s, want 0", inv.PaidAmount)
	}
	if inv.Currency != "USD" {
		t.Errorf("currency = %s, want default USD", inv.Currency)
	}
	if !strings.HasPrefix(inv.InvoiceNumber, "INV-") {
		t.Errorf("invoice number %q missing INV- prefix", inv.InvoiceNumber)
	}
	wantDue := time.Now().UTC().AddDate(0, 0, 30)
	if inv.DueDate.Before(wantDue.Add(-time.Minute)) || inv.DueDate.After(wantDue.Add(time.Minute)) {
		t.Errorf("due date = %s, want ~%s", inv.DueDate, wantDue)
	}
	if got := env.notifier.countByKind(models.EventInvoiceGenerated); got != 1 {
		t.Errorf("invoice_generated events = %d, want 1", got)
	}
}

func TestCreateInvoiceValidation(t *testing.T) {
	env := newTestEnv(7)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *models.CreateInvoiceRequest
		want func(error) bool
	}{
		{
			"unknown user",
			&models.CreateInvoiceRequest{UserID: 99, Subtotal: mustDecimal("50")},
			apperrors.IsNotFound,
		},
		{
			"zero subtotal",
			&models.CreateInvoiceRequest{UserID: 7, Subtotal: decimal.Zero},
			apperrors.IsValidation,
		},
		{
			"negative tax",
			&models.CreateInvoiceRequest{UserID: 7, Subtotal: mustDecimal("50"), TaxAmount: mustDecimal("-1")},
			apperrors.IsValidation,
		},
		{
			"discount exceeds subtotal",
			&models.CreateInvoiceRequest{UserID: 7, Subtotal: mustDecimal("50"), DiscountAmount: mustDecimal("60")},
			apperrors.IsValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.invoices.CreateInvoice(ctx, tt.req)
			if err == nil || !tt.want(err) {
				t.Errorf("got %v, want matching error kind", err)
			}
		})
	}
}

func TestCreateInvoiceDuplicateAppointment(t *testing.T) {
	env := newTestEnv(7)
	ctx := context.Background()
	appointmentID := int64(42)

	req := &models.CreateInvoiceRequest{
		UserID:        7,
		Subtotal:      mustDecimal("75.00"),
		AppointmentID: &appointmentID,
	}
	if _, err := env.invoices.CreateInvoice(ctx, req); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := env.invoices.CreateInvoice(ctx, req)
	if !apperrors.IsConflict(err) {
		t.Fatalf("second create for same appointment: got %v, want conflict", err)
	}
}

func TestCreateInvoiceForAppointment(t *testing.T) {
	env := newTestEnv(7)
	env.appointments.user = 7
	env.appointments.fees[42] = mustDecimal("150.00")
	ctx := context.Background()

	inv, err := env.invoices.CreateInvoiceForAppointment(ctx, 42)
	if err != nil {
		t.Fatalf("CreateInvoiceForAppointment: %v", err)
	}
	if inv.UserID != 7 {
		t.Errorf("user = %d, want 7", inv.UserID)
	}
	if !inv.TotalAmount.Equal(mustDecimal("150.00")) {
		t.Errorf("total = %s, want 150.00", inv.TotalAmount)
	}
	if inv.AppointmentID == nil || *inv.AppointmentID != 42 {
		t.Errorf("appointment id = %v, want 42", inv.AppointmentID)
	}
}

func TestGetInvoiceOwnership(t *testing.T) {
	env := newTestEnv(7, 8)
	ctx := context.Background()

	inv, err := env.invoices.CreateInvoice(ctx, &models.CreateInvoiceRequest{
		UserID: 7, Subtotal: mustDecimal("50.00"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.invoices.GetInvoice(ctx, 8, inv.ID); !apperrors.IsForbidden(err) {
		t.Errorf("other user's read: got %v, want forbidden", err)
	}
	resp, err := env.invoices.GetInvoice(ctx, 7, inv.ID)
	if err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if resp.Invoice.ID != inv.ID {
		t.Errorf("got invoice %d, want %d", resp.Invoice.ID, inv.ID)
	}
}

func TestApplyPaymentPartialThenFull(t *testing.T) {
	env := newTestEnv(7)
	ctx := context.Background()

	inv, err := env.invoices.CreateInvoice(ctx, &models.CreateInvoiceRequest{
		UserID: 7, Subtotal: mustDecimal("100.00"),
	})
	if err != nil {
		t.Fatal(err)
	}

	after, err := env.invoices.ApplyPayment(ctx, inv.ID, mustDecimal("60.00"))
	if err != nil {
		t.Fatalf("first ApplyPayment: %v", err)
	}
	if after.Status != models.InvoiceStatusPartialPayment {
		t.Errorf("status after 60 = %s, want partial_payment", after.Status)
	}
	if !after.RemainingAmount().Equal(mustDecimal("40.00")) {
		t.Errorf("remaining = %s, want 40.00", after.RemainingAmount())
	}

	after, err = env.invoices.ApplyPayment(ctx, inv.ID, mustDecimal("40.00"))
	if err != nil {
		t.Fatalf("second ApplyPayment: %v", err)
	}
	if after.Status != models.InvoiceStatusPaid {
		t.Errorf("status after full payment = %s, want paid", after.Status)
	}
	if after.PaidDate == nil {
		t.Error("paid date not set on full payment")
	}
	if !after.RemainingAmount().IsZero() {
		t.Errorf("remaining = %s, want 0", after.RemainingAmount())
	}
}

func TestApplyPaymentConcurrent(t *testing.T) {
	env := newTestEnv(7)
	ctx := context.Background()

	inv, err := env.invoices.CreateInvoice(ctx, &models.CreateInvoiceRequest{
		UserID: 7, Subtotal: mustDecimal("100.00"),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Three writers, three retry attempts each: every version conflict
	// implies a foreign commit, so each writer needs at most three tries.
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.invoices.ApplyPayment(ctx, inv.ID, mustDecimal("10.00")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent ApplyPayment: %v", err)
	}

	final, err := env.invoiceStore.GetByID(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !final.PaidAmount.Equal(mustDecimal("30.00")) {
		t.Errorf("paid = %s after 3x10.00, want 30.00 (lost update)", final.PaidAmount)
	}
}

func TestCancelInvoice(t *testing.T) {
	env := newTestEnv(7, 8)
	ctx := context.Background()

	inv, err := env.invoices.CreateInvoice(ctx, &models.CreateInvoiceRequest{
		UserID: 7, Subtotal: mustDecimal("50.00"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := env.invoices.Cancel(ctx, 8, inv.ID, "wrong user"); !apperrors.IsForbidden(err) {
		t.Errorf("cancel by non-owner: got %v, want forbidden", err)
	}

	if err := env.invoices.Cancel(ctx, 7, inv.ID, "appointment cancelled"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	after, _ := env.invoiceStore.GetByID(ctx, inv.ID)
	if after.Status != models.InvoiceStatusCancelled {
		t.Errorf("status = %s, want cancelled", after.Status)
	}
	if !strings.Contains(after.Notes, "appointment cancelled") {
		t.Errorf("notes = %q, want cancel reason recorded", after.Notes)
	}

	if err := env.invoices.Cancel(ctx, 7, inv.ID, "again"); !apperrors.IsValidation(err) {
		t.Errorf("double cancel: got %v, want validation error", err)
	}
}

func TestCancelFailedInvoiceRejected(t *testing.T) {
	env := newTestEnv(7)
	ctx := context.Background()

	inv, err := env.invoices.CreateInvoice(ctx, &models.CreateInvoiceRequest{
		UserID: 7, Subtotal: mustDecimal("50.00"),
	})
	if err != nil {
		t.Fatal(err)
	}
	stored, err := env.invoiceStore.GetByID(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	stored.Status = models.InvoiceStatusFailed
	if err := env.invoiceStore.UpdateCAS(ctx, stored); err != nil {
		t.Fatal(err)
	}

	if err := env.invoices.Cancel(ctx, 7, inv.ID, "cleanup"); !apperrors.IsValidation(err) {
		t.Errorf("cancel of failed invoice: got %v, want validation error", err)
	}
}

func TestCancelInvoiceWithPaymentsRejected(t *testing.T) {
	env := newTestEnv(7)
	ctx := context.Background()

	inv, err := env.invoices.CreateInvoice(ctx, &models.CreateInvoiceRequest{
		UserID: 7, Subtotal: mustDecimal("100.00"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.invoices.ApplyPayment(ctx, inv.ID, mustDecimal("30.00")); err != nil {
		t.Fatal(err)
	}

	if err := env.invoices.Cancel(ctx, 7, inv.ID, "changed my mind"); !apperrors.IsValidation(err) {
		t.Errorf("cancel with partial payment: got %v, want validation error", err)
	}
}

func TestSweepOverdue(t *testing.T) {
	env := newTestEnv(7)
	ctx := context.Background()
	past := time.Now().UTC().Add(-48 * time.Hour)
	future := time.Now().UTC().Add(72 * time.Hour)

	overdue, err := env.invoices.CreateInvoice(ctx, &models.CreateInvoiceRequest{
		UserID: 7, Subtotal: mustDecimal("50.00"), DueDate: &past,
	})
	if err != nil {
		t.Fatal(err)
	}
	current, err := env.invoices.CreateInvoice(ctx, &models.CreateInvoiceRequest{
		UserID: 7, Subtotal: mustDecimal("60.00"), DueDate: &future,
	})
	if err != nil {
		t.Fatal(err)
	}

	count, err := env.invoices.SweepOverdue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("SweepOverdue: %v", err)
	}
	if count != 1 {
		t.Errorf("swept %d invoices, want 1", count)
	}

	after, _ := env.invoiceStore.GetByID(ctx, overdue.ID)
	if after.Status != models.InvoiceStatusOverdue {
		t.Errorf("past-due invoice status = %s, want overdue", after.Status)
	}
	untouched, _ := env.invoiceStore.GetByID(ctx, current.ID)
	if untouched.Status != models.InvoiceStatusPending {
		t.Errorf("future invoice status = %s, want pending", untouched.Status)
	}
	if got := env.notifier.countByKind(models.EventInvoiceOverdue); got != 1 {
		t.Errorf("invoice_overdue events = %d, want 1", got)
	}

	// Second run finds nothing: overdue rows are no longer candidates.
	count, err = env.invoices.SweepOverdue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("second sweep transitioned %d invoices, want 0", count)
	}
}

func TestSweepReminders(t *testing.T) {
	env := newTestEnv(7)
	ctx := context.Background()
	soon := time.Now().UTC().Add(24 * time.Hour)
	far := time.Now().UTC().Add(30 * 24 * time.Hour)

	dueSoon, err := env.invoices.CreateInvoice(ctx, &models.CreateInvoiceRequest{
		UserID: 7, Subtotal: mustDecimal("50.00"), DueDate: &soon,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.invoices.CreateInvoice(ctx, &models.CreateInvoiceRequest{
		UserID: 7, Subtotal: mustDecimal("60.00"), DueDate: &far,
	}); err != nil {
		t.Fatal(err)
	}

	count, err := env.invoices.SweepReminders(ctx, time.Now().UTC(), 72*time.Hour)
	if err != nil {
		t.Fatalf("SweepReminders: %v", err)
	}
	if count != 1 {
		t.Errorf("reminded %d invoices, want 1", count)
	}
	if got := env.notifier.countByKind(models.EventInvoiceReminder); got != 1 {
		t.Errorf("invoice_reminder events = %d, want 1", got)
	}

	// Reminder sweep never mutates invoice state.
	after, _ := env.invoiceStore.GetByID(ctx, dueSoon.ID)
	if after.Status != models.InvoiceStatusPending {
		t.Errorf("status after reminder = %s, want pending", after.Status)
	}
}
