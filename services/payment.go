package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/smartcare/billing/apperrors"
	"github.com/smartcare/billing/config"
	"github.com/smartcare/billing/models"
	"github.com/smartcare/billing/notifications"
	"github.com/smartcare/billing/providers"
	"github.com/smartcare/billing/utils"
)

// PaymentService orchestrates gateway payment intents and reconciles
// gateway facts into Payments and Invoices. Reconciliation treats a
// (gateway intent id, gateway status) pair as a fact: applying the same
// fact twice is a no-op after the first application.
type PaymentService struct {
	paymentStore  PaymentStore
	invoiceStore  InvoiceStore
	methodStore   PaymentMethodStore
	customerStore CustomerStore
	invoices      *InvoiceService
	gateway       providers.Gateway
	fees          *FeeCalculator
	notifier      notifications.Notifier
	cfg           config.PaymentConfig
	logger        zerolog.Logger
}

func CreatePaymentService(
	paymentStore PaymentStore,
	invoiceStore InvoiceStore,
	methodStore PaymentMethodStore,
	customerStore CustomerStore,
	invoices *InvoiceService,
	gateway providers.Gateway,
	fees *FeeCalculator,
	notifier notifications.Notifier,
	cfg config.PaymentConfig,
	logger zerolog.Logger,
) *PaymentService {
	return &PaymentService{
		paymentStore:  paymentStore,
		invoiceStore:  invoiceStore,
		methodStore:   methodStore,
		customerStore: customerStore,
		invoices:      invoices,
		gateway:       gateway,
		fees:          fees,
		notifier:      notifier,
		cfg:           cfg,
		logger:        logger,
	}
}

// CreateIntent validates the request, persists a PENDING payment and asks
// the gateway for an intent. The payment row is committed before the
// gateway call, so the gateway is never called while invoice locks are
// held; a gateway failure fails the row again immediately, releasing its
// reservation against the invoice balance so the caller can retry with a
// fresh intent.
func (s *PaymentService) CreateIntent(ctx context.Context, userID int64, req *models.PaymentRequest) (*models.PaymentIntentResponse, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.Validation("payment amount must be positive")
	}

	method, err := s.resolvePaymentMethod(ctx, userID, req.PaymentMethodID)
	if err != nil {
		return nil, err
	}

	var payment *models.Payment
	retryCfg := utils.DefaultRetryConfig()
	retryCfg.RetryIf = apperrors.IsConflict

	err = utils.Retry(ctx, retryCfg, func() error {
		return s.paymentStore.WithTransaction(ctx, func(txCtx context.Context) error {
			inv, err := s.invoiceStore.GetByID(txCtx, req.InvoiceID)
			if err != nil {
				return err
			}
			if inv.UserID != userID {
				return apperrors.Forbidden("invoice %d does not belong to user %d", req.InvoiceID, userID)
			}
			if inv.Status == models.InvoiceStatusPaid {
				return apperrors.Validation("invoice is already paid")
			}
			if inv.Status == models.InvoiceStatusCancelled {
				return apperrors.Validation("cannot pay cancelled invoice")
			}

			// Count open attempts against the remaining balance so two
			// racing intents cannot together overpay the invoice.
			open, err := s.openPaymentTotal(txCtx, inv.ID)
			if err != nil {
				return err
			}
			available := inv.RemainingAmount().Sub(open)
			if req.Amount.GreaterThan(available) {
				return apperrors.Validation("payment amount exceeds remaining balance")
			}

			payment = &models.Payment{
				PaymentReference: nextPaymentReference(),
				UserID:           userID,
				InvoiceID:        inv.ID,
				Status:           models.PaymentStatusPending,
				Amount:           req.Amount,
				Currency:         inv.Currency,
				TransactionFee:   decimal.Zero,
				NetAmount:        decimal.Zero,
				RefundAmount:     decimal.Zero,
				Description:      req.Description,
			}
			if method != nil {
				payment.PaymentMethodID = &method.ID
			}
			if err := s.paymentStore.Create(txCtx, payment); err != nil {
				return err
			}

			// Version bump serializes concurrent intent creation per invoice.
			return s.invoiceStore.UpdateCAS(txCtx, inv)
		})
	})
	if err != nil {
		return nil, err
	}

	intentReq := &providers.IntentRequest{
		AmountMinor: minorUnits(payment.Amount),
		Currency:    payment.Currency,
		Metadata: map[string]string{
			"payment_reference": payment.PaymentReference,
		},
	}
	if method != nil {
		// A vaulted method can only be charged together with its gateway
		// customer.
		customer, err := s.customerStore.GetByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if customer != nil {
			intentReq.CustomerID = customer.GatewayCustomerID
		}
		intentReq.MethodToken = method.GatewayTokenID
	}

	intent, err := s.gateway.CreateIntent(ctx, intentReq)
	if err != nil {
		// No intent id means no gateway fact can ever arrive for this row.
		// Fail it now so it stops reserving the invoice balance.
		if _, failErr := s.paymentStore.TransitionStatus(ctx, payment.ID,
			[]models.PaymentStatus{models.PaymentStatusPending},
			map[string]interface{}{
				"status":         models.PaymentStatusFailed,
				"failure_reason": "gateway error creating intent",
			}); failErr != nil {
			s.logger.Error().Err(failErr).
				Str("payment_reference", payment.PaymentReference).
				Msg("failed to release payment after gateway error, stale sweep will collect it")
		}
		s.logger.Warn().Err(err).
			Str("payment_reference", payment.PaymentReference).
			Msg("gateway intent creation failed")
		return nil, err
	}

	payment.GatewayIntentID = intent.ID
	if _, err := s.paymentStore.TransitionStatus(ctx, payment.ID,
		[]models.PaymentStatus{models.PaymentStatusPending},
		map[string]interface{}{
			"gateway_intent_id": intent.ID,
			"status":            models.PaymentStatusProcessing,
		}); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("payment_reference", payment.PaymentReference).
		Str("gateway_intent_id", intent.ID).
		Str("amount", payment.Amount.String()).
		Msg("payment intent created")

	return &models.PaymentIntentResponse{
		PaymentID:       payment.ID,
		GatewayIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		GatewayStatus:   intent.Status,
	}, nil
}

// ConfirmPayment is the synchronous confirmation path: retrieve the
// intent's current state from the gateway and reconcile it. Converges with
// the webhook path on the same terminal state.
func (s *PaymentService) ConfirmPayment(ctx context.Context, gatewayIntentID string) (*models.Payment, error) {
	intent, err := s.gateway.RetrieveIntent(ctx, gatewayIntentID)
	if err != nil {
		return nil, err
	}
	return s.reconcileIntent(ctx, intent)
}

// Reconcile converges local state with a gateway-reported fact. Idempotent:
// a payment already terminal is returned unchanged regardless of how many
// times the fact is delivered or in what order.
func (s *PaymentService) Reconcile(ctx context.Context, gatewayIntentID, gatewayStatus, failureReason string) (*models.Payment, error) {
	if gatewayStatus == providers.IntentStatusSucceeded {
		// Pull the authoritative fee and charge id before crediting.
		intent, err := s.gateway.RetrieveIntent(ctx, gatewayIntentID)
		if err != nil {
			return nil, err
		}
		return s.reconcileIntent(ctx, intent)
	}
	return s.reconcileIntent(ctx, &providers.Intent{
		ID:             gatewayIntentID,
		Status:         gatewayStatus,
		FailureMessage: failureReason,
	})
}

func (s *PaymentService) reconcileIntent(ctx context.Context, intent *providers.Intent) (*models.Payment, error) {
	payment, err := s.paymentStore.GetByIntentID(ctx, intent.ID)
	if err != nil {
		return nil, err
	}

	if payment.Status.IsTerminal() {
		if intent.Status == providers.IntentStatusSucceeded && payment.Status != models.PaymentStatusCompleted &&
			payment.Status != models.PaymentStatusRefunded && payment.Status != models.PaymentStatusPartialRefund {
			// Gateway reports success after we gave up locally. Do not
			// resurrect; flag for manual review.
			s.logger.Error().
				Str("gateway_intent_id", intent.ID).
				Str("local_status", string(payment.Status)).
				Msg("gateway success for locally terminal payment")
		}
		return payment, nil
	}

	switch intent.Status {
	case providers.IntentStatusSucceeded:
		return s.completePayment(ctx, payment, intent)
	case providers.IntentStatusRequiresAction, providers.IntentStatusProcessing,
		"requires_confirmation", "requires_capture":
		if _, err := s.paymentStore.TransitionStatus(ctx, payment.ID,
			[]models.PaymentStatus{models.PaymentStatusPending},
			map[string]interface{}{"status": models.PaymentStatusProcessing}); err != nil {
			return nil, err
		}
		return s.paymentStore.GetByID(ctx, payment.ID)
	default:
		return s.failPayment(ctx, payment, intent.FailureMessage)
	}
}

func (s *PaymentService) completePayment(ctx context.Context, payment *models.Payment, intent *providers.Intent) (*models.Payment, error) {
	fee := decimal.Zero
	if intent.Fee != nil {
		fee = *intent.Fee
	} else {
		calculated, err := s.fees.Fee(payment.Amount, payment.Currency)
		if err != nil {
			return nil, err
		}
		fee = calculated
	}
	net := payment.Amount.Sub(fee)
	now := time.Now().UTC()

	err := s.paymentStore.WithTransaction(ctx, func(txCtx context.Context) error {
		won, err := s.paymentStore.TransitionStatus(txCtx, payment.ID,
			[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusProcessing},
			map[string]interface{}{
				"status":            models.PaymentStatusCompleted,
				"transaction_fee":   fee,
				"net_amount":        net,
				"gateway_charge_id": intent.ChargeID,
				"processed_at":      now,
			})
		if err != nil {
			return err
		}
		if !won {
			// Another path already settled this payment.
			return nil
		}

		inv, err := s.invoices.ApplyPayment(txCtx, payment.InvoiceID, payment.Amount)
		if err != nil {
			return err
		}
		return s.notifier.Notify(txCtx, payment.UserID, models.EventPaymentSuccess, map[string]interface{}{
			"payment_id":     payment.ID,
			"invoice_id":     inv.ID,
			"invoice_number": inv.InvoiceNumber,
			"amount":         payment.Amount.String(),
			"currency":       payment.Currency,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("payment_reference", payment.PaymentReference).
		Str("gateway_intent_id", intent.ID).
		Msg("payment completed")
	return s.paymentStore.GetByID(ctx, payment.ID)
}

func (s *PaymentService) failPayment(ctx context.Context, payment *models.Payment, reason string) (*models.Payment, error) {
	if reason == "" {
		reason = "payment failed"
	}

	err := s.paymentStore.WithTransaction(ctx, func(txCtx context.Context) error {
		won, err := s.paymentStore.TransitionStatus(txCtx, payment.ID,
			[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusProcessing},
			map[string]interface{}{
				"status":         models.PaymentStatusFailed,
				"failure_reason": reason,
			})
		if err != nil {
			return err
		}
		if !won {
			return nil
		}

		inv, err := s.invoiceStore.GetByID(txCtx, payment.InvoiceID)
		if err != nil {
			return err
		}
		return s.notifier.Notify(txCtx, payment.UserID, models.EventPaymentFailed, map[string]interface{}{
			"payment_id":     payment.ID,
			"invoice_id":     inv.ID,
			"invoice_number": inv.InvoiceNumber,
			"amount":         payment.Amount.String(),
			"currency":       payment.Currency,
			"failure_reason": reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.paymentStore.GetByID(ctx, payment.ID)
}

// HandleWebhookEvent maps a gateway webhook onto Reconcile. Irrelevant
// event types are acknowledged; a payment event for an unknown intent is
// an error, because the intent id is persisted only after the gateway call
// returns and a fast webhook can race that write. The caller NACKs so the
// gateway redelivers once the id is on the row.
func (s *PaymentService) HandleWebhookEvent(ctx context.Context, eventType, gatewayIntentID, gatewayStatus, failureReason string) error {
	switch eventType {
	case "payment_intent.succeeded":
		gatewayStatus = providers.IntentStatusSucceeded
	case "payment_intent.payment_failed":
		if gatewayStatus == "" || gatewayStatus == providers.IntentStatusSucceeded {
			gatewayStatus = "failed"
		}
	case "payment_intent.processing", "payment_intent.requires_action":
		if gatewayStatus == "" {
			gatewayStatus = providers.IntentStatusProcessing
		}
	default:
		s.logger.Debug().Str("event_type", eventType).Msg("ignoring webhook event type")
		return nil
	}

	_, err := s.Reconcile(ctx, gatewayIntentID, gatewayStatus, failureReason)
	if apperrors.IsNotFound(err) {
		s.logger.Warn().
			Str("gateway_intent_id", gatewayIntentID).
			Msg("webhook for unknown payment intent, requesting redelivery")
	}
	return err
}

// Refund reverses part or all of a completed payment through the gateway.
// Nil amount means refund the full remaining refundable amount. The local
// refund amount is reserved with a CAS on the amount already refunded
// before the gateway is called; a losing racer re-reads and re-validates
// against the winner's state, so concurrent refunds can never together
// exceed the captured amount.
func (s *PaymentService) Refund(ctx context.Context, req *models.RefundRequest) (*models.Payment, error) {
	retryCfg := utils.DefaultRetryConfig()
	retryCfg.RetryIf = apperrors.IsConflict

	var refunded *models.Payment
	err := utils.Retry(ctx, retryCfg, func() error {
		payment, err := s.paymentStore.GetByID(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		if !payment.CanBeRefunded() {
			return apperrors.Validation("payment %s cannot be refunded in status %s", payment.PaymentReference, payment.Status)
		}
		if payment.GatewayChargeID == "" {
			return apperrors.Validation("payment %s has no gateway charge to refund", payment.PaymentReference)
		}

		refundable := payment.Amount.Sub(payment.RefundAmount)
		amount := refundable
		if req.Amount != nil {
			amount = *req.Amount
		}
		if amount.LessThanOrEqual(decimal.Zero) {
			return apperrors.Validation("refund amount must be positive")
		}
		if amount.GreaterThan(refundable) {
			return apperrors.Validation("refund amount exceeds refundable balance")
		}

		newRefunded := payment.RefundAmount.Add(amount)
		status := models.PaymentStatusPartialRefund
		if newRefunded.GreaterThanOrEqual(payment.Amount) {
			status = models.PaymentStatusRefunded
		}
		now := time.Now().UTC()

		won, err := s.paymentStore.TransitionRefund(ctx, payment.ID,
			[]models.PaymentStatus{models.PaymentStatusCompleted, models.PaymentStatusPartialRefund},
			payment.RefundAmount,
			map[string]interface{}{
				"status":        status,
				"refund_amount": newRefunded,
				"refunded_at":   now,
			})
		if err != nil {
			return err
		}
		if !won {
			return apperrors.Conflict("payment %s was modified concurrently during refund", payment.PaymentReference)
		}

		refundID, err := s.gateway.Refund(ctx, payment.GatewayChargeID, minorUnits(amount))
		if err != nil {
			// Release the reservation so the money stays refundable.
			released, rbErr := s.paymentStore.TransitionRefund(ctx, payment.ID,
				[]models.PaymentStatus{status}, newRefunded,
				map[string]interface{}{
					"status":        payment.Status,
					"refund_amount": payment.RefundAmount,
					"refunded_at":   payment.RefundedAt,
				})
			if rbErr != nil || !released {
				s.logger.Error().Err(rbErr).
					Str("payment_reference", payment.PaymentReference).
					Msg("failed to release refund reservation after gateway error")
			}
			return err
		}

		s.logger.Info().
			Str("payment_reference", payment.PaymentReference).
			Str("refund_id", refundID).
			Str("amount", amount.String()).
			Msg("payment refunded")
		refunded, err = s.paymentStore.GetByID(ctx, payment.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

// ExpireStalePayments fails open payments whose gateway never reported a
// terminal event within the configured window. The gateway is asked one
// last time first, so a late success is credited instead of discarded;
// rows without an intent id never reached the gateway and fail outright.
func (s *PaymentService) ExpireStalePayments(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.paymentStore.ListStaleOpen(ctx, now.Add(-s.cfg.ProcessingTimeout))
	if err != nil {
		return 0, err
	}

	count := 0
	for _, payment := range stale {
		if payment.GatewayIntentID != "" {
			intent, err := s.gateway.RetrieveIntent(ctx, payment.GatewayIntentID)
			if err == nil && intent.Status == providers.IntentStatusSucceeded {
				if _, err := s.reconcileIntent(ctx, intent); err != nil {
					s.logger.Error().Err(err).
						Str("payment_reference", payment.PaymentReference).
						Msg("failed to reconcile late gateway success")
				}
				continue
			}
		}

		if _, err := s.failPayment(ctx, payment, "timeout"); err != nil {
			s.logger.Error().Err(err).
				Str("payment_reference", payment.PaymentReference).
				Msg("failed to expire stale payment")
			continue
		}
		count++
	}
	return count, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, userID, paymentID int64) (*models.Payment, error) {
	payment, err := s.paymentStore.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.UserID != userID {
		return nil, apperrors.Forbidden("payment %d does not belong to user %d", paymentID, userID)
	}
	return payment, nil
}

func (s *PaymentService) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return s.paymentStore.GetByReference(ctx, reference)
}

func (s *PaymentService) ListUserPayments(ctx context.Context, userID int64, limit, offset int) ([]*models.Payment, error) {
	return s.paymentStore.ListByUser(ctx, userID, limit, offset)
}

func (s *PaymentService) resolvePaymentMethod(ctx context.Context, userID int64, methodID *int64) (*models.PaymentMethod, error) {
	if methodID != nil {
		method, err := s.methodStore.GetByID(ctx, *methodID)
		if err != nil {
			return nil, err
		}
		if method.UserID != userID || !method.IsActive {
			return nil, apperrors.NotFound("payment method %d not found", *methodID)
		}
		return method, nil
	}
	// Fall back to the user's default; nil means the gateway prompts for one.
	return s.methodStore.GetDefault(ctx, userID)
}

func (s *PaymentService) openPaymentTotal(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	payments, err := s.paymentStore.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range payments {
		if p.Status == models.PaymentStatusPending || p.Status == models.PaymentStatusProcessing {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

// minorUnits converts a major-unit decimal amount to the gateway's integer
// minor units. Conversion happens only at this boundary.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
