package providers

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/refund"

	"github.com/smartcare/billing/apperrors"
)

type StripeGateway struct {
	callTimeout time.Duration
}

func CreateStripeGateway(apiKey string, callTimeout time.Duration) *StripeGateway {
	stripe.Key = apiKey
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &StripeGateway{callTimeout: callTimeout}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req *IntentRequest) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(req.Currency),
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.MethodToken != "" {
		params.PaymentMethod = stripe.String(req.MethodToken)
		params.ConfirmationMethod = stripe.String(string(stripe.PaymentIntentConfirmationMethodManual))
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, wrapStripeErr(err, "create payment intent")
	}
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge.balance_transaction")

	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return nil, wrapStripeErr(err, "retrieve payment intent")
	}
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, userRef, email, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripe.String(email)
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.AddMetadata("user_id", userRef)

	cus, err := customer.New(params)
	if err != nil {
		return "", wrapStripeErr(err, "create customer")
	}
	return cus.ID, nil
}

func (g *StripeGateway) RetrieveMethod(ctx context.Context, token string) (*MethodDetails, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.PaymentMethodParams{}
	params.Context = ctx

	pm, err := paymentmethod.Get(token, params)
	if err != nil {
		return nil, wrapStripeErr(err, "retrieve payment method")
	}

	details := &MethodDetails{TokenID: pm.ID}
	if pm.Card != nil {
		details.Card = &CardDetails{
			LastFour: pm.Card.Last4,
			Brand:    string(pm.Card.Brand),
			ExpMonth: int(pm.Card.ExpMonth),
			ExpYear:  int(pm.Card.ExpYear),
		}
	}
	return details, nil
}

func (g *StripeGateway) AttachMethod(ctx context.Context, customerID, token string) error {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	if _, err := paymentmethod.Attach(token, params); err != nil {
		return wrapStripeErr(err, "attach payment method")
	}
	return nil
}

func (g *StripeGateway) DetachMethod(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx

	if _, err := paymentmethod.Detach(token, params); err != nil {
		return wrapStripeErr(err, "detach payment method")
	}
	return nil
}

func (g *StripeGateway) Refund(ctx context.Context, chargeID string, amountMinor int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.RefundParams{
		Charge: stripe.String(chargeID),
	}
	params.Context = ctx
	if amountMinor > 0 {
		params.Amount = stripe.Int64(amountMinor)
	}

	ref, err := refund.New(params)
	if err != nil {
		return "", wrapStripeErr(err, "create refund")
	}
	return ref.ID, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}
	if pi.LastPaymentError != nil {
		intent.FailureMessage = pi.LastPaymentError.Msg
	}
	if pi.LatestCharge != nil {
		intent.ChargeID = pi.LatestCharge.ID
		if pi.LatestCharge.BalanceTransaction != nil && pi.LatestCharge.BalanceTransaction.Fee > 0 {
			fee := decimal.New(pi.LatestCharge.BalanceTransaction.Fee, -2)
			intent.Fee = &fee
		}
	}
	return intent
}

func wrapStripeErr(err error, op string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return apperrors.Gateway(err, "stripe: %s failed: %s", op, stripeErr.Code)
	}
	return apperrors.Gateway(err, "stripe: %s failed", op)
}
