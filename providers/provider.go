package providers

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway intent statuses the ledger cares about. Anything else reported by
// the gateway is treated as a failure.
const (
	IntentStatusSucceeded      = "succeeded"
	IntentStatusRequiresAction = "requires_action"
	IntentStatusProcessing     = "processing"
)

type IntentRequest struct {
	AmountMinor int64
	Currency    string
	CustomerID  string
	MethodToken string
	Metadata    map[string]string
}

type Intent struct {
	ID             string
	ClientSecret   string
	Status         string
	ChargeID       string
	FailureMessage string
	// Fee is the gateway-reported transaction fee in major units, when the
	// gateway exposes it. Nil means unknown; callers fall back to the
	// configured fee calculator.
	Fee *decimal.Decimal
}

type CardDetails struct {
	LastFour string
	Brand    string
	ExpMonth int
	ExpYear  int
}

type MethodDetails struct {
	TokenID string
	Card    *CardDetails
}

// Gateway is the payment gateway contract. Amounts cross this boundary in
// minor currency units only.
type Gateway interface {
	CreateIntent(ctx context.Context, req *IntentRequest) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	CreateCustomer(ctx context.Context, userRef, email, name string) (string, error)
	RetrieveMethod(ctx context.Context, token string) (*MethodDetails, error)
	AttachMethod(ctx context.Context, customerID, token string) error
	DetachMethod(ctx context.Context, token string) error
	Refund(ctx context.Context, chargeID string, amountMinor int64) (string, error)
}
