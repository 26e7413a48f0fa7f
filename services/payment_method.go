package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/smartcare/billing/apperrors"
	"github.com/smartcare/billing/models"
	"github.com/smartcare/billing/providers"
)

// PaymentMethodService vaults tokenized instruments with the gateway and
// keeps the local mirror consistent. Invariant: a user with at least one
// active method has exactly one default.
type PaymentMethodService struct {
	methodStore   PaymentMethodStore
	customerStore CustomerStore
	users         UserDirectory
	gateway       providers.Gateway
	logger        zerolog.Logger
}

func CreatePaymentMethodService(
	methodStore PaymentMethodStore,
	customerStore CustomerStore,
	users UserDirectory,
	gateway providers.Gateway,
	logger zerolog.Logger,
) *PaymentMethodService {
	return &PaymentMethodService{
		methodStore:   methodStore,
		customerStore: customerStore,
		users:         users,
		gateway:       gateway,
		logger:        logger,
	}
}

// AddPaymentMethod attaches a gateway token to the user's gateway customer
// and stores the masked metadata. The first method a user adds becomes
// their default regardless of the request flag.
func (s *PaymentMethodService) AddPaymentMethod(ctx context.Context, userID int64, req *models.AddPaymentMethodRequest) (*models.PaymentMethod, error) {
	if req.GatewayTokenID == "" {
		return nil, apperrors.Validation("gateway token is required")
	}

	details, err := s.gateway.RetrieveMethod(ctx, req.GatewayTokenID)
	if err != nil {
		return nil, err
	}

	customer, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.gateway.AttachMethod(ctx, customer.GatewayCustomerID, req.GatewayTokenID); err != nil {
		return nil, err
	}

	methodType := req.Type
	if methodType == "" {
		methodType = models.PaymentMethodTypeCreditCard
	}
	method := &models.PaymentMethod{
		UserID:         userID,
		Type:           methodType,
		GatewayTokenID: details.TokenID,
		IsActive:       true,
	}
	if details.Card != nil {
		method.CardLastFour = details.Card.LastFour
		method.CardBrand = details.Card.Brand
		method.CardExpMonth = details.Card.ExpMonth
		method.CardExpYear = details.Card.ExpYear
	}

	err = s.methodStore.WithTransaction(ctx, func(txCtx context.Context) error {
		active, err := s.methodStore.CountActiveByUser(txCtx, userID)
		if err != nil {
			return err
		}
		if err := s.methodStore.Create(txCtx, method); err != nil {
			return err
		}
		if req.SetAsDefault || active == 0 {
			return s.methodStore.SetDefault(txCtx, userID, method.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("user_id", userID).
		Int64("payment_method_id", method.ID).
		Str("brand", method.CardBrand).
		Msg("payment method added")
	return s.methodStore.GetByID(ctx, method.ID)
}

// SetDefaultPaymentMethod makes the given method the user's only default.
// The clear-then-set runs in one transaction, so concurrent calls for the
// same user settle on a single winner.
func (s *PaymentMethodService) SetDefaultPaymentMethod(ctx context.Context, userID, methodID int64) (*models.PaymentMethod, error) {
	method, err := s.ownedActiveMethod(ctx, userID, methodID)
	if err != nil {
		return nil, err
	}
	if err := s.methodStore.SetDefault(ctx, userID, method.ID); err != nil {
		return nil, err
	}
	return s.methodStore.GetByID(ctx, method.ID)
}

// RemovePaymentMethod detaches the token from the gateway and soft-deletes
// the local row. Removing the default promotes the most recently added
// remaining method, so the single-default invariant survives removal.
func (s *PaymentMethodService) RemovePaymentMethod(ctx context.Context, userID, methodID int64) error {
	method, err := s.ownedActiveMethod(ctx, userID, methodID)
	if err != nil {
		return err
	}

	if err := s.gateway.DetachMethod(ctx, method.GatewayTokenID); err != nil {
		return err
	}

	err = s.methodStore.WithTransaction(ctx, func(txCtx context.Context) error {
		method.IsActive = false
		wasDefault := method.IsDefault
		method.IsDefault = false
		if err := s.methodStore.Update(txCtx, method); err != nil {
			return err
		}
		if !wasDefault {
			return nil
		}
		next, err := s.methodStore.GetMostRecentActive(txCtx, userID, method.ID)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		return s.methodStore.SetDefault(txCtx, userID, next.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Int64("user_id", userID).
		Int64("payment_method_id", methodID).
		Msg("payment method removed")
	return nil
}

func (s *PaymentMethodService) ListPaymentMethods(ctx context.Context, userID int64) ([]*models.PaymentMethod, error) {
	return s.methodStore.ListActiveByUser(ctx, userID)
}

// GetDefaultPaymentMethod returns nil, nil when the user has no default.
func (s *PaymentMethodService) GetDefaultPaymentMethod(ctx context.Context, userID int64) (*models.PaymentMethod, error) {
	return s.methodStore.GetDefault(ctx, userID)
}

func (s *PaymentMethodService) ActiveCount(ctx context.Context, userID int64) (int64, error) {
	return s.methodStore.CountActiveByUser(ctx, userID)
}

func (s *PaymentMethodService) ownedActiveMethod(ctx context.Context, userID, methodID int64) (*models.PaymentMethod, error) {
	method, err := s.methodStore.GetByID(ctx, methodID)
	if err != nil {
		return nil, err
	}
	if method.UserID != userID {
		return nil, apperrors.Forbidden("payment method %d does not belong to user %d", methodID, userID)
	}
	if !method.IsActive {
		return nil, apperrors.NotFound("payment method %d not found", methodID)
	}
	return method, nil
}

// ensureCustomer returns the user's gateway customer, creating one on first
// use. A duplicate insert from a concurrent add loses on the unique user_id
// index; the loser re-reads the winner's row.
func (s *PaymentMethodService) ensureCustomer(ctx context.Context, userID int64) (*models.Customer, error) {
	customer, err := s.customerStore.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		return customer, nil
	}

	email, name, err := s.users.UserContact(ctx, userID)
	if err != nil {
		return nil, err
	}
	gatewayID, err := s.gateway.CreateCustomer(ctx, fmt.Sprintf("user-%d", userID), email, name)
	if err != nil {
		return nil, err
	}

	customer = &models.Customer{
		UserID:            userID,
		GatewayCustomerID: gatewayID,
		Email:             email,
		Name:              name,
	}
	if err := s.customerStore.Create(ctx, customer); err != nil {
		existing, getErr := s.customerStore.GetByUserID(ctx, userID)
		if getErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	return customer, nil
}
