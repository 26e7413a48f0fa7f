package services

import (
	"github.com/shopspring/decimal"

	"github.com/smartcare/billing/apperrors"
	"github.com/smartcare/billing/config"
)

var oneHundred = decimal.NewFromInt(100)

// FeeCalculator computes the transaction fee charged on a payment:
// round(amount * percentage / 100, 2, half up) + fixed, configured per
// currency. Pure fallback for when the gateway does not report an
// authoritative fee.
type FeeCalculator struct {
	fees map[string]config.FeeConfig
}

func CreateFeeCalculator(fees map[string]config.FeeConfig) *FeeCalculator {
	return &FeeCalculator{fees: fees}
}

func (c *FeeCalculator) Fee(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	cfg, ok := c.fees[currency]
	if !ok {
		return decimal.Zero, apperrors.Configuration("no fee configuration for currency %s", currency)
	}
	percentageFee := amount.Mul(cfg.Percentage).Div(oneHundred).Round(2)
	return percentageFee.Add(cfg.Fixed), nil
}
