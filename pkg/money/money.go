// Package money holds the ledger value-object helpers. All marketplace
// amounts are decimals with two fractional digits; every computed amount must
// pass through Round2 before it is persisted.
package money

import (
	"github.com/shopspring/decimal"

	"creatorlink-marketplace/pkg/errutil"
)

var Zero = decimal.Zero

// Round2 rounds to cents, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// SplitFee splits a budget into platform fee and creator amount at the given
// rate. The fee is rounded to cents and the creator amount is the remainder,
// so the two always reconcile to the budget exactly.
func SplitFee(budget, feeRate decimal.Decimal) (fee, creatorAmount decimal.Decimal) {
	fee = Round2(budget.Mul(feeRate))
	creatorAmount = budget.Sub(fee)
	return fee, creatorAmount
}

// RequirePositive rejects zero and negative amounts.
func RequirePositive(d decimal.Decimal, what string) error {
	if d.Sign() <= 0 {
		return errutil.ValidationFailed(what + " must be positive")
	}
	return nil
}

// RequireNonNegative rejects negative amounts.
func RequireNonNegative(d decimal.Decimal, what string) error {
	if d.Sign() < 0 {
		return errutil.ValidationFailed(what + " must not be negative")
	}
	return nil
}
