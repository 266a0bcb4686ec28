package balance

import (
	"time"

	"github.com/shopspring/decimal"

	"creatorlink-marketplace/pkg/errutil"
)

// CreatorBalance is the per-creator ledger aggregate. The four amounts are
// only ever mutated through the named operations below; after each one the
// ledger identity available + pending == earned - withdrawn holds, and all
// four fields stay non-negative.
type CreatorBalance struct {
	ID               string          `gorm:"column:id;primaryKey"`
	CreatorID        string          `gorm:"column:creator_id;uniqueIndex;not null"`
	AvailableBalance decimal.Decimal `gorm:"column:available_balance;type:decimal(15,2);not null"`
	PendingBalance   decimal.Decimal `gorm:"column:pending_balance;type:decimal(15,2);not null"`
	TotalEarned      decimal.Decimal `gorm:"column:total_earned;type:decimal(15,2);not null"`
	TotalWithdrawn   decimal.Decimal `gorm:"column:total_withdrawn;type:decimal(15,2);not null"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (CreatorBalance) TableName() string { return "creator_balances" }

// CheckInvariant verifies the ledger identity and non-negativity.
func (b *CreatorBalance) CheckInvariant() error {
	if b.AvailableBalance.Sign() < 0 || b.PendingBalance.Sign() < 0 ||
		b.TotalEarned.Sign() < 0 || b.TotalWithdrawn.Sign() < 0 {
		return errutil.LedgerInvariantViolation("balance field went negative")
	}
	lhs := b.AvailableBalance.Add(b.PendingBalance)
	rhs := b.TotalEarned.Sub(b.TotalWithdrawn)
	if !lhs.Equal(rhs) {
		return errutil.LedgerInvariantViolation("available + pending != earned - withdrawn")
	}
	return nil
}

func (b *CreatorBalance) CanWithdraw(amount decimal.Decimal) bool {
	return amount.Sign() > 0 && b.AvailableBalance.GreaterThanOrEqual(amount)
}

// AddPendingAmount credits escrowed funds into the pending bucket. Earnings
// are recognized at this point.
func (b *CreatorBalance) AddPendingAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return errutil.ValidationFailed("pending credit must be positive")
	}
	b.PendingBalance = b.PendingBalance.Add(amount)
	b.TotalEarned = b.TotalEarned.Add(amount)
	return b.CheckInvariant()
}

// MovePendingToAvailable releases pending funds for withdrawal.
func (b *CreatorBalance) MovePendingToAvailable(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return errutil.ValidationFailed("release amount must be positive")
	}
	if b.PendingBalance.LessThan(amount) {
		return errutil.InsufficientBalance("pending balance below release amount")
	}
	b.PendingBalance = b.PendingBalance.Sub(amount)
	b.AvailableBalance = b.AvailableBalance.Add(amount)
	return b.CheckInvariant()
}

// AddEarning credits directly into available, bypassing the pending bucket.
// This is the fallback path for replayed credits; normal escrow release goes
// through AddPendingAmount + MovePendingToAvailable.
func (b *CreatorBalance) AddEarning(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return errutil.ValidationFailed("earning must be positive")
	}
	b.AvailableBalance = b.AvailableBalance.Add(amount)
	b.TotalEarned = b.TotalEarned.Add(amount)
	return b.CheckInvariant()
}

// Withdraw debits available funds for a payout request.
func (b *CreatorBalance) Withdraw(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return errutil.ValidationFailed("withdrawal amount must be positive")
	}
	if b.AvailableBalance.LessThan(amount) {
		return errutil.InsufficientBalance("Saldo insuficiente para o saque")
	}
	b.AvailableBalance = b.AvailableBalance.Sub(amount)
	b.TotalWithdrawn = b.TotalWithdrawn.Add(amount)
	return b.CheckInvariant()
}

// Recredit returns a previously debited withdrawal amount to available.
func (b *CreatorBalance) Recredit(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return errutil.ValidationFailed("recredit amount must be positive")
	}
	if b.TotalWithdrawn.LessThan(amount) {
		return errutil.LedgerInvariantViolation("recredit exceeds withdrawn total")
	}
	b.AvailableBalance = b.AvailableBalance.Add(amount)
	b.TotalWithdrawn = b.TotalWithdrawn.Sub(amount)
	return b.CheckInvariant()
}
