package withdrawal

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// cancellable lists the states a withdrawal may be cancelled from. Completion
// is irreversible.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusApproved || s == StatusProcessing
}

// Withdrawal is a creator-initiated payout of available balance. The balance
// debit happens once, inside the creating transaction; cancellation is the
// only path that re-credits it.
type Withdrawal struct {
	ID            string          `gorm:"column:id;primaryKey"`
	CreatorID     string          `gorm:"column:creator_id;index;not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(15,2);not null"`
	Method        string          `gorm:"column:withdrawal_method;not null"`
	Details       datatypes.JSON  `gorm:"column:withdrawal_details"`
	Status        Status          `gorm:"column:status;default:'pending';index"`
	TransactionID string          `gorm:"column:transaction_id"`
	FailureReason string          `gorm:"column:failure_reason"`
	ProcessedAt   *time.Time      `gorm:"column:processed_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Withdrawal) TableName() string { return "withdrawals" }
