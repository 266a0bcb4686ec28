package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"creatorlink-marketplace/pkg/errutil"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// JobPayment is the escrow record for one completed contract. There is at
// most one per contract (contract_id is unique) and it transitions
// pending -> completed exactly once; completion is the only trigger for
// crediting the creator's balance.
type JobPayment struct {
	ID            string          `gorm:"column:id;primaryKey"`
	ContractID    string          `gorm:"column:contract_id;uniqueIndex;not null"`
	CampaignID    string          `gorm:"column:campaign_id;index"`
	CreatorID     string          `gorm:"column:creator_id;index;not null"`
	BrandID       string          `gorm:"column:brand_id;index;not null"`
	TotalAmount   decimal.Decimal `gorm:"column:total_amount;type:decimal(15,2);not null"`
	PlatformFee   decimal.Decimal `gorm:"column:platform_fee;type:decimal(15,2);not null"`
	CreatorAmount decimal.Decimal `gorm:"column:creator_amount;type:decimal(15,2);not null"`
	Status        Status          `gorm:"column:status;default:'pending';index"`
	FailureReason string          `gorm:"column:failure_reason"`
	ProcessedAt   *time.Time      `gorm:"column:processed_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (JobPayment) TableName() string { return "job_payments" }

// CheckSplit verifies total = fee + creator amount at two decimal places.
func (p *JobPayment) CheckSplit() error {
	if !p.PlatformFee.Add(p.CreatorAmount).Equal(p.TotalAmount) {
		return errutil.LedgerInvariantViolation("platform fee + creator amount != total")
	}
	return nil
}
