package offer

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Offer is a brand's proposal to a creator. Accepting it is the single
// creation point for a contract and its milestone timeline.
type Offer struct {
	ID            string          `gorm:"column:id;primaryKey"`
	CampaignID    string          `gorm:"column:campaign_id;index"`
	BrandID       string          `gorm:"column:brand_id;index;not null"`
	CreatorID     string          `gorm:"column:creator_id;index;not null"`
	Title         string          `gorm:"column:title"`
	Description   string          `gorm:"column:description;type:text"`
	Budget        decimal.Decimal `gorm:"column:budget;type:decimal(15,2);not null"`
	EstimatedDays int             `gorm:"column:estimated_days;not null"`
	Status        Status          `gorm:"column:status;default:'pending';index"`
	ExpiresAt     *time.Time      `gorm:"column:expires_at"`
	AcceptedAt    *time.Time      `gorm:"column:accepted_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Offer) TableName() string { return "offers" }

// timelineSteps are the fixed milestone positions created on acceptance,
// with deadlines proportioned across the offer's estimated days.
var timelineSteps = []struct {
	Title    string
	Fraction float64
}{
	{"Alignment", 0.25},
	{"Creation", 0.35},
	{"Production", 0.85},
	{"Final approval", 1.00},
}
