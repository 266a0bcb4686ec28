package milestone

import (
	"time"

	"creatorlink-marketplace/services/contract"
)

type Status string

const (
	StatusPending          Status = "pending"
	StatusInProgress       Status = "in_progress"
	StatusSubmitted        Status = "submitted"
	StatusApproved         Status = "approved"
	StatusChangesRequested Status = "changes_requested"
	StatusDelayed          Status = "delayed"
)

// Milestone is one sequenced deliverable of a contract. Order defines the
// strict sequence; at most one milestone per contract is in_progress.
type Milestone struct {
	ID         string `gorm:"column:id;primaryKey"`
	ContractID string `gorm:"column:contract_id;index;not null"`
	CreatorID  string `gorm:"column:creator_id;index;not null"`
	BrandID    string `gorm:"column:brand_id;not null"`
	Title      string `gorm:"column:title"`
	Order      int    `gorm:"column:position;not null"`
	Status     Status `gorm:"column:status;default:'pending';index"`
	Feedback   string `gorm:"column:feedback;type:text"`

	Deadline        time.Time  `gorm:"column:deadline"`
	SubmittedAt     *time.Time `gorm:"column:submitted_at"`
	ApprovedAt      *time.Time `gorm:"column:approved_at"`
	DelayNotifiedAt *time.Time `gorm:"column:delay_notified_at"`
	PenaltyApplied  bool       `gorm:"column:penalty_applied;default:false"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Milestone) TableName() string { return "contract_milestones" }

// Overdue reports whether the milestone missed its deadline without approval.
func (m *Milestone) Overdue(now time.Time) bool {
	return m.Status != StatusApproved && m.Deadline.Before(now)
}

// PhaseForOrder projects a milestone position onto the contract phase.
func PhaseForOrder(order int) contract.Phase {
	switch order {
	case 1:
		return contract.PhaseAlignment
	case 2:
		return contract.PhaseCreation
	case 3:
		return contract.PhaseProduction
	default:
		return contract.PhaseApproval
	}
}

// CreatorSanction tracks account restrictions applied by the deadline sweep.
type CreatorSanction struct {
	CreatorID      string     `gorm:"column:creator_id;primaryKey"`
	SuspendedUntil *time.Time `gorm:"column:suspended_until"`
	PenaltyUntil   *time.Time `gorm:"column:penalty_until"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (CreatorSanction) TableName() string { return "creator_sanctions" }
