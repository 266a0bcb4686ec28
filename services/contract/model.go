package contract

import (
	"time"

	"github.com/shopspring/decimal"

	"creatorlink-marketplace/pkg/errutil"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusApproved        Status = "approved"
	StatusActive          Status = "active"
	StatusPendingDelivery Status = "pending_delivery"
	StatusInRevision      Status = "in_revision"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusDisputed        Status = "disputed"
	StatusTerminated      Status = "terminated"
	StatusPaymentFailed   Status = "payment_failed"
)

type WorkflowStatus string

const (
	WorkflowPaymentPending   WorkflowStatus = "payment_pending"
	WorkflowPaymentFailed    WorkflowStatus = "payment_failed"
	WorkflowActive           WorkflowStatus = "active"
	WorkflowWaitingReview    WorkflowStatus = "waiting_review"
	WorkflowPaymentAvailable WorkflowStatus = "payment_available"
	WorkflowPaymentWithdrawn WorkflowStatus = "payment_withdrawn"
	WorkflowTerminated       WorkflowStatus = "terminated"
)

type Phase string

const (
	PhaseAlignment  Phase = "alignment"
	PhaseCreation   Phase = "creation"
	PhaseProduction Phase = "production"
	PhaseApproval   Phase = "approval"
	PhasePayment    Phase = "payment"
)

// transitions is the single source of truth for contract status moves.
// completed, cancelled and terminated are terminal.
var transitions = map[Status][]Status{
	StatusPending:         {StatusApproved, StatusCancelled, StatusPaymentFailed},
	StatusApproved:        {StatusActive, StatusCancelled, StatusPaymentFailed},
	StatusPaymentFailed:   {StatusApproved, StatusCancelled},
	StatusActive:          {StatusPendingDelivery, StatusCancelled, StatusDisputed},
	StatusPendingDelivery: {StatusInRevision, StatusCompleted, StatusDisputed},
	StatusInRevision:      {StatusPendingDelivery, StatusCancelled, StatusDisputed},
	StatusDisputed:        {StatusCompleted, StatusCancelled, StatusTerminated},
}

// CanTransition consults the fixed adjacency table.
func CanTransition(current, target Status) bool {
	for _, allowed := range transitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusTerminated
}

// workflowRank orders the post-completion payment lifecycle. Workflow status
// only ever moves forward (terminated excepted).
var workflowRank = map[WorkflowStatus]int{
	WorkflowPaymentPending:   0,
	WorkflowPaymentFailed:    0,
	WorkflowActive:           1,
	WorkflowWaitingReview:    2,
	WorkflowPaymentAvailable: 3,
	WorkflowPaymentWithdrawn: 4,
}

// Contract ties a brand and a creator to a funded piece of work. Status and
// workflow_status are mutated exclusively through the Service; rows are never
// deleted.
type Contract struct {
	ID         string `gorm:"column:id;primaryKey"`
	OfferID    string `gorm:"column:offer_id;uniqueIndex"`
	CampaignID string `gorm:"column:campaign_id;index"`
	BrandID    string `gorm:"column:brand_id;index;not null"`
	CreatorID  string `gorm:"column:creator_id;index;not null"`
	Title      string `gorm:"column:title"`

	Budget        decimal.Decimal `gorm:"column:budget;type:decimal(15,2);not null"`
	PlatformFee   decimal.Decimal `gorm:"column:platform_fee;type:decimal(15,2);not null"`
	CreatorAmount decimal.Decimal `gorm:"column:creator_amount;type:decimal(15,2);not null"`

	Status         Status         `gorm:"column:status;default:'pending';index"`
	WorkflowStatus WorkflowStatus `gorm:"column:workflow_status;default:'payment_pending';index"`
	Phase          Phase          `gorm:"column:phase;default:'alignment'"`

	RevisionCount int `gorm:"column:revision_count;default:0"`
	EstimatedDays int `gorm:"column:estimated_days"`

	ChatRoomID      string `gorm:"column:chat_room_id"`
	GatewayChargeID string `gorm:"column:gateway_charge_id"`

	HasBrandReview   bool `gorm:"column:has_brand_review;default:false"`
	HasCreatorReview bool `gorm:"column:has_creator_review;default:false"`
	HasBothReviews   bool `gorm:"column:has_both_reviews;default:false"`

	CancelReason  string `gorm:"column:cancel_reason"`
	DisputeReason string `gorm:"column:dispute_reason"`

	StartedAt   *time.Time `gorm:"column:started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`
	DisputedAt  *time.Time `gorm:"column:disputed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Contract) TableName() string { return "contracts" }

// AdvanceWorkflow moves workflow_status forward; a backwards move is an
// invalid transition.
func (c *Contract) AdvanceWorkflow(target WorkflowStatus) error {
	if target == WorkflowTerminated {
		c.WorkflowStatus = target
		return nil
	}
	if c.WorkflowStatus == WorkflowTerminated {
		return errutil.InvalidTransition("workflow is terminated")
	}
	if workflowRank[target] < workflowRank[c.WorkflowStatus] {
		return errutil.InvalidTransition("workflow status cannot move backwards")
	}
	c.WorkflowStatus = target
	return nil
}

// ContractEvent is the append-only audit trail of status moves, including the
// acting party.
type ContractEvent struct {
	ID         string    `gorm:"column:id;primaryKey"`
	ContractID string    `gorm:"column:contract_id;index;not null"`
	ActorID    string    `gorm:"column:actor_id"`
	FromStatus Status    `gorm:"column:from_status"`
	ToStatus   Status    `gorm:"column:to_status"`
	Reason     string    `gorm:"column:reason"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (ContractEvent) TableName() string { return "contract_events" }

type DisputeOutcome string

const (
	OutcomeCompleted DisputeOutcome = "completed"
	OutcomeCancelled DisputeOutcome = "cancelled"
)

type DisputeWinner string

const (
	WinnerCreator DisputeWinner = "creator"
	WinnerBrand   DisputeWinner = "brand"
)
