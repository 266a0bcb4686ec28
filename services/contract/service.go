package contract

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"creatorlink-marketplace/pkg/chat"
	"creatorlink-marketplace/pkg/config"
	"creatorlink-marketplace/pkg/db/option"
	"creatorlink-marketplace/pkg/errutil"
	"creatorlink-marketplace/pkg/gateway"
	"creatorlink-marketplace/pkg/notify"
	"creatorlink-marketplace/pkg/repository"
	"creatorlink-marketplace/services/payment"
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	contracts repository.Repository[Contract]
	events    repository.Repository[ContractEvent]

	payments     *payment.Service
	gateway      gateway.Client
	notifier     notify.Dispatcher
	chat         chat.Sink
	maxRevisions int
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Payments *payment.Service
	Gateway  gateway.Client
	Notifier notify.Dispatcher
	Chat     chat.Sink
}

func NewService(p ServiceParams) *Service {
	maxRevisions := p.Config.Contracts.MaxRevisions
	if maxRevisions <= 0 {
		maxRevisions = 3
	}
	return &Service{
		db:           p.DB,
		node:         p.Node,
		contracts:    repository.ProvideStore[Contract](p.DB),
		events:       repository.ProvideStore[ContractEvent](p.DB),
		payments:     p.Payments,
		gateway:      p.Gateway,
		notifier:     p.Notifier,
		chat:         p.Chat,
		maxRevisions: maxRevisions,
	}
}

func (s *Service) Get(ctx context.Context, contractID string) (*Contract, error) {
	c, err := s.contracts.FindOne(ctx, &Contract{ID: contractID})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("contract not found")
	}
	return c, nil
}

// lock re-reads the contract FOR UPDATE inside tx.
func (s *Service) lock(ctx context.Context, tx *gorm.DB, contractID string) (*Contract, error) {
	c, err := s.contracts.WithTrx(tx).FindOne(ctx, &Contract{ID: contractID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("contract not found")
	}
	return c, nil
}

// applyTransition validates the move against the adjacency table, stamps the
// per-status timestamps, persists and records the audit event. It must run
// inside tx; notifications are the caller's post-commit concern.
func (s *Service) applyTransition(ctx context.Context, tx *gorm.DB, c *Contract, target Status, actorID, reason string) error {
	if !CanTransition(c.Status, target) {
		return errutil.InvalidTransition(fmt.Sprintf("contract %s: %s -> %s", c.ID, c.Status, target))
	}

	now := time.Now()
	updates := map[string]any{"status": target}

	switch target {
	case StatusActive:
		c.StartedAt = &now
		updates["started_at"] = now
	case StatusCompleted:
		c.CompletedAt = &now
		updates["completed_at"] = now
	case StatusCancelled, StatusTerminated:
		c.CancelledAt = &now
		c.CancelReason = reason
		updates["cancelled_at"] = now
		updates["cancel_reason"] = reason
	case StatusDisputed:
		c.DisputedAt = &now
		c.DisputeReason = reason
		updates["disputed_at"] = now
		updates["dispute_reason"] = reason
	}

	if err := s.contracts.WithTrx(tx).Update(ctx, c.ID, updates); err != nil {
		return err
	}

	event := &ContractEvent{
		ID:         s.node.Generate().String(),
		ContractID: c.ID,
		ActorID:    actorID,
		FromStatus: c.Status,
		ToStatus:   target,
		Reason:     reason,
	}
	if err := s.events.WithTrx(tx).Create(ctx, event); err != nil {
		return err
	}

	c.Status = target
	return nil
}

func (s *Service) setWorkflow(ctx context.Context, tx *gorm.DB, c *Contract, target WorkflowStatus) error {
	if err := c.AdvanceWorkflow(target); err != nil {
		return err
	}
	return s.contracts.WithTrx(tx).Update(ctx, c.ID, map[string]any{"workflow_status": target})
}

func (s *Service) notifyParties(ctx context.Context, c *Contract, templateKey string, payload map[string]any) {
	s.notifier.Notify(ctx, c.BrandID, templateKey, payload)
	s.notifier.Notify(ctx, c.CreatorID, templateKey, payload)
}

// TransitionTo applies one status move and notifies both parties.
func (s *Service) TransitionTo(ctx context.Context, contractID string, target Status, actorID, reason string) (*Contract, error) {
	var c *Contract
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if c, err = s.lock(ctx, tx, contractID); err != nil {
			return err
		}
		return s.applyTransition(ctx, tx, c, target, actorID, reason)
	})
	if err != nil {
		return nil, err
	}

	s.notifyParties(ctx, c, "contract.status_changed", map[string]any{
		"contract_id": c.ID,
		"status":      string(c.Status),
		"reason":      reason,
	})
	return c, nil
}

// SubmitDelivery moves an active contract to pending_delivery.
func (s *Service) SubmitDelivery(ctx context.Context, contractID, actorID string) (*Contract, error) {
	return s.TransitionTo(ctx, contractID, StatusPendingDelivery, actorID, "delivery submitted")
}

// RequestRevision sends a delivery back for rework, capped by max_revisions.
func (s *Service) RequestRevision(ctx context.Context, contractID, actorID, feedback string) (*Contract, error) {
	var c *Contract
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if c, err = s.lock(ctx, tx, contractID); err != nil {
			return err
		}
		if c.RevisionCount >= s.maxRevisions {
			return errutil.RevisionLimitExceeded(fmt.Sprintf("revision limit of %d reached", s.maxRevisions))
		}
		if err := s.applyTransition(ctx, tx, c, StatusInRevision, actorID, feedback); err != nil {
			return err
		}
		c.RevisionCount++
		return s.contracts.WithTrx(tx).Update(ctx, c.ID, map[string]any{"revision_count": c.RevisionCount})
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, c.CreatorID, "contract.revision_requested", map[string]any{
		"contract_id": c.ID,
		"feedback":    feedback,
	})
	return c, nil
}

// ApproveDelivery completes the contract and opens the payment workflow: the
// escrow record is created in the same transaction, idempotently.
func (s *Service) ApproveDelivery(ctx context.Context, contractID, actorID string) (*Contract, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	var c *Contract
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if c, err = s.lock(ctx, tx, contractID); err != nil {
			return err
		}
		if err := s.applyTransition(ctx, tx, c, StatusCompleted, actorID, "delivery approved"); err != nil {
			return err
		}
		if err := s.setWorkflow(ctx, tx, c, WorkflowWaitingReview); err != nil {
			return err
		}
		return s.createEscrow(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}

	s.notifyParties(ctx, c, "contract.completed", map[string]any{"contract_id": c.ID})
	return c, nil
}

// createEscrow creates the contract's JobPayment. Reuses an existing record,
// never duplicates.
func (s *Service) createEscrow(ctx context.Context, tx *gorm.DB, c *Contract) error {
	_, err := s.payments.CreateForContract(ctx, tx, payment.CreateParams{
		ContractID:    c.ID,
		CampaignID:    c.CampaignID,
		CreatorID:     c.CreatorID,
		BrandID:       c.BrandID,
		TotalAmount:   c.Budget,
		PlatformFee:   c.PlatformFee,
		CreatorAmount: c.CreatorAmount,
	})
	return err
}

// Complete is the idempotent completion entry point for drivers: it ensures
// the terminal status and the escrow record exist.
func (s *Service) Complete(ctx context.Context, contractID, actorID string) (*Contract, error) {
	var c *Contract
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if c, err = s.lock(ctx, tx, contractID); err != nil {
			return err
		}
		if c.Status != StatusCompleted {
			if err := s.applyTransition(ctx, tx, c, StatusCompleted, actorID, "contract completed"); err != nil {
				return err
			}
		}
		return s.createEscrow(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ReleasePayment processes the contract's escrow record and advances the
// workflow to payment_available. Triggered by a creator review event or the
// campaign-completion sweep; safe to call twice.
func (s *Service) ReleasePayment(ctx context.Context, contractID string) (*Contract, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	c, err := s.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}

	jp, err := s.payments.GetByContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if jp == nil {
		return nil, errutil.NotFound("no escrow record for contract")
	}

	if _, err := s.payments.Process(ctx, jp.ID); err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if c, err = s.lock(ctx, tx, contractID); err != nil {
			return err
		}
		if c.WorkflowStatus == WorkflowPaymentAvailable || c.WorkflowStatus == WorkflowPaymentWithdrawn {
			return nil
		}
		return s.setWorkflow(ctx, tx, c, WorkflowPaymentAvailable)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, c.CreatorID, "payment.available", map[string]any{
		"contract_id": c.ID,
		"amount":      c.CreatorAmount.StringFixed(2),
	})

	s.archiveRoomIfCampaignDone(ctx, c)
	return c, nil
}

// archiveRoomIfCampaignDone archives the campaign's chat rooms once every
// contract of the campaign is terminal. Best-effort.
func (s *Service) archiveRoomIfCampaignDone(ctx context.Context, c *Contract) {
	if c.CampaignID == "" {
		return
	}

	siblings, err := s.contracts.Find(ctx, &Contract{CampaignID: c.CampaignID})
	if err != nil {
		zap.L().Warn("contract: failed to load campaign contracts", zap.String("campaign_id", c.CampaignID), zap.Error(err))
		return
	}
	for _, sibling := range siblings {
		if !IsTerminal(sibling.Status) {
			return
		}
	}
	for _, sibling := range siblings {
		if sibling.ChatRoomID == "" {
			continue
		}
		if err := s.chat.ArchiveRoom(ctx, sibling.ChatRoomID, "campaign completed"); err != nil {
			zap.L().Warn("contract: failed to archive chat room",
				zap.String("contract_id", sibling.ID),
				zap.String("room_id", sibling.ChatRoomID),
				zap.Error(err),
			)
		}
	}
}

// SweepCampaign releases every unprocessed escrow record of a campaign. The
// batch counterpart of the review-triggered release; safe to run concurrently
// with it because Process re-checks under the row lock. One failing contract
// does not block the rest.
func (s *Service) SweepCampaign(ctx context.Context, campaignID string) error {
	pending, err := s.payments.FindPendingForCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	for _, jp := range pending {
		if _, err := s.ReleasePayment(ctx, jp.ContractID); err != nil {
			zap.L().Error("contract: campaign sweep failed to release payment",
				zap.String("campaign_id", campaignID),
				zap.String("contract_id", jp.ContractID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// MarkReview flips the review flags; the creator's review on a contract in
// waiting_review releases the escrowed payment.
func (s *Service) MarkReview(ctx context.Context, contractID string, byCreator bool) (*Contract, error) {
	var c *Contract
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if c, err = s.lock(ctx, tx, contractID); err != nil {
			return err
		}
		if byCreator {
			c.HasCreatorReview = true
		} else {
			c.HasBrandReview = true
		}
		c.HasBothReviews = c.HasBrandReview && c.HasCreatorReview
		return s.contracts.WithTrx(tx).Update(ctx, c.ID, map[string]any{
			"has_brand_review":   c.HasBrandReview,
			"has_creator_review": c.HasCreatorReview,
			"has_both_reviews":   c.HasBothReviews,
		})
	})
	if err != nil {
		return nil, err
	}

	if byCreator && c.WorkflowStatus == WorkflowWaitingReview {
		if _, err := s.ReleasePayment(ctx, contractID); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ResolveDispute maps an admin ruling to exactly one terminal state. The
// acting admin is recorded in the audit event; both parties are notified
// best-effort.
func (s *Service) ResolveDispute(ctx context.Context, contractID, adminID string, outcome DisputeOutcome, winner DisputeWinner, reason string) (*Contract, error) {
	var c *Contract
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if c, err = s.lock(ctx, tx, contractID); err != nil {
			return err
		}
		if c.Status != StatusDisputed {
			return errutil.InvalidTransition("contract is not disputed")
		}

		switch outcome {
		case OutcomeCompleted:
			if err := s.applyTransition(ctx, tx, c, StatusCompleted, adminID, reason); err != nil {
				return err
			}
			return s.createEscrow(ctx, tx, c)
		case OutcomeCancelled:
			target := StatusCancelled
			if winner == WinnerBrand {
				target = StatusTerminated
			}
			if err := s.applyTransition(ctx, tx, c, target, adminID, reason); err != nil {
				return err
			}
			return s.setWorkflow(ctx, tx, c, WorkflowTerminated)
		default:
			return errutil.BadRequest("unknown dispute outcome")
		}
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("contract: dispute resolved",
		zap.String("contract_id", c.ID),
		zap.String("admin_id", adminID),
		zap.String("outcome", string(outcome)),
		zap.String("winner", string(winner)),
	)

	s.notifyParties(ctx, c, "contract.dispute_resolved", map[string]any{
		"contract_id": c.ID,
		"outcome":     string(outcome),
		"winner":      string(winner),
		"reason":      reason,
	})

	if outcome == OutcomeCompleted && winner == WinnerCreator {
		if _, err := s.ReleasePayment(ctx, contractID); err != nil {
			zap.L().Error("contract: failed to release payment after dispute",
				zap.String("contract_id", c.ID),
				zap.Error(err),
			)
		}
	}
	return c, nil
}

// MarkPaymentWithdrawn advances the workflow once the creator has withdrawn
// the released funds.
func (s *Service) MarkPaymentWithdrawn(ctx context.Context, contractID string) (*Contract, error) {
	var c *Contract
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if c, err = s.lock(ctx, tx, contractID); err != nil {
			return err
		}
		if c.WorkflowStatus != WorkflowPaymentAvailable {
			return errutil.InvalidTransition("payment is not available for withdrawal")
		}
		return s.setWorkflow(ctx, tx, c, WorkflowPaymentWithdrawn)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindByCampaign lists a campaign's contracts.
func (s *Service) FindByCampaign(ctx context.Context, campaignID string) ([]*Contract, error) {
	return s.contracts.Find(ctx, &Contract{CampaignID: campaignID})
}
