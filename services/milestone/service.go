package milestone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"creatorlink-marketplace/pkg/chat"
	"creatorlink-marketplace/pkg/config"
	"creatorlink-marketplace/pkg/db/option"
	"creatorlink-marketplace/pkg/errutil"
	"creatorlink-marketplace/pkg/notify"
	"creatorlink-marketplace/pkg/repository"
	"creatorlink-marketplace/services/contract"
)

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	milestones repository.Repository[Milestone]
	contracts  repository.Repository[contract.Contract]

	notifier notify.Dispatcher
	chat     chat.Sink

	suspensionDays int
	overdueGrace   int
	overdueLimit   int
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Notifier notify.Dispatcher
	Chat     chat.Sink
}

func NewService(p ServiceParams) *Service {
	suspensionDays := p.Config.Penalties.SuspensionDays
	if suspensionDays <= 0 {
		suspensionDays = 7
	}
	overdueGrace := p.Config.Penalties.OverdueGraceDay
	if overdueGrace <= 0 {
		overdueGrace = 7
	}
	overdueLimit := p.Config.Penalties.OverdueLimit
	if overdueLimit <= 0 {
		overdueLimit = 2
	}
	return &Service{
		db:             p.DB,
		node:           p.Node,
		milestones:     repository.ProvideStore[Milestone](p.DB),
		contracts:      repository.ProvideStore[contract.Contract](p.DB),
		notifier:       p.Notifier,
		chat:           p.Chat,
		suspensionDays: suspensionDays,
		overdueGrace:   overdueGrace,
		overdueLimit:   overdueLimit,
	}
}

func (s *Service) Get(ctx context.Context, milestoneID string) (*Milestone, error) {
	m, err := s.milestones.FindOne(ctx, &Milestone{ID: milestoneID})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errutil.NotFound("milestone not found")
	}
	return m, nil
}

func (s *Service) ListByContract(ctx context.Context, contractID string) ([]*Milestone, error) {
	return s.milestones.Find(ctx, &Milestone{ContractID: contractID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "position",
			OrderBy: "asc",
			Allow:   map[string]bool{"position": true},
		}),
	)
}

// Submit hands the current milestone over for brand review.
func (s *Service) Submit(ctx context.Context, milestoneID string) (*Milestone, error) {
	m, err := s.Get(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if m.Status != StatusInProgress && m.Status != StatusChangesRequested && m.Status != StatusDelayed {
		return nil, errutil.InvalidTransition(fmt.Sprintf("milestone %s cannot be submitted from %s", m.ID, m.Status))
	}

	now := time.Now()
	if err := s.milestones.Update(ctx, m.ID, map[string]any{
		"status":       StatusSubmitted,
		"submitted_at": now,
	}); err != nil {
		return nil, err
	}
	m.Status = StatusSubmitted
	m.SubmittedAt = &now

	s.notifier.Notify(ctx, m.BrandID, "milestone.submitted", map[string]any{
		"milestone_id": m.ID,
		"contract_id":  m.ContractID,
	})
	return m, nil
}

// RequestChanges sends a submitted milestone back to the creator, keeping the
// review feedback on the row.
func (s *Service) RequestChanges(ctx context.Context, milestoneID, feedback string) (*Milestone, error) {
	m, err := s.Get(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if m.Status != StatusSubmitted {
		return nil, errutil.InvalidTransition("only a submitted milestone can receive change requests")
	}

	if err := s.milestones.Update(ctx, m.ID, map[string]any{
		"status":   StatusChangesRequested,
		"feedback": feedback,
	}); err != nil {
		return nil, err
	}
	m.Status = StatusChangesRequested
	m.Feedback = feedback

	s.notifier.Notify(ctx, m.CreatorID, "milestone.changes_requested", map[string]any{
		"milestone_id": m.ID,
		"feedback":     feedback,
	})
	return m, nil
}

// Approve accepts a submitted milestone and unlocks the next one in order.
// When none remain the contract phase becomes payment. Approval is only
// valid from submitted; the whole advance runs in one transaction.
func (s *Service) Approve(ctx context.Context, milestoneID string) (*Milestone, error) {
	var m *Milestone
	err := s.db.Transaction(func(tx *gorm.DB) error {
		store := s.milestones.WithTrx(tx)

		var err error
		m, err = store.FindOne(ctx, &Milestone{ID: milestoneID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if m == nil {
			return errutil.NotFound("milestone not found")
		}
		if m.Status != StatusSubmitted {
			return errutil.InvalidTransition("approval is only valid from submitted")
		}

		now := time.Now()
		if err := store.Update(ctx, m.ID, map[string]any{
			"status":      StatusApproved,
			"approved_at": now,
		}); err != nil {
			return err
		}
		m.Status = StatusApproved
		m.ApprovedAt = &now

		return s.advance(ctx, tx, m)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, m.CreatorID, "milestone.approved", map[string]any{
		"milestone_id": m.ID,
		"contract_id":  m.ContractID,
	})
	return m, nil
}

// advance finds the lowest-order milestone of the contract that is still
// open, marks it in_progress if it has not been started, and recomputes the
// contract phase. The phase only becomes payment once every milestone is
// approved, so no position is ever skipped.
func (s *Service) advance(ctx context.Context, tx *gorm.DB, approved *Milestone) error {
	store := s.milestones.WithTrx(tx)

	next, err := store.FindOne(ctx, &Milestone{ContractID: approved.ContractID},
		option.ApplyOperator(option.Condition{
			Field:    "status",
			Operator: option.NEQ,
			Value:    StatusApproved,
		}),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "position",
			OrderBy: "asc",
			Allow:   map[string]bool{"position": true},
		}),
	)
	if err != nil {
		return err
	}

	phase := contract.PhasePayment
	if next != nil {
		if next.Status == StatusPending {
			if err := store.Update(ctx, next.ID, map[string]any{"status": StatusInProgress}); err != nil {
				return err
			}
		}
		phase = PhaseForOrder(next.Order)
	}

	return s.contracts.WithTrx(tx).Update(ctx, approved.ContractID, map[string]any{"phase": phase})
}

// SweepDeadlines is the scheduled deadline check: it flags overdue
// milestones, notifies both parties, posts a system chat message, and applies
// the repeat-offender suspension and the seven-day penalty. Notifications and
// chat messages are best-effort.
func (s *Service) SweepDeadlines(ctx context.Context, now time.Time) error {
	overdue, err := s.milestones.Find(ctx, &Milestone{},
		option.ApplyOperator(option.Condition{Field: "deadline", Operator: option.LT, Value: now}),
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: StatusApproved}),
		option.WithNull("delay_notified_at"),
	)
	if err != nil {
		return err
	}

	for _, m := range overdue {
		if err := s.flagDelayed(ctx, m, now); err != nil {
			zap.L().Error("milestone: failed to flag delayed milestone",
				zap.String("milestone_id", m.ID),
				zap.Error(err),
			)
			continue
		}

		if err := s.maybeSuspend(ctx, m.CreatorID, now); err != nil {
			zap.L().Error("milestone: failed to apply suspension",
				zap.String("creator_id", m.CreatorID),
				zap.Error(err),
			)
		}
	}

	return s.sweepPenalties(ctx, now)
}

func (s *Service) flagDelayed(ctx context.Context, m *Milestone, now time.Time) error {
	fields := map[string]any{"delay_notified_at": now}
	// Only a started milestone becomes delayed. A not-yet-unlocked one keeps
	// its status so it stays locked until the sequence reaches it.
	if m.Status == StatusInProgress || m.Status == StatusChangesRequested {
		fields["status"] = StatusDelayed
	}
	if err := s.milestones.Update(ctx, m.ID, fields); err != nil {
		return err
	}

	payload := map[string]any{
		"milestone_id": m.ID,
		"contract_id":  m.ContractID,
		"deadline":     m.Deadline,
	}
	s.notifier.Notify(ctx, m.CreatorID, "milestone.overdue", payload)
	s.notifier.Notify(ctx, m.BrandID, "milestone.overdue", payload)

	c, err := s.contracts.FindOne(ctx, &contract.Contract{ID: m.ContractID})
	if err == nil && c != nil && c.ChatRoomID != "" {
		text := fmt.Sprintf("Milestone %q missed its deadline of %s.", m.Title, m.Deadline.Format("2006-01-02"))
		if err := s.chat.PostSystemMessage(ctx, c.ChatRoomID, text); err != nil {
			zap.L().Warn("milestone: failed to post overdue chat message",
				zap.String("room_id", c.ChatRoomID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// maybeSuspend counts the creator's overdue milestones across all contracts
// and applies a suspension at the configured limit. Idempotent: an active
// suspension is never extended by the sweep.
func (s *Service) maybeSuspend(ctx context.Context, creatorID string, now time.Time) error {
	count, err := s.milestones.Count(ctx, &Milestone{CreatorID: creatorID},
		option.ApplyOperator(option.Condition{Field: "deadline", Operator: option.LT, Value: now}),
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: StatusApproved}),
	)
	if err != nil {
		return err
	}
	if int(count) < s.overdueLimit {
		return nil
	}

	sanction, until, err := s.loadSanction(ctx, creatorID)
	if err != nil {
		return err
	}
	if until != nil && until.After(now) {
		return nil
	}

	suspendedUntil := now.AddDate(0, 0, s.suspensionDays)
	sanction.SuspendedUntil = &suspendedUntil
	if err := s.db.WithContext(ctx).Save(sanction).Error; err != nil {
		return err
	}

	zap.L().Warn("milestone: creator suspended for repeated overdue milestones",
		zap.String("creator_id", creatorID),
		zap.Int64("overdue_count", count),
		zap.Time("suspended_until", suspendedUntil),
	)
	s.notifier.Notify(ctx, creatorID, "account.suspended", map[string]any{
		"suspended_until": suspendedUntil,
	})
	return nil
}

// sweepPenalties applies the set-once delay penalty to milestones overdue by
// at least the grace period.
func (s *Service) sweepPenalties(ctx context.Context, now time.Time) error {
	cutoff := now.AddDate(0, 0, -s.overdueGrace)
	stale, err := s.milestones.Find(ctx, &Milestone{},
		option.ApplyOperator(option.Condition{Field: "penalty_applied", Operator: option.EQ, Value: false}),
		option.ApplyOperator(option.Condition{Field: "deadline", Operator: option.LTE, Value: cutoff}),
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: StatusApproved}),
	)
	if err != nil {
		return err
	}

	for _, m := range stale {
		if err := s.applyPenalty(ctx, m, now); err != nil {
			zap.L().Error("milestone: failed to apply delay penalty",
				zap.String("milestone_id", m.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) applyPenalty(ctx context.Context, m *Milestone, now time.Time) error {
	sanction, _, err := s.loadSanction(ctx, m.CreatorID)
	if err != nil {
		return err
	}

	penaltyUntil := now.AddDate(0, 0, s.suspensionDays)
	sanction.PenaltyUntil = &penaltyUntil
	if err := s.db.WithContext(ctx).Save(sanction).Error; err != nil {
		return err
	}

	if err := s.milestones.Update(ctx, m.ID, map[string]any{"penalty_applied": true}); err != nil {
		return err
	}

	s.notifier.Notify(ctx, m.CreatorID, "account.delay_penalty", map[string]any{
		"milestone_id":  m.ID,
		"penalty_until": penaltyUntil,
	})
	return nil
}

func (s *Service) loadSanction(ctx context.Context, creatorID string) (*CreatorSanction, *time.Time, error) {
	var sanction CreatorSanction
	err := s.db.WithContext(ctx).Where(&CreatorSanction{CreatorID: creatorID}).First(&sanction).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, err
		}
		sanction = CreatorSanction{CreatorID: creatorID}
	}
	return &sanction, sanction.SuspendedUntil, nil
}

// Sanction exposes a creator's current restrictions.
func (s *Service) Sanction(ctx context.Context, creatorID string) (*CreatorSanction, error) {
	sanction, _, err := s.loadSanction(ctx, creatorID)
	return sanction, err
}
