package offer

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"creatorlink-marketplace/pkg/config"
	"creatorlink-marketplace/pkg/db/option"
	"creatorlink-marketplace/pkg/errutil"
	"creatorlink-marketplace/pkg/money"
	"creatorlink-marketplace/pkg/notify"
	"creatorlink-marketplace/pkg/repository"
	"creatorlink-marketplace/services/contract"
	"creatorlink-marketplace/services/milestone"
)

var defaultFeeRate = decimal.NewFromFloat(0.05)

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	offers     repository.Repository[Offer]
	contracts  repository.Repository[contract.Contract]
	milestones repository.Repository[milestone.Milestone]

	notifier notify.Dispatcher
	feeRate  decimal.Decimal
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Notifier notify.Dispatcher
}

func NewService(p ServiceParams) *Service {
	feeRate := defaultFeeRate
	if p.Config.Payments.PlatformFeeRate != "" {
		parsed, err := decimal.NewFromString(p.Config.Payments.PlatformFeeRate)
		if err != nil {
			zap.L().Warn("invalid platform fee rate, using default",
				zap.String("value", p.Config.Payments.PlatformFeeRate),
				zap.Error(err),
			)
		} else {
			feeRate = parsed
		}
	}
	return &Service{
		db:         p.DB,
		node:       p.Node,
		offers:     repository.ProvideStore[Offer](p.DB),
		contracts:  repository.ProvideStore[contract.Contract](p.DB),
		milestones: repository.ProvideStore[milestone.Milestone](p.DB),
		notifier:   p.Notifier,
		feeRate:    feeRate,
	}
}

type CreateParams struct {
	CampaignID    string
	BrandID       string
	CreatorID     string
	Title         string
	Description   string
	Budget        decimal.Decimal
	EstimatedDays int
	ExpiresAt     *time.Time
}

func (s *Service) Create(ctx context.Context, p CreateParams) (*Offer, error) {
	if err := money.RequirePositive(p.Budget, "budget"); err != nil {
		return nil, err
	}
	if p.EstimatedDays <= 0 {
		return nil, errutil.ValidationFailed("estimated days must be positive")
	}

	o := &Offer{
		ID:            s.node.Generate().String(),
		CampaignID:    p.CampaignID,
		BrandID:       p.BrandID,
		CreatorID:     p.CreatorID,
		Title:         p.Title,
		Description:   p.Description,
		Budget:        money.Round2(p.Budget),
		EstimatedDays: p.EstimatedDays,
		Status:        StatusPending,
		ExpiresAt:     p.ExpiresAt,
	}
	if err := s.offers.Create(ctx, o); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, o.CreatorID, "offer.received", map[string]any{
		"offer_id": o.ID,
		"brand_id": o.BrandID,
		"title":    o.Title,
	})
	return o, nil
}

func (s *Service) Get(ctx context.Context, offerID string) (*Offer, error) {
	o, err := s.offers.FindOne(ctx, &Offer{ID: offerID})
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, errutil.NotFound("offer not found")
	}
	return o, nil
}

func (s *Service) ListByCreator(ctx context.Context, creatorID string) ([]*Offer, error) {
	return s.offers.Find(ctx, &Offer{CreatorID: creatorID})
}

func (s *Service) ListByCampaign(ctx context.Context, campaignID string) ([]*Offer, error) {
	return s.offers.Find(ctx, &Offer{CampaignID: campaignID})
}

// Accept marks the offer accepted and, in the same transaction, creates the
// contract and its four-step milestone timeline. The contract starts in
// pending with workflow payment_pending; it carries no funds until the brand
// funds it.
func (s *Service) Accept(ctx context.Context, offerID string) (*contract.Contract, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	var created *contract.Contract
	err := s.db.Transaction(func(tx *gorm.DB) error {
		o, err := s.offers.WithTrx(tx).FindOne(ctx, &Offer{ID: offerID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if o == nil {
			return errutil.NotFound("offer not found")
		}

		now := time.Now()
		if o.Status == StatusPending && o.ExpiresAt != nil && o.ExpiresAt.Before(now) {
			if err := s.offers.WithTrx(tx).Update(ctx, o.ID, map[string]any{"status": StatusExpired}); err != nil {
				return err
			}
			return errutil.InvalidTransition("offer has expired")
		}
		if o.Status != StatusPending {
			return errutil.InvalidTransition(fmt.Sprintf("offer %s cannot be accepted from %s", o.ID, o.Status))
		}

		if err := s.offers.WithTrx(tx).Update(ctx, o.ID, map[string]any{
			"status":      StatusAccepted,
			"accepted_at": now,
		}); err != nil {
			return err
		}

		fee, creatorAmount := money.SplitFee(o.Budget, s.feeRate)
		c := &contract.Contract{
			ID:             s.node.Generate().String(),
			OfferID:        o.ID,
			CampaignID:     o.CampaignID,
			BrandID:        o.BrandID,
			CreatorID:      o.CreatorID,
			Title:          o.Title,
			Budget:         o.Budget,
			PlatformFee:    fee,
			CreatorAmount:  creatorAmount,
			Status:         contract.StatusPending,
			WorkflowStatus: contract.WorkflowPaymentPending,
			Phase:          contract.PhaseAlignment,
			EstimatedDays:  o.EstimatedDays,
			ChatRoomID:     s.node.Generate().String(),
		}
		if err := s.contracts.WithTrx(tx).Create(ctx, c); err != nil {
			return err
		}

		if err := s.milestones.WithTrx(tx).BatchCreate(ctx, s.buildTimeline(c, now)); err != nil {
			return err
		}

		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("offer accepted",
		zap.String("offer_id", offerID),
		zap.String("contract_id", created.ID),
		zap.String("budget", created.Budget.StringFixed(2)),
	)
	s.notifier.Notify(ctx, created.BrandID, "offer.accepted", map[string]any{
		"offer_id":    offerID,
		"contract_id": created.ID,
	})
	return created, nil
}

// buildTimeline lays the milestones out over the offer's estimated duration.
// The first step starts immediately, the rest wait on the sequence.
func (s *Service) buildTimeline(c *contract.Contract, start time.Time) []*milestone.Milestone {
	total := time.Duration(c.EstimatedDays) * 24 * time.Hour
	out := make([]*milestone.Milestone, 0, len(timelineSteps))
	for i, step := range timelineSteps {
		status := milestone.StatusPending
		if i == 0 {
			status = milestone.StatusInProgress
		}
		out = append(out, &milestone.Milestone{
			ID:         s.node.Generate().String(),
			ContractID: c.ID,
			CreatorID:  c.CreatorID,
			BrandID:    c.BrandID,
			Title:      step.Title,
			Order:      i + 1,
			Status:     status,
			Deadline:   start.Add(time.Duration(float64(total) * step.Fraction)),
		})
	}
	return out
}

// Reject is the creator declining; Cancel is the brand pulling the offer.
// Both only apply while the offer is still pending.
func (s *Service) Reject(ctx context.Context, offerID string) (*Offer, error) {
	return s.close(ctx, offerID, StatusRejected, "offer.rejected")
}

func (s *Service) Cancel(ctx context.Context, offerID string) (*Offer, error) {
	return s.close(ctx, offerID, StatusCancelled, "offer.cancelled")
}

func (s *Service) close(ctx context.Context, offerID string, target Status, templateKey string) (*Offer, error) {
	var o *Offer
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		o, err = s.offers.WithTrx(tx).FindOne(ctx, &Offer{ID: offerID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if o == nil {
			return errutil.NotFound("offer not found")
		}
		if o.Status != StatusPending {
			return errutil.InvalidTransition(fmt.Sprintf("offer %s cannot move to %s from %s", o.ID, target, o.Status))
		}
		if err := s.offers.WithTrx(tx).Update(ctx, o.ID, map[string]any{"status": target}); err != nil {
			return err
		}
		o.Status = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	recipient := o.BrandID
	if target == StatusCancelled {
		recipient = o.CreatorID
	}
	s.notifier.Notify(ctx, recipient, templateKey, map[string]any{"offer_id": o.ID})
	return o, nil
}

// Expire flips stale pending offers. Driven by the scheduled sweep; each
// offer fails independently so one bad row does not block the batch.
func (s *Service) Expire(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.offers.Find(ctx, &Offer{Status: StatusPending},
		option.ApplyOperator(option.Condition{Field: "expires_at", Operator: option.LT, Value: now}),
	)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, o := range stale {
		if err := s.offers.Update(ctx, o.ID, map[string]any{"status": StatusExpired}); err != nil {
			zap.L().Error("failed to expire offer", zap.String("offer_id", o.ID), zap.Error(err))
			continue
		}
		expired++
		s.notifier.Notify(ctx, o.BrandID, "offer.expired", map[string]any{"offer_id": o.ID})
	}
	return expired, nil
}
