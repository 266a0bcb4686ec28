package payment

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"creatorlink-marketplace/pkg/db/option"
	"creatorlink-marketplace/pkg/errutil"
	"creatorlink-marketplace/pkg/repository"
	"creatorlink-marketplace/services/balance"
	"creatorlink-marketplace/services/ledger"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	payments repository.Repository[JobPayment]

	balances *balance.Service
	ledger   *ledger.Service
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Balances *balance.Service
	Ledger   *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		payments: repository.ProvideStore[JobPayment](p.DB),
		balances: p.Balances,
		ledger:   p.Ledger,
	}
}

type CreateParams struct {
	ContractID    string
	CampaignID    string
	CreatorID     string
	BrandID       string
	TotalAmount   decimal.Decimal
	PlatformFee   decimal.Decimal
	CreatorAmount decimal.Decimal
}

// CreateForContract creates the escrow record for a completed contract.
// Idempotent on contract_id: an existing record is returned as-is, never
// duplicated.
func (s *Service) CreateForContract(ctx context.Context, tx *gorm.DB, p CreateParams) (*JobPayment, error) {
	store := s.payments.WithTrx(tx)

	existing, err := store.FindOne(ctx, &JobPayment{ContractID: p.ContractID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	jp := &JobPayment{
		ID:            s.node.Generate().String(),
		ContractID:    p.ContractID,
		CampaignID:    p.CampaignID,
		CreatorID:     p.CreatorID,
		BrandID:       p.BrandID,
		TotalAmount:   p.TotalAmount,
		PlatformFee:   p.PlatformFee,
		CreatorAmount: p.CreatorAmount,
		Status:        StatusPending,
	}
	if err := jp.CheckSplit(); err != nil {
		return nil, err
	}
	if err := store.Create(ctx, jp); err != nil {
		return nil, err
	}
	return jp, nil
}

func (s *Service) GetByContract(ctx context.Context, contractID string) (*JobPayment, error) {
	return s.payments.FindOne(ctx, &JobPayment{ContractID: contractID})
}

// Process moves a payment pending -> completed exactly once and credits the
// creator. A payment already completed is a no-op success; the whole credit
// path runs in one transaction with the balance row locked.
func (s *Service) Process(ctx context.Context, paymentID string) (*JobPayment, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	var result *JobPayment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		store := s.payments.WithTrx(tx)

		jp, err := store.FindOne(ctx, &JobPayment{ID: paymentID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if jp == nil {
			return errutil.NotFound("job payment not found")
		}

		if jp.Status == StatusCompleted {
			zap.L().Info("payment: already completed, skipping",
				zap.String("payment_id", jp.ID),
				zap.String("contract_id", jp.ContractID),
			)
			result = jp
			return nil
		}
		if jp.Status == StatusFailed {
			return errutil.InvalidTransition("cannot process a failed payment")
		}

		if err := s.credit(ctx, tx, jp); err != nil {
			return err
		}

		now := time.Now()
		jp.Status = StatusCompleted
		jp.ProcessedAt = &now
		if err := store.Update(ctx, jp.ID, map[string]any{
			"status":       StatusCompleted,
			"processed_at": now,
		}); err != nil {
			return err
		}

		result = jp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// credit funds the creator's balance for one escrow release: top up pending
// to cover the creator amount, then release it to available. If the release
// still fails under the lock (a replayed webhook racing this credit), fall
// back to a direct available credit rather than losing funds, and record the
// anomaly.
func (s *Service) credit(ctx context.Context, tx *gorm.DB, jp *JobPayment) error {
	b, err := s.balances.EnsureExists(ctx, tx, jp.CreatorID)
	if err != nil {
		return err
	}

	if gap := jp.CreatorAmount.Sub(b.PendingBalance); gap.Sign() > 0 {
		if _, err := s.balances.AddPending(ctx, tx, jp.CreatorID, gap); err != nil {
			return err
		}
	}

	entryType := ledger.TypeEscrowCredit
	if _, err := s.balances.MovePendingToAvailable(ctx, tx, jp.CreatorID, jp.CreatorAmount); err != nil {
		if !errutil.HasStatus(err, errutil.StatusInsufficientBalance) {
			return err
		}
		zap.L().Error("payment: pending release failed, applying fallback credit",
			zap.String("payment_id", jp.ID),
			zap.String("creator_id", jp.CreatorID),
			zap.String("amount", jp.CreatorAmount.StringFixed(2)),
			zap.Error(err),
		)
		if _, err := s.balances.AddEarning(ctx, tx, jp.CreatorID, jp.CreatorAmount); err != nil {
			return err
		}
		entryType = ledger.TypeFallbackCredit
	}

	_, err = s.ledger.Record(ctx, tx, ledger.RecordParams{
		CreatorID:     jp.CreatorID,
		Type:          entryType,
		Amount:        jp.CreatorAmount,
		ReferenceType: ledger.RefContract,
		ReferenceID:   jp.ContractID,
		Description:   "escrow release",
		Metadata: map[string]any{
			"job_payment_id": jp.ID,
			"platform_fee":   jp.PlatformFee.StringFixed(2),
		},
	})
	return err
}

// MarkFailed records a definitive processing failure.
func (s *Service) MarkFailed(ctx context.Context, paymentID, reason string) error {
	return s.payments.Update(ctx, paymentID, map[string]any{
		"status":         StatusFailed,
		"failure_reason": reason,
	})
}

// FindPending lists payments awaiting processing, oldest first.
func (s *Service) FindPending(ctx context.Context, limit int) ([]*JobPayment, error) {
	return s.payments.Find(ctx, &JobPayment{Status: StatusPending},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(limit),
	)
}

// FindStuck lists payments sitting in processing longer than the threshold,
// for the external reconciliation driver.
func (s *Service) FindStuck(ctx context.Context, olderThan time.Duration) ([]*JobPayment, error) {
	cutoff := time.Now().Add(-olderThan)
	return s.payments.Find(ctx, &JobPayment{Status: StatusProcessing},
		option.ApplyOperator(option.Condition{
			Field:    "updated_at",
			Operator: option.LT,
			Value:    cutoff,
		}),
	)
}

// FindCompletedForCampaign lists processed escrow records of one campaign.
func (s *Service) FindCompletedForCampaign(ctx context.Context, campaignID string) ([]*JobPayment, error) {
	return s.payments.Find(ctx, &JobPayment{CampaignID: campaignID, Status: StatusCompleted})
}

// FindPendingForCampaign lists unprocessed escrow records of one campaign,
// used by the campaign-completion sweep.
func (s *Service) FindPendingForCampaign(ctx context.Context, campaignID string) ([]*JobPayment, error) {
	return s.payments.Find(ctx, &JobPayment{CampaignID: campaignID, Status: StatusPending})
}
