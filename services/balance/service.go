package balance

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"creatorlink-marketplace/pkg/db/option"
	"creatorlink-marketplace/pkg/errutil"
	"creatorlink-marketplace/pkg/repository"
)

// Service is the single writer of creator_balances rows. Every mutation
// reads the row FOR UPDATE inside the supplied transaction, applies one named
// aggregate operation, and persists the full amount set, so the ledger
// identity is re-validated on each step.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	balances repository.Repository[CreatorBalance]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		balances: repository.ProvideStore[CreatorBalance](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, creatorID string) (*CreatorBalance, error) {
	return s.balances.FindOne(ctx, &CreatorBalance{CreatorID: creatorID})
}

// EnsureExists returns the creator's balance row locked for update, creating
// a zeroed row if none exists yet.
func (s *Service) EnsureExists(ctx context.Context, tx *gorm.DB, creatorID string) (*CreatorBalance, error) {
	store := s.balances.WithTrx(tx)

	b, err := store.FindOne(ctx, &CreatorBalance{CreatorID: creatorID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if b != nil {
		return b, nil
	}

	b = &CreatorBalance{
		ID:               s.node.Generate().String(),
		CreatorID:        creatorID,
		AvailableBalance: decimal.Zero,
		PendingBalance:   decimal.Zero,
		TotalEarned:      decimal.Zero,
		TotalWithdrawn:   decimal.Zero,
	}
	if err := store.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

type mutation func(*CreatorBalance) error

func (s *Service) mutate(ctx context.Context, tx *gorm.DB, creatorID string, op mutation) (*CreatorBalance, error) {
	b, err := s.EnsureExists(ctx, tx, creatorID)
	if err != nil {
		return nil, err
	}

	if err := op(b); err != nil {
		if errutil.HasStatus(err, errutil.StatusLedgerInvariant) {
			zap.L().Error("balance: ledger invariant violated",
				zap.String("creator_id", creatorID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	if err := s.balances.WithTrx(tx).Update(ctx, b.ID, map[string]any{
		"available_balance": b.AvailableBalance,
		"pending_balance":   b.PendingBalance,
		"total_earned":      b.TotalEarned,
		"total_withdrawn":   b.TotalWithdrawn,
	}); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) AddPending(ctx context.Context, tx *gorm.DB, creatorID string, amount decimal.Decimal) (*CreatorBalance, error) {
	return s.mutate(ctx, tx, creatorID, func(b *CreatorBalance) error {
		return b.AddPendingAmount(amount)
	})
}

func (s *Service) MovePendingToAvailable(ctx context.Context, tx *gorm.DB, creatorID string, amount decimal.Decimal) (*CreatorBalance, error) {
	return s.mutate(ctx, tx, creatorID, func(b *CreatorBalance) error {
		return b.MovePendingToAvailable(amount)
	})
}

func (s *Service) AddEarning(ctx context.Context, tx *gorm.DB, creatorID string, amount decimal.Decimal) (*CreatorBalance, error) {
	return s.mutate(ctx, tx, creatorID, func(b *CreatorBalance) error {
		return b.AddEarning(amount)
	})
}

func (s *Service) Debit(ctx context.Context, tx *gorm.DB, creatorID string, amount decimal.Decimal) (*CreatorBalance, error) {
	return s.mutate(ctx, tx, creatorID, func(b *CreatorBalance) error {
		return b.Withdraw(amount)
	})
}

func (s *Service) Recredit(ctx context.Context, tx *gorm.DB, creatorID string, amount decimal.Decimal) (*CreatorBalance, error) {
	return s.mutate(ctx, tx, creatorID, func(b *CreatorBalance) error {
		return b.Recredit(amount)
	})
}
