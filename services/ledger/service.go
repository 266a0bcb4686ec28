package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"creatorlink-marketplace/pkg/db/option"
	"creatorlink-marketplace/pkg/repository"
)

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	entries repository.Repository[Transaction]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		entries: repository.ProvideStore[Transaction](p.DB),
	}
}

type RecordParams struct {
	CreatorID     string
	Type          EntryType
	Amount        decimal.Decimal
	ReferenceType ReferenceType
	ReferenceID   string
	Description   string
	Metadata      map[string]any
}

// Record appends one transaction row, chained onto the creator's last entry.
// It must be called inside the same database transaction as the balance
// mutation it describes. The head is picked by the snowflake id, which is
// monotonic even when two entries share a created_at.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, p RecordParams) (*Transaction, error) {
	store := s.entries.WithTrx(tx)

	last, err := store.FindOne(ctx, &Transaction{CreatorID: p.CreatorID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "id",
			OrderBy: "desc",
			Allow:   map[string]bool{"id": true},
		}),
		option.WithLockingUpdate(),
	)
	if err != nil {
		return nil, err
	}

	previousHash := "GENESIS"
	if last != nil {
		previousHash = last.Hash
	}

	var meta datatypes.JSON
	if p.Metadata != nil {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			zap.L().Warn("ledger: failed to marshal metadata", zap.Error(err))
		} else {
			meta = datatypes.JSON(b)
		}
	}

	now := time.Now()
	entry := &Transaction{
		ID:            s.node.Generate().String(),
		CreatorID:     p.CreatorID,
		Type:          p.Type,
		Amount:        p.Amount,
		ReferenceType: p.ReferenceType,
		ReferenceID:   p.ReferenceID,
		Description:   p.Description,
		Status:        "paid",
		PreviousHash:  previousHash,
		Metadata:      meta,
		PaidAt:        &now,
	}
	entry.Hash = entry.GenerateHash()

	if err := store.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListByCreator returns a creator's entries in chain order.
func (s *Service) ListByCreator(ctx context.Context, creatorID string) ([]*Transaction, error) {
	return s.entries.Find(ctx, &Transaction{CreatorID: creatorID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "id",
			OrderBy: "asc",
			Allow:   map[string]bool{"id": true},
		}),
	)
}

func (s *Service) ListByReference(ctx context.Context, refType ReferenceType, refID string) ([]*Transaction, error) {
	return s.entries.Find(ctx, &Transaction{ReferenceType: refType, ReferenceID: refID})
}

// VerifyChain walks a creator's entries in order and checks every hash link.
func (s *Service) VerifyChain(ctx context.Context, creatorID string) (bool, error) {
	entries, err := s.ListByCreator(ctx, creatorID)
	if err != nil {
		return false, err
	}

	lastHash := "GENESIS"
	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() || entry.PreviousHash != lastHash {
			return false, nil
		}
		lastHash = entry.Hash
	}
	return true, nil
}
