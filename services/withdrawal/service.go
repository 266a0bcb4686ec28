package withdrawal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"creatorlink-marketplace/pkg/config"
	"creatorlink-marketplace/pkg/db/option"
	"creatorlink-marketplace/pkg/errutil"
	"creatorlink-marketplace/pkg/gateway"
	"creatorlink-marketplace/pkg/notify"
	"creatorlink-marketplace/pkg/repository"
	"creatorlink-marketplace/services/balance"
	"creatorlink-marketplace/services/ledger"
)

type methodLimit struct {
	min decimal.Decimal
	max decimal.Decimal // zero means no cap
}

type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	withdrawals repository.Repository[Withdrawal]

	balances *balance.Service
	ledger   *ledger.Service
	gateway  gateway.Client
	notifier notify.Dispatcher

	limits map[string]methodLimit
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Balances *balance.Service
	Ledger   *ledger.Service
	Gateway  gateway.Client
	Notifier notify.Dispatcher
}

func NewService(p ServiceParams) *Service {
	limits := make(map[string]methodLimit, len(p.Config.Withdrawals.Methods))
	for method, l := range p.Config.Withdrawals.Methods {
		min, err := decimal.NewFromString(l.Min)
		if err != nil {
			min = decimal.Zero
		}
		max, err := decimal.NewFromString(l.Max)
		if err != nil {
			max = decimal.Zero
		}
		limits[method] = methodLimit{min: min, max: max}
	}

	return &Service{
		db:          p.DB,
		node:        p.Node,
		withdrawals: repository.ProvideStore[Withdrawal](p.DB),
		balances:    p.Balances,
		ledger:      p.Ledger,
		gateway:     p.Gateway,
		notifier:    p.Notifier,
		limits:      limits,
	}
}

func (s *Service) Get(ctx context.Context, withdrawalID string) (*Withdrawal, error) {
	w, err := s.withdrawals.FindOne(ctx, &Withdrawal{ID: withdrawalID})
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errutil.NotFound("withdrawal not found")
	}
	return w, nil
}

func (s *Service) checkMethodLimits(method string, amount decimal.Decimal) error {
	limit, ok := s.limits[method]
	if !ok {
		return nil
	}
	if amount.LessThan(limit.min) {
		return errutil.ValidationFailed(fmt.Sprintf("amount below the %s minimum of %s", method, limit.min.StringFixed(2)))
	}
	if limit.max.Sign() > 0 && amount.GreaterThan(limit.max) {
		return errutil.ValidationFailed(fmt.Sprintf("amount above the %s maximum of %s", method, limit.max.StringFixed(2)))
	}
	return nil
}

// Create opens a payout request and debits the available balance in the same
// database transaction. If either side fails the whole operation rolls back:
// no withdrawal row without its debit, no debit without its row.
func (s *Service) Create(ctx context.Context, creatorID string, amount decimal.Decimal, method string, details map[string]any) (*Withdrawal, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if amount.Sign() <= 0 {
		return nil, errutil.ValidationFailed("withdrawal amount must be positive")
	}
	if err := s.checkMethodLimits(method, amount); err != nil {
		return nil, err
	}

	// The account lookup talks to the gateway, so it stays outside the
	// database transaction.
	enriched, err := s.enrichDetails(ctx, method, amount, details)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(enriched)
	if err != nil {
		return nil, errutil.Internal("withdrawal: marshal details", errutil.WithErr(err))
	}

	var w *Withdrawal
	err = s.db.Transaction(func(tx *gorm.DB) error {
		b, err := s.balances.EnsureExists(ctx, tx, creatorID)
		if err != nil {
			return err
		}
		if !b.CanWithdraw(amount) {
			return errutil.InsufficientBalance("Saldo insuficiente para o saque")
		}

		w = &Withdrawal{
			ID:        s.node.Generate().String(),
			CreatorID: creatorID,
			Amount:    amount,
			Method:    method,
			Details:   datatypes.JSON(body),
			Status:    StatusPending,
		}
		if err := s.withdrawals.WithTrx(tx).Create(ctx, w); err != nil {
			return err
		}

		if _, err := s.balances.Debit(ctx, tx, creatorID, amount); err != nil {
			return err
		}

		_, err = s.ledger.Record(ctx, tx, ledger.RecordParams{
			CreatorID:     creatorID,
			Type:          ledger.TypeWithdrawalDebit,
			Amount:        amount.Neg(),
			ReferenceType: ledger.RefWithdrawal,
			ReferenceID:   w.ID,
			Description:   "withdrawal requested",
			Metadata:      map[string]any{"method": method},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, creatorID, "withdrawal.requested", map[string]any{
		"withdrawal_id": w.ID,
		"amount":        amount.StringFixed(2),
	})
	return w, nil
}

const methodBankTransfer = "bank_transfer"

// enrichDetails snapshots the request metadata onto the stored details. Bank
// transfers additionally go through a live account lookup: a definitively
// invalid account rejects the request, while a lookup outage only skips the
// enrichment since a bad account still fails at payout.
func (s *Service) enrichDetails(ctx context.Context, method string, amount decimal.Decimal, details map[string]any) (map[string]any, error) {
	enriched := make(map[string]any, len(details)+3)
	for k, v := range details {
		enriched[k] = v
	}
	enriched["method"] = method
	enriched["requested_amount"] = amount.StringFixed(2)
	enriched["requested_at"] = time.Now().Format(time.RFC3339)
	if limit, ok := s.limits[method]; ok {
		enriched["method_min"] = limit.min.StringFixed(2)
		if limit.max.Sign() > 0 {
			enriched["method_max"] = limit.max.StringFixed(2)
		}
	}

	if method == methodBankTransfer {
		info, err := s.gateway.VerifyAccount(ctx, gateway.AccountLookup{Method: method, Details: details})
		if err != nil {
			zap.L().Warn("withdrawal: account lookup unavailable", zap.Error(err))
			return enriched, nil
		}
		if !info.Valid {
			reason := info.Reason
			if reason == "" {
				reason = "account not found"
			}
			return nil, errutil.ValidationFailed("bank account failed verification: " + reason)
		}
		if info.HolderName != "" {
			enriched["account_holder"] = info.HolderName
		}
		if info.BankName != "" {
			enriched["bank_name"] = info.BankName
		}
	}
	return enriched, nil
}

// Process executes the payout against the gateway. The withdrawal is marked
// processing first; only a definitive remote response settles it. The debit
// already happened at creation, so failure here never touches the balance.
// Funds come back only through an explicit Cancel.
func (s *Service) Process(ctx context.Context, withdrawalID, transactionID string) (*Withdrawal, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	w, err := s.Get(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.Status != StatusPending && w.Status != StatusApproved {
		return nil, errutil.InvalidTransition(fmt.Sprintf("withdrawal %s cannot be processed from %s", w.ID, w.Status))
	}

	// Drift check: the debit at creation should guarantee coverage; a
	// mismatch signals outside interference and is surfaced, not charged
	// twice.
	if b, err := s.balances.Get(ctx, w.CreatorID); err == nil && b != nil && b.AvailableBalance.Sign() < 0 {
		zap.L().Warn("withdrawal: balance drift detected before payout",
			zap.String("withdrawal_id", w.ID),
			zap.String("creator_id", w.CreatorID),
		)
	}

	// Claim the row before touching the gateway. The guarded update loses
	// cleanly when a concurrent caller or a cancel got there first, so at
	// most one payout goes out per withdrawal.
	claim := s.db.WithContext(ctx).Model(&Withdrawal{}).
		Where("id = ? AND status IN ?", w.ID, []Status{StatusPending, StatusApproved}).
		Update("status", StatusProcessing)
	if claim.Error != nil {
		return nil, claim.Error
	}
	if claim.RowsAffected == 0 {
		return nil, errutil.InvalidTransition(fmt.Sprintf("withdrawal %s was claimed by another processor", w.ID))
	}
	w.Status = StatusProcessing

	var details map[string]any
	if len(w.Details) > 0 {
		_ = json.Unmarshal(w.Details, &details)
	}

	result, err := s.gateway.Payout(ctx, gateway.PayoutRequest{
		ReferenceID: w.ID,
		RecipientID: w.CreatorID,
		Amount:      w.Amount,
		Method:      w.Method,
		Details:     details,
	})
	if err != nil {
		if errutil.HasStatus(err, errutil.StatusTimeout) {
			zap.L().Warn("withdrawal: payout timed out, leaving in processing",
				zap.String("withdrawal_id", w.ID),
				zap.Error(err),
			)
			return w, err
		}
		return s.fail(ctx, w, err.Error())
	}

	switch result.Status {
	case gateway.ChargeSucceeded:
		if transactionID == "" {
			transactionID = result.ExternalID
		}
		return s.complete(ctx, w, transactionID)
	case gateway.ChargePending:
		// Payout accepted; a webhook or the reconciliation sweep settles it.
		return w, nil
	default:
		return s.fail(ctx, w, result.Reason)
	}
}

func (s *Service) complete(ctx context.Context, w *Withdrawal, transactionID string) (*Withdrawal, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&Withdrawal{}).
		Where("id = ? AND status = ?", w.ID, StatusProcessing).
		Updates(map[string]any{
			"status":         StatusCompleted,
			"transaction_id": transactionID,
			"processed_at":   now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// The payout went out but the row left processing underneath us,
		// most likely a concurrent cancel. Surface it for reconciliation.
		zap.L().Error("withdrawal: payout settled but row no longer processing",
			zap.String("withdrawal_id", w.ID),
			zap.String("transaction_id", transactionID),
		)
		return nil, errutil.InvalidTransition(fmt.Sprintf("withdrawal %s left processing before settlement", w.ID))
	}
	w.Status = StatusCompleted
	w.TransactionID = transactionID
	w.ProcessedAt = &now

	s.notifier.Notify(ctx, w.CreatorID, "withdrawal.completed", map[string]any{
		"withdrawal_id":  w.ID,
		"amount":         w.Amount.StringFixed(2),
		"transaction_id": transactionID,
	})
	return w, nil
}

func (s *Service) fail(ctx context.Context, w *Withdrawal, reason string) (*Withdrawal, error) {
	if reason == "" {
		reason = "payout rejected by gateway"
	}
	res := s.db.WithContext(ctx).Model(&Withdrawal{}).
		Where("id = ? AND status = ?", w.ID, StatusProcessing).
		Updates(map[string]any{
			"status":         StatusFailed,
			"failure_reason": reason,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errutil.InvalidTransition(fmt.Sprintf("withdrawal %s left processing before failure was recorded", w.ID))
	}
	w.Status = StatusFailed
	w.FailureReason = reason

	s.notifier.Notify(ctx, w.CreatorID, "withdrawal.failed", map[string]any{
		"withdrawal_id": w.ID,
		"reason":        reason,
	})
	return w, errutil.GatewayError("withdrawal payout failed: " + reason)
}

// Cancel aborts a not-yet-completed withdrawal and re-credits the balance
// debited at creation, in one transaction.
func (s *Service) Cancel(ctx context.Context, withdrawalID, actorID, reason string) (*Withdrawal, error) {
	var w *Withdrawal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		store := s.withdrawals.WithTrx(tx)

		var err error
		w, err = store.FindOne(ctx, &Withdrawal{ID: withdrawalID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if w == nil {
			return errutil.NotFound("withdrawal not found")
		}
		if !w.Status.Cancellable() {
			return errutil.InvalidTransition(fmt.Sprintf("withdrawal %s cannot be cancelled from %s", w.ID, w.Status))
		}

		if err := store.Update(ctx, w.ID, map[string]any{
			"status":         StatusCancelled,
			"failure_reason": reason,
		}); err != nil {
			return err
		}
		w.Status = StatusCancelled
		w.FailureReason = reason

		if _, err := s.balances.Recredit(ctx, tx, w.CreatorID, w.Amount); err != nil {
			return err
		}

		_, err = s.ledger.Record(ctx, tx, ledger.RecordParams{
			CreatorID:     w.CreatorID,
			Type:          ledger.TypeWithdrawalRefund,
			Amount:        w.Amount,
			ReferenceType: ledger.RefWithdrawal,
			ReferenceID:   w.ID,
			Description:   "withdrawal cancelled",
			Metadata:      map[string]any{"actor_id": actorID, "reason": reason},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, w.CreatorID, "withdrawal.cancelled", map[string]any{
		"withdrawal_id": w.ID,
		"reason":        reason,
	})
	return w, nil
}

// Reject is the admin rejection path; it cancels and re-credits.
func (s *Service) Reject(ctx context.Context, withdrawalID, adminID, reason string) (*Withdrawal, error) {
	zap.L().Info("withdrawal: rejected by admin",
		zap.String("withdrawal_id", withdrawalID),
		zap.String("admin_id", adminID),
	)
	return s.Cancel(ctx, withdrawalID, adminID, reason)
}

// FindPending lists withdrawals awaiting processing, oldest first.
func (s *Service) FindPending(ctx context.Context, limit int) ([]*Withdrawal, error) {
	return s.withdrawals.Find(ctx, &Withdrawal{Status: StatusPending},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(limit),
	)
}

// FindStuck lists withdrawals sitting in processing longer than the
// threshold, for the reconciliation driver.
func (s *Service) FindStuck(ctx context.Context, olderThan time.Duration) ([]*Withdrawal, error) {
	cutoff := time.Now().Add(-olderThan)
	return s.withdrawals.Find(ctx, &Withdrawal{Status: StatusProcessing},
		option.ApplyOperator(option.Condition{
			Field:    "updated_at",
			Operator: option.LT,
			Value:    cutoff,
		}),
	)
}
