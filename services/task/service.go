package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"creatorlink-marketplace/pkg/config"
	"creatorlink-marketplace/pkg/errutil"
	"creatorlink-marketplace/pkg/notify"
	pkgtask "creatorlink-marketplace/pkg/task"
	"creatorlink-marketplace/services/contract"
	"creatorlink-marketplace/services/milestone"
	"creatorlink-marketplace/services/offer"
	"creatorlink-marketplace/services/payment"
	"creatorlink-marketplace/services/withdrawal"
)

const drainBatchSize = 100

// Service owns the scheduled sweeps: deadline checks, offer expiry and the
// payment and withdrawal drains. Each handler is safe to run concurrently
// with the interactive paths because every money move it triggers re-checks
// state under a row lock.
type Service struct {
	enqueuer pkgtask.Enqueuer

	offers      *offer.Service
	contracts   *contract.Service
	milestones  *milestone.Service
	payments    *payment.Service
	withdrawals *withdrawal.Service

	stuckAfter time.Duration
}

type Params struct {
	fx.In
	Enqueuer    pkgtask.Enqueuer
	Config      *config.Config
	Offers      *offer.Service
	Contracts   *contract.Service
	Milestones  *milestone.Service
	Payments    *payment.Service
	Withdrawals *withdrawal.Service
}

func NewService(p Params) *Service {
	stuckAfter := p.Config.Payments.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = 72 * time.Hour
	}
	return &Service{
		enqueuer:    p.Enqueuer,
		offers:      p.Offers,
		contracts:   p.Contracts,
		milestones:  p.Milestones,
		payments:    p.Payments,
		withdrawals: p.Withdrawals,
		stuckAfter:  stuckAfter,
	}
}

// EnqueueSweeps schedules one round of every maintenance task.
func (s *Service) EnqueueSweeps(ctx context.Context) error {
	for taskType, queue := range map[string]string{
		TypeCheckDeadlines:     "default",
		TypeExpireOffers:       "default",
		TypeProcessPayments:    "critical",
		TypeProcessWithdrawals: "critical",
	} {
		if _, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(taskType, nil), asynq.Queue(queue)); err != nil {
			return err
		}
		zap.L().Info("enqueued sweep", zap.String("task_type", taskType), zap.String("queue", queue))
	}
	return nil
}

func (s *Service) HandleCheckDeadlines(ctx context.Context, t *asynq.Task) error {
	return s.milestones.SweepDeadlines(ctx, time.Now())
}

func (s *Service) HandleExpireOffers(ctx context.Context, t *asynq.Task) error {
	expired, err := s.offers.Expire(ctx, time.Now())
	if err != nil {
		return err
	}
	if expired > 0 {
		zap.L().Info("expired stale offers", zap.Int("count", expired))
	}
	return nil
}

// HandleProcessPayments re-drives escrow releases that were requested but
// never credited. A payment is only drained once its contract workflow shows
// the release was granted; pending escrow still waiting on review is left
// alone. Stuck processing rows are surfaced for manual reconciliation.
func (s *Service) HandleProcessPayments(ctx context.Context, t *asynq.Task) error {
	pending, err := s.payments.FindPending(ctx, drainBatchSize)
	if err != nil {
		return err
	}
	for _, jp := range pending {
		c, err := s.contracts.Get(ctx, jp.ContractID)
		if err != nil {
			zap.L().Error("payment drain: contract lookup failed",
				zap.String("payment_id", jp.ID),
				zap.String("contract_id", jp.ContractID),
				zap.Error(err),
			)
			continue
		}
		if c.WorkflowStatus != contract.WorkflowPaymentAvailable && c.WorkflowStatus != contract.WorkflowPaymentWithdrawn {
			continue
		}
		if _, err := s.payments.Process(ctx, jp.ID); err != nil {
			zap.L().Error("payment drain: process failed",
				zap.String("payment_id", jp.ID),
				zap.Error(err),
			)
		}
	}

	stuck, err := s.payments.FindStuck(ctx, s.stuckAfter)
	if err != nil {
		return err
	}
	for _, jp := range stuck {
		zap.L().Warn("payment stuck in processing",
			zap.String("payment_id", jp.ID),
			zap.String("contract_id", jp.ContractID),
			zap.Time("updated_at", jp.UpdatedAt),
		)
	}
	return nil
}

// HandleProcessWithdrawals retries payouts for withdrawals sitting in
// pending. Funds were already debited at creation, so a retry never touches
// the balance.
func (s *Service) HandleProcessWithdrawals(ctx context.Context, t *asynq.Task) error {
	pending, err := s.withdrawals.FindPending(ctx, drainBatchSize)
	if err != nil {
		return err
	}
	for _, w := range pending {
		if _, err := s.withdrawals.Process(ctx, w.ID, ""); err != nil {
			if errutil.HasStatus(err, errutil.StatusTimeout) {
				continue
			}
			zap.L().Error("withdrawal drain: process failed",
				zap.String("withdrawal_id", w.ID),
				zap.Error(err),
			)
		}
	}

	stuck, err := s.withdrawals.FindStuck(ctx, s.stuckAfter)
	if err != nil {
		return err
	}
	for _, w := range stuck {
		zap.L().Warn("withdrawal stuck in processing",
			zap.String("withdrawal_id", w.ID),
			zap.String("creator_id", w.CreatorID),
			zap.Time("updated_at", w.UpdatedAt),
		)
	}
	return nil
}

// HandleNotifyDispatch drains the notification outbox. Provider delivery
// plugs in behind this handler; until then messages are logged so nothing is
// silently dropped.
func (s *Service) HandleNotifyDispatch(ctx context.Context, t *asynq.Task) error {
	var msg notify.Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		zap.L().Error("notify dispatch: invalid payload", zap.Error(err))
		return err
	}
	zap.L().Info("notification dispatched",
		zap.String("recipient_id", msg.RecipientID),
		zap.String("template_key", msg.TemplateKey),
	)
	return nil
}

func RegisterHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(TypeCheckDeadlines, s.HandleCheckDeadlines)
	mux.HandleFunc(TypeExpireOffers, s.HandleExpireOffers)
	mux.HandleFunc(TypeProcessPayments, s.HandleProcessPayments)
	mux.HandleFunc(TypeProcessWithdrawals, s.HandleProcessWithdrawals)
	mux.HandleFunc(notify.TaskDispatch, s.HandleNotifyDispatch)
}
