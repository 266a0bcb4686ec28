package contract

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"creatorlink-marketplace/pkg/chat"
	"creatorlink-marketplace/pkg/config"
	"creatorlink-marketplace/pkg/errutil"
	"creatorlink-marketplace/pkg/gateway"
	"creatorlink-marketplace/pkg/notify"
	"creatorlink-marketplace/services/balance"
	"creatorlink-marketplace/services/ledger"
	"creatorlink-marketplace/services/payment"
	"creatorlink-marketplace/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type gatewayMock struct {
	chargeFn func(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error)
	payoutFn func(ctx context.Context, req gateway.PayoutRequest) (*gateway.PayoutResult, error)
}

func (m *gatewayMock) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if m.chargeFn != nil {
		return m.chargeFn(ctx, req)
	}
	return &gateway.ChargeResult{Status: gateway.ChargeSucceeded, ExternalID: "ch_1"}, nil
}

func (m *gatewayMock) Payout(ctx context.Context, req gateway.PayoutRequest) (*gateway.PayoutResult, error) {
	if m.payoutFn != nil {
		return m.payoutFn(ctx, req)
	}
	return &gateway.PayoutResult{Status: gateway.ChargeSucceeded, ExternalID: "po_1"}, nil
}

func (m *gatewayMock) Retrieve(ctx context.Context, externalID string) (*gateway.ChargeResult, error) {
	return &gateway.ChargeResult{Status: gateway.ChargeSucceeded, ExternalID: externalID}, nil
}

func (m *gatewayMock) Cancel(ctx context.Context, externalID string) error { return nil }

func (m *gatewayMock) VerifyAccount(ctx context.Context, req gateway.AccountLookup) (*gateway.AccountInfo, error) {
	return &gateway.AccountInfo{Valid: true}, nil
}

type testEnv struct {
	contracts *Service
	payments  *payment.Service
	balances  *balance.Service
	gw        *gatewayMock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewTestDB(t,
		&Contract{}, &ContractEvent{},
		&payment.JobPayment{}, &balance.CreatorBalance{}, &ledger.Transaction{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Contracts.MaxRevisions = 3

	balances := balance.NewService(balance.ServiceParams{DB: db, Node: node})
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	payments := payment.NewService(payment.ServiceParams{DB: db, Node: node, Balances: balances, Ledger: ledgerSvc})
	gw := &gatewayMock{}

	contracts := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Config:   cfg,
		Payments: payments,
		Gateway:  gw,
		Notifier: notify.Nop{},
		Chat:     chat.Nop{},
	})
	return &testEnv{contracts: contracts, payments: payments, balances: balances, gw: gw}
}

func seedContract(t *testing.T, env *testEnv, status Status, workflow WorkflowStatus) *Contract {
	t.Helper()
	c := &Contract{
		ID:             "contract-1",
		OfferID:        "offer-1",
		CampaignID:     "campaign-1",
		BrandID:        "brand-1",
		CreatorID:      "creator-1",
		Title:          "spring campaign video",
		Budget:         dec("1000.00"),
		PlatformFee:    dec("50.00"),
		CreatorAmount:  dec("950.00"),
		Status:         status,
		WorkflowStatus: workflow,
		Phase:          PhaseAlignment,
		EstimatedDays:  20,
		ChatRoomID:     "room-1",
	}
	require.NoError(t, env.contracts.db.Create(c).Error)
	return c
}

func TestFundActivatesContract(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedContract(t, env, StatusPending, WorkflowPaymentPending)

	c, err := env.contracts.Fund(ctx, "contract-1")
	require.NoError(t, err)
	require.Equal(t, StatusActive, c.Status)
	require.Equal(t, WorkflowActive, c.WorkflowStatus)
	require.Equal(t, "ch_1", c.GatewayChargeID)
	require.NotNil(t, c.StartedAt)
}

func TestFundFailureThenRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedContract(t, env, StatusPending, WorkflowPaymentPending)

	env.gw.chargeFn = func(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
		return &gateway.ChargeResult{Status: gateway.ChargeFailed, Reason: "card declined"}, nil
	}

	_, err := env.contracts.Fund(ctx, "contract-1")
	require.True(t, errutil.HasStatus(err, errutil.StatusGatewayError))

	c, err := env.contracts.Get(ctx, "contract-1")
	require.NoError(t, err)
	require.Equal(t, StatusPaymentFailed, c.Status)
	require.Equal(t, WorkflowPaymentFailed, c.WorkflowStatus)

	env.gw.chargeFn = nil
	c, err = env.contracts.RetryPayment(ctx, "contract-1")
	require.NoError(t, err)
	require.Equal(t, StatusActive, c.Status)
}

func TestFundTimeoutLeavesContractPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedContract(t, env, StatusPending, WorkflowPaymentPending)

	env.gw.chargeFn = func(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
		return nil, errutil.Timeout("gateway timeout")
	}

	_, err := env.contracts.Fund(ctx, "contract-1")
	require.True(t, errutil.HasStatus(err, errutil.StatusTimeout))

	c, err := env.contracts.Get(ctx, "contract-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, c.Status)
}

func TestFundRejectsActiveContract(t *testing.T) {
	env := newTestEnv(t)
	seedContract(t, env, StatusActive, WorkflowActive)

	_, err := env.contracts.Fund(context.Background(), "contract-1")
	require.True(t, errutil.HasStatus(err, errutil.StatusInvalidTransition))
}

func TestTransitionToRejectsIllegalMove(t *testing.T) {
	env := newTestEnv(t)
	seedContract(t, env, StatusPending, WorkflowPaymentPending)

	_, err := env.contracts.TransitionTo(context.Background(), "contract-1", StatusCompleted, "brand-1", "")
	require.True(t, errutil.HasStatus(err, errutil.StatusInvalidTransition))
}

func TestTransitionRecordsAuditEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedContract(t, env, StatusActive, WorkflowActive)

	_, err := env.contracts.SubmitDelivery(ctx, "contract-1", "creator-1")
	require.NoError(t, err)

	var events []ContractEvent
	require.NoError(t, env.contracts.db.Where("contract_id = ?", "contract-1").Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, StatusActive, events[0].FromStatus)
	require.Equal(t, StatusPendingDelivery, events[0].ToStatus)
	require.Equal(t, "creator-1", events[0].ActorID)
}

func TestRequestRevisionEnforcesLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedContract(t, env, StatusActive, WorkflowActive)

	for i := 0; i < 3; i++ {
		_, err := env.contracts.SubmitDelivery(ctx, "contract-1", "creator-1")
		require.NoError(t, err)
		c, err := env.contracts.RequestRevision(ctx, "contract-1", "brand-1", "tighten the edit")
		require.NoError(t, err)
		require.Equal(t, i+1, c.RevisionCount)
		_, err = env.contracts.TransitionTo(ctx, "contract-1", StatusPendingDelivery, "creator-1", "")
		require.NoError(t, err)
	}

	_, err := env.contracts.RequestRevision(ctx, "contract-1", "brand-1", "one more pass")
	require.True(t, errutil.HasStatus(err, errutil.StatusRevisionLimit))
}

func TestApproveDeliveryCreatesEscrow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedContract(t, env, StatusPendingDelivery, WorkflowActive)

	c, err := env.contracts.ApproveDelivery(ctx, "contract-1", "brand-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, c.Status)
	require.Equal(t, WorkflowWaitingReview, c.WorkflowStatus)
	require.NotNil(t, c.CompletedAt)

	jp, err := env.payments.GetByContract(ctx, "contract-1")
	require.NoError(t, err)
	require.NotNil(t, jp)
	require.Equal(t, payment.StatusPending, jp.Status)
	require.Equal(t, "950.00", jp.CreatorAmount.StringFixed(2))

	// No credit yet: release waits for the creator review.
	b, err := env.balances.Get(ctx, "creator-1")
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestCreatorReviewReleasesPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedContract(t, env, StatusPendingDelivery, WorkflowActive)

	_, err := env.contracts.ApproveDelivery(ctx, "contract-1", "brand-1")
	require.NoError(t, err)

	// Brand review alone does not release anything.
	c, err := env.contracts.MarkReview(ctx, "contract-1", false)
	require.NoError(t, err)
	require.True(t, c.HasBrandReview)
	require.Equal(t, WorkflowWaitingReview, c.WorkflowStatus)

	c, err = env.contracts.MarkReview(ctx, "contract-1", true)
	require.NoError(t, err)
	require.True(t, c.HasBothReviews)

	c, err = env.contracts.Get(ctx, "contract-1")
	require.NoError(t, err)
	require.Equal(t, WorkflowPaymentAvailable, c.WorkflowStatus)

	b, err := env.balances.Get(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, "950.00", b.AvailableBalance.StringFixed(2))

	jp, err := env.payments.GetByContract(ctx, "contract-1")
	require.NoError(t, err)
	require.Equal(t, payment.StatusCompleted, jp.Status)
}

func TestReleasePaymentIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedContract(t, env, StatusPendingDelivery, WorkflowActive)

	_, err := env.contracts.ApproveDelivery(ctx, "contract-1", "brand-1")
	require.NoError(t, err)

	_, err = env.contracts.ReleasePayment(ctx, "contract-1")
	require.NoError(t, err)
	_, err = env.contracts.ReleasePayment(ctx, "contract-1")
	require.NoError(t, err)

	b, err := env.balances.Get(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, "950.00", b.AvailableBalance.StringFixed(2))
	require.Equal(t, "950.00", b.TotalEarned.StringFixed(2))
}

func TestSweepCampaignReleasesEveryPendingEscrow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedContract(t, env, StatusPendingDelivery, WorkflowActive)

	_, err := env.contracts.ApproveDelivery(ctx, "contract-1", "brand-1")
	require.NoError(t, err)

	require.NoError(t, env.contracts.SweepCampaign(ctx, "campaign-1"))

	b, err := env.balances.Get(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, "950.00", b.AvailableBalance.StringFixed(2))

	c, err := env.contracts.Get(ctx, "contract-1")
	require.NoError(t, err)
	require.Equal(t, WorkflowPaymentAvailable, c.WorkflowStatus)

	// A second sweep finds nothing pending.
	require.NoError(t, env.contracts.SweepCampaign(ctx, "campaign-1"))
	b, err = env.balances.Get(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, "950.00", b.TotalEarned.StringFixed(2))
}

func TestResolveDisputeForCreator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedContract(t, env, StatusDisputed, WorkflowActive)

	c, err := env.contracts.ResolveDispute(ctx, "contract-1", "admin-1", OutcomeCompleted, WinnerCreator, "work was delivered")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, c.Status)

	b, err := env.balances.Get(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, "950.00", b.AvailableBalance.StringFixed(2))
}

func TestResolveDisputeForBrand(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedContract(t, env, StatusDisputed, WorkflowActive)

	c, err := env.contracts.ResolveDispute(ctx, "contract-1", "admin-1", OutcomeCancelled, WinnerBrand, "no delivery")
	require.NoError(t, err)
	require.Equal(t, StatusTerminated, c.Status)
	require.Equal(t, WorkflowTerminated, c.WorkflowStatus)

	// Nothing was credited.
	b, err := env.balances.Get(ctx, "creator-1")
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestResolveDisputeRequiresDisputedStatus(t *testing.T) {
	env := newTestEnv(t)
	seedContract(t, env, StatusActive, WorkflowActive)

	_, err := env.contracts.ResolveDispute(context.Background(), "contract-1", "admin-1", OutcomeCompleted, WinnerCreator, "")
	require.True(t, errutil.HasStatus(err, errutil.StatusInvalidTransition))
}

func TestMarkPaymentWithdrawn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedContract(t, env, StatusCompleted, WorkflowPaymentAvailable)

	c, err := env.contracts.MarkPaymentWithdrawn(ctx, "contract-1")
	require.NoError(t, err)
	require.Equal(t, WorkflowPaymentWithdrawn, c.WorkflowStatus)

	_, err = env.contracts.MarkPaymentWithdrawn(ctx, "contract-1")
	require.True(t, errutil.HasStatus(err, errutil.StatusInvalidTransition))
}
