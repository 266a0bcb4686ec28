package milestone

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"creatorlink-marketplace/pkg/chat"
	"creatorlink-marketplace/pkg/config"
	"creatorlink-marketplace/pkg/errutil"
	"creatorlink-marketplace/pkg/notify"
	"creatorlink-marketplace/services/contract"
	"creatorlink-marketplace/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Milestone{}, &CreatorSanction{}, &contract.Contract{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Penalties.SuspensionDays = 7
	cfg.Penalties.OverdueGraceDay = 7
	cfg.Penalties.OverdueLimit = 2

	return NewService(ServiceParams{DB: db, Node: node, Config: cfg, Notifier: notify.Nop{}, Chat: chat.Nop{}})
}

func seedTimeline(t *testing.T, svc *Service, contractID string, deadlines ...time.Time) []*Milestone {
	t.Helper()
	c := &contract.Contract{
		ID:         contractID,
		BrandID:    "brand-1",
		CreatorID:  "creator-1",
		Status:     contract.StatusActive,
		Phase:      contract.PhaseAlignment,
		ChatRoomID: "room-" + contractID,
	}
	require.NoError(t, svc.db.Create(c).Error)

	out := make([]*Milestone, 0, len(deadlines))
	for i, deadline := range deadlines {
		status := StatusPending
		if i == 0 {
			status = StatusInProgress
		}
		m := &Milestone{
			ID:         fmt.Sprintf("%s-m%d", contractID, i+1),
			ContractID: contractID,
			CreatorID:  "creator-1",
			BrandID:    "brand-1",
			Title:      fmt.Sprintf("step %d", i+1),
			Order:      i + 1,
			Status:     status,
			Deadline:   deadline,
		}
		require.NoError(t, svc.db.Create(m).Error)
		out = append(out, m)
	}
	return out
}

func future(days int) time.Time { return time.Now().AddDate(0, 0, days) }

func TestApproveAdvancesToNextInOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ms := seedTimeline(t, svc, "contract-1", future(5), future(7), future(17), future(20))

	_, err := svc.Submit(ctx, ms[0].ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, ms[0].ID)
	require.NoError(t, err)

	next, err := svc.Get(ctx, ms[1].ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, next.Status)

	later, err := svc.Get(ctx, ms[2].ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, later.Status)

	var c contract.Contract
	require.NoError(t, svc.db.First(&c, "id = ?", "contract-1").Error)
	require.Equal(t, contract.PhaseCreation, c.Phase)
}

func TestApprovingLastMilestoneMovesPhaseToPayment(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ms := seedTimeline(t, svc, "contract-1", future(5))

	_, err := svc.Submit(ctx, ms[0].ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, ms[0].ID)
	require.NoError(t, err)

	var c contract.Contract
	require.NoError(t, svc.db.First(&c, "id = ?", "contract-1").Error)
	require.Equal(t, contract.PhasePayment, c.Phase)
}

func TestOrderIsNeverSkipped(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ms := seedTimeline(t, svc, "contract-1", future(5), future(7), future(17))

	// The second milestone is still pending, so it cannot be submitted.
	_, err := svc.Submit(ctx, ms[1].ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusInvalidTransition))

	// And an unsubmitted milestone cannot be approved.
	_, err = svc.Approve(ctx, ms[0].ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusInvalidTransition))
}

func TestRequestChangesRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ms := seedTimeline(t, svc, "contract-1", future(5), future(7))

	_, err := svc.RequestChanges(ctx, ms[0].ID, "needs captions")
	require.True(t, errutil.HasStatus(err, errutil.StatusInvalidTransition))

	_, err = svc.Submit(ctx, ms[0].ID)
	require.NoError(t, err)

	m, err := svc.RequestChanges(ctx, ms[0].ID, "needs captions")
	require.NoError(t, err)
	require.Equal(t, StatusChangesRequested, m.Status)
	require.Equal(t, "needs captions", m.Feedback)

	m, err = svc.Submit(ctx, ms[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, m.Status)
}

func TestSweepFlagsOverdueOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ms := seedTimeline(t, svc, "contract-1", time.Now().Add(-24*time.Hour), future(7))

	now := time.Now()
	require.NoError(t, svc.SweepDeadlines(ctx, now))

	m, err := svc.Get(ctx, ms[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusDelayed, m.Status)
	require.NotNil(t, m.DelayNotifiedAt)
	first := *m.DelayNotifiedAt

	// A delayed milestone can still be submitted.
	_, err = svc.Submit(ctx, ms[0].ID)
	require.NoError(t, err)

	// The second sweep skips already-notified rows.
	require.NoError(t, svc.SweepDeadlines(ctx, time.Now()))
	m, err = svc.Get(ctx, ms[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, m.Status)
	require.True(t, m.DelayNotifiedAt.Equal(first))
}

func TestAllOverdueTimelineKeepsStrictOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	past := time.Now().Add(-24 * time.Hour)
	ms := seedTimeline(t, svc, "contract-1", past, past, past, past)

	require.NoError(t, svc.SweepDeadlines(ctx, time.Now()))

	// Only the started milestone becomes delayed. The rest are notified but
	// stay locked in pending.
	m, err := svc.Get(ctx, ms[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusDelayed, m.Status)
	for _, locked := range ms[1:] {
		m, err = svc.Get(ctx, locked.ID)
		require.NoError(t, err)
		require.Equal(t, StatusPending, m.Status)
		require.NotNil(t, m.DelayNotifiedAt)
	}

	_, err = svc.Submit(ctx, ms[2].ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusInvalidTransition))

	// Approving the first milestone advances one step, never straight to
	// payment while the rest are unapproved.
	_, err = svc.Submit(ctx, ms[0].ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, ms[0].ID)
	require.NoError(t, err)

	next, err := svc.Get(ctx, ms[1].ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, next.Status)

	var c contract.Contract
	require.NoError(t, svc.db.First(&c, "id = ?", "contract-1").Error)
	require.Equal(t, contract.PhaseCreation, c.Phase)
}

func TestAdvanceTreatsDelayedAsOpen(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ms := seedTimeline(t, svc, "contract-1", future(5), future(7))

	require.NoError(t, svc.db.Model(&Milestone{}).Where("id = ?", ms[0].ID).Update("status", StatusDelayed).Error)
	require.NoError(t, svc.db.Model(&Milestone{}).Where("id = ?", ms[1].ID).Update("status", StatusSubmitted).Error)

	_, err := svc.Approve(ctx, ms[1].ID)
	require.NoError(t, err)

	var c contract.Contract
	require.NoError(t, svc.db.First(&c, "id = ?", "contract-1").Error)
	require.Equal(t, contract.PhaseAlignment, c.Phase)
}

func TestSweepSuspendsRepeatOffender(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedTimeline(t, svc, "contract-1", time.Now().Add(-48*time.Hour))
	seedTimeline(t, svc, "contract-2", time.Now().Add(-24*time.Hour))

	now := time.Now()
	require.NoError(t, svc.SweepDeadlines(ctx, now))

	sanction, err := svc.Sanction(ctx, "creator-1")
	require.NoError(t, err)
	require.NotNil(t, sanction.SuspendedUntil)
	firstUntil := *sanction.SuspendedUntil
	require.InDelta(t, float64(7*24), firstUntil.Sub(now).Hours(), 1.0)

	// Sweeping again while suspended must not extend the suspension.
	require.NoError(t, svc.SweepDeadlines(ctx, time.Now()))
	sanction, err = svc.Sanction(ctx, "creator-1")
	require.NoError(t, err)
	require.True(t, sanction.SuspendedUntil.Equal(firstUntil))
}

func TestSingleOverdueMilestoneIsNotSuspended(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedTimeline(t, svc, "contract-1", time.Now().Add(-24*time.Hour), future(7))

	require.NoError(t, svc.SweepDeadlines(ctx, time.Now()))

	sanction, err := svc.Sanction(ctx, "creator-1")
	require.NoError(t, err)
	require.Nil(t, sanction.SuspendedUntil)
}

func TestSweepAppliesDelayPenaltyOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ms := seedTimeline(t, svc, "contract-1", time.Now().AddDate(0, 0, -8), future(7))

	require.NoError(t, svc.SweepDeadlines(ctx, time.Now()))

	m, err := svc.Get(ctx, ms[0].ID)
	require.NoError(t, err)
	require.True(t, m.PenaltyApplied)

	sanction, err := svc.Sanction(ctx, "creator-1")
	require.NoError(t, err)
	require.NotNil(t, sanction.PenaltyUntil)
	firstUntil := *sanction.PenaltyUntil

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, svc.SweepDeadlines(ctx, time.Now()))
	sanction, err = svc.Sanction(ctx, "creator-1")
	require.NoError(t, err)
	require.True(t, sanction.PenaltyUntil.Equal(firstUntil))
}
