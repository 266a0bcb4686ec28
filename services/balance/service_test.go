package balance

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"creatorlink-marketplace/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &CreatorBalance{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node})
}

func TestEnsureExistsCreatesZeroedRow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b, err := svc.EnsureExists(ctx, nil, "creator-1")
	require.NoError(t, err)
	require.Equal(t, "creator-1", b.CreatorID)
	require.Equal(t, "0.00", b.AvailableBalance.StringFixed(2))

	again, err := svc.EnsureExists(ctx, nil, "creator-1")
	require.NoError(t, err)
	require.Equal(t, b.ID, again.ID)
}

func TestServicePersistsOperationResults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddPending(ctx, nil, "creator-1", dec("950.00"))
	require.NoError(t, err)
	_, err = svc.MovePendingToAvailable(ctx, nil, "creator-1", dec("950.00"))
	require.NoError(t, err)
	_, err = svc.Debit(ctx, nil, "creator-1", dec("200.00"))
	require.NoError(t, err)
	_, err = svc.Recredit(ctx, nil, "creator-1", dec("200.00"))
	require.NoError(t, err)

	b, err := svc.Get(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, "950.00", b.AvailableBalance.StringFixed(2))
	require.Equal(t, "0.00", b.PendingBalance.StringFixed(2))
	require.Equal(t, "950.00", b.TotalEarned.StringFixed(2))
	require.Equal(t, "0.00", b.TotalWithdrawn.StringFixed(2))
	require.NoError(t, b.CheckInvariant())
}

func TestFailedOperationLeavesRowUntouched(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddEarning(ctx, nil, "creator-1", dec("50.00"))
	require.NoError(t, err)

	_, err = svc.Debit(ctx, nil, "creator-1", dec("60.00"))
	require.Error(t, err)

	b, err := svc.Get(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, "50.00", b.AvailableBalance.StringFixed(2))
	require.Equal(t, "0.00", b.TotalWithdrawn.StringFixed(2))
}
