package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"creatorlink-marketplace/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Transaction{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node})
}

func record(t *testing.T, svc *Service, creatorID, amount string, entryType EntryType) *Transaction {
	t.Helper()
	entry, err := svc.Record(context.Background(), nil, RecordParams{
		CreatorID:     creatorID,
		Type:          entryType,
		Amount:        decimal.RequireFromString(amount),
		ReferenceType: RefContract,
		ReferenceID:   "contract-1",
		Description:   "test entry",
	})
	require.NoError(t, err)
	return entry
}

func TestRecordChainsFromGenesis(t *testing.T) {
	svc := newTestService(t)

	first := record(t, svc, "creator-1", "950.00", TypeEscrowCredit)
	require.Equal(t, "GENESIS", first.PreviousHash)
	require.NotEmpty(t, first.Hash)
	require.Equal(t, first.GenerateHash(), first.Hash)

	second := record(t, svc, "creator-1", "-100.00", TypeWithdrawalDebit)
	require.Equal(t, first.Hash, second.PreviousHash)
}

func TestChainsAreIndependentPerCreator(t *testing.T) {
	svc := newTestService(t)

	record(t, svc, "creator-1", "10.00", TypeEscrowCredit)
	other := record(t, svc, "creator-2", "20.00", TypeEscrowCredit)
	require.Equal(t, "GENESIS", other.PreviousHash)
}

func TestVerifyChain(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	record(t, svc, "creator-1", "950.00", TypeEscrowCredit)
	record(t, svc, "creator-1", "-100.00", TypeWithdrawalDebit)
	record(t, svc, "creator-1", "100.00", TypeWithdrawalRefund)

	ok, err := svc.VerifyChain(ctx, "creator-1")
	require.NoError(t, err)
	require.True(t, ok)
}

// Entries written back to back land on the same created_at at sqlite's
// resolution; the chain must still stay linear.
func TestRapidEntriesDoNotForkChain(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var previous *Transaction
	for i := 0; i < 10; i++ {
		entry := record(t, svc, "creator-1", fmt.Sprintf("%d.00", i+1), TypeEscrowCredit)
		if previous != nil {
			require.Equal(t, previous.Hash, entry.PreviousHash)
		}
		previous = entry
	}

	ok, err := svc.VerifyChain(ctx, "creator-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	entry := record(t, svc, "creator-1", "950.00", TypeEscrowCredit)
	record(t, svc, "creator-1", "-100.00", TypeWithdrawalDebit)

	require.NoError(t, svc.db.Model(&Transaction{}).
		Where("id = ?", entry.ID).
		Update("amount", decimal.RequireFromString("1.00")).Error)

	ok, err := svc.VerifyChain(ctx, "creator-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListByReference(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	record(t, svc, "creator-1", "950.00", TypeEscrowCredit)

	entries, err := svc.ListByReference(ctx, RefContract, "contract-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, TypeEscrowCredit, entries[0].Type)
}
