package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSplitFee(t *testing.T) {
	budget := decimal.RequireFromString("1000.00")
	rate := decimal.RequireFromString("0.05")

	fee, creator := SplitFee(budget, rate)

	require.True(t, fee.Equal(decimal.RequireFromString("50.00")), "fee = %s", fee)
	require.True(t, creator.Equal(decimal.RequireFromString("950.00")), "creator = %s", creator)
}

func TestSplitFeeAlwaysReconciles(t *testing.T) {
	rate := decimal.RequireFromString("0.05")
	for _, raw := range []string{"0.01", "0.10", "33.33", "99.99", "123.45", "10000.01"} {
		budget := decimal.RequireFromString(raw)
		fee, creator := SplitFee(budget, rate)
		require.True(t, fee.Add(creator).Equal(budget), "budget %s: %s + %s", raw, fee, creator)
	}
}

func TestRound2(t *testing.T) {
	got := Round2(decimal.RequireFromString("10.005"))
	require.Equal(t, "10.01", got.StringFixed(2))
}

func TestRequirePositive(t *testing.T) {
	require.NoError(t, RequirePositive(decimal.RequireFromString("0.01"), "amount"))
	require.Error(t, RequirePositive(decimal.Zero, "amount"))
	require.Error(t, RequirePositive(decimal.RequireFromString("-1"), "amount"))

	require.NoError(t, RequireNonNegative(decimal.Zero, "amount"))
	require.Error(t, RequireNonNegative(decimal.RequireFromString("-0.01"), "amount"))
}
