package errutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasStatus(t *testing.T) {
	err := InsufficientBalance("Saldo insuficiente para o saque")
	require.True(t, HasStatus(err, StatusInsufficientBalance))
	require.False(t, HasStatus(err, StatusNotFound))

	wrapped := fmt.Errorf("creating withdrawal: %w", err)
	require.True(t, HasStatus(wrapped, StatusInsufficientBalance))

	require.False(t, HasStatus(errors.New("plain"), StatusInternal))
	require.False(t, HasStatus(nil, StatusInternal))
}

func TestWithErrKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := GatewayError("charge failed", WithErr(cause))

	require.True(t, errors.Is(err, cause))
	require.Contains(t, err.Error(), "charge failed")
}
