package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextRunTime(t *testing.T) {
	loc := time.UTC

	before := time.Date(2026, 3, 10, 1, 30, 0, 0, loc)
	next := nextRunTime(before, 2, 0)
	require.Equal(t, time.Date(2026, 3, 10, 2, 0, 0, 0, loc), next)

	after := time.Date(2026, 3, 10, 2, 30, 0, 0, loc)
	next = nextRunTime(after, 2, 0)
	require.Equal(t, time.Date(2026, 3, 11, 2, 0, 0, 0, loc), next)
}
