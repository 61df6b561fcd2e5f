package coordination_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
	"github.com/pglemos/ml-bling-sync/internal/coordination"
)

func TestStoreGuard_TripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	guard := coordination.NewStoreGuard("test", coordination.GuardConfig{
		FailureThreshold: 2,
		OpenTimeout:      time.Hour,
	}, infralogger.NewNop())

	boom := errors.New("dial tcp: connection refused")
	calls := 0
	fn := func() error {
		calls++
		return boom
	}

	require.ErrorIs(t, guard.Do(fn), boom)
	require.ErrorIs(t, guard.Do(fn), boom)

	err := guard.Do(fn)
	assert.True(t, coordination.IsRejection(err))
	assert.Equal(t, 2, calls)
	assert.Equal(t, "open", guard.State())
}

func TestStoreGuard_IgnoresCancellation(t *testing.T) {
	t.Parallel()

	guard := coordination.NewStoreGuard("test", coordination.GuardConfig{FailureThreshold: 1}, infralogger.NewNop())

	for range 3 {
		require.ErrorIs(t, guard.Do(func() error { return context.Canceled }), context.Canceled)
	}
	assert.Equal(t, "closed", guard.State())
}
