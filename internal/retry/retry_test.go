package retry_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pglemos/ml-bling-sync/internal/domain"
	"github.com/pglemos/ml-bling-sync/internal/retry"
)

type transientErr struct {
	msg       string
	permanent bool
}

func (e *transientErr) Error() string   { return e.msg }
func (e *transientErr) Temporary() bool { return !e.permanent }

func fastPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:     maxAttempts,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2,
		Jitter:          true,
	}
}

// failNTimes returns an op that fails k times, then succeeds.
func failNTimes(k int, calls *int) retry.Op {
	return func(context.Context) error {
		*calls++
		if *calls <= k {
			return &transientErr{msg: "attempt failed"}
		}
		return nil
	}
}

func TestDo_SucceedsAfterKFailures(t *testing.T) {
	t.Parallel()

	for k := range 4 {
		calls := 0
		err := retry.Do(context.Background(), fastPolicy(k+1), failNTimes(k, &calls))
		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, k+1, calls)
	}
}

func TestDo_ExhaustedReturnsLastErrorUnmodified(t *testing.T) {
	t.Parallel()

	var last error
	calls := 0
	op := func(context.Context) error {
		calls++
		last = &transientErr{msg: "failure"}
		return last
	}

	err := retry.Do(context.Background(), fastPolicy(3), op)
	assert.Same(t, last, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()

	want := domain.NewValidationError("bad input")
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return want
	})

	assert.Same(t, want, err)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryHook(t *testing.T) {
	t.Parallel()

	var attempts []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, delay time.Duration, _ error) {
		attempts = append(attempts, attempt)
		assert.LessOrEqual(t, delay, 5*time.Millisecond)
	}

	calls := 0
	require.NoError(t, retry.Do(context.Background(), p, failNTimes(2, &calls)))
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour, ExponentialBase: 2}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- retry.Do(ctx, p, func(context.Context) error {
			calls++
			return &transientErr{msg: "x"}
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop on cancel")
	}
}

func TestRunWithBackoff_ReturnsValue(t *testing.T) {
	t.Parallel()

	calls := 0
	v, err := retry.RunWithBackoff(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, &transientErr{msg: "x"}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDelay(t *testing.T) {
	t.Parallel()

	p := retry.DefaultPolicy()
	p.Jitter = false

	assert.Equal(t, time.Second, retry.Delay(p, 1, 0))
	assert.Equal(t, 2*time.Second, retry.Delay(p, 2, 0))
	assert.Equal(t, 4*time.Second, retry.Delay(p, 3, 0))
	assert.Equal(t, 60*time.Second, retry.Delay(p, 10, 0))

	p.Jitter = true
	assert.Equal(t, time.Second, retry.Delay(p, 2, 0))
	assert.Equal(t, 1500*time.Millisecond, retry.Delay(p, 2, 0.5))
	assert.InDelta(t, float64(2*time.Second), float64(retry.Delay(p, 2, 0.999999)), float64(time.Millisecond))
	assert.Equal(t, 30*time.Second, retry.Delay(p, 10, 0))
}

func TestDefaultIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"temporary", &transientErr{msg: "x"}, true},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"wrapped refused dial", fmt.Errorf("call connector: %w", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}), true},
		{"http client error", &url.Error{Op: "Post", URL: "http://connector/sync", Err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}}, true},
		{"permanent", &transientErr{msg: "x", permanent: true}, false},
		{"validation", domain.NewValidationError("x"), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, retry.DefaultIsRetryable(tt.err), tt.name)
	}
}
