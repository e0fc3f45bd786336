//go:build !integration

package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func failing() error { return errUpstream }
func succeeding() error { return nil }

func newTestBreaker() (*CircuitBreaker, *time.Time) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := New(Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Name:             "test",
	})
	cb.nowFunc = func() time.Time { return now }
	return cb, &now
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestClosedPassesThrough(t *testing.T) {
	cb, _ := newTestBreaker()

	err := cb.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker()

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), failing)
		assert.ErrorIs(t, err, errUpstream)
	}
	assert.Equal(t, StateOpen, cb.State())

	// Calls are rejected without reaching fn while open.
	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker()

	require.Error(t, cb.Execute(context.Background(), failing))
	require.Error(t, cb.Execute(context.Background(), failing))
	require.NoError(t, cb.Execute(context.Background(), succeeding))
	require.Error(t, cb.Execute(context.Background(), failing))
	require.Error(t, cb.Execute(context.Background(), failing))

	// Never three consecutive failures, so still closed.
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbeAfterTimeout(t *testing.T) {
	cb, now := newTestBreaker()

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Execute(context.Background(), failing))
	}
	require.Equal(t, StateOpen, cb.State())

	*now = now.Add(31 * time.Second)

	// First probe succeeds; still half-open until SuccessThreshold.
	require.NoError(t, cb.Execute(context.Background(), succeeding))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), succeeding))
	assert.Equal(t, StateClosed, cb.State())
}

func TestFailedProbeReopens(t *testing.T) {
	cb, now := newTestBreaker()

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Execute(context.Background(), failing))
	}
	*now = now.Add(31 * time.Second)

	require.Error(t, cb.Execute(context.Background(), failing))
	assert.Equal(t, StateOpen, cb.State())

	// The reopen restarted the open timeout.
	err := cb.Execute(context.Background(), succeeding)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestGetStats(t *testing.T) {
	cb, _ := newTestBreaker()

	st := cb.GetStats()
	assert.Equal(t, "closed", st.State)
	assert.True(t, st.Healthy)
	assert.Zero(t, st.Failures)

	require.Error(t, cb.Execute(context.Background(), failing))
	require.Error(t, cb.Execute(context.Background(), failing))
	require.Error(t, cb.Execute(context.Background(), failing))

	st = cb.GetStats()
	assert.Equal(t, "open", st.State)
	assert.False(t, st.Healthy)
	assert.Equal(t, 3, st.Failures)
	assert.False(t, st.LastFailure.IsZero())
}
