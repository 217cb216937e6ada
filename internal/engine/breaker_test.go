package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(clock Clock, threshold int) *CircuitBreaker {
	return NewCircuitBreaker("test", BreakerConfig{
		FailureThreshold:  threshold,
		ResetTimeout:      60 * time.Second,
		HalfOpenSuccesses: 3,
	}, WithBreakerClock(clock))
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 2)
	ctx := context.Background()

	calls := 0
	failing := func(ctx context.Context) error {
		calls++
		return errBoom
	}

	require.ErrorIs(t, cb.Execute(ctx, failing), errBoom)
	assert.Equal(t, StateClosed, cb.State())

	require.ErrorIs(t, cb.Execute(ctx, failing), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	// Third call inside the reset timeout is rejected without invoking
	// the operation.
	err := cb.Execute(ctx, failing)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 2)
	ctx := context.Background()

	failing := func(ctx context.Context) error { return errBoom }
	ok := func(ctx context.Context) error { return nil }

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)
	require.Equal(t, StateOpen, cb.State())

	// Once the reset timeout elapses the next call runs as a trial.
	clock.Advance(61 * time.Second)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, ok))
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Counts().FailureCount)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 2)
	ctx := context.Background()

	failing := func(ctx context.Context) error { return errBoom }

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(61 * time.Second)
	require.ErrorIs(t, cb.Execute(ctx, failing), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	// The new lastFailureTime restarts the cooldown.
	clock.Advance(30 * time.Second)
	require.ErrorIs(t, cb.Execute(ctx, failing), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 3)
	ctx := context.Background()

	_ = cb.Execute(ctx, func(ctx context.Context) error { return errBoom })
	_ = cb.Execute(ctx, func(ctx context.Context) error { return errBoom })
	assert.Equal(t, 2, cb.Counts().FailureCount)

	require.NoError(t, cb.Execute(ctx, func(ctx context.Context) error { return nil }))
	assert.Equal(t, 0, cb.Counts().FailureCount)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_StateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := NewCircuitBreaker("hooked", BreakerConfig{
		FailureThreshold:  1,
		ResetTimeout:      time.Minute,
		HalfOpenSuccesses: 3,
	}, WithBreakerClock(clock), WithStateChangeHook(func(name string, from, to BreakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errBoom })
	require.Equal(t, []string{"closed->open"}, transitions)

	cb.Reset()
	require.Equal(t, []string{"closed->open", "open->closed"}, transitions)
	assert.Equal(t, StateClosed, cb.State())
}
