package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(opts ...Option) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New("goated", opts...), clock
}

func TestBreaker_Defaults(t *testing.T) {
	b := New("goated")
	assert.Equal(t, 5, b.config.FailureThreshold)
	assert.Equal(t, 120*time.Second, b.config.Cooldown)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	err := b.Allow()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))

	var openErr *OpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, 120*time.Second, openErr.RetryAfter)
}

func TestBreaker_OpenRejectsUntilCooldown(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}

	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Second)
		assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	}
	assert.Equal(t, 5, b.Status().Failures, "rejected calls are not counted")
}

func TestBreaker_ResetsAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	clock.Advance(119 * time.Second)
	err := b.Allow()
	var openErr *OpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, time.Second, openErr.RetryAfter)

	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Status().Failures)
	assert.True(t, b.Status().LastFailureAt.Equal(clock.Now().Add(-120*time.Second)))
}

func TestBreaker_ReopenNeedsFullThresholdAfterReset(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.Advance(2 * time.Minute)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	assert.Equal(t, 0, b.Status().Failures)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	b, clock := newTestBreaker(
		WithFailureThreshold(2),
		WithCooldown(10*time.Second),
		WithOnStateChange(func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(10 * time.Second)
	require.NoError(t, b.Allow())

	assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
}

func TestBreaker_Status(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.Advance(20 * time.Second)

	st := b.Status()
	assert.Equal(t, "goated", st.Name)
	assert.Equal(t, "open", st.State)
	assert.Equal(t, 5, st.Failures)
	assert.Equal(t, 100*time.Second, st.RetryAfter)

	clock.Advance(100 * time.Second)
	require.NoError(t, b.Allow())
	st = b.Status()
	assert.Equal(t, "closed", st.State)
	assert.Zero(t, st.RetryAfter)
}
