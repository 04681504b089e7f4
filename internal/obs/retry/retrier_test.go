package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	}, Policy{Name: "test_success", Attempts: 5, Backoff: ExpoJitter{Base: time.Millisecond}})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoNonRetryable(t *testing.T) {
	calls := 0
	exhausted := false
	err := Do(context.Background(), func() error {
		calls++
		return errBoom
	}, Policy{
		Name:      "test_permanent",
		Attempts:  5,
		Backoff:   ExpoJitter{Base: time.Millisecond},
		Retryable: func(error) bool { return false },
		OnExhaust: func(error) { exhausted = true },
	})

	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, calls)
	require.True(t, exhausted)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return errBoom
	}, Policy{Name: "test_exhaust", Attempts: 3, Backoff: ExpoJitter{Base: time.Millisecond}})

	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 3, calls)
}

func TestDoHonoursHint(t *testing.T) {
	var stamps []time.Time
	err := Do(context.Background(), func() error {
		stamps = append(stamps, time.Now())
		if len(stamps) == 1 {
			return errBoom
		}
		return nil
	}, Policy{
		Name:     "test_hint",
		Attempts: 2,
		Backoff:  ExpoJitter{Base: time.Hour},
		Hint:     func(error) (time.Duration, bool) { return 20 * time.Millisecond, true },
	})

	require.NoError(t, err)
	require.Len(t, stamps, 2)
	require.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 20*time.Millisecond)
}

func TestHintCappedByMaxHint(t *testing.T) {
	p := Policy{
		Hint:    func(error) (time.Duration, bool) { return time.Hour, true },
		MaxHint: time.Second,
	}
	require.Equal(t, time.Second, p.wait(0, errBoom))
}

func TestDoCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, func() error { return errBoom }, Policy{
		Name: "test_cancel", Attempts: 3, Backoff: ExpoJitter{Base: time.Second},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExpoJitterBounds(t *testing.T) {
	b := ExpoJitter{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0.2}
	for i := 0; i < 10; i++ {
		d := b.Next(i)
		require.LessOrEqual(t, d, 1200*time.Millisecond)
		require.GreaterOrEqual(t, d, 80*time.Millisecond)
	}
}

func TestDoWithoutPolicyCallsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return errBoom
	}, Policy{})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, calls)
}

func TestDeliveryPolicyUsesClassifiers(t *testing.T) {
	transient := errors.New("503")
	p := DeliveryPolicy(DeliveryConfig{Attempts: 3, Base: time.Millisecond, Max: 10 * time.Millisecond},
		func(err error) bool { return errors.Is(err, transient) },
		func(error) (time.Duration, bool) { return time.Hour, true },
		nil,
	)
	require.Equal(t, 3, p.Attempts)
	require.True(t, p.Retryable(transient))
	require.False(t, p.Retryable(errBoom))
	require.Equal(t, 10*time.Millisecond, p.wait(0, transient), "retry-after is capped by Max")
}
