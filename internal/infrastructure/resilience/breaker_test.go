package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 3})

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Execute(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 3, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(func() error {
		t.Fatal("call admitted while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errBoom })
	}
	require.NoError(t, b.Execute(func() error { return nil }))
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errBoom })
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 1, OpenTimeout: 10 * time.Millisecond})

	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 1, OpenTimeout: 10 * time.Millisecond})

	_ = b.Execute(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	assert.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerStateTransitionCallback(t *testing.T) {
	var transitions []State
	b := New("test", Settings{
		FailureThreshold: 1,
		OpenTimeout:      time.Minute,
		OnStateChange: func(name string, from, to State) {
			assert.Equal(t, "test", name)
			transitions = append(transitions, to)
		},
	})

	_ = b.Execute(func() error { return errBoom })
	assert.Equal(t, []State{StateOpen}, transitions)
}
