package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClock implements Clock with manual time control.
type mockClock struct {
	mu      sync.Mutex
	current time.Time
}

func newMockClock(start time.Time) *mockClock {
	return &mockClock{current: start}
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	mc := newMockClock(time.Now())

	transitions := make(chan [2]CircuitState, 8)
	cb := NewCircuitBreaker(&CircuitBreakerPolicy{
		Enabled:          true,
		FailureThreshold: 2,
		ResetTimeout:     100 * time.Millisecond,
		OnStateChange: func(from, to CircuitState) {
			transitions <- [2]CircuitState{from, to}
		},
	})
	cb.clock = mc

	assert.Equal(t, StateClosed, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))

	dummy := errors.New("dummy")
	assert.Same(t, dummy, cb.Execute(func() error { return dummy }))
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(func() error { return dummy })
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	// Past the timeout the next call probes and closes the circuit.
	mc.Advance(150 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	got := map[[2]CircuitState]bool{}
	for range 3 {
		select {
		case tr := <-transitions:
			got[tr] = true
		case <-time.After(time.Second):
			t.Fatal("missing transition callback")
		}
	}
	assert.True(t, got[[2]CircuitState{StateClosed, StateOpen}])
	assert.True(t, got[[2]CircuitState{StateOpen, StateHalfOpen}])
	assert.True(t, got[[2]CircuitState{StateHalfOpen, StateClosed}])
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	mc := newMockClock(time.Now())
	cb := NewCircuitBreaker(&CircuitBreakerPolicy{Enabled: true, FailureThreshold: 1, ResetTimeout: time.Second})
	cb.clock = mc

	_ = cb.Execute(func() error { return errors.New("down") })
	require.Equal(t, StateOpen, cb.State())

	mc.Advance(2 * time.Second)
	_ = cb.Execute(func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SingleHalfOpenProbe(t *testing.T) {
	mc := newMockClock(time.Now())
	cb := NewCircuitBreaker(&CircuitBreakerPolicy{Enabled: true, FailureThreshold: 1, ResetTimeout: time.Second})
	cb.clock = mc

	_ = cb.Execute(func() error { return errors.New("down") })
	mc.Advance(2 * time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error { <-release; return nil })
	}()

	require.Eventually(t, func() bool { return cb.State() == StateHalfOpen }, time.Second, time.Millisecond)
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Disabled(t *testing.T) {
	cb := NewCircuitBreaker(nil)
	for range 10 {
		_ = cb.Execute(func() error { return errors.New("x") })
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "Half-Open", StateHalfOpen.String())
	assert.Equal(t, "Unknown", CircuitState(9).String())
}
