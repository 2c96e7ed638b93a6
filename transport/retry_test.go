package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/smnsjas/go-authsession/session"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"context cancelled", context.Canceled, false},
		{"EOF", io.EOF, true},
		{"ErrUnexpectedEOF", io.ErrUnexpectedEOF, true},
		{"circuit open", ErrCircuitOpen, false},
		{"unauthorized", session.NewAPIError(session.KindUnauthorized, 401, "", ErrUnauthorized), false},
		{"service unavailable", session.NewAPIError(session.KindOther, 503, "", nil), true},
		{"internal server error", session.NewAPIError(session.KindOther, 500, "", nil), false},
		{"Net I/O Timeout", errors.New("read tcp 127.0.0.1:443->127.0.0.1:54321: i/o timeout"), true},
		{"Generic Error", errors.New("something went wrong"), false},
		{"Connection Reset", fmt.Errorf("transport: request failed: %w", errors.New("read: connection reset by peer")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryableError(tt.err))
		})
	}
}

func TestCalculateRetryBackoff(t *testing.T) {
	policy := &RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{60, 1 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, calculateRetryBackoff(tt.attempt, policy))
		})
	}

	assert.Equal(t, time.Second, calculateRetryBackoff(1, nil))
}

func TestApplyJitter(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, applyJitter(100*time.Millisecond, 0))
	assert.Equal(t, 100*time.Millisecond, applyJitter(100*time.Millisecond, -0.1))
	assert.Equal(t, 100*time.Millisecond, applyJitter(100*time.Millisecond, 1.5))

	for range 100 {
		got := applyJitter(time.Second, 0.2)
		assert.GreaterOrEqual(t, got, 800*time.Millisecond)
		assert.LessOrEqual(t, got, 1200*time.Millisecond)
	}
}

func TestWithRetry(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	t.Run("stops on success", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), policy, func() error {
			calls++
			if calls < 2 {
				return io.EOF
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("permanent error", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := withRetry(context.Background(), policy, func() error {
			calls++
			return boom
		})
		assert.Same(t, boom, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), policy, func() error {
			calls++
			return io.EOF
		})
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, 4, calls)
	})

	t.Run("nil policy is one attempt", func(t *testing.T) {
		calls := 0
		_ = withRetry(context.Background(), nil, func() error {
			calls++
			return io.EOF
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour}
		err := withRetry(ctx, slow, func() error {
			cancel()
			return io.EOF
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
