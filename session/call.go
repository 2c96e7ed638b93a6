package session

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// pass tracks how much recovery a wrapped call may still attempt.
type pass int

const (
	firstPass pass = iota
	noRecoveryPass
)

func (p pass) String() string {
	if p == firstPass {
		return "first"
	}
	return "no-recovery"
}

// WithSession runs call with an authenticated session from m.
//
// If call fails with KindUnauthorized the session is reauthorized and
// call is retried once. If reauthorization fails, or call fails with
// KindForbidden, the session is closed and the whole operation (login
// included) runs once more without further recovery. Every other error
// is returned unchanged.
func WithSession[T any](ctx context.Context, m *Manager, opts Options, scope []string, call func(ctx context.Context, s *Session) (T, error)) (T, error) {
	ctx, span := m.tracer.Start(ctx, "session.WithSession")
	defer span.End()

	res, err := withSession(ctx, m, opts, scope, call, firstPass)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// Do is WithSession for calls without a result.
func Do(ctx context.Context, m *Manager, opts Options, scope []string, call func(ctx context.Context, s *Session) error) error {
	_, err := WithSession(ctx, m, opts, scope, func(ctx context.Context, s *Session) (struct{}, error) {
		return struct{}{}, call(ctx, s)
	})
	return err
}

func withSession[T any](ctx context.Context, m *Manager, opts Options, scope []string, call func(ctx context.Context, s *Session) (T, error), p pass) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if !m.network.Available() {
		return zero, ErrOffline
	}

	s, err := m.GetSession(ctx, opts, scope)
	if err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	res, callErr := call(ctx, s)
	if callErr == nil {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	kind := Classify(callErr)
	if kind != KindUnauthorized && kind != KindForbidden {
		return res, callErr
	}

	m.logger.Debug("authenticated call rejected",
		"kind", kind.String(), "pass", p.String(), "provider", s.provider.Name())

	if kind == KindUnauthorized && p == firstPass {
		fresh, reauthErr := reauthorize(ctx, m, s)
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if reauthErr == nil {
			if err := m.SetSession(fresh, true); err != nil {
				return zero, err
			}
			if err := ctx.Err(); err != nil {
				return zero, err
			}
			return call(ctx, fresh)
		}
		if IsCancellation(reauthErr) {
			return zero, reauthErr
		}
	}

	m.metrics.recovery("logout")
	m.security.LogSession(SubtypeSessionForced, OutcomeDenied, SeverityWarning,
		s.account.Username, s.provider.Name(), map[string]any{"kind": kind.String(), "pass": p.String()})
	if err := m.CloseSession(); err != nil {
		return zero, err
	}
	if p == noRecoveryPass {
		return res, callErr
	}

	m.metrics.recovery("relogin")
	return withSession(ctx, m, opts, scope, call, noRecoveryPass)
}

func reauthorize(ctx context.Context, m *Manager, s *Session) (*Session, error) {
	ctx, span := m.tracer.Start(ctx, "session.Reauthorize")
	defer span.End()
	span.SetAttributes(attribute.String("login.provider", s.provider.Name()))

	fresh, err := s.Reauthorize(ctx)
	if err != nil {
		span.RecordError(err)
		m.metrics.recovery("reauthorize_failed")
		m.security.LogReauthorization(SubtypeAuthFailure, OutcomeFailure, SeverityWarning,
			s.account.Username, s.provider.Name(), map[string]any{"error": err.Error()})
		return nil, err
	}

	m.metrics.recovery("reauthorize")
	m.security.LogReauthorization(SubtypeAuthSuccess, OutcomeSuccess, SeverityInfo,
		fresh.account.Username, s.provider.Name(), nil)
	return fresh, nil
}
