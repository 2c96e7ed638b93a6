package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/smnsjas/go-authsession/session"

// errSkipped is returned by a strategy whose account selection resolved to
// the skip sentinel. It never reaches callers.
var errSkipped = errors.New("session: the user chose to skip this provider")

// strategy is one element of the fallback chain.
type strategy struct {
	provider Provider
	method   Method
}

// progress returns the stage reported while the strategy retrieves accounts.
func (s strategy) progress() Progress {
	switch s.method {
	case MethodEmbeddedUI:
		return ProgressPresentingAuthUI
	case MethodBrowser:
		return ProgressPresentingBrowser
	default:
		return ProgressAuthorizing
	}
}

// Fallback logs in by walking an ordered chain of provider strategies.
type Fallback struct {
	factories []ProviderFactory
	network   NetworkMonitor
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback)

// WithNetworkMonitor sets the connectivity monitor polled before every strategy.
func WithNetworkMonitor(n NetworkMonitor) FallbackOption {
	return func(f *Fallback) {
		if n != nil {
			f.network = n
		}
	}
}

// WithFallbackLogger sets the logger.
func WithFallbackLogger(l *slog.Logger) FallbackOption {
	return func(f *Fallback) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithFallbackMetrics sets the metrics sink.
func WithFallbackMetrics(m *Metrics) FallbackOption {
	return func(f *Fallback) {
		f.metrics = m
	}
}

// WithTracer sets the tracer used for login spans.
func WithTracer(t trace.Tracer) FallbackOption {
	return func(f *Fallback) {
		if t != nil {
			f.tracer = t
		}
	}
}

// NewFallback creates a fallback login over the given provider factories,
// tried in order.
func NewFallback(factories []ProviderFactory, opts ...FallbackOption) (*Fallback, error) {
	if len(factories) == 0 {
		return nil, fmt.Errorf("%w: fallback chain is empty", ErrInvalidOperation)
	}
	f := &Fallback{
		factories: slices.Clone(factories),
		network:   AlwaysOnline{},
		logger:    discardLogger(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// chain builds the strategies for one login. Every factory is called once.
func (f *Fallback) chain(opts Options, scope []string) []strategy {
	var strategies []strategy
	for _, factory := range f.factories {
		p := factory()
		if p == nil {
			continue
		}
		if s, ok := p.(Scoper); ok && scope != nil {
			s.SetScope(slices.Clone(scope))
		}
		if u, ok := p.(UIConfigurer); ok {
			u.SetAllowLoginUI(opts.AllowLoginUI)
		}

		strategies = append(strategies, strategy{provider: p, method: MethodSilent})

		if opts.AllowLoginUI && p.SupportsAuthentication() {
			method := MethodBrowser
			if opts.PresentUI != nil {
				method = MethodEmbeddedUI
			}
			if supportsMethod(p, method) {
				strategies = append(strategies, strategy{provider: p, method: method})
			}
		}
	}
	return strategies
}

// Login obtains a session from the first strategy that yields a usable account.
//
// Cancellation and ErrOffline stop the walk immediately, as does
// ErrAmbiguousAccounts. Every other strategy failure is collected and
// returned as a *LoginError once the chain is exhausted.
func (f *Fallback) Login(ctx context.Context, opts Options, scope []string) (*Session, error) {
	ctx, span := f.tracer.Start(ctx, "session.Login")
	defer span.End()

	strategies := f.chain(opts, scope)
	progress := newProgressReporter(opts.Progress)
	progress.Report(ProgressAuthorizing)

	var causes []error
	for i, st := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		allowSkip := i < len(strategies)-1

		s, err := f.tryStrategy(ctx, st, allowSkip, opts, progress)
		if err == nil {
			f.metrics.strategyResult(st.provider.Name(), st.method, "success")
			span.SetAttributes(attribute.String("login.provider", st.provider.Name()))
			return s, nil
		}

		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if IsCancellation(err) {
			f.metrics.strategyResult(st.provider.Name(), st.method, "cancelled")
			return nil, err
		}
		if errors.Is(err, errSkipped) {
			f.metrics.strategyResult(st.provider.Name(), st.method, "skipped")
			f.logger.Debug("login strategy skipped by user",
				"provider", st.provider.Name(), "method", st.method.String())
			continue
		}
		if errors.Is(err, ErrOffline) || errors.Is(err, ErrInvalidOperation) {
			f.metrics.strategyResult(st.provider.Name(), st.method, "fatal")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		f.metrics.strategyResult(st.provider.Name(), st.method, "failure")
		f.logger.Debug("login strategy failed",
			"provider", st.provider.Name(), "method", st.method.String(), "error", err)
		causes = append(causes, fmt.Errorf("%s (%s): %w", st.provider.Name(), st.method, err))
	}

	lerr := &LoginError{Causes: causes}
	span.RecordError(lerr)
	span.SetStatus(codes.Error, "all strategies failed")
	return nil, lerr
}

// tryStrategy runs one strategy to completion.
func (f *Fallback) tryStrategy(ctx context.Context, st strategy, allowSkip bool, opts Options, progress *progressReporter) (*Session, error) {
	ctx, span := f.tracer.Start(ctx, "session.LoginStrategy", trace.WithAttributes(
		attribute.String("login.provider", st.provider.Name()),
		attribute.String("login.method", st.method.String()),
	))
	defer span.End()

	// Connectivity can change between interactive steps.
	if !f.network.Available() {
		return nil, ErrOffline
	}

	account, err := f.selectAccount(ctx, st, allowSkip, opts, progress)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if account == nil {
		return nil, errSkipped
	}

	if st.provider.SupportsVerification() {
		if err := st.provider.Verify(ctx, account); err != nil {
			span.RecordError(err)
			if IsCancellation(err) {
				return nil, err
			}
			return nil, fmt.Errorf("account verification failed: %w", err)
		}
	}

	return NewSession(st.provider, account), nil
}

// selectAccount retrieves candidates and resolves ambiguity through the Chooser.
// A nil account with a nil error means the user picked the skip entry; a nil
// choice when no skip entry was offered counts as ErrNoAccounts.
func (f *Fallback) selectAccount(ctx context.Context, st strategy, allowSkip bool, opts Options, progress *progressReporter) (*Account, error) {
	progress.Report(st.progress())
	accounts, err := st.provider.Accounts(ctx, AccountRequest{
		Method:    st.method,
		PresentUI: opts.PresentUI,
	})
	progress.Report(ProgressAuthorizing)
	if err != nil {
		return nil, err
	}

	switch len(accounts) {
	case 0:
		return nil, ErrNoAccounts
	case 1:
		return accounts[0], nil
	}

	if opts.Chooser == nil {
		return nil, ErrAmbiguousAccounts
	}

	candidates := slices.Clone(accounts)
	if allowSkip {
		candidates = append(candidates, nil)
	}

	progress.Report(ProgressPresentingAccountChoice)
	chosen, err := opts.Chooser.Choose(ctx, candidates, AccountLabel)
	progress.Report(ProgressAuthorizing)
	if err != nil {
		return nil, err
	}
	if chosen == nil && !allowSkip {
		return nil, fmt.Errorf("%w: chooser returned no account", ErrNoAccounts)
	}
	return chosen, nil
}

// AccountLabel renders a chooser entry; the skip entry is "Other".
func AccountLabel(a *Account) string {
	if a == nil {
		return "Other"
	}
	return a.Username
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
