package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// LoginFunc performs one login. (*Fallback).Login is the usual implementation.
type LoginFunc func(ctx context.Context, opts Options, scope []string) (*Session, error)

// Config configures a Manager.
type Config struct {
	// Name identifies the manager in logs and metrics.
	Name string

	// Providers is the fallback chain. Ignored when Login is set.
	Providers []ProviderFactory

	// Login replaces the fallback chain.
	Login LoginFunc

	// Network is polled before every login strategy and wrapped call.
	// Default: AlwaysOnline.
	Network NetworkMonitor

	// Logger receives debug and security events. Default: discard.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *Metrics

	// Tracer is optional. Default: the global otel tracer provider.
	Tracer trace.Tracer

	// CleanupTimeout bounds SaveAccount and DeleteAccount calls made
	// by the manager itself. Default: 10s.
	CleanupTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:           "default",
		Network:        AlwaysOnline{},
		CleanupTimeout: 10 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Login == nil && len(c.Providers) == 0 {
		return errors.New("either a login function or at least one provider is required")
	}
	if c.CleanupTimeout < 0 {
		return errors.New("cleanup timeout must not be negative")
	}
	return nil
}

// Manager owns the lifecycle of a single authenticated session.
//
// All state lives on an owner goroutine. Public methods are safe for
// concurrent use and block until the owner has handled them.
type Manager struct {
	name           string
	login          LoginFunc
	network        NetworkMonitor
	logger         *slog.Logger
	security       *SecurityLogger
	metrics        *Metrics
	tracer         trace.Tracer
	cleanupTimeout time.Duration

	ops         chan func()
	stop        chan struct{}
	stopped     chan struct{}
	stopOnce    sync.Once
	dispatching atomic.Bool
	notifier    *notifier

	// Owner goroutine only.
	cur slot
}

// NewManager creates a Manager and starts its owner goroutine.
// Call Shutdown to release it.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Network == nil {
		cfg.Network = AlwaysOnline{}
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.CleanupTimeout == 0 {
		cfg.CleanupTimeout = 10 * time.Second
	}

	login := cfg.Login
	if login == nil {
		fb, err := NewFallback(cfg.Providers,
			WithNetworkMonitor(cfg.Network),
			WithFallbackLogger(cfg.Logger),
			WithFallbackMetrics(cfg.Metrics),
			WithTracer(cfg.Tracer),
		)
		if err != nil {
			return nil, err
		}
		login = fb.Login
	}

	m := &Manager{
		name:           cfg.Name,
		login:          login,
		network:        cfg.Network,
		logger:         cfg.Logger.With("manager", cfg.Name),
		metrics:        cfg.Metrics,
		tracer:         cfg.Tracer,
		cleanupTimeout: cfg.CleanupTimeout,
		ops:            make(chan func()),
		stop:           make(chan struct{}),
		stopped:        make(chan struct{}),
		notifier:       newNotifier(),
	}
	m.security = NewSecurityLogger(m.logger, "authsession/"+cfg.Name)

	go m.run()
	return m, nil
}

// Name returns the manager's name.
func (m *Manager) Name() string {
	return m.name
}

// Network returns the connectivity monitor.
func (m *Manager) Network() NetworkMonitor {
	return m.network
}

// Subscribe registers fn to receive every state transition. Events are
// delivered one at a time in transition order on a dedicated goroutine;
// fn may call back into the Manager but must not call Shutdown.
// The returned function unsubscribes.
func (m *Manager) Subscribe(fn func(Event)) func() {
	return m.notifier.subscribe(fn)
}

// GetSession returns the active session, logging in if necessary.
//
// When a login is already in flight the call joins it and opts and scope
// are ignored. Cancelling ctx abandons the wait but not the login.
func (m *Manager) GetSession(ctx context.Context, opts Options, scope []string) (*Session, error) {
	a, err := m.Begin(opts, scope)
	if err != nil {
		return nil, err
	}
	return a.Wait(ctx)
}

// Begin starts a login if the manager is logged out and returns the
// current attempt without waiting for it.
func (m *Manager) Begin(opts Options, scope []string) (*Attempt, error) {
	var a *Attempt
	if err := m.exec(func() { a = m.begin(opts, scope) }); err != nil {
		return nil, err
	}
	return a, nil
}

// CloseSession logs out. A login in flight is cancelled and its waiters
// receive ErrCancelled. It is a no-op when already logged out.
func (m *Manager) CloseSession() error {
	return m.exec(m.closeSession)
}

// SetSession replaces the current session with s. When persist is set
// and the provider supports it, the account is saved first; a save
// failure leaves the manager logged out.
func (m *Manager) SetSession(s *Session, persist bool) error {
	if s == nil {
		return fmt.Errorf("%w: nil session", ErrInvalidOperation)
	}
	var err error
	if xerr := m.exec(func() { err = m.setSession(s, persist) }); xerr != nil {
		return xerr
	}
	return err
}

// ActiveSession returns the session when logged in, or ErrNotLoggedIn.
func (m *Manager) ActiveSession() (*Session, error) {
	var (
		s   *Session
		err error
	)
	if xerr := m.exec(func() {
		if m.cur.state() != StateLoggedIn {
			err = ErrNotLoggedIn
			return
		}
		s = m.cur.attempt.session
	}); xerr != nil {
		return nil, xerr
	}
	return s, err
}

// State returns the current state. A closed manager reports StateLoggedOut.
func (m *Manager) State() State {
	st := StateLoggedOut
	_ = m.exec(func() { st = m.cur.state() })
	return st
}

// IsLoggedIn reports whether a session is available.
func (m *Manager) IsLoggedIn() bool { return m.State() == StateLoggedIn }

// IsAuthenticating reports whether a login is in flight.
func (m *Manager) IsAuthenticating() bool { return m.State() == StateAuthenticating }

// IsLoggedOut reports whether there is neither a session nor a login in flight.
func (m *Manager) IsLoggedOut() bool { return m.State() == StateLoggedOut }

// Shutdown cancels any login in flight, stops the owner goroutine and
// delivers outstanding notifications. The session is kept in the store.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.exec(func() {
		if m.cur.kind == slotPending {
			m.cur.attempt.cancel()
			m.cur.attempt.resolve(nil, ErrManagerClosed)
		}
	})
	if errors.Is(err, ErrManagerClosed) {
		return nil
	}

	m.stopOnce.Do(func() { close(m.stop) })
	select {
	case <-m.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.notifier.close()
	return nil
}

// run is the owner goroutine.
func (m *Manager) run() {
	defer close(m.stopped)
	for {
		select {
		case fn := <-m.ops:
			m.dispatching.Store(true)
			fn()
			m.dispatching.Store(false)
		case <-m.stop:
			return
		}
	}
}

// exec runs fn on the owner goroutine and waits for it.
func (m *Manager) exec(fn func()) error {
	done := make(chan struct{})
	select {
	case m.ops <- func() { defer close(done); fn() }:
	case <-m.stop:
		return ErrManagerClosed
	}
	<-done
	return nil
}

// post queues fn on the owner goroutine without waiting. It reports
// false if the manager has been shut down.
func (m *Manager) post(fn func()) bool {
	select {
	case m.ops <- fn:
		return true
	case <-m.stop:
		return false
	}
}

func (m *Manager) assertOwner() {
	if !m.dispatching.Load() {
		panic(ErrWrongGoroutine)
	}
}

// setSlot replaces the slot and notifies observers.
func (m *Manager) setSlot(next slot) {
	m.assertOwner()
	from := m.cur.state()
	m.cur = next
	to := next.state()

	m.metrics.transition(m.name, to)
	m.logger.Debug("session state changed", "from", from.String(), "to", to.String())
	m.notifier.publish(Event{From: from, To: to, AttemptID: next.attemptID()})
}

func (m *Manager) begin(opts Options, scope []string) *Attempt {
	m.assertOwner()
	if m.cur.state() != StateLoggedOut {
		return m.cur.attempt
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := newAttempt(cancel)
	m.setSlot(slot{kind: slotPending, attempt: a})
	m.security.LogAuthentication(SubtypeAuthAttempt, OutcomeAttempt, SeverityInfo, "", m.name,
		map[string]any{"attempt_id": a.id.String(), "allow_login_ui": opts.AllowLoginUI})

	go m.runAttempt(ctx, a, opts, scope)
	return a
}

// runAttempt executes the login off the owner goroutine and posts the
// outcome back.
func (m *Manager) runAttempt(ctx context.Context, a *Attempt, opts Options, scope []string) {
	s, err := m.login(ctx, opts, scope)
	if err == nil && s == nil {
		err = errors.New("login returned no session")
	}
	if ok := m.post(func() { m.settle(a, s, err) }); !ok && s != nil {
		m.deleteAccount(s)
	}
}

func (m *Manager) settle(a *Attempt, s *Session, err error) {
	m.assertOwner()
	a.cancel()
	m.metrics.observeLogin(time.Since(a.started).Seconds())

	if m.cur.kind != slotPending || m.cur.attempt != a {
		// Discarded by CloseSession; undo whatever the provider created.
		if s != nil {
			m.logger.Debug("rolling back account of discarded login", "attempt_id", a.id.String())
			m.deleteAccount(s)
		}
		return
	}

	if err != nil {
		outcome := "failure"
		if IsCancellation(err) {
			outcome = "cancelled"
		}
		m.metrics.loginAttempt(m.name, outcome)
		m.security.LogAuthentication(SubtypeAuthFailure, OutcomeFailure, SeverityWarning, "", m.name,
			map[string]any{"attempt_id": a.id.String(), "error": err.Error()})

		m.setSlot(slot{kind: slotFailed, attempt: a})
		a.resolve(nil, err)
		return
	}

	m.metrics.loginAttempt(m.name, "success")
	m.security.LogAuthentication(SubtypeAuthSuccess, OutcomeSuccess, SeverityInfo,
		s.account.Username, s.provider.Name(), map[string]any{"attempt_id": a.id.String()})

	m.setSlot(slot{kind: slotResolved, attempt: a})
	a.resolve(s, nil)
}

func (m *Manager) closeSession() {
	m.assertOwner()
	switch m.cur.state() {
	case StateLoggedOut:
		return
	case StateLoggedIn:
		s := m.cur.attempt.session
		m.deleteAccount(s)
		m.security.LogSession(SubtypeSessionClosed, OutcomeSuccess, SeverityInfo,
			s.account.Username, s.provider.Name(), map[string]any{"session_id": s.id.String()})
	case StateAuthenticating:
		a := m.cur.attempt
		a.cancel()
		a.resolve(nil, ErrCancelled)
		m.metrics.loginAttempt(m.name, "cancelled")
		m.security.LogAuthentication(SubtypeAuthCancelled, OutcomeFailure, SeverityInfo, "", m.name,
			map[string]any{"attempt_id": a.id.String()})
	}
	m.setSlot(slot{})
}

func (m *Manager) setSession(s *Session, persist bool) error {
	m.assertOwner()
	m.closeSession()

	if persist && s.provider.SupportsSave() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cleanupTimeout)
		defer cancel()
		if err := s.provider.SaveAccount(ctx, s.account); err != nil {
			return fmt.Errorf("save account: %w", err)
		}
	}

	a := newAttempt(nil)
	a.resolve(s, nil)
	m.setSlot(slot{kind: slotResolved, attempt: a})
	m.security.LogSession(SubtypeSessionOpened, OutcomeSuccess, SeverityInfo,
		s.account.Username, s.provider.Name(), map[string]any{"session_id": s.id.String()})
	return nil
}

// deleteAccount removes the session's stored account, logging failures.
func (m *Manager) deleteAccount(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cleanupTimeout)
	defer cancel()
	if err := s.deleteAccount(ctx); err != nil {
		m.logger.Debug("delete account failed", "provider", s.provider.Name(), "error", err)
	}
}
