package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeProvider is a scriptable Provider. The same instance is returned
// by every factory call so tests can inspect it afterwards.
type fakeProvider struct {
	name   string
	auth   bool
	verify bool
	save   bool

	mu          sync.Mutex
	accounts    map[Method][]*Account
	accountsErr error
	verifyErr   error
	reauthErr   error
	reauthNil   bool
	saveErr     error
	deleteErr   error
	methods     []Method
	reauths     int
	saved       []string
	deleted     []string
	scope       []string
	allowUI     bool
}

func newFakeProvider(name string, silent ...*Account) *fakeProvider {
	return &fakeProvider{
		name:     name,
		accounts: map[Method][]*Account{MethodSilent: silent},
	}
}

func (p *fakeProvider) factory() ProviderFactory {
	return func() Provider { return p }
}

func (p *fakeProvider) Name() string                 { return p.name }
func (p *fakeProvider) SupportsAuthentication() bool { return p.auth }
func (p *fakeProvider) SupportsVerification() bool   { return p.verify }
func (p *fakeProvider) SupportsSave() bool           { return p.save }

func (p *fakeProvider) SetScope(scope []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scope = scope
}

func (p *fakeProvider) SetAllowLoginUI(allow bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowUI = allow
}

func (p *fakeProvider) Accounts(ctx context.Context, req AccountRequest) ([]*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.methods = append(p.methods, req.Method)
	if p.accountsErr != nil {
		return nil, p.accountsErr
	}
	if req.Method == MethodEmbeddedUI && req.PresentUI != nil {
		form := &LoginForm{Provider: p.name}
		p.mu.Unlock()
		err := req.PresentUI(ctx, form)
		p.mu.Lock()
		if err != nil {
			return nil, err
		}
		return []*Account{{Username: form.Username}}, nil
	}
	return p.accounts[req.Method], nil
}

func (p *fakeProvider) Verify(_ context.Context, _ *Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verifyErr
}

func (p *fakeProvider) Reauthorize(_ context.Context, account *Account) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reauths++
	if p.reauthErr != nil {
		return nil, p.reauthErr
	}
	if p.reauthNil {
		return nil, nil
	}
	fresh := account.Clone()
	if fresh.Properties == nil {
		fresh.Properties = map[string]string{}
	}
	fresh.Properties["generation"] = "refreshed"
	return fresh, nil
}

func (p *fakeProvider) SaveAccount(_ context.Context, account *Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saved = append(p.saved, account.Username)
	return nil
}

func (p *fakeProvider) DeleteAccount(_ context.Context, account *Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, account.Username)
	return p.deleteErr
}

func (p *fakeProvider) accountsCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.methods)
}

func (p *fakeProvider) calledMethods() []Method {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Method(nil), p.methods...)
}

func (p *fakeProvider) reauthCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reauths
}

func (p *fakeProvider) deletedAccounts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

func (p *fakeProvider) savedAccounts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.saved...)
}

type staticNetwork bool

func (n staticNetwork) Available() bool { return bool(n) }

// eventRecorder collects manager notifications.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func recordEvents(t *testing.T, m *Manager) *eventRecorder {
	t.Helper()
	r := &eventRecorder{ch: make(chan Event, 64)}
	unsubscribe := m.Subscribe(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		r.ch <- e
	})
	t.Cleanup(unsubscribe)
	return r
}

// next waits for the next event.
func (r *eventRecorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state notification")
		return Event{}
	}
}

func (r *eventRecorder) transitions() [][2]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][2]State, len(r.events))
	for i, e := range r.events {
		out[i] = [2]State{e.From, e.To}
	}
	return out
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

// blockingLogin returns a LoginFunc that waits for release (or ctx) and
// then returns result. It counts invocations.
type blockingLogin struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
	session *Session
	err     error

	// ignoreCancel makes the login finish with its result even after
	// cancellation, like a provider that created an account regardless.
	ignoreCancel bool
}

func newBlockingLogin(s *Session, err error) *blockingLogin {
	return &blockingLogin{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
		session: s,
		err:     err,
	}
}

func (b *blockingLogin) login(ctx context.Context, _ Options, _ []string) (*Session, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.started <- struct{}{}

	select {
	case <-b.release:
	case <-ctx.Done():
		if !b.ignoreCancel {
			return nil, ctx.Err()
		}
	}
	return b.session, b.err
}

func (b *blockingLogin) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *blockingLogin) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-b.started:
	case <-time.After(2 * time.Second):
		t.Fatal("login did not start")
	}
}
