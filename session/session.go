package session

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Account is a credential yielded by a provider.
// A nil *Account in a candidate list means "skip to the next strategy".
type Account struct {
	// Username identifies the account to the user.
	Username string

	// Properties carries provider-specific credential data
	// (domain, realm, token, ccache path). Treat as secret.
	Properties map[string]string
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	return &Account{Username: a.Username, Properties: maps.Clone(a.Properties)}
}

// Property returns a property value or "" if unset.
func (a *Account) Property(key string) string {
	if a == nil || a.Properties == nil {
		return ""
	}
	return a.Properties[key]
}

// Method selects how a provider obtains accounts.
type Method int

const (
	// MethodSilent reads stored or system accounts without user interaction.
	MethodSilent Method = iota
	// MethodBrowser sends the user through an external browser redirect.
	MethodBrowser
	// MethodEmbeddedUI collects credentials through Options.PresentUI.
	MethodEmbeddedUI
)

// String returns the string representation of the method.
func (m Method) String() string {
	switch m {
	case MethodSilent:
		return "silent"
	case MethodBrowser:
		return "browser"
	case MethodEmbeddedUI:
		return "embedded-ui"
	default:
		return "unknown"
	}
}

// LoginForm is handed to Options.PresentUI by providers that log in through
// embedded UI. The hook fills in the credential fields.
type LoginForm struct {
	// Provider is the provider name, for display.
	Provider string

	Username string
	Password string
	Domain   string
}

// AccountRequest is passed to Provider.Accounts.
type AccountRequest struct {
	Method Method

	// PresentUI is set for MethodEmbeddedUI.
	PresentUI func(ctx context.Context, form *LoginForm) error
}

// Provider is the capability surface of an identity provider.
//
// A fresh Provider is created by a ProviderFactory for every login, so
// implementations may keep per-login configuration (scope, UI flags).
type Provider interface {
	// Name returns the provider name used in logs and labels.
	Name() string

	// SupportsAuthentication reports whether interactive login is possible.
	SupportsAuthentication() bool

	// SupportsVerification reports whether Verify should be called after selection.
	SupportsVerification() bool

	// SupportsSave reports whether SaveAccount persists accounts.
	SupportsSave() bool

	// Accounts returns candidate accounts. An empty result is not an error.
	Accounts(ctx context.Context, req AccountRequest) ([]*Account, error)

	// Verify checks that the account credential is accepted by the service.
	Verify(ctx context.Context, account *Account) error

	// Reauthorize refreshes the credential of an existing account.
	Reauthorize(ctx context.Context, account *Account) (*Account, error)

	// SaveAccount persists the account.
	SaveAccount(ctx context.Context, account *Account) error

	// DeleteAccount removes a persisted account.
	DeleteAccount(ctx context.Context, account *Account) error
}

// Scoper is implemented by providers that accept permission scopes.
type Scoper interface {
	SetScope(scope []string)
}

// UIConfigurer is implemented by providers whose silent strategy may itself
// show system UI.
type UIConfigurer interface {
	SetAllowLoginUI(allow bool)
}

// MethodSupporter is implemented by providers that serve only some
// interactive methods. Providers without it are assumed to serve all.
type MethodSupporter interface {
	SupportsMethod(m Method) bool
}

func supportsMethod(p Provider, m Method) bool {
	if ms, ok := p.(MethodSupporter); ok {
		return ms.SupportsMethod(m)
	}
	return true
}

// ProviderFactory creates a fresh provider for one login.
type ProviderFactory func() Provider

// Session is an authenticated pairing of a provider and an account.
// Sessions are immutable; reauthorization produces a new Session.
type Session struct {
	id       uuid.UUID
	provider Provider
	account  *Account
	created  time.Time
}

// NewSession creates a session for the given provider and account.
func NewSession(provider Provider, account *Account) *Session {
	return &Session{
		id:       uuid.New(),
		provider: provider,
		account:  account.Clone(),
		created:  time.Now(),
	}
}

// ID returns the unique session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Provider returns the provider that created the session.
func (s *Session) Provider() Provider { return s.provider }

// Account returns a copy of the session account.
func (s *Session) Account() *Account { return s.account.Clone() }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.created }

// Reauthorize asks the provider to refresh the account and returns a new session.
func (s *Session) Reauthorize(ctx context.Context) (*Session, error) {
	account, err := s.provider.Reauthorize(ctx, s.account.Clone())
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s reauthorize returned no account", ErrInvalidOperation, s.provider.Name())
	}
	return NewSession(s.provider, account), nil
}

// deleteAccount removes the stored account. Callers treat it as best-effort:
// the account may not exist, or storage may be unsupported.
func (s *Session) deleteAccount(ctx context.Context) error {
	return s.provider.DeleteAccount(ctx, s.account.Clone())
}
