package httpauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/smnsjas/go-authsession/auth"
	"github.com/smnsjas/go-authsession/session"
	"github.com/smnsjas/go-authsession/store"
	"github.com/smnsjas/go-authsession/transport"
)

// Account property keys.
const (
	PropDomain     = "domain"
	PropPassword   = "password"
	PropScheme     = "scheme"
	PropSource     = "source"
	PropVerifiedAt = "verified_at"
)

// SourceCCache marks accounts discovered from a Kerberos credential cache.
const SourceCCache = "ccache"

// Config configures a Provider.
type Config struct {
	// Name is shown in logs and account labels.
	Name string

	// ServiceID keys the provider's accounts in the store.
	ServiceID string

	// BaseURL is the service root, e.g. "https://intranet.example.com".
	BaseURL string

	// VerifyPath is requested to check a credential. Default "/".
	VerifyPath string

	// TokenPath returns a JSON description of the caller's token. Optional.
	TokenPath string

	// Scheme is the default authentication scheme for new accounts.
	Scheme auth.Scheme

	// Kerberos configures Negotiate authentication.
	Kerberos auth.KerberosConfig

	// Store persists accounts. Nil disables persistence.
	Store store.Store

	// TransportOptions are applied to every transport the provider builds.
	TransportOptions []transport.HTTPTransportOption

	Logger *slog.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	if c.BaseURL == "" {
		return errors.New("base URL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base URL %q", c.BaseURL)
	}
	if _, err := auth.ParseScheme(string(c.Scheme)); err != nil {
		return err
	}
	return nil
}

// Provider implements session.Provider, session.Scoper and
// session.UIConfigurer.
type Provider struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	scope      []string
	allowUI    bool
	transports map[string]*transport.HTTPTransport
}

// New creates a provider.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("httpauth: invalid config: %w", err)
	}
	scheme, _ := auth.ParseScheme(string(cfg.Scheme))
	cfg.Scheme = scheme
	if cfg.ServiceID == "" {
		cfg.ServiceID = cfg.Name
	}
	if cfg.VerifyPath == "" {
		cfg.VerifyPath = "/"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Provider{
		cfg:        cfg,
		logger:     logger.With("provider", cfg.Name),
		transports: make(map[string]*transport.HTTPTransport),
	}, nil
}

// Factory returns a session.ProviderFactory producing a fresh provider
// per login. The config is validated once, up front.
func Factory(cfg Config) (session.ProviderFactory, error) {
	if _, err := New(cfg); err != nil {
		return nil, err
	}
	return func() session.Provider {
		p, err := New(cfg)
		if err != nil {
			return nil
		}
		return p
	}, nil
}

// Name implements session.Provider.
func (p *Provider) Name() string { return p.cfg.Name }

// ServiceID returns the store key of the provider's accounts.
func (p *Provider) ServiceID() string { return p.cfg.ServiceID }

// SupportsAuthentication implements session.Provider.
func (p *Provider) SupportsAuthentication() bool { return true }

// SupportsMethod implements session.MethodSupporter. Interactive login is
// only the embedded credential form; there is no browser flow.
func (p *Provider) SupportsMethod(m session.Method) bool {
	return m != session.MethodBrowser
}

// SupportsVerification implements session.Provider.
func (p *Provider) SupportsVerification() bool { return true }

// SupportsSave implements session.Provider.
func (p *Provider) SupportsSave() bool { return p.cfg.Store != nil }

// SetScope implements session.Scoper. Scopes are sent as the "scope"
// query parameter of the verification request.
func (p *Provider) SetScope(scope []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scope = slices.Clone(scope)
}

// SetAllowLoginUI implements session.UIConfigurer.
func (p *Provider) SetAllowLoginUI(allow bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowUI = allow
}

// Accounts implements session.Provider.
func (p *Provider) Accounts(ctx context.Context, req session.AccountRequest) ([]*session.Account, error) {
	switch req.Method {
	case session.MethodSilent:
		return p.silentAccounts(ctx)
	case session.MethodEmbeddedUI:
		if req.PresentUI == nil {
			return nil, fmt.Errorf("%w: embedded login without a form", session.ErrUnsupported)
		}
		return p.formAccount(ctx, req.PresentUI)
	default:
		return nil, fmt.Errorf("%w: %s login", session.ErrUnsupported, req.Method)
	}
}

func (p *Provider) silentAccounts(ctx context.Context) ([]*session.Account, error) {
	var accounts []*session.Account
	if p.cfg.Store != nil {
		stored, err := p.cfg.Store.Accounts(ctx, p.cfg.ServiceID)
		if err != nil {
			return nil, fmt.Errorf("load stored accounts: %w", err)
		}
		accounts = stored
	}

	if p.cfg.Scheme == auth.SchemeKerberos {
		if a := p.ccacheAccount(); a != nil && !containsUser(accounts, a.Username) {
			accounts = append(accounts, a)
		}
	}
	p.logger.Debug("silent accounts", "count", len(accounts))
	return accounts, nil
}

func (p *Provider) ccacheAccount() *session.Account {
	path := p.cfg.Kerberos.CCachePath
	if path == "" {
		path = auth.DefaultCCachePath()
	}
	username, realm, err := auth.CCachePrincipal(path)
	if err != nil {
		p.logger.Debug("no kerberos credential cache", "path", path, "error", err)
		return nil
	}
	return &session.Account{
		Username: username,
		Properties: map[string]string{
			PropDomain: realm,
			PropScheme: string(auth.SchemeKerberos),
			PropSource: SourceCCache,
		},
	}
}

func (p *Provider) formAccount(ctx context.Context, present func(context.Context, *session.LoginForm) error) ([]*session.Account, error) {
	form := &session.LoginForm{Provider: p.cfg.Name}
	if err := present(ctx, form); err != nil {
		return nil, err
	}
	if form.Username == "" {
		return nil, nil
	}
	props := map[string]string{PropScheme: string(p.cfg.Scheme)}
	if form.Password != "" {
		props[PropPassword] = form.Password
	}
	if form.Domain != "" {
		props[PropDomain] = form.Domain
	}
	return []*session.Account{{Username: form.Username, Properties: props}}, nil
}

// Verify implements session.Provider by requesting VerifyPath.
func (p *Provider) Verify(ctx context.Context, account *session.Account) error {
	t, err := p.Transport(account)
	if err != nil {
		return err
	}
	u, err := p.resolve(p.cfg.VerifyPath)
	if err != nil {
		return err
	}
	p.mu.Lock()
	scope := p.scope
	p.mu.Unlock()
	if len(scope) > 0 {
		q := u.Query()
		q.Set("scope", strings.Join(scope, " "))
		u.RawQuery = q.Encode()
	}

	if _, err := t.Get(ctx, u.String()); err != nil {
		p.logger.Debug("verification failed", "user", account.Username, "error", err)
		return err
	}
	return nil
}

// Reauthorize implements session.Provider. Connection-bound schemes
// (NTLM, Negotiate) authenticate per connection, so idle connections are
// dropped to force a fresh handshake before the credential is re-verified.
func (p *Provider) Reauthorize(ctx context.Context, account *session.Account) (*session.Account, error) {
	t, err := p.Transport(account)
	if err != nil {
		return nil, err
	}
	t.CloseIdleConnections()
	if err := p.Verify(ctx, account); err != nil {
		return nil, err
	}
	fresh := account.Clone()
	if fresh.Properties == nil {
		fresh.Properties = map[string]string{}
	}
	fresh.Properties[PropVerifiedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	return fresh, nil
}

// SaveAccount implements session.Provider.
func (p *Provider) SaveAccount(ctx context.Context, account *session.Account) error {
	if p.cfg.Store == nil {
		return session.ErrUnsupported
	}
	// Cache principals are re-discovered on every login.
	if account.Property(PropSource) == SourceCCache {
		return nil
	}
	return p.cfg.Store.Save(ctx, p.cfg.ServiceID, account)
}

// DeleteAccount implements session.Provider.
func (p *Provider) DeleteAccount(ctx context.Context, account *session.Account) error {
	p.mu.Lock()
	if t, ok := p.transports[account.Username]; ok {
		t.CloseIdleConnections()
		delete(p.transports, account.Username)
	}
	p.mu.Unlock()

	if p.cfg.Store == nil || account.Property(PropSource) == SourceCCache {
		return nil
	}
	err := p.cfg.Store.Delete(ctx, p.cfg.ServiceID, account.Username)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Transport returns the authenticated HTTP transport for account,
// creating it on first use.
func (p *Provider) Transport(account *session.Account) (*transport.HTTPTransport, error) {
	if account == nil {
		return nil, fmt.Errorf("%w: nil account", session.ErrInvalidOperation)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.transports[account.Username]; ok {
		return t, nil
	}

	a, err := p.authenticator(account)
	if err != nil {
		return nil, fmt.Errorf("httpauth: %w", err)
	}
	opts := append([]transport.HTTPTransportOption{transport.WithLogger(p.logger)}, p.cfg.TransportOptions...)
	opts = append(opts, transport.WithAuthenticator(a))
	t := transport.NewHTTPTransport(opts...)
	p.transports[account.Username] = t
	return t, nil
}

func (p *Provider) authenticator(account *session.Account) (auth.Authenticator, error) {
	scheme := p.cfg.Scheme
	if s := account.Property(PropScheme); s != "" {
		parsed, err := auth.ParseScheme(s)
		if err != nil {
			return nil, err
		}
		scheme = parsed
	}
	creds := auth.Credentials{
		Username: account.Username,
		Password: account.Property(PropPassword),
		Domain:   account.Property(PropDomain),
	}
	kcfg := p.cfg.Kerberos
	if scheme == auth.SchemeKerberos && kcfg.Realm == "" {
		kcfg.Realm = creds.Domain
	}
	if scheme == auth.SchemeKerberos && kcfg.CCachePath == "" && account.Property(PropSource) == SourceCCache {
		kcfg.CCachePath = auth.DefaultCCachePath()
	}
	if scheme == auth.SchemeKerberos && kcfg.TargetSPN == "" {
		u, _ := url.Parse(p.cfg.BaseURL)
		kcfg.TargetSPN = "HTTP/" + u.Hostname()
	}
	return auth.New(scheme, creds, kcfg)
}

func (p *Provider) resolve(path string) (*url.URL, error) {
	base, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("httpauth: invalid base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("httpauth: invalid path %q: %w", path, err)
	}
	return base.ResolveReference(ref), nil
}

// URL resolves path against the base URL.
func (p *Provider) URL(path string) (string, error) {
	u, err := p.resolve(path)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// TokenData returns the JSON document served at TokenPath for account.
func (p *Provider) TokenData(ctx context.Context, account *session.Account) (map[string]any, error) {
	if p.cfg.TokenPath == "" {
		return nil, fmt.Errorf("%w: no token endpoint configured", session.ErrUnsupported)
	}
	t, err := p.Transport(account)
	if err != nil {
		return nil, err
	}
	u, err := p.URL(p.cfg.TokenPath)
	if err != nil {
		return nil, err
	}
	return transport.GetJSON[map[string]any](ctx, t, u)
}

func containsUser(accounts []*session.Account, username string) bool {
	return slices.ContainsFunc(accounts, func(a *session.Account) bool {
		return strings.EqualFold(a.Username, username)
	})
}
