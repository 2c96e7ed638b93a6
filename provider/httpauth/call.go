package httpauth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/smnsjas/go-authsession/session"
	"github.com/smnsjas/go-authsession/transport"
)

// ProviderOf returns the httpauth provider behind s.
func ProviderOf(s *session.Session) (*Provider, error) {
	p, ok := s.Provider().(*Provider)
	if !ok {
		return nil, fmt.Errorf("%w: session provider %q is not an HTTP provider", session.ErrUnsupported, s.Provider().Name())
	}
	return p, nil
}

// Do sends r on the transport of session s. A relative r.URL is resolved
// against the provider's base URL.
func Do(ctx context.Context, s *session.Session, r transport.Request) (*transport.Response, error) {
	p, err := ProviderOf(s)
	if err != nil {
		return nil, err
	}
	t, err := p.Transport(s.Account())
	if err != nil {
		return nil, err
	}
	if r.URL, err = p.URL(r.URL); err != nil {
		return nil, err
	}
	return t.Do(ctx, r)
}

// Get issues a GET for path with session s.
func Get(ctx context.Context, s *session.Session, path string) (*transport.Response, error) {
	return Do(ctx, s, transport.Request{Method: http.MethodGet, URL: path})
}

// GetJSON decodes the JSON document at path.
func GetJSON[T any](ctx context.Context, s *session.Session, path string) (T, error) {
	var zero T
	p, err := ProviderOf(s)
	if err != nil {
		return zero, err
	}
	t, err := p.Transport(s.Account())
	if err != nil {
		return zero, err
	}
	u, err := p.URL(path)
	if err != nil {
		return zero, err
	}
	return transport.GetJSON[T](ctx, t, u)
}

// TokenData returns the token description for session s.
func TokenData(ctx context.Context, s *session.Session) (map[string]any, error) {
	p, err := ProviderOf(s)
	if err != nil {
		return nil, err
	}
	return p.TokenData(ctx, s.Account())
}
