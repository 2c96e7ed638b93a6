package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Authenticator defines the interface for authentication handlers.
type Authenticator interface {
	// Transport wraps an http.RoundTripper with authentication.
	Transport(base http.RoundTripper) http.RoundTripper

	// Name returns the authentication scheme name.
	Name() string
}

// Credentials holds authentication credentials.
type Credentials struct {
	// Username is the user name for authentication.
	Username string

	// Password is the password for authentication.
	Password string

	// Domain is the optional domain for NTLM authentication.
	Domain string
}

// Validate checks that required credential fields are populated.
// For Kerberos with ccache/keytab, password may be empty - use ValidateForKerberos instead.
func (c *Credentials) Validate() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// ValidateForKerberos checks credentials for Kerberos auth where password is optional.
func (c *Credentials) ValidateForKerberos() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	return nil
}

// LogValue implements slog.LogValuer so passwords never reach logs.
func (c Credentials) LogValue() slog.Value {
	password := ""
	if c.Password != "" {
		password = "[REDACTED]"
	}
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("domain", c.Domain),
		slog.String("password", password),
	)
}

// Scheme names an authentication scheme.
type Scheme string

// Supported schemes. Kerberos is carried over SPNEGO (HTTP Negotiate).
const (
	SchemeBasic    Scheme = "basic"
	SchemeNTLM     Scheme = "ntlm"
	SchemeKerberos Scheme = "kerberos"
)

// ParseScheme parses a scheme name. The empty string means Basic.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(s)) {
	case "", SchemeBasic:
		return SchemeBasic, nil
	case SchemeNTLM:
		return SchemeNTLM, nil
	case SchemeKerberos, "negotiate":
		return SchemeKerberos, nil
	default:
		return "", fmt.Errorf("unknown auth scheme %q", s)
	}
}

// New creates the authenticator for scheme. For SchemeKerberos, kcfg
// supplies the ticket source; creds fill in kcfg.Credentials when the
// ccache and keytab are unset.
func New(scheme Scheme, creds Credentials, kcfg KerberosConfig) (Authenticator, error) {
	switch scheme {
	case SchemeBasic:
		if err := creds.Validate(); err != nil {
			return nil, err
		}
		return NewBasicAuth(creds), nil
	case SchemeNTLM:
		if err := creds.Validate(); err != nil {
			return nil, err
		}
		return NewNTLMAuth(creds), nil
	case SchemeKerberos:
		if kcfg.Credentials == nil && creds.Username != "" {
			c := creds
			kcfg.Credentials = &c
		}
		provider, err := NewKerberosProvider(kcfg)
		if err != nil {
			return nil, err
		}
		return NewNegotiateAuth(provider), nil
	default:
		return nil, fmt.Errorf("unknown auth scheme %q", scheme)
	}
}
