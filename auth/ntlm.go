package auth

import (
	"net/http"

	"github.com/Azure/go-ntlmssp"
)

// NTLMAuth implements NTLM authentication.
type NTLMAuth struct {
	creds Credentials
}

// NewNTLMAuth creates a new NTLM authentication handler.
func NewNTLMAuth(creds Credentials) *NTLMAuth {
	return &NTLMAuth{creds: creds}
}

// Name returns the authentication scheme name.
func (a *NTLMAuth) Name() string {
	return "NTLM"
}

// Transport wraps an http.RoundTripper with NTLM authentication.
//
// ntlmssp.Negotiator reads the credentials from the request's Basic auth
// header and replaces it with the NTLM handshake, so the credentials are
// attached first by credentialsRoundTripper.
func (a *NTLMAuth) Transport(base http.RoundTripper) http.RoundTripper {
	return &credentialsRoundTripper{
		creds: a.creds,
		base:  ntlmssp.Negotiator{RoundTripper: base},
	}
}

// credentialsRoundTripper attaches DOMAIN\user credentials as Basic auth.
type credentialsRoundTripper struct {
	creds Credentials
	base  http.RoundTripper
}

func (rt *credentialsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	reqCopy := req.Clone(req.Context())
	user := rt.creds.Username
	if rt.creds.Domain != "" {
		user = rt.creds.Domain + `\` + rt.creds.Username
	}
	reqCopy.SetBasicAuth(user, rt.creds.Password)
	return rt.base.RoundTrip(reqCopy)
}
