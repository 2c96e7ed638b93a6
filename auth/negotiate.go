package auth

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// maxNegotiateLegs bounds the handshake so a misbehaving server cannot
// keep the client looping.
const maxNegotiateLegs = 5

// NegotiateAuth implements SPNEGO authentication using a pluggable SecurityProvider.
type NegotiateAuth struct {
	provider SecurityProvider
}

// NewNegotiateAuth creates a new Negotiate authenticator.
func NewNegotiateAuth(provider SecurityProvider) *NegotiateAuth {
	return &NegotiateAuth{provider: provider}
}

// Name returns the scheme name.
func (a *NegotiateAuth) Name() string {
	return "Negotiate"
}

// Transport wraps the base transport with Negotiate authentication.
func (a *NegotiateAuth) Transport(base http.RoundTripper) http.RoundTripper {
	return &negotiateRoundTripper{
		base:     base,
		provider: a.provider,
	}
}

type negotiateRoundTripper struct {
	base http.RoundTripper

	// mu serializes handshakes; the provider is stateful.
	mu       sync.Mutex
	provider SecurityProvider
}

func (rt *negotiateRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	var clientToken []byte
	for leg := 0; leg < maxNegotiateLegs; leg++ {
		attempt := req.Clone(req.Context())
		if body != nil {
			attempt.Body = io.NopCloser(bytes.NewReader(body))
			attempt.ContentLength = int64(len(body))
		}
		if clientToken != nil {
			attempt.Header.Set("Authorization", "Negotiate "+base64.StdEncoding.EncodeToString(clientToken))
		}

		resp, err := rt.base.RoundTrip(attempt)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		serverToken, ok := negotiateChallenge(resp.Header.Get("WWW-Authenticate"))
		if !ok {
			// Some other scheme; let the caller see the 401.
			return resp, nil
		}
		closeBody(resp)

		var continueNeeded bool
		clientToken, continueNeeded, err = rt.provider.Step(req.Context(), serverToken)
		if err != nil {
			return nil, fmt.Errorf("negotiate step failed: %w", err)
		}
		if !continueNeeded && leg > 0 {
			break
		}
	}

	return nil, fmt.Errorf("negotiate authentication failed after %d attempts", maxNegotiateLegs)
}

// negotiateChallenge extracts the server token from a WWW-Authenticate
// header. ok is false when the header carries no Negotiate challenge.
// A bare "Negotiate" yields a nil token.
func negotiateChallenge(header string) (token []byte, ok bool) {
	if !strings.Contains(strings.ToLower(header), "negotiate") {
		return nil, false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 {
		if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(parts[1])); err == nil && len(decoded) > 0 {
			return decoded, true
		}
	}
	return nil, true
}

// bufferBody reads the request body so it can be replayed on every leg.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return body, nil
}

func closeBody(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}
