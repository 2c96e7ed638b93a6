package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockSecurityProvider for testing Negotiate logic
type MockSecurityProvider struct {
	StepFunc func(ctx context.Context, serverToken []byte) (clientToken []byte, continueNeeded bool, err error)
}

func (m *MockSecurityProvider) Step(ctx context.Context, serverToken []byte) ([]byte, bool, error) {
	if m.StepFunc != nil {
		return m.StepFunc(ctx, serverToken)
	}
	return nil, false, nil
}

func (m *MockSecurityProvider) Complete() bool { return false }
func (m *MockSecurityProvider) Close() error   { return nil }

// MockRoundTripper captures requests and returns canned responses
type MockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if m.RoundTripFunc != nil {
		return m.RoundTripFunc(req)
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func challenge(header string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusUnauthorized,
		Header:     http.Header{"Www-Authenticate": []string{header}},
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func TestNegotiateRoundTrip_NoChallenge(t *testing.T) {
	steps := 0
	provider := &MockSecurityProvider{StepFunc: func(context.Context, []byte) ([]byte, bool, error) {
		steps++
		return nil, false, nil
	}}

	rt := NewNegotiateAuth(provider).Transport(&MockRoundTripper{})
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, steps)
}

func TestNegotiateRoundTrip_ChallengeResponse(t *testing.T) {
	var serverTokens [][]byte
	provider := &MockSecurityProvider{StepFunc: func(_ context.Context, serverToken []byte) ([]byte, bool, error) {
		serverTokens = append(serverTokens, serverToken)
		return []byte("client-token"), false, nil
	}}

	var bodies []string
	var headers []string
	base := &MockRoundTripper{RoundTripFunc: func(req *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(req.Body)
		bodies = append(bodies, string(b))
		headers = append(headers, req.Header.Get("Authorization"))
		if len(headers) == 1 {
			return challenge("Negotiate"), nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}}

	rt := NewNegotiateAuth(provider).Transport(base)
	req, _ := http.NewRequest(http.MethodPost, "http://example.com", strings.NewReader("request-body"))
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, headers, 2)
	assert.Empty(t, headers[0])
	assert.Equal(t, "Negotiate "+base64.StdEncoding.EncodeToString([]byte("client-token")), headers[1])
	assert.Equal(t, []string{"request-body", "request-body"}, bodies, "body replayed on every leg")
	assert.Equal(t, [][]byte{nil}, serverTokens)
}

func TestNegotiateRoundTrip_OtherSchemePassesThrough(t *testing.T) {
	base := &MockRoundTripper{RoundTripFunc: func(*http.Request) (*http.Response, error) {
		return challenge(`Basic realm="x"`), nil
	}}
	rt := NewNegotiateAuth(&MockSecurityProvider{}).Transport(base)

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNegotiateRoundTrip_StepError(t *testing.T) {
	stepErr := errors.New("no ticket")
	provider := &MockSecurityProvider{StepFunc: func(context.Context, []byte) ([]byte, bool, error) {
		return nil, false, stepErr
	}}
	base := &MockRoundTripper{RoundTripFunc: func(*http.Request) (*http.Response, error) {
		return challenge("Negotiate"), nil
	}}

	rt := NewNegotiateAuth(provider).Transport(base)
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	_, err := rt.RoundTrip(req)
	assert.ErrorIs(t, err, stepErr)
}

func TestNegotiateRoundTrip_MaxRetries(t *testing.T) {
	provider := &MockSecurityProvider{StepFunc: func(context.Context, []byte) ([]byte, bool, error) {
		return []byte("token"), true, nil
	}}
	base := &MockRoundTripper{RoundTripFunc: func(*http.Request) (*http.Response, error) {
		return challenge("Negotiate dG9rZW4="), nil
	}}

	rt := NewNegotiateAuth(provider).Transport(base)
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	_, err := rt.RoundTrip(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 5 attempts")
}

func TestNegotiateChallenge(t *testing.T) {
	token, ok := negotiateChallenge("Negotiate dG9rZW4=")
	assert.True(t, ok)
	assert.Equal(t, []byte("token"), token)

	token, ok = negotiateChallenge("Negotiate")
	assert.True(t, ok)
	assert.Nil(t, token)

	_, ok = negotiateChallenge("NTLM")
	assert.False(t, ok)
}
