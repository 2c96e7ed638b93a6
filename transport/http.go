package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/smnsjas/go-authsession/auth"
	"github.com/smnsjas/go-authsession/session"
)

var (
	// ErrUnauthorized is wrapped by the APIError returned for 401 responses.
	// Use errors.Is(err, ErrUnauthorized) to check for authentication failures.
	ErrUnauthorized = errors.New("transport: authentication failed (401 Unauthorized)")

	// ErrForbidden is wrapped by the APIError returned for 403 responses.
	ErrForbidden = errors.New("transport: access denied (403 Forbidden)")
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// NextPageTokenHeader carries the cursor of the next page in paged responses.
	NextPageTokenHeader = "Next-Page-Token"

	// PageTokenParam is the query parameter that requests a specific page.
	PageTokenParam = "page_token"

	// defaultBufferSize is the initial size for pooled buffers.
	defaultBufferSize = 32 * 1024

	// maxErrorBody bounds the response body quoted in errors.
	maxErrorBody = 3000
)

// bufferPool is a pool of reusable bytes.Buffer to reduce allocations.
var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, defaultBufferSize))
	},
}

// readAllPooled reads from r using a pooled buffer and returns a copy of the data.
func readAllPooled(r io.Reader) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// Request is an HTTP request that can be replayed across retries.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPTransport handles authenticated HTTP/HTTPS communication.
type HTTPTransport struct {
	client  *http.Client
	retry   *RetryPolicy
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// HTTPTransportOption configures an HTTPTransport.
type HTTPTransportOption func(*HTTPTransport)

// NewHTTPTransport creates a new HTTP transport with the given options.
func NewHTTPTransport(opts ...HTTPTransportOption) *HTTPTransport {
	t := &HTTPTransport{
		client: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				// NTLM authenticates the connection, so keep it alive.
				DisableKeepAlives:   false,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.New(slog.DiscardHandler),
	}
	t.breaker = NewCircuitBreaker(nil)

	for _, opt := range opts {
		opt(t)
	}
	t.breaker.isFailure = countsAsOutage
	return t
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.client.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithInsecureSkipVerify configures TLS to skip certificate verification.
// WARNING: Only use this for testing. Never use in production.
func WithInsecureSkipVerify(skip bool) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if skip {
			t.logger.Warn("TLS certificate verification disabled; only use this for testing")
		}
		transport := t.ensureHTTPTransport()
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		transport.TLSClientConfig.InsecureSkipVerify = skip
	}
}

// WithTLSConfig sets a custom TLS configuration.
// NOTE: MinVersion is enforced to be at least TLS 1.2 for security.
func WithTLSConfig(cfg *tls.Config) HTTPTransportOption {
	return func(t *HTTPTransport) {
		transport := t.ensureHTTPTransport()
		if cfg.MinVersion < tls.VersionTLS12 {
			cfg.MinVersion = tls.VersionTLS12
		}
		transport.TLSClientConfig = cfg
	}
}

// WithAuthenticator wraps the round tripper with a.
// Apply it after the TLS options.
func WithAuthenticator(a auth.Authenticator) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if a == nil {
			return
		}
		base := t.client.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		t.client.Transport = a.Transport(base)
	}
}

// WithRetryPolicy enables retries of transient failures.
func WithRetryPolicy(p *RetryPolicy) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.retry = p
	}
}

// WithCircuitBreaker enables the circuit breaker.
func WithCircuitBreaker(p *CircuitBreakerPolicy) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.breaker = NewCircuitBreaker(p)
	}
}

// ensureHTTPTransport ensures the client has an *http.Transport.
func (t *HTTPTransport) ensureHTTPTransport() *http.Transport {
	transport, ok := t.client.Transport.(*http.Transport)
	if !ok {
		transport = &http.Transport{}
		t.client.Transport = transport
	}
	return transport
}

// Do sends r through the breaker and retry policy. Responses with a
// status of 400 or above are returned as *session.APIError.
func (t *HTTPTransport) Do(ctx context.Context, r Request) (*Response, error) {
	var resp *Response
	err := t.breaker.Execute(func() error {
		return withRetry(ctx, t.retry, func() error {
			var err error
			resp, err = t.roundTrip(ctx, r)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Get issues a GET request.
func (t *HTTPTransport) Get(ctx context.Context, rawURL string) (*Response, error) {
	return t.Do(ctx, Request{Method: http.MethodGet, URL: rawURL})
}

func (t *HTTPTransport) roundTrip(ctx context.Context, r Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	httpResp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := readAllPooled(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to read response: %w", err)
	}

	t.logger.Debug("http response", "method", method, "url", redactURL(r.URL), "status", httpResp.StatusCode)

	if err := statusError(httpResp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: respBody}, nil
}

// statusError maps an HTTP status onto a session.APIError.
func statusError(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized:
		return session.NewAPIError(session.KindUnauthorized, status, "", ErrUnauthorized)
	case status == http.StatusForbidden:
		return session.NewAPIError(session.KindForbidden, status, "", ErrForbidden)
	case status >= 400:
		preview := string(body)
		if len(preview) > maxErrorBody {
			preview = preview[:maxErrorBody] + "..."
		}
		return session.NewAPIError(session.KindOther, status, fmt.Sprintf("HTTP %d: %s", status, preview), nil)
	default:
		return nil
	}
}

// countsAsOutage selects the errors the circuit breaker counts: network
// failures and server-side 5xx answers.
func countsAsOutage(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *session.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return true
}

// redactURL drops query and userinfo, which may carry tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

// Client returns the underlying HTTP client for advanced configuration.
func (t *HTTPTransport) Client() *http.Client {
	return t.client
}

// Breaker returns the circuit breaker.
func (t *HTTPTransport) Breaker() *CircuitBreaker {
	return t.breaker
}

// CloseIdleConnections closes any idle connections in the transport.
// This forces a fresh NTLM handshake for subsequent requests.
func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}

// GetJSON issues a GET request and decodes the JSON body into a T.
// A body that cannot be decoded yields a KindInvalidResponse error.
func GetJSON[T any](ctx context.Context, t *HTTPTransport, rawURL string) (T, error) {
	var v T
	resp, err := t.Do(ctx, Request{
		Method: http.MethodGet,
		URL:    rawURL,
		Header: http.Header{"Accept": []string{"application/json"}},
	})
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return v, session.NewAPIError(session.KindInvalidResponse, resp.StatusCode, "decode response", err)
	}
	return v, nil
}

// GetPage fetches one page of a paged JSON collection. pageToken selects
// the page; the empty string means the first page. The next cursor is
// read from the Next-Page-Token response header.
func GetPage[T any](ctx context.Context, t *HTTPTransport, rawURL, pageToken string) (session.Page[T], error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return session.Page[T]{}, fmt.Errorf("transport: invalid url: %w", err)
	}
	if pageToken != "" {
		q := u.Query()
		q.Set(PageTokenParam, pageToken)
		u.RawQuery = q.Encode()
	}

	resp, err := t.Do(ctx, Request{
		Method: http.MethodGet,
		URL:    u.String(),
		Header: http.Header{"Accept": []string{"application/json"}},
	})
	if err != nil {
		return session.Page[T]{}, err
	}

	var v T
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return session.Page[T]{}, session.NewAPIError(session.KindInvalidResponse, resp.StatusCode, "decode page", err)
	}
	return session.NewPage(v, resp.Header.Get(NextPageTokenHeader)), nil
}
