// Package transport provides the HTTP transport used by session providers.
//
// HTTPTransport signs requests with an auth.Authenticator, retries
// transient network failures with exponential backoff, fails fast through
// a circuit breaker, and maps HTTP status codes onto session.APIError so
// that session.WithSession can decide how to recover.
package transport
