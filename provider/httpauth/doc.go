// Package httpauth provides a session.Provider for HTTP services protected
// by Basic, NTLM or Negotiate (Kerberos) authentication.
//
// Accounts are persisted in a store.Store under the provider's service ID.
// Silent login offers the stored accounts and, for Kerberos, the principal
// of the current credential cache. Interactive login collects credentials
// through session.Options.PresentUI. Browser login is not supported.
//
// Calls are made with the HTTP transport bound to a session:
//
//	resp, err := httpauth.Get(ctx, s, "/api/items")
package httpauth
