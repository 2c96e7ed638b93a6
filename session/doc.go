// Package session manages a single authenticated session against one of
// several interchangeable identity providers.
//
// A Manager runs at most one login at a time. Logins walk a Fallback chain
// of provider strategies (silent first, then interactive) and resolve
// multi-account ambiguity through an injected Chooser. WithSession wraps an
// authenticated call and recovers from expired or rejected credentials by
// reauthorizing once, or by logging out and logging in again once.
//
// # State
//
// A Manager is LoggedOut, Authenticating or LoggedIn. State is derived from
// the manager's current attempt and changes only on the manager's owner
// goroutine; Subscribe observes every transition.
//
// # Example
//
//	m, err := session.NewManager(session.Config{
//	    Name:      "api",
//	    Providers: []session.ProviderFactory{newCorpProvider, newBasicProvider},
//	})
//	if err != nil {
//	    return err
//	}
//	defer m.Shutdown(context.Background())
//
//	body, err := session.WithSession(ctx, m, session.NoUI, nil,
//	    func(ctx context.Context, s *session.Session) ([]byte, error) {
//	        return fetch(ctx, s.Account())
//	    })
package session
