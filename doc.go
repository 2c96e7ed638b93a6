// Package authsession manages authenticated sessions against HTTP services
// whose identity providers are tried in a fallback chain.
//
// # Architecture
//
// The library is organized into layers:
//
//	┌─────────────────────────────────────────────────────────┐
//	│  cmd/authsession    CLI (login, status, call, logout)   │
//	├─────────────────────────────────────────────────────────┤
//	│  session/           Manager, fallback login, call retry │
//	├─────────────────────────────────────────────────────────┤
//	│  provider/httpauth  Provider for HTTP services          │
//	├──────────────┬──────────────┬──────────────┬────────────┤
//	│  transport/  │  auth/       │  store/      │  netmon/   │
//	│  HTTP, retry │  Basic, NTLM │  memory,     │  static,   │
//	│  breaker     │  Negotiate   │  file, redis │  TCP probe │
//	└──────────────┴──────────────┴──────────────┴────────────┘
//
// # Quick Start
//
//	st := store.NewFile(config.DefaultStorePath())
//	factory, err := httpauth.Factory(httpauth.Config{
//	    Name:    "intranet",
//	    BaseURL: "https://intranet.example.com",
//	    Scheme:  auth.SchemeNTLM,
//	    Store:   st,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mgr, err := session.NewManager(session.Config{
//	    Name:      "intranet",
//	    Providers: []session.ProviderFactory{factory},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Shutdown(context.Background())
//
//	me, err := session.WithSession(ctx, mgr, session.NoUI, nil,
//	    func(ctx context.Context, s *session.Session) (map[string]any, error) {
//	        return httpauth.GetJSON[map[string]any](ctx, s, "/api/me")
//	    })
//
// A 401 answer makes WithSession reauthorize the session and retry the call
// once; if reauthorization fails, or the answer was 403, the session is
// closed and the whole flow runs once more with a fresh login.
package authsession
