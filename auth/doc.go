// Package auth provides HTTP authentication handlers used by session
// providers to sign requests to protected endpoints.
//
// # Supported Authentication Methods
//
//   - Basic: HTTP Basic authentication (use only over TLS)
//   - NTLM: NT LAN Manager authentication (via github.com/Azure/go-ntlmssp)
//   - Negotiate: SPNEGO wrapper around a pluggable SecurityProvider
//   - Kerberos: SecurityProvider backed by github.com/go-krb5/krb5
//
// Kerberos needs explicit credentials: a password, a keytab file, or a
// credential cache (ccache from kinit).
//
// # Usage
//
// NTLM authentication:
//
//	a := auth.NewNTLMAuth(auth.Credentials{
//	    Username: "alice",
//	    Password: "password",
//	    Domain:   "CORP",
//	})
//	client := &http.Client{Transport: a.Transport(http.DefaultTransport)}
//
// Kerberos with credential cache:
//
//	provider, err := auth.NewKerberosProvider(auth.KerberosConfig{
//	    TargetSPN:  "HTTP/api.corp.example.com",
//	    Realm:      "CORP.EXAMPLE.COM",
//	    CCachePath: "/tmp/krb5cc_1000",
//	})
//	a := auth.NewNegotiateAuth(provider)
package auth
