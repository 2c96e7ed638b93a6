package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-krb5/krb5/client"
	"github.com/go-krb5/krb5/config"
	"github.com/go-krb5/krb5/credentials"
	"github.com/go-krb5/krb5/keytab"
	"github.com/go-krb5/krb5/spnego"
)

// KerberosConfig configures a KerberosProvider. Exactly one credential
// source is used, in order: keytab, credential cache, password.
type KerberosConfig struct {
	// TargetSPN is the Service Principal Name (e.g., "HTTP/server.domain.com").
	TargetSPN string

	// Realm is the Kerberos realm (e.g., "DOMAIN.COM").
	Realm string

	// Krb5ConfPath is the path to krb5.conf (default: $KRB5_CONFIG or /etc/krb5.conf).
	Krb5ConfPath string

	// KeytabPath is the path to a keytab file (optional).
	KeytabPath string

	// CCachePath is the path to a credential cache (optional).
	CCachePath string

	// Credentials are username/password credentials (optional).
	Credentials *Credentials
}

// KerberosProvider implements SecurityProvider with the pure Go krb5 library.
// It produces SPNEGO tokens for TLS-protected endpoints.
type KerberosProvider struct {
	client     *client.Client
	spnego     *spnego.SPNEGO
	targetSPN  string
	loggedIn   bool
	isComplete bool
}

// NewKerberosProvider creates a Kerberos provider from cfg.
func NewKerberosProvider(cfg KerberosConfig) (*KerberosProvider, error) {
	if cfg.TargetSPN == "" {
		return nil, errors.New("target SPN is required")
	}
	if cfg.KeytabPath == "" && cfg.CCachePath == "" && cfg.Credentials == nil {
		return nil, errors.New("no credentials provided (keytab, ccache, or password required)")
	}

	confPath := cfg.Krb5ConfPath
	if confPath == "" {
		confPath = os.Getenv("KRB5_CONFIG")
		if confPath == "" {
			confPath = "/etc/krb5.conf"
		}
	}
	conf, err := config.Load(confPath)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf from %s: %w", confPath, err)
	}

	// Disable FAST for compatibility with older KDCs.
	opt := client.DisablePAFXFAST(true)

	var cl *client.Client
	switch {
	case cfg.KeytabPath != "":
		if cfg.Credentials == nil {
			return nil, errors.New("keytab login requires a username")
		}
		kt, err := keytab.Load(cfg.KeytabPath)
		if err != nil {
			return nil, fmt.Errorf("load keytab from %s: %w", cfg.KeytabPath, err)
		}
		cl = client.NewWithKeytab(cfg.Credentials.Username, cfg.Realm, kt, conf, opt)
	case cfg.CCachePath != "":
		cc, err := credentials.LoadCCache(cfg.CCachePath)
		if err != nil {
			return nil, fmt.Errorf("load ccache from %s: %w", cfg.CCachePath, err)
		}
		cl, err = client.NewFromCCache(cc, conf, opt)
		if err != nil {
			return nil, fmt.Errorf("create client from ccache: %w", err)
		}
	default:
		if err := cfg.Credentials.ValidateForKerberos(); err != nil {
			return nil, err
		}
		cl = client.NewWithPassword(cfg.Credentials.Username, cfg.Realm, cfg.Credentials.Password, conf, opt)
	}

	return &KerberosProvider{client: cl, targetSPN: cfg.TargetSPN}, nil
}

// Step performs a SPNEGO step.
func (p *KerberosProvider) Step(_ context.Context, inputToken []byte) ([]byte, bool, error) {
	if !p.loggedIn {
		if err := p.client.Login(); err != nil {
			return nil, false, fmt.Errorf("kerberos login: %w", err)
		}
		p.loggedIn = true
	}
	if p.spnego == nil {
		p.spnego = spnego.SPNEGOClient(p.client, p.targetSPN)
	}

	if len(inputToken) > 0 {
		// Server's mutual-auth reply; nothing more to send.
		if !p.isComplete {
			return nil, false, errors.New("received server token before client authentication completed")
		}
		return nil, false, nil
	}

	tkn, err := p.spnego.InitSecContext()
	if err != nil {
		return nil, false, fmt.Errorf("init security context: %w", err)
	}
	token, err := tkn.Marshal()
	if err != nil {
		return nil, false, fmt.Errorf("marshal token: %w", err)
	}
	p.isComplete = true
	return token, false, nil
}

// Complete returns true if the context is established.
func (p *KerberosProvider) Complete() bool {
	return p.isComplete
}

// Close releases resources.
func (p *KerberosProvider) Close() error {
	p.client.Destroy()
	return nil
}

// DefaultCCachePath returns the credential cache kinit writes to:
// $KRB5CCNAME (FILE: prefix stripped) or /tmp/krb5cc_<uid>.
func DefaultCCachePath() string {
	if name := os.Getenv("KRB5CCNAME"); name != "" {
		return strings.TrimPrefix(name, "FILE:")
	}
	return "/tmp/krb5cc_" + strconv.Itoa(os.Getuid())
}

// CCachePrincipal returns the default principal stored in a credential cache.
func CCachePrincipal(path string) (username, realm string, err error) {
	cc, err := credentials.LoadCCache(path)
	if err != nil {
		return "", "", fmt.Errorf("load ccache from %s: %w", path, err)
	}
	return cc.GetClientPrincipalName().PrincipalNameString(), cc.GetClientRealm(), nil
}
