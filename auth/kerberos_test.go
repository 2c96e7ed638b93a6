package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKerberosProvider_ConfigErrors(t *testing.T) {
	_, err := NewKerberosProvider(KerberosConfig{})
	assert.ErrorContains(t, err, "target SPN")

	_, err = NewKerberosProvider(KerberosConfig{TargetSPN: "HTTP/api.example.com"})
	assert.ErrorContains(t, err, "no credentials")

	_, err = NewKerberosProvider(KerberosConfig{
		TargetSPN:    "HTTP/api.example.com",
		Krb5ConfPath: filepath.Join(t.TempDir(), "missing.conf"),
		Credentials:  &Credentials{Username: "alice", Password: "pw"},
	})
	assert.ErrorContains(t, err, "load krb5.conf")
}

func TestNewKerberosProvider_Password(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "krb5.conf")
	require.NoError(t, os.WriteFile(conf, []byte(`[libdefaults]
  default_realm = EXAMPLE.COM

[realms]
  EXAMPLE.COM = {
    kdc = kdc.example.com:88
  }
`), 0o600))

	p, err := NewKerberosProvider(KerberosConfig{
		TargetSPN:    "HTTP/api.example.com",
		Realm:        "EXAMPLE.COM",
		Krb5ConfPath: conf,
		Credentials:  &Credentials{Username: "alice", Password: "pw"},
	})
	require.NoError(t, err)
	assert.False(t, p.Complete())
	assert.NoError(t, p.Close())
}

func TestDefaultCCachePath(t *testing.T) {
	t.Setenv("KRB5CCNAME", "FILE:/tmp/krb5cc_test")
	assert.Equal(t, "/tmp/krb5cc_test", DefaultCCachePath())
}

func TestCCachePrincipal_Missing(t *testing.T) {
	_, _, err := CCachePrincipal(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorContains(t, err, "load ccache")
}
