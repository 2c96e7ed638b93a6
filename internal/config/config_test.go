package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
name: work
log:
  level: debug
  format: json
store:
  backend: memory
transport:
  timeout: 15s
  retry_attempts: 2
network:
  probe_targets: ["intranet.example.com:443"]
providers:
  - name: kerberos
    base_url: https://intranet.example.com
    scheme: negotiate
    kerberos:
      realm: EXAMPLE.COM
  - name: password
    service_id: intranet-basic
    base_url: https://intranet.example.com
    verify_path: /api/me
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", sample))
	require.NoError(t, err)

	assert.Equal(t, "work", cfg.Name)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 15*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, 2, cfg.Transport.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.Network.ProbeTTL, "defaults survive partial files")
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "EXAMPLE.COM", cfg.Providers[0].Kerberos.Realm)
	assert.Equal(t, []string{"kerberos", "intranet-basic"}, cfg.ServiceIDs())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Name)
	assert.Equal(t, StoreFile, cfg.Store.Backend)
	assert.Empty(t, cfg.Providers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUTHSESSION_NAME", "from-env")
	t.Setenv("AUTHSESSION_LOG_LEVEL", "error")
	t.Setenv("AUTHSESSION_TRANSPORT_TIMEOUT", "5s")
	t.Setenv("AUTHSESSION_NETWORK_PROBE_TARGETS", "a:1,b:2")

	cfg, err := Load(writeFile(t, "config.yaml", sample))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Network.ProbeTargets)
}

func TestLoad_DotEnv(t *testing.T) {
	for _, k := range []string{"AUTHSESSION_STORE_BACKEND", "AUTHSESSION_STORE_REDIS_ADDR"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	envFile := writeFile(t, ".env", "AUTHSESSION_STORE_BACKEND=redis\nAUTHSESSION_STORE_REDIS_ADDR=localhost:6379\n")

	cfg, err := Load("", envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "name: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no name", func(c *Config) { c.Name = "" }, "name is required"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "unknown log level"},
		{"bad backend", func(c *Config) { c.Store.Backend = "s3" }, "unknown store backend"},
		{"redis without addr", func(c *Config) { c.Store.Backend = StoreRedis }, "redis_addr"},
		{"negative retries", func(c *Config) { c.Transport.RetryAttempts = -1 }, "retry_attempts"},
		{"provider without url", func(c *Config) { c.Providers = []ProviderConfig{{Name: "p"}} }, "base_url"},
		{"duplicate provider", func(c *Config) {
			c.Providers = []ProviderConfig{{Name: "p", BaseURL: "https://x"}, {Name: "p", BaseURL: "https://y"}}
		}, "duplicate"},
		{"bad scheme", func(c *Config) {
			c.Providers = []ProviderConfig{{Name: "p", BaseURL: "https://x", Scheme: "digest"}}
		}, "digest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}
