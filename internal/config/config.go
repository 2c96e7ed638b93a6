// Package config loads the authsession CLI configuration from a YAML file,
// an optional .env file and AUTHSESSION_* environment variables, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/smnsjas/go-authsession/auth"
	"github.com/smnsjas/go-authsession/internal/log"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AUTHSESSION_"

// Store backends.
const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the CLI configuration.
type Config struct {
	// Name identifies the session manager in logs and metrics.
	Name string `yaml:"name" env:"NAME"`

	Log       log.Config      `yaml:"log" envPrefix:"LOG_"`
	Metrics   MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"`
	Network   NetworkConfig   `yaml:"network" envPrefix:"NETWORK_"`
	Store     StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	Transport TransportConfig `yaml:"transport" envPrefix:"TRANSPORT_"`

	// Providers form the fallback chain; the last one is the default.
	Providers []ProviderConfig `yaml:"providers"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. "127.0.0.1:9464".
	Addr string `yaml:"addr" env:"ADDR"`
}

// NetworkConfig configures connectivity checks.
type NetworkConfig struct {
	// ProbeTargets are host:port pairs; empty means always online.
	ProbeTargets []string      `yaml:"probe_targets" env:"PROBE_TARGETS" envSeparator:","`
	ProbeTTL     time.Duration `yaml:"probe_ttl" env:"PROBE_TTL"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT"`
}

// StoreConfig selects where accounts are persisted.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`

	// Path is the YAML account file of the file backend.
	Path string `yaml:"path" env:"PATH"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisPrefix   string `yaml:"redis_prefix" env:"REDIS_PREFIX"`
}

// TransportConfig tunes the HTTP transport shared by providers.
type TransportConfig struct {
	Timeout            time.Duration `yaml:"timeout" env:"TIMEOUT"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`

	RetryAttempts     int           `yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" env:"RETRY_INITIAL_DELAY"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`

	BreakerEnabled   bool          `yaml:"breaker_enabled" env:"BREAKER_ENABLED"`
	BreakerThreshold int           `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerReset     time.Duration `yaml:"breaker_reset" env:"BREAKER_RESET"`
}

// ProviderConfig describes one HTTP identity provider.
type ProviderConfig struct {
	Name       string `yaml:"name"`
	ServiceID  string `yaml:"service_id"`
	BaseURL    string `yaml:"base_url"`
	VerifyPath string `yaml:"verify_path"`
	TokenPath  string `yaml:"token_path"`
	Scheme     string `yaml:"scheme"`

	Kerberos KerberosConfig `yaml:"kerberos"`
}

// KerberosConfig mirrors auth.KerberosConfig without credentials.
type KerberosConfig struct {
	SPN      string `yaml:"spn"`
	Realm    string `yaml:"realm"`
	Krb5Conf string `yaml:"krb5_conf"`
	Keytab   string `yaml:"keytab"`
	CCache   string `yaml:"ccache"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Name: "default",
		Log:  log.DefaultConfig(),
		Network: NetworkConfig{
			ProbeTTL:     30 * time.Second,
			ProbeTimeout: 3 * time.Second,
		},
		Store: StoreConfig{
			Backend: StoreFile,
			Path:    DefaultStorePath(),
		},
		Transport: TransportConfig{
			Timeout:           60 * time.Second,
			RetryAttempts:     3,
			RetryInitialDelay: 200 * time.Millisecond,
			RetryMaxDelay:     5 * time.Second,
			BreakerThreshold:  5,
			BreakerReset:      30 * time.Second,
		},
	}
}

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultStorePath returns the default account file location.
func DefaultStorePath() string {
	return filepath.Join(configDir(), "accounts.yaml")
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "authsession")
}

// Load reads the configuration. A missing file at path is not an error;
// envFiles are loaded into the process environment when present.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreFile:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the file backend")
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Transport.RetryAttempts < 0 {
		return errors.New("transport.retry_attempts must not be negative")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.BaseURL == "" {
			return fmt.Errorf("provider %s: base_url is required", p.Name)
		}
		if _, err := auth.ParseScheme(p.Scheme); err != nil {
			return fmt.Errorf("provider %s: %w", p.Name, err)
		}
	}
	return nil
}

// ServiceIDs returns the store keys of all providers.
func (c *Config) ServiceIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		id := p.ServiceID
		if id == "" {
			id = p.Name
		}
		ids = append(ids, id)
	}
	return ids
}
