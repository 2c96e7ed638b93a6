package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/smnsjas/go-authsession/auth"
	"github.com/smnsjas/go-authsession/internal/config"
	ilog "github.com/smnsjas/go-authsession/internal/log"
	"github.com/smnsjas/go-authsession/netmon"
	"github.com/smnsjas/go-authsession/provider/httpauth"
	"github.com/smnsjas/go-authsession/session"
	"github.com/smnsjas/go-authsession/store"
	"github.com/smnsjas/go-authsession/transport"
)

// app holds the components built from the configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	network  session.NetworkMonitor
	registry *prometheus.Registry
	manager  *session.Manager

	closers       []io.Closer
	metricsServer *http.Server
}

func newApp(cfg *config.Config, stderr io.Writer) (*app, error) {
	logger, logCloser, err := ilog.New(cfg.Log, stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	a.store, err = newStore(cfg.Store)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	if c, ok := a.store.(store.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.network = newNetwork(cfg.Network, logger)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := session.NewMetrics(a.registry)
	if err != nil {
		a.close(context.Background())
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	factories, err := a.providerFactories()
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	if len(factories) == 0 {
		a.close(context.Background())
		return nil, errors.New("no providers configured")
	}

	a.manager, err = session.NewManager(session.Config{
		Name:      cfg.Name,
		Providers: factories,
		Network:   a.network,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    otel.Tracer("github.com/smnsjas/go-authsession/cmd/authsession"),
	})
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func newStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return store.NewMemory(0), nil
	case config.StoreFile:
		return store.NewFile(cfg.Path), nil
	case config.StoreRedis:
		r := store.NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPassword)
		if cfg.RedisPrefix != "" {
			return store.NewRedisFromClient(r.Client(), cfg.RedisPrefix), nil
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func newNetwork(cfg config.NetworkConfig, logger *slog.Logger) session.NetworkMonitor {
	if len(cfg.ProbeTargets) == 0 {
		return netmon.NewStatic(true)
	}
	return netmon.NewProbe(cfg.ProbeTargets, cfg.ProbeTTL,
		netmon.WithProbeTimeout(cfg.ProbeTimeout),
		netmon.WithProbeLogger(logger))
}

func (a *app) transportOptions() []transport.HTTPTransportOption {
	tc := a.cfg.Transport
	opts := []transport.HTTPTransportOption{
		transport.WithTimeout(tc.Timeout),
		transport.WithInsecureSkipVerify(tc.InsecureSkipVerify),
	}
	if tc.RetryAttempts > 1 {
		policy := transport.DefaultRetryPolicy()
		policy.MaxAttempts = tc.RetryAttempts
		if tc.RetryInitialDelay > 0 {
			policy.InitialDelay = tc.RetryInitialDelay
		}
		if tc.RetryMaxDelay > 0 {
			policy.MaxDelay = tc.RetryMaxDelay
		}
		opts = append(opts, transport.WithRetryPolicy(policy))
	}
	if tc.BreakerEnabled {
		logger := a.logger
		opts = append(opts, transport.WithCircuitBreaker(&transport.CircuitBreakerPolicy{
			Enabled:          true,
			FailureThreshold: tc.BreakerThreshold,
			ResetTimeout:     tc.BreakerReset,
			OnStateChange: func(from, to transport.CircuitState) {
				logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
			},
		}))
	}
	return opts
}

func (a *app) providerFactories() ([]session.ProviderFactory, error) {
	var factories []session.ProviderFactory
	for _, pc := range a.cfg.Providers {
		scheme, err := auth.ParseScheme(pc.Scheme)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		f, err := httpauth.Factory(httpauth.Config{
			Name:       pc.Name,
			ServiceID:  pc.ServiceID,
			BaseURL:    pc.BaseURL,
			VerifyPath: pc.VerifyPath,
			TokenPath:  pc.TokenPath,
			Scheme:     scheme,
			Kerberos: auth.KerberosConfig{
				TargetSPN:    pc.Kerberos.SPN,
				Realm:        pc.Kerberos.Realm,
				Krb5ConfPath: pc.Kerberos.Krb5Conf,
				KeytabPath:   pc.Kerberos.Keytab,
				CCachePath:   pc.Kerberos.CCache,
			},
			Store:            a.store,
			TransportOptions: a.transportOptions(),
			Logger:           a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		factories = append(factories, f)
	}
	return factories, nil
}

// serveMetrics exposes /metrics on addr until close.
func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

func (a *app) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if a.manager != nil {
		if err := a.manager.Shutdown(ctx); err != nil {
			a.logger.Warn("session manager shutdown", "error", err)
		}
	}
	if a.metricsServer != nil {
		_ = a.metricsServer.Shutdown(ctx)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}
