// Package netmon provides connectivity monitors for session.Manager.
package netmon

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Static reports a fixed availability that can be flipped at runtime.
type Static struct {
	online atomic.Bool
}

// NewStatic creates a Static monitor.
func NewStatic(online bool) *Static {
	s := &Static{}
	s.online.Store(online)
	return s
}

// Available implements session.NetworkMonitor.
func (s *Static) Available() bool { return s.online.Load() }

// Set changes the reported availability.
func (s *Static) Set(online bool) { s.online.Store(online) }

const resultKey = "available"

// Dialer opens connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Probe reports the network available when any of its targets accepts a
// TCP connection. Results are cached for the configured TTL so frequent
// polling does not dial on every call.
type Probe struct {
	targets []string
	timeout time.Duration
	dialer  Dialer
	cache   *gocache.Cache
	logger  *slog.Logger
}

// ProbeOption configures a Probe.
type ProbeOption func(*Probe)

// WithProbeTimeout sets the dial timeout per target.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *Probe) { p.timeout = d }
}

// WithDialer replaces the dialer.
func WithDialer(d Dialer) ProbeOption {
	return func(p *Probe) { p.dialer = d }
}

// WithProbeLogger sets the logger.
func WithProbeLogger(l *slog.Logger) ProbeOption {
	return func(p *Probe) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProbe creates a TCP probe for host:port targets. ttl bounds how long
// a result is reused.
func NewProbe(targets []string, ttl time.Duration, opts ...ProbeOption) *Probe {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	p := &Probe{
		targets: targets,
		timeout: 3 * time.Second,
		dialer:  &net.Dialer{},
		cache:   gocache.New(ttl, time.Minute),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Available implements session.NetworkMonitor.
func (p *Probe) Available() bool {
	if v, ok := p.cache.Get(resultKey); ok {
		return v.(bool)
	}
	online := p.probe()
	p.cache.SetDefault(resultKey, online)
	return online
}

// Invalidate drops the cached result.
func (p *Probe) Invalidate() {
	p.cache.Delete(resultKey)
}

func (p *Probe) probe() bool {
	for _, target := range p.targets {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		conn, err := p.dialer.DialContext(ctx, "tcp", target)
		cancel()
		if err != nil {
			p.logger.Debug("network probe failed", "target", target, "error", err)
			continue
		}
		_ = conn.Close()
		p.logger.Debug("network probe succeeded", "target", target)
		return true
	}
	p.logger.Warn("network unavailable", "targets", p.targets)
	return false
}
