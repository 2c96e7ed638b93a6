package session

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for one or more managers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	LoginAttempts  *prometheus.CounterVec
	StrategyResult *prometheus.CounterVec
	Transitions    *prometheus.CounterVec
	Recoveries     *prometheus.CounterVec
	LoginDuration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg
// (or the default registerer if nil). Collectors that are already
// registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsession_login_attempts_total",
			Help: "Login attempts started by the session manager, by outcome.",
		}, []string{"manager", "outcome"}),
		StrategyResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsession_strategy_results_total",
			Help: "Fallback chain strategy results.",
		}, []string{"provider", "method", "result"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsession_state_transitions_total",
			Help: "Session state transitions.",
		}, []string{"manager", "to"}),
		Recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsession_call_recoveries_total",
			Help: "Recovery actions taken by the call wrapper.",
		}, []string{"action"}),
		LoginDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authsession_login_duration_seconds",
			Help:    "Duration of login attempts.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}

	var err error
	if m.LoginAttempts, err = register(reg, m.LoginAttempts); err != nil {
		return nil, err
	}
	if m.StrategyResult, err = register(reg, m.StrategyResult); err != nil {
		return nil, err
	}
	if m.Transitions, err = register(reg, m.Transitions); err != nil {
		return nil, err
	}
	if m.Recoveries, err = register(reg, m.Recoveries); err != nil {
		return nil, err
	}
	if m.LoginDuration, err = register(reg, m.LoginDuration); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, returning the existing collector when an identical
// one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) loginAttempt(manager, outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(manager, outcome).Inc()
}

func (m *Metrics) strategyResult(provider string, method Method, result string) {
	if m == nil {
		return
	}
	m.StrategyResult.WithLabelValues(provider, method.String(), result).Inc()
}

func (m *Metrics) transition(manager string, to State) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(manager, to.String()).Inc()
}

func (m *Metrics) recovery(action string) {
	if m == nil {
		return
	}
	m.Recoveries.WithLabelValues(action).Inc()
}

func (m *Metrics) observeLogin(seconds float64) {
	if m == nil {
		return
	}
	m.LoginDuration.Observe(seconds)
}
