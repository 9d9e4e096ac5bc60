package metrics

import (
	"sync"

	"github.com/layer-3/barong-agent/core"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "barong_agent"

// Collector turns session events into prometheus metrics.
type Collector struct {
	events      *prometheus.CounterVec
	state       *prometheus.GaugeVec
	refreshes   *prometheus.CounterVec
	tokenExpiry prometheus.Gauge

	mu sync.Mutex
	// refreshing is set between a started refresh and its outcome.
	refreshing bool
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type and the state they were emitted in.",
		}, []string{"type", "state"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		tokenExpiry: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "token_expires_at_seconds",
			Help:      "Unix time at which the held access token expires, 0 without a token.",
		}),
	}

	for _, collector := range []prometheus.Collector{c.events, c.state, c.refreshes, c.tokenExpiry} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	c.setState(core.StateInitial)
	return c, nil
}

// Observe is an eventbus.Handler.
func (c *Collector) Observe(event core.Event) {
	state := event.AuthState()
	c.events.WithLabelValues(string(event.Type()), string(state)).Inc()
	c.setState(state)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := event.(type) {
	case core.Refreshing:
		if ev.Reason == core.ReasonRefreshInProgress {
			c.refreshes.WithLabelValues("coalesced").Inc()
		} else {
			c.refreshes.WithLabelValues("started").Inc()
			c.refreshing = true
		}
	case core.TokenExpiration:
		if state == core.StateBackendFailure {
			c.outcome("failed")
		}
	case core.TokenRemoval:
		if ev.Reason == core.ReasonRefreshRejected {
			c.outcome("rejected")
		}
		c.refreshing = false
		c.tokenExpiry.Set(0)
	case core.Authenticated:
		if c.refreshing {
			c.outcome("succeeded")
		}
		c.tokenExpiry.Set(float64(ev.TokenExpiresAt.Unix()))
	case core.TokenReloaded:
		c.tokenExpiry.Set(float64(ev.TokenExpiresAt.Unix()))
	}
}

func (c *Collector) outcome(label string) {
	c.refreshes.WithLabelValues(label).Inc()
	c.refreshing = false
}

func (c *Collector) setState(current core.State) {
	for _, s := range core.States {
		v := 0.0
		if s == current {
			v = 1
		}
		c.state.WithLabelValues(string(s)).Set(v)
	}
}
