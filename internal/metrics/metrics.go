// Package metrics exposes Prometheus collectors for relay activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultNamespace = "posesync"

// Drop reasons recorded on events_dropped_total.
const (
	ReasonUnbound   = "unbound"
	ReasonNoSession = "no_session"
	ReasonInvalid   = "invalid"
	ReasonUnknown   = "unknown_event"
	ReasonDisabled  = "disabled"
)

// Gauges are sampled on every scrape. Nil functions are not registered.
type Gauges struct {
	Sessions    func() float64
	Members     func() float64
	Connections func() float64
}

type Option func(*config)

type config struct {
	namespace string
}

func WithNamespace(ns string) Option {
	return func(c *config) { c.namespace = ns }
}

// Relay holds the relay's collectors. A nil *Relay is valid and records nothing.
type Relay struct {
	events        *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	framesDropped prometheus.Counter
	reaped        prometheus.Counter
}

func New(reg prometheus.Registerer, g Gauges, opts ...Option) *Relay {
	cfg := config{namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(reg)

	gauge := func(name, help string, fn func() float64) {
		if fn == nil {
			return
		}
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      name,
			Help:      help,
		}, fn)
	}
	gauge("sessions", "Number of live sessions", g.Sessions)
	gauge("members", "Number of members across all sessions", g.Members)
	gauge("connections", "Number of connections bound to a session", g.Connections)

	return &Relay{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "events_total",
			Help:      "Inbound events accepted for routing",
		}, []string{"event"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "events_dropped_total",
			Help:      "Inbound events dropped before routing",
		}, []string{"event", "reason"}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "frames_dropped_total",
			Help:      "Outbound frames not queued for a recipient",
		}),
		reaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "reaped_total",
			Help:      "Members disconnected by the idle reaper",
		}),
	}
}

func (m *Relay) EventAccepted(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}

func (m *Relay) EventDropped(event, reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(event, reason).Inc()
}

func (m *Relay) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

func (m *Relay) Reaped() {
	if m == nil {
		return
	}
	m.reaped.Inc()
}
