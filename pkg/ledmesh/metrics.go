package ledmesh

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "ledmesh"

type Metrics struct {
	Registry *prometheus.Registry

	RoleTransitions  *prometheus.CounterVec
	Elections        prometheus.Counter
	StepDowns        *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	ChunksSent       prometheus.Counter
	FramesFlushed    prometheus.Counter
	Role             *prometheus.GaugeVec
	AudioDetected    prometheus.Gauge
	BPM              prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := Metrics{
		Registry: prometheus.NewRegistry(),

		RoleTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "role_transitions_total",
				Help:      "Number of role transitions.",
			},
			[]string{"from", "to"},
		),

		Elections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "elections_total",
				Help:      "Number of elections started by this node.",
			},
		),

		StepDowns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "step_downs_total",
				Help:      "Number of times the node stopped being leader.",
			},
			[]string{"reason"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_received_total",
				Help:      "Number of valid messages received.",
			},
			[]string{"type"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_dropped_total",
				Help:      "Number of datagrams discarded without effect.",
			},
			[]string{"reason"},
		),

		ChunksSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "chunks_sent_total",
				Help:      "Number of raw chunks broadcast.",
			},
		),

		FramesFlushed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "frames_flushed_total",
				Help:      "Number of frames pushed to the display.",
			},
		),

		Role: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "role",
				Help:      "Current role (1 for the active role, 0 otherwise).",
			},
			[]string{"role"},
		),

		AudioDetected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "audio_detected",
				Help:      "Whether music was detected in the last window.",
			},
		),

		BPM: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "bpm",
				Help:      "Beats per minute computed in the last window.",
			},
		),
	}

	m.Registry.MustRegister(m.RoleTransitions, m.Elections, m.StepDowns,
		m.MessagesReceived, m.MessagesDropped, m.ChunksSent,
		m.FramesFlushed, m.Role, m.AudioDetected, m.BPM)

	return &m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) setRole(role Role) {
	for _, r := range []Role{RoleFollower, RoleElecting, RoleLeader} {
		value := 0.0
		if r == role {
			value = 1.0
		}

		m.Role.WithLabelValues(string(r)).Set(value)
	}
}
