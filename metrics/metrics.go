// Package metrics holds the prometheus collectors of a reflector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "svxreflector"

// Datagram outcomes used as the "result" label of DatagramsTotal.
const (
	DatagramAccepted        = "accepted"
	DatagramMalformed       = "malformed"
	DatagramUnknownClient   = "unknown_client"
	DatagramUnauthenticated = "unauthenticated"
	DatagramWrongAddress    = "wrong_address"
	DatagramStale           = "stale"
)

// Metrics collects reflector counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Sessions      prometheus.Gauge
	Nodes         prometheus.Gauge
	Connections   prometheus.Counter
	Rejections    *prometheus.CounterVec
	Datagrams     *prometheus.CounterVec
	FramesLost    prometheus.Counter
	AudioFrames   *prometheus.CounterVec
	TalkerStarts  prometheus.Counter
	TalkerStops   *prometheus.CounterVec
	SendFailures  *prometheus.CounterVec
	TalkerActive  prometheus.Gauge
	LoopIteration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of connected sessions, authenticated or not",
		}),
		Nodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Number of authenticated nodes",
		}),
		Connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted control connections",
		}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Nodes refused after the handshake, by reason",
		}, []string{"reason"}),
		Datagrams: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_total",
			Help:      "Received datagrams by demultiplexing result",
		}, []string{"result"}),
		FramesLost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_lost_total",
			Help:      "Sequence numbers skipped by incoming datagrams",
		}),
		AudioFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_total",
			Help:      "Audio frames by arbitration outcome",
		}, []string{"outcome"}),
		TalkerStarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "talker_starts_total",
			Help:      "Number of times a node took the channel",
		}),
		TalkerStops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "talker_stops_total",
			Help:      "Channel releases by reason",
		}, []string{"reason"}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Failed sends during fan-out, by channel",
		}, []string{"channel"}),
		TalkerActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "talker_active",
			Help:      "1 while a node holds the channel",
		}),
		LoopIteration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one loop event",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
	}
}

// SetSessions records the session and node counts.
func (m *Metrics) SetSessions(sessions, nodes int) {
	if m == nil {
		return
	}
	m.Sessions.Set(float64(sessions))
	m.Nodes.Set(float64(nodes))
}

func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

// Datagram counts one received datagram under result.
func (m *Metrics) Datagram(result string) {
	if m == nil {
		return
	}
	m.Datagrams.WithLabelValues(result).Inc()
}

func (m *Metrics) Lost(n uint16) {
	if m == nil || n == 0 {
		return
	}
	m.FramesLost.Add(float64(n))
}

func (m *Metrics) Audio(outcome string) {
	if m == nil {
		return
	}
	m.AudioFrames.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TalkerStarted() {
	if m == nil {
		return
	}
	m.TalkerStarts.Inc()
	m.TalkerActive.Set(1)
}

func (m *Metrics) TalkerStopped(reason string) {
	if m == nil {
		return
	}
	m.TalkerStops.WithLabelValues(reason).Inc()
	m.TalkerActive.Set(0)
}

// SendFailed counts n failed sends on channel ("reliable" or "unreliable").
func (m *Metrics) SendFailed(channel string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SendFailures.WithLabelValues(channel).Add(float64(n))
}

// ObserveEvent records how long one loop event took, in seconds.
func (m *Metrics) ObserveEvent(seconds float64) {
	if m == nil {
		return
	}
	m.LoopIteration.Observe(seconds)
}
