package lmqtt

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and histograms RunOnce and the client state
// machine update as packets move through the core. Callers register it
// against their own prometheus.Registerer; NewMetrics does not self-register
// so a host embedding multiple clients can label each one distinctly.
type Metrics struct {
	PacketsSent     *prometheus.CounterVec
	PacketsReceived *prometheus.CounterVec
	BytesSent       prometheus.Counter
	BytesReceived   prometheus.Counter
	Errors          *prometheus.CounterVec
	StoreDepth      prometheus.Gauge
	ConnectDuration prometheus.Histogram
}

// NewMetrics constructs a Metrics set with the given constant labels (e.g.
// {"client_id": "sensor-7"}) applied to every vector metric.
func NewMetrics(constLabels prometheus.Labels) *Metrics {
	return &Metrics{
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lmqtt_packets_sent_total",
			Help:        "MQTT packets successfully encoded and handed to the write callback, by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lmqtt_packets_received_total",
			Help:        "MQTT packets successfully decoded from the read callback, by type.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "lmqtt_bytes_sent_total",
			Help:        "MQTT packet bytes handed to the write callback (WebSocket frame headers and handshake excluded).",
			ConstLabels: constLabels,
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "lmqtt_bytes_received_total",
			Help:        "Body bytes of decoded MQTT packets (fixed header excluded).",
			ConstLabels: constLabels,
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lmqtt_errors_total",
			Help:        "Errors surfaced by the core, by ErrorCode.",
			ConstLabels: constLabels,
		}, []string{"code"}),
		StoreDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "lmqtt_store_depth",
			Help:        "Number of in-flight outbound packets currently tracked by the store.",
			ConstLabels: constLabels,
		}),
		ConnectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "lmqtt_connect_duration_seconds",
			Help:        "Seconds, by the host clock, between the CONNECT packet being fully written and a successful CONNACK.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

// MustRegister registers every metric against r, panicking on collision --
// intended for startup-time wiring where a duplicate registration is a bug.
func (m *Metrics) MustRegister(r prometheus.Registerer) {
	r.MustRegister(m.PacketsSent, m.PacketsReceived, m.BytesSent, m.BytesReceived,
		m.Errors, m.StoreDepth, m.ConnectDuration)
}

func (m *Metrics) observeSent(kind PacketKind, n int) {
	if m == nil {
		return
	}
	m.PacketsSent.WithLabelValues(kind.String()).Inc()
	m.BytesSent.Add(float64(n))
}

func (m *Metrics) observeReceived(pt packetType, n int) {
	if m == nil {
		return
	}
	m.PacketsReceived.WithLabelValues(pt.String()).Inc()
	m.BytesReceived.Add(float64(n))
}

func (m *Metrics) observeError(code ErrorCode) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(code.String()).Inc()
}
