// Package metrics exposes room and upload counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "burnroom"

// Metrics implements the room registry and upload observers.
type Metrics struct {
	registry *prometheus.Registry

	roomsActive   prometheus.Gauge
	membersActive prometheus.Gauge
	joins         *prometheus.CounterVec
	messages      prometheus.Counter
	roomsExpired  prometheus.Counter
	uploadBytes   prometheus.Counter
}

// New registers collectors on a private registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		roomsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms currently registered.",
		}),
		membersActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members_active",
			Help:      "Live connections admitted to a room.",
		}),
		joins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Join attempts by result.",
		}, []string{"result"}),
		messages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Chat messages relayed.",
		}),
		roomsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_expired_total",
			Help:      "Rooms torn down because their lifetime elapsed.",
		}),
		uploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes of uploaded files stored.",
		}),
	}
}

// Handler exposes the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RoomOpened() { m.roomsActive.Inc() }

func (m *Metrics) RoomClosed(expired bool) {
	m.roomsActive.Dec()
	if expired {
		m.roomsExpired.Inc()
	}
}

func (m *Metrics) MemberJoined() {
	m.membersActive.Inc()
	m.joins.WithLabelValues("admitted").Inc()
}

func (m *Metrics) MemberLeft(n int) { m.membersActive.Sub(float64(n)) }

// JoinRejected labels the attempt with the rejection code.
func (m *Metrics) JoinRejected(code string) { m.joins.WithLabelValues(code).Inc() }

func (m *Metrics) ChatRelayed() { m.messages.Inc() }

func (m *Metrics) UploadStored(bytes int64) { m.uploadBytes.Add(float64(bytes)) }
