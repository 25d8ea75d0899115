package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the relay.
type Metrics struct {
	FramesReceived   *prometheus.CounterVec
	UnknownFrames    prometheus.Counter
	AudioRelayed     prometheus.Counter
	DeliveryFailures prometheus.Counter
	RoleConnected    *prometheus.GaugeVec
	Takeovers        prometheus.Counter

	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	ActiveSessions  prometheus.Gauge

	ChunksPersisted prometheus.Counter
	PersistErrors   prometheus.Counter
	PersistDropped  prometheus.Counter
}

// New creates and registers all metrics against reg. Tests pass a fresh
// prometheus.NewRegistry so multiple servers can coexist in one process.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ecoute_frames_received_total",
			Help: "Inbound frames by decoded kind",
		}, []string{"kind"}),
		UnknownFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecoute_unknown_frames_total",
			Help: "Inbound frames that matched no known shape",
		}),
		AudioRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecoute_audio_relayed_total",
			Help: "Audio frames forwarded to the target role",
		}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecoute_delivery_failures_total",
			Help: "Audio frames dropped because the target role was not connected",
		}),
		RoleConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ecoute_role_connected",
			Help: "1 when the role has a live connection, 0 otherwise",
		}, []string{"role"}),
		Takeovers: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecoute_role_takeovers_total",
			Help: "Role claims that evicted a previous connection",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecoute_sessions_started_total",
			Help: "Listening sessions created",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecoute_sessions_stopped_total",
			Help: "Listening sessions stopped",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ecoute_active_sessions",
			Help: "Listening sessions currently active",
		}),
		ChunksPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecoute_chunks_persisted_total",
			Help: "Audio chunks durably stored",
		}),
		PersistErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecoute_persist_errors_total",
			Help: "Storage writes that failed (logged, never surfaced)",
		}),
		PersistDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecoute_persist_dropped_total",
			Help: "Storage writes dropped because the persistence queue was full",
		}),
	}
}
