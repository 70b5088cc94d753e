package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
)

const subscriptionID = "prometheus-collector"

// PrometheusCollector mirrors bus events into Prometheus counters and
// gauges. It subscribes like any other consumer and keeps no state of
// its own beyond the metric vectors.
type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
	recoveryAttempts  prometheus.Counter
	recoveryOutcomes  *prometheus.CounterVec
	circuitEvents     *prometheus.CounterVec
	poolExhaustions   prometheus.Counter
	healthChecks      *prometheus.CounterVec
	alertsRaised      *prometheus.CounterVec
	qualityChanges    *prometheus.CounterVec
	pingLatency       prometheus.Histogram
	streamsStarted    prometheus.Counter
	streamErrors      prometheus.Counter
}

// NewPrometheusCollector registers the metric vectors on the given
// registerer. Pass prometheus.DefaultRegisterer in production.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicelink_connections_active",
			Help: "Currently pooled voice connections.",
		}),
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_connections_total",
			Help: "Voice connection outcomes.",
		}, []string{"outcome"}),
		recoveryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_recovery_retries_total",
			Help: "Scheduled reconnect retries.",
		}),
		recoveryOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_recovery_outcomes_total",
			Help: "Recovery cycle outcomes.",
		}, []string{"outcome"}),
		circuitEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_circuit_breaker_events_total",
			Help: "Circuit breaker transitions and rejections.",
		}, []string{"event"}),
		poolExhaustions: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_pool_exhaustions_total",
			Help: "Connection requests rejected by the pool bound.",
		}),
		healthChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_health_checks_total",
			Help: "Health check results by status.",
		}, []string{"status"}),
		alertsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_alerts_raised_total",
			Help: "Monitoring alerts by severity.",
		}, []string{"severity"}),
		qualityChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_quality_adjustments_total",
			Help: "Quality preset adjustments by direction.",
		}, []string{"direction"}),
		pingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicelink_ping_latency_seconds",
			Help:    "Voice gateway heartbeat round trips.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		streamsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_streams_started_total",
			Help: "Streams started.",
		}),
		streamErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_stream_errors_total",
			Help: "Stream startup and playback errors.",
		}),
	}
}

// Attach subscribes the collector to the bus.
func (p *PrometheusCollector) Attach(bus ports.EventBus) error {
	return bus.Subscribe(subscriptionID, domain.DefaultFilter(), p.handle)
}

// Detach removes the bus subscription.
func (p *PrometheusCollector) Detach(bus ports.EventBus) {
	bus.Unsubscribe(subscriptionID)
}

func (p *PrometheusCollector) handle(e domain.Event) {
	switch e.Type {
	case domain.EventConnectionEstablished:
		p.connectionsActive.Inc()
		p.connectionsTotal.WithLabelValues("established").Inc()
	case domain.EventConnectionReused:
		p.connectionsTotal.WithLabelValues("reused").Inc()
	case domain.EventConnectionFailed:
		p.connectionsTotal.WithLabelValues("failed").Inc()
	case domain.EventConnectionClosed:
		p.connectionsActive.Dec()
		p.connectionsTotal.WithLabelValues("closed").Inc()

	case domain.EventRetryScheduled:
		p.recoveryAttempts.Inc()
	case domain.EventRecoverySucceeded:
		p.recoveryOutcomes.WithLabelValues("succeeded").Inc()
	case domain.EventRecoveryFailed:
		p.recoveryOutcomes.WithLabelValues("failed").Inc()

	case domain.EventCircuitOpened:
		p.circuitEvents.WithLabelValues("opened").Inc()
	case domain.EventCircuitHalfOpen:
		p.circuitEvents.WithLabelValues("half_open").Inc()
	case domain.EventCircuitClosed:
		p.circuitEvents.WithLabelValues("closed").Inc()
	case domain.EventCircuitRejected:
		p.circuitEvents.WithLabelValues("rejected").Inc()

	case domain.EventPoolExhausted:
		p.poolExhaustions.Inc()

	case domain.EventHealthCheckCompleted:
		if data, ok := e.Data.(domain.HealthData); ok {
			p.healthChecks.WithLabelValues(string(data.Status)).Inc()
		}
	case domain.EventAlertRaised:
		if data, ok := e.Data.(domain.AlertData); ok {
			p.alertsRaised.WithLabelValues(data.Severity.String()).Inc()
		}

	case domain.EventQualityAdjusted, domain.EventQualityEmergency:
		if data, ok := e.Data.(domain.QualityChangeData); ok {
			direction := "up"
			if data.ToPreset.Rank() < data.FromPreset.Rank() {
				direction = "down"
			}
			p.qualityChanges.WithLabelValues(direction).Inc()
		}

	case domain.EventPingRecorded:
		if data, ok := e.Data.(domain.PingData); ok {
			p.pingLatency.Observe(data.LatencyMs / 1000)
		}

	case domain.EventAudioStreamStarted:
		p.streamsStarted.Inc()
	case domain.EventAudioStreamError:
		p.streamErrors.Inc()
	}
}
