package infra

import (
	"time"

	"anomaly-gateway/middleware/anomaly/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics recebe os eventos do gate, do recorder e do reaper e os expõe
// como métricas Prometheus.
type Metrics struct {
	decisions     *prometheus.CounterVec
	degraded      prometheus.Counter
	latency       prometheus.Histogram
	records       *prometheus.CounterVec
	evictions     prometheus.Counter
	trackedClient prometheus.Gauge
}

// NewMetrics registra os coletores em reg. Com reg nil usa o registry padrão.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomaly",
			Name:      "decisions_total",
			Help:      "Requests classified by the gate.",
		}, []string{"attack_type", "threat_level", "action"}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anomaly",
			Name:      "degraded_decisions_total",
			Help:      "Decisions taken by the fail mode after a window store failure.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "anomaly",
			Name:      "gate_duration_seconds",
			Help:      "Time spent deciding a request.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomaly",
			Name:      "records_total",
			Help:      "Traffic records by outcome.",
		}, []string{"result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anomaly",
			Name:      "reaper_evictions_total",
			Help:      "Client windows removed by the reaper.",
		}),
		trackedClient: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "anomaly",
			Name:      "tracked_clients",
			Help:      "Clients tracked after the last reaper pass.",
		}),
	}
	reg.MustRegister(m.decisions, m.degraded, m.latency, m.records, m.evictions, m.trackedClient)
	return m
}

func (m *Metrics) Decision(d domain.Decision, elapsed time.Duration) {
	action := "allow"
	if !d.Allowed {
		action = "block"
	}
	m.decisions.WithLabelValues(d.Verdict.AttackType.String(), d.Verdict.ThreatLevel.String(), action).Inc()
	if d.Degraded {
		m.degraded.Inc()
	}
	m.latency.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordDropped() { m.records.WithLabelValues("dropped").Inc() }
func (m *Metrics) RecordWritten() { m.records.WithLabelValues("written").Inc() }
func (m *Metrics) RecordFailed()  { m.records.WithLabelValues("failed").Inc() }

func (m *Metrics) Swept(res domain.PruneResult) {
	m.evictions.Add(float64(res.Evicted))
	m.trackedClient.Set(float64(res.Tracked))
}
