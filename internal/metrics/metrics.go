package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"posledger/backend/internal/store"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry      *prometheus.Registry
	batches       *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	unitsSold     prometheus.Counter
	replays       prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "batches_total",
			Help:      "Ledger batches by operation and outcome kind.",
		}, []string{"op", "outcome"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "posledger",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of ledger batches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		unitsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "units_sold_total",
			Help:      "Units taken out of stock by committed sales.",
		}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "idempotent_replays_total",
			Help:      "Sale requests answered from the replay cache.",
		}),
	}
	reg.MustRegister(
		m.batches,
		m.batchDuration,
		m.unitsSold,
		m.replays,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveBatch records one ledger batch. outcome is "ok" or the error kind.
func (m *Metrics) ObserveBatch(op string, startedAt time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = store.Kind(err)
	}
	m.batches.WithLabelValues(op, outcome).Inc()
	m.batchDuration.WithLabelValues(op).Observe(time.Since(startedAt).Seconds())
}

func (m *Metrics) AddUnitsSold(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.unitsSold.Add(float64(n))
}

func (m *Metrics) IncReplay() {
	if m == nil {
		return
	}
	m.replays.Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
