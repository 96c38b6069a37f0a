// Package metrics exposes the Prometheus registry and the JSON
// exposition of the same counters.
package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds every metric the service records. Request and collector
// metrics are pushed as events happen; cache, upstream and stream
// counters are read from their components at scrape time via the
// Observe* registrations.
type Registry struct {
	reg *prometheus.Registry

	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec

	CollectorRuns  *prometheus.CounterVec
	CollectorItems *prometheus.CounterVec
}

// NewRegistry creates and registers all metrics on a private registry so
// repeated construction in tests cannot collide.
func NewRegistry() *Registry {
	m := &Registry{
		reg: prometheus.NewRegistry(),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketfeed_request_duration_seconds",
				Help:    "HTTP request duration by route",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"route", "status"},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketfeed_requests_total",
				Help: "Total HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),

		CollectorRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketfeed_collector_runs_total",
				Help: "Collector runs by collector and result",
			},
			[]string{"collector", "result"},
		),

		CollectorItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketfeed_collector_items_total",
				Help: "Items collected by collector",
			},
			[]string{"collector"},
		),
	}

	m.reg.MustRegister(
		m.RequestDuration,
		m.RequestsTotal,
		m.CollectorRuns,
		m.CollectorItems,
	)
	return m
}

func (m *Registry) counterFunc(name, help, labelKey, labelValue string, fn func() float64) {
	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{labelKey: labelValue},
	}, fn))
}

// ObserveCache exposes a cache's hit/miss/eviction counters at scrape
// time.
func (m *Registry) ObserveCache(name string, stats func() (hits, misses, evictions int64)) {
	m.counterFunc("marketfeed_cache_hits_total", "Cache hits by cache name", "cache", name,
		func() float64 { h, _, _ := stats(); return float64(h) })
	m.counterFunc("marketfeed_cache_misses_total", "Cache misses by cache name", "cache", name,
		func() float64 { _, mi, _ := stats(); return float64(mi) })
	m.counterFunc("marketfeed_cache_evictions_total", "Cache evictions by cache name", "cache", name,
		func() float64 { _, _, e := stats(); return float64(e) })
}

// ObserveUpstream exposes a provider's request and breaker-rejection
// counters at scrape time.
func (m *Registry) ObserveUpstream(provider string, stats func() (requests, rejected int64)) {
	m.counterFunc("marketfeed_upstream_requests_total", "Upstream provider calls", "provider", provider,
		func() float64 { r, _ := stats(); return float64(r) })
	m.counterFunc("marketfeed_upstream_rejected_total", "Calls rejected by the open circuit", "provider", provider,
		func() float64 { _, rj := stats(); return float64(rj) })
}

// ObserveStream exposes one hub's client gauge and delivery counters at
// scrape time.
func (m *Registry) ObserveStream(name string, stats func() (clients int, delivered, dropped int64)) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "marketfeed_ws_clients",
		Help:        "Connected WebSocket clients by stream",
		ConstLabels: prometheus.Labels{"stream": name},
	}, func() float64 { c, _, _ := stats(); return float64(c) }))
	m.counterFunc("marketfeed_ticks_delivered_total", "Ticks delivered to subscribers", "stream", name,
		func() float64 { _, d, _ := stats(); return float64(d) })
	m.counterFunc("marketfeed_ticks_dropped_total", "Ticks dropped by backpressure", "stream", name,
		func() float64 { _, _, dr := stats(); return float64(dr) })
}

// ObserveRequest records one finished HTTP request.
func (m *Registry) ObserveRequest(route, method, status string, dur time.Duration) {
	m.RequestDuration.WithLabelValues(route, status).Observe(dur.Seconds())
	m.RequestsTotal.WithLabelValues(route, method, status).Inc()
}

func (m *Registry) RecordCollectorRun(collector string, err error, items int) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.CollectorRuns.WithLabelValues(collector, result).Inc()
	if items > 0 {
		m.CollectorItems.WithLabelValues(collector).Add(float64(items))
	}
}

// Handler serves the Prometheus text exposition.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

type jsonMetric struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

type jsonFamily struct {
	Help    string       `json:"help,omitempty"`
	Type    string       `json:"type"`
	Metrics []jsonMetric `json:"metrics"`
}

// JSONHandler serves the same registry as a JSON document keyed by
// metric family name.
func (m *Registry) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		families, err := m.reg.Gather()
		if err != nil {
			log.Error().Err(err).Msg("metrics gather failed")
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
			return
		}
		out := make(map[string]jsonFamily, len(families))
		for _, fam := range families {
			jf := jsonFamily{Help: fam.GetHelp(), Type: fam.GetType().String()}
			for _, metric := range fam.GetMetric() {
				jm := jsonMetric{Value: metricValue(fam.GetType(), metric)}
				if labels := metric.GetLabel(); len(labels) > 0 {
					jm.Labels = make(map[string]string, len(labels))
					for _, lp := range labels {
						jm.Labels[lp.GetName()] = lp.GetValue()
					}
				}
				jf.Metrics = append(jf.Metrics, jm)
			}
			out[fam.GetName()] = jf
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func metricValue(t dto.MetricType, metric *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return metric.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return metric.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		return metric.GetHistogram().GetSampleSum()
	case dto.MetricType_SUMMARY:
		return metric.GetSummary().GetSampleSum()
	default:
		return metric.GetUntyped().GetValue()
	}
}
