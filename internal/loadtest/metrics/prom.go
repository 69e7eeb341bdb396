package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromExporter mirrors engine observations into Prometheus collectors so a
// run can be scraped while it is in progress.
type PromExporter struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RequestsFailed    *prometheus.CounterVec
	Iterations        prometheus.Counter
	IterationDuration prometheus.Histogram
	Checks            *prometheus.CounterVec
	VirtualUsers      prometheus.Gauge
	TargetVUs         prometheus.Gauge
	BytesReceived     prometheus.Counter
}

// NewPromExporter registers the taskload collectors on reg.
func NewPromExporter(reg prometheus.Registerer) *PromExporter {
	f := promauto.With(reg)
	return &PromExporter{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskload_http_reqs_total",
				Help: "Total number of HTTP requests issued",
			},
			[]string{"name", "method", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskload_http_req_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"name", "method"},
		),
		RequestsFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskload_http_req_failed_total",
				Help: "HTTP requests that returned a non-2xx status or a transport error",
			},
			[]string{"name"},
		),
		Iterations: f.NewCounter(prometheus.CounterOpts{
			Name: "taskload_iterations_total",
			Help: "Completed VU iterations",
		}),
		IterationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskload_iteration_duration_seconds",
			Help:    "VU iteration duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Checks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskload_checks_total",
				Help: "Check outcomes",
			},
			[]string{"check", "result"},
		),
		VirtualUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "taskload_vus",
			Help: "Number of live virtual users",
		}),
		TargetVUs: f.NewGauge(prometheus.GaugeOpts{
			Name: "taskload_vus_target",
			Help: "Virtual users requested by the stage plan",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "taskload_data_received_bytes_total",
			Help: "Response bytes received",
		}),
	}
}

func (p *PromExporter) ObserveSample(s Sample) {
	status := strconv.Itoa(s.Status)
	if s.Err != nil {
		status = "error"
	}
	p.RequestsTotal.WithLabelValues(s.Name, s.Method, status).Inc()
	p.RequestDuration.WithLabelValues(s.Name, s.Method).Observe(s.Duration.Seconds())
	if s.Failed() {
		p.RequestsFailed.WithLabelValues(s.Name).Inc()
	}
	if s.BytesIn > 0 {
		p.BytesReceived.Add(float64(s.BytesIn))
	}
}

func (p *PromExporter) ObserveIteration(d time.Duration) {
	p.Iterations.Inc()
	p.IterationDuration.Observe(d.Seconds())
}

func (p *PromExporter) ObserveCheck(name string, ok bool) {
	result := "pass"
	if !ok {
		result = "fail"
	}
	p.Checks.WithLabelValues(name, result).Inc()
}

func (p *PromExporter) ObserveVUs(active, target int) {
	p.VirtualUsers.Set(float64(active))
	p.TargetVUs.Set(float64(target))
}

var _ Sink = (*PromExporter)(nil)
