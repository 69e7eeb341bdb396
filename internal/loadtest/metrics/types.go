package metrics

import (
	"strings"
	"time"
)

// Built-in metric names. They follow the k6 naming so thresholds written for
// k6 scripts evaluate unchanged.
const (
	MetricReqDuration       = "http_req_duration"
	MetricReqBlocked        = "http_req_blocked"
	MetricReqConnecting     = "http_req_connecting"
	MetricReqTLSHandshaking = "http_req_tls_handshaking"
	MetricReqSending        = "http_req_sending"
	MetricReqWaiting        = "http_req_waiting"
	MetricReqReceiving      = "http_req_receiving"
	MetricReqFailed         = "http_req_failed"
	MetricReqs              = "http_reqs"
	MetricIterations        = "iterations"
	MetricIterationDuration = "iteration_duration"
	MetricDataReceived      = "data_received"
	MetricDataSent          = "data_sent"
	MetricChecks            = "checks"
	MetricVUs               = "vus"
	MetricVUsMax            = "vus_max"
)

// Kind is the k6 metric type.
type Kind string

const (
	KindTrend   Kind = "trend"
	KindRate    Kind = "rate"
	KindCounter Kind = "counter"
	KindGauge   Kind = "gauge"
)

// KindOf returns the type of a built-in metric. Unknown names report false.
func KindOf(metric string) (Kind, bool) {
	switch metric {
	case MetricReqDuration, MetricReqBlocked, MetricReqConnecting, MetricReqTLSHandshaking,
		MetricReqSending, MetricReqWaiting, MetricReqReceiving, MetricIterationDuration:
		return KindTrend, true
	case MetricReqFailed, MetricChecks:
		return KindRate, true
	case MetricReqs, MetricIterations, MetricDataReceived, MetricDataSent:
		return KindCounter, true
	case MetricVUs, MetricVUsMax:
		return KindGauge, true
	}
	return "", false
}

// SeriesKey returns the key of a metric series, optionally narrowed by one
// tag: SeriesKey("http_req_duration", "name", "create_task") is
// "http_req_duration{name:create_task}".
func SeriesKey(metric, tagKey, tagValue string) string {
	if tagKey == "" {
		return metric
	}
	return metric + "{" + tagKey + ":" + tagValue + "}"
}

// SplitSeriesKey is the inverse of SeriesKey.
func SplitSeriesKey(key string) (metric, tagKey, tagValue string) {
	open := strings.IndexByte(key, '{')
	if open < 0 || !strings.HasSuffix(key, "}") {
		return key, "", ""
	}
	metric = key[:open]
	tag := key[open+1 : len(key)-1]
	tagKey, tagValue, _ = strings.Cut(tag, ":")
	return metric, strings.TrimSpace(tagKey), strings.TrimSpace(tagValue)
}

// Phase represents a phase of the load test.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDraining Phase = "draining"
	PhaseDone     Phase = "done"
)

// Timings is the per-phase breakdown of one HTTP request.
type Timings struct {
	Blocked        time.Duration `json:"blocked"`
	Connecting     time.Duration `json:"connecting"`
	TLSHandshaking time.Duration `json:"tlsHandshaking"`
	Sending        time.Duration `json:"sending"`
	Waiting        time.Duration `json:"waiting"`
	Receiving      time.Duration `json:"receiving"`
}

// Sample is the outcome of one HTTP request.
type Sample struct {
	Timestamp time.Time
	// Name is the endpoint tag, e.g. "list_tasks".
	Name     string
	Method   string
	URL      string
	Status   int
	Duration time.Duration
	Timings  Timings
	BytesIn  int64
	BytesOut int64
	// Err is set for transport failures and timeouts; Status is 0 then.
	Err       error
	VU        int
	Iteration int64
}

// Failed reports whether the sample counts towards http_req_failed:
// a transport error or any status outside 2xx.
func (s Sample) Failed() bool {
	return s.Err != nil || s.Status < 200 || s.Status > 299
}

// TrendStats summarises a trend metric.
type TrendStats struct {
	Count  int64         `json:"count"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Avg    time.Duration `json:"avg"`
	StdDev time.Duration `json:"stdDev"`
	Med    time.Duration `json:"med"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`

	quantile func(q float64) time.Duration
}

// Quantile returns the value at percentile q (0-100).
func (s TrendStats) Quantile(q float64) time.Duration {
	if s.quantile == nil {
		return 0
	}
	return s.quantile(q)
}

// RateStats summarises a rate metric: the share of non-zero observations.
type RateStats struct {
	Passes int64   `json:"passes"`
	Fails  int64   `json:"fails"`
	Rate   float64 `json:"rate"`
}

// CounterStats summarises a counter metric.
type CounterStats struct {
	Count int64   `json:"count"`
	Rate  float64 `json:"rate"`
}

// GaugeStats summarises a gauge metric.
type GaugeStats struct {
	Value int64 `json:"value"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

// CheckStats is the pass/fail tally of one named check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// Snapshot is a point-in-time view of every metric.
type Snapshot struct {
	TotalRequests   int64   `json:"totalRequests"`
	SuccessRequests int64   `json:"successRequests"`
	FailedRequests  int64   `json:"failedRequests"`
	TotalBytes      int64   `json:"totalBytes"`
	Iterations      int64   `json:"iterations"`
	RPS             float64 `json:"rps"`
	SteadyStateRPS  float64 `json:"steadyStateRps"`
	ErrorRate       float64 `json:"errorRate"`
	ActiveVUs       int     `json:"activeVUs"`
	TargetVUs       int     `json:"targetVUs"`
	MaxVUs          int     `json:"maxVUs"`
	CurrentPhase    Phase   `json:"currentPhase"`

	Elapsed   time.Duration `json:"elapsed"`
	StartTime time.Time     `json:"startTime"`
	Timestamp time.Time     `json:"timestamp"`

	Trends   map[string]TrendStats   `json:"trends"`
	Rates    map[string]RateStats    `json:"rates"`
	Counters map[string]CounterStats `json:"counters"`
	Gauges   map[string]GaugeStats   `json:"gauges"`
	Checks   []CheckStats            `json:"checks"`
}

// Latency returns the http_req_duration trend.
func (s *Snapshot) Latency() TrendStats {
	return s.Trends[MetricReqDuration]
}

// Endpoints returns the tagged http_req_duration trends keyed by endpoint
// name.
func (s *Snapshot) Endpoints() map[string]TrendStats {
	out := make(map[string]TrendStats)
	for key, st := range s.Trends {
		metric, tagKey, tagValue := SplitSeriesKey(key)
		if metric == MetricReqDuration && tagKey == "name" {
			out[tagValue] = st
		}
	}
	return out
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the width of a time-series bucket (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the ring buffer size (default: 3600)
	MaxBuckets int

	// Histogram range in microseconds and precision.
	HistogramMin     int64
	HistogramMax     int64
	HistogramSigFigs int

	// ReqDurationSigFigs is the precision of http_req_duration series,
	// which thresholds compare against (default: 4).
	ReqDurationSigFigs int

	// Now is the clock used for elapsed time and buckets (default: time.Now)
	Now func() time.Time
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:     time.Second,
		MaxBuckets:         3600,
		HistogramMin:       1,
		HistogramMax:       3600000000, // 1 hour in microseconds
		HistogramSigFigs:   3,
		ReqDurationSigFigs: 4,
		Now:                time.Now,
	}
}
