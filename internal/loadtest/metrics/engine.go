package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives every observation the engine records. Sinks run on the
// recording goroutine and must not block.
type Sink interface {
	ObserveSample(s Sample)
	ObserveIteration(d time.Duration)
	ObserveCheck(name string, ok bool)
	ObserveVUs(active, target int)
}

// Engine aggregates samples into k6-style trends, rates, counters and gauges.
//
// Trends use HDR histograms so percentiles are read in constant time and
// memory does not grow with the number of samples. Counters are atomic;
// histograms are guarded by short mutex sections.
//
// Time-series buckets are closed by Tick, which the executor calls from its
// control loop, so the engine follows whatever clock the run uses.
type Engine struct {
	cfg EngineConfig
	now func() time.Time

	seriesMu sync.RWMutex
	trends   map[string]*Trend
	rates    map[string]*rateSeries
	counters map[string]*atomic.Int64

	checksMu   sync.Mutex
	checks     map[string]*CheckStats
	checkOrder []string

	totalRequests  atomic.Int64
	failedRequests atomic.Int64
	totalBytes     atomic.Int64
	iterations     atomic.Int64

	activeVUs atomic.Int64
	targetVUs atomic.Int64
	gaugeMu   sync.Mutex
	vus       GaugeStats
	vusSeen   bool

	bucketStore *TimeBucketStore

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time
	endTime   time.Time
	timeMu    sync.RWMutex
	stopOnce  sync.Once

	sinks []Sink
}

type rateSeries struct {
	trues atomic.Int64
	total atomic.Int64
}

func (r *rateSeries) add(v bool) {
	r.total.Add(1)
	if v {
		r.trues.Add(1)
	}
}

func (r *rateSeries) stats() RateStats {
	total := r.total.Load()
	trues := r.trues.Load()
	st := RateStats{Passes: trues, Fails: total - trues}
	if total > 0 {
		st.Rate = float64(trues) / float64(total)
	}
	return st
}

// NewEngine creates a metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a metrics engine. The run start time is taken
// from config.Now at construction.
func NewEngineWithConfig(config EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = def.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}
	if config.ReqDurationSigFigs <= 0 {
		config.ReqDurationSigFigs = def.ReqDurationSigFigs
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	start := config.Now()
	return &Engine{
		cfg:          config,
		now:          config.Now,
		trends:       make(map[string]*Trend),
		rates:        make(map[string]*rateSeries),
		counters:     make(map[string]*atomic.Int64),
		checks:       make(map[string]*CheckStats),
		bucketStore:  NewTimeBucketStore(config.MaxBuckets, config, start),
		currentPhase: PhaseInit,
		startTime:    start,
	}
}

// AddSink registers a sink. It must be called before recording starts.
func (e *Engine) AddSink(s Sink) {
	e.sinks = append(e.sinks, s)
}

// Record ingests one request sample.
func (e *Engine) Record(s Sample) {
	failed := s.Failed()

	e.trend(MetricReqDuration).Add(s.Duration)
	e.trend(MetricReqBlocked).Add(s.Timings.Blocked)
	e.trend(MetricReqConnecting).Add(s.Timings.Connecting)
	e.trend(MetricReqTLSHandshaking).Add(s.Timings.TLSHandshaking)
	e.trend(MetricReqSending).Add(s.Timings.Sending)
	e.trend(MetricReqWaiting).Add(s.Timings.Waiting)
	e.trend(MetricReqReceiving).Add(s.Timings.Receiving)
	e.rate(MetricReqFailed).add(failed)
	e.counter(MetricReqs).Add(1)
	e.counter(MetricDataReceived).Add(s.BytesIn)
	e.counter(MetricDataSent).Add(s.BytesOut)

	if s.Name != "" {
		e.trend(SeriesKey(MetricReqDuration, "name", s.Name)).Add(s.Duration)
		e.trend(SeriesKey(MetricReqWaiting, "name", s.Name)).Add(s.Timings.Waiting)
		e.rate(SeriesKey(MetricReqFailed, "name", s.Name)).add(failed)
		e.counter(SeriesKey(MetricReqs, "name", s.Name)).Add(1)
	}

	e.totalRequests.Add(1)
	e.totalBytes.Add(s.BytesIn)
	if failed {
		e.failedRequests.Add(1)
	}

	e.bucketStore.RecordRequest(s.Duration, failed)

	for _, sink := range e.sinks {
		sink.ObserveSample(s)
	}
}

// RecordIteration records one completed VU iteration.
func (e *Engine) RecordIteration(d time.Duration) {
	e.iterations.Add(1)
	e.counter(MetricIterations).Add(1)
	e.trend(MetricIterationDuration).Add(d)

	for _, sink := range e.sinks {
		sink.ObserveIteration(d)
	}
}

// RecordCheck records the outcome of a named check.
func (e *Engine) RecordCheck(name string, ok bool) {
	e.checksMu.Lock()
	cs, exists := e.checks[name]
	if !exists {
		cs = &CheckStats{Name: name}
		e.checks[name] = cs
		e.checkOrder = append(e.checkOrder, name)
	}
	if ok {
		cs.Passes++
	} else {
		cs.Fails++
	}
	e.checksMu.Unlock()

	e.rate(MetricChecks).add(ok)

	for _, sink := range e.sinks {
		sink.ObserveCheck(name, ok)
	}
}

// SetActiveVUs updates the live VU gauge.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int64(count))

	e.gaugeMu.Lock()
	c := int64(count)
	if !e.vusSeen {
		e.vus = GaugeStats{Value: c, Min: c, Max: c}
		e.vusSeen = true
	} else {
		e.vus.Value = c
		e.vus.Min = min(e.vus.Min, c)
		e.vus.Max = max(e.vus.Max, c)
	}
	e.gaugeMu.Unlock()

	for _, sink := range e.sinks {
		sink.ObserveVUs(count, int(e.targetVUs.Load()))
	}
}

// GetActiveVUs returns the live VU gauge.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// SetTargetVUs records the scheduler's current target.
func (e *Engine) SetTargetVUs(count int) {
	e.targetVUs.Store(int64(count))
}

// SetPhase updates the current test phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: e.now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current test phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// Tick closes the open time bucket if its interval has elapsed.
func (e *Engine) Tick() *TimeBucket {
	now := e.now()
	if !e.bucketStore.Due(now, e.cfg.BucketInterval) {
		return nil
	}
	return e.emitBucket(now)
}

func (e *Engine) emitBucket(now time.Time) *TimeBucket {
	return e.bucketStore.closeBucket(now, bucketState{
		totalRequests: e.totalRequests.Load(),
		totalFailures: e.failedRequests.Load(),
		activeVUs:     e.GetActiveVUs(),
		targetVUs:     int(e.targetVUs.Load()),
		phase:         e.GetPhase(),
	})
}

// Stop freezes the elapsed time and closes the last partial bucket.
// Further calls are no-ops.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		now := e.now()
		e.timeMu.Lock()
		e.endTime = now
		e.timeMu.Unlock()
		e.emitBucket(now)
	})
}

// Elapsed returns the time since the engine started, or the total run
// time once stopped.
func (e *Engine) Elapsed() time.Duration {
	e.timeMu.RLock()
	defer e.timeMu.RUnlock()
	if !e.endTime.IsZero() {
		return e.endTime.Sub(e.startTime)
	}
	return e.now().Sub(e.startTime)
}

// GetTimeSeries returns all retained time-series buckets.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// GetRecentBuckets returns the n most recent buckets.
func (e *Engine) GetRecentBuckets(n int) []*TimeBucket {
	return e.bucketStore.GetRecentBuckets(n)
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	elapsed := e.Elapsed()
	totalReqs := e.totalRequests.Load()
	failedReqs := e.failedRequests.Load()

	rps := 0.0
	if elapsed > 0 {
		rps = float64(totalReqs) / elapsed.Seconds()
	}
	steadyRPS, _ := e.bucketStore.SteadyStateRPS()

	errorRate := 0.0
	if totalReqs > 0 {
		errorRate = float64(failedReqs) / float64(totalReqs)
	}

	snap := &Snapshot{
		TotalRequests:   totalReqs,
		SuccessRequests: totalReqs - failedReqs,
		FailedRequests:  failedReqs,
		TotalBytes:      e.totalBytes.Load(),
		Iterations:      e.iterations.Load(),
		RPS:             rps,
		SteadyStateRPS:  steadyRPS,
		ErrorRate:       errorRate,
		ActiveVUs:       e.GetActiveVUs(),
		TargetVUs:       int(e.targetVUs.Load()),
		CurrentPhase:    e.GetPhase(),
		Elapsed:         elapsed,
		StartTime:       e.startTime,
		Timestamp:       e.now(),
		Trends:          make(map[string]TrendStats),
		Rates:           make(map[string]RateStats),
		Counters:        make(map[string]CounterStats),
		Gauges:          make(map[string]GaugeStats),
	}

	e.seriesMu.RLock()
	for key, t := range e.trends {
		snap.Trends[key] = t.Stats()
	}
	for key, r := range e.rates {
		snap.Rates[key] = r.stats()
	}
	for key, c := range e.counters {
		n := c.Load()
		cs := CounterStats{Count: n}
		if elapsed > 0 {
			cs.Rate = float64(n) / elapsed.Seconds()
		}
		snap.Counters[key] = cs
	}
	e.seriesMu.RUnlock()

	e.gaugeMu.Lock()
	vus := e.vus
	e.gaugeMu.Unlock()
	snap.MaxVUs = int(vus.Max)
	snap.Gauges[MetricVUs] = vus
	snap.Gauges[MetricVUsMax] = GaugeStats{Value: vus.Max, Min: vus.Max, Max: vus.Max}

	e.checksMu.Lock()
	snap.Checks = make([]CheckStats, 0, len(e.checkOrder))
	for _, name := range e.checkOrder {
		snap.Checks = append(snap.Checks, *e.checks[name])
	}
	e.checksMu.Unlock()

	return snap
}

// SeriesKeys returns the sorted keys of every recorded series.
func (e *Engine) SeriesKeys() []string {
	e.seriesMu.RLock()
	defer e.seriesMu.RUnlock()

	keys := make([]string, 0, len(e.trends)+len(e.rates)+len(e.counters))
	for k := range e.trends {
		keys = append(keys, k)
	}
	for k := range e.rates {
		keys = append(keys, k)
	}
	for k := range e.counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) trend(key string) *Trend {
	e.seriesMu.RLock()
	t, ok := e.trends[key]
	e.seriesMu.RUnlock()
	if ok {
		return t
	}

	e.seriesMu.Lock()
	defer e.seriesMu.Unlock()
	if t, ok = e.trends[key]; !ok {
		sigFigs := e.cfg.HistogramSigFigs
		if name, _, _ := SplitSeriesKey(key); name == MetricReqDuration {
			sigFigs = e.cfg.ReqDurationSigFigs
		}
		t = NewTrend(e.cfg.HistogramMin, e.cfg.HistogramMax, sigFigs)
		e.trends[key] = t
	}
	return t
}

func (e *Engine) rate(key string) *rateSeries {
	e.seriesMu.RLock()
	r, ok := e.rates[key]
	e.seriesMu.RUnlock()
	if ok {
		return r
	}

	e.seriesMu.Lock()
	defer e.seriesMu.Unlock()
	if r, ok = e.rates[key]; !ok {
		r = &rateSeries{}
		e.rates[key] = r
	}
	return r
}

func (e *Engine) counter(key string) *atomic.Int64 {
	e.seriesMu.RLock()
	c, ok := e.counters[key]
	e.seriesMu.RUnlock()
	if ok {
		return c
	}

	e.seriesMu.Lock()
	defer e.seriesMu.Unlock()
	if c, ok = e.counters[key]; !ok {
		c = &atomic.Int64{}
		e.counters[key] = c
	}
	return c
}
