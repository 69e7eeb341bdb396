package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// TimeBucket holds the metrics of one bucket interval.
//
// Cumulative totals are taken from the engine when the bucket closes;
// interval values only cover requests completed inside the bucket.
type TimeBucket struct {
	Timestamp time.Time     `json:"timestamp"`
	Offset    time.Duration `json:"offset"`

	TotalRequests int64 `json:"totalRequests"`
	TotalFailures int64 `json:"totalFailures"`

	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalFailures  int64   `json:"intervalFailures"`
	IntervalRPS       float64 `json:"intervalRps"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`
	LatencyMax time.Duration `json:"latencyMax"`

	ActiveVUs int   `json:"activeVUs"`
	TargetVUs int   `json:"targetVUs"`
	Phase     Phase `json:"phase"`
}

// bucketState is the engine state copied into a bucket when it closes.
type bucketState struct {
	totalRequests int64
	totalFailures int64
	activeVUs     int
	targetVUs     int
	phase         Phase
}

// TimeBucketStore keeps closed buckets in a ring buffer and accumulates the
// currently open one.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	mu         sync.RWMutex

	start      time.Time
	lastBucket time.Time

	curRequests atomic.Int64
	curFailures atomic.Int64
	curMu       sync.Mutex
	curHist     *hdrhistogram.Histogram
	histMin     int64
	histMax     int64
}

// NewTimeBucketStore creates a store that retains at most maxBuckets.
func NewTimeBucketStore(maxBuckets int, cfg EngineConfig, start time.Time) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}
	return &TimeBucketStore{
		buckets:    make([]*TimeBucket, maxBuckets),
		maxBuckets: maxBuckets,
		start:      start,
		lastBucket: start,
		curHist:    hdrhistogram.New(cfg.HistogramMin, cfg.HistogramMax, cfg.HistogramSigFigs),
		histMin:    cfg.HistogramMin,
		histMax:    cfg.HistogramMax,
	}
}

// RecordRequest adds one request to the open bucket.
func (tbs *TimeBucketStore) RecordRequest(latency time.Duration, failed bool) {
	tbs.curRequests.Add(1)
	if failed {
		tbs.curFailures.Add(1)
	}

	v := latency.Microseconds()
	if v < tbs.histMin {
		v = tbs.histMin
	}
	if v > tbs.histMax {
		v = tbs.histMax
	}
	tbs.curMu.Lock()
	_ = tbs.curHist.RecordValue(v)
	tbs.curMu.Unlock()
}

// Due reports whether the open bucket should be closed at now.
func (tbs *TimeBucketStore) Due(now time.Time, interval time.Duration) bool {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()
	return now.Sub(tbs.lastBucket) >= interval
}

// closeBucket closes the open bucket at now and starts a new one.
func (tbs *TimeBucketStore) closeBucket(now time.Time, st bucketState) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	reqs := tbs.curRequests.Swap(0)
	fails := tbs.curFailures.Swap(0)

	tbs.curMu.Lock()
	p50 := tbs.curHist.ValueAtQuantile(50)
	p95 := tbs.curHist.ValueAtQuantile(95)
	p99 := tbs.curHist.ValueAtQuantile(99)
	pmax := tbs.curHist.Max()
	tbs.curHist.Reset()
	tbs.curMu.Unlock()

	width := now.Sub(tbs.lastBucket).Seconds()
	if width <= 0 {
		width = 1.0
	}

	errRate := 0.0
	if reqs > 0 {
		errRate = float64(fails) / float64(reqs)
	}

	b := &TimeBucket{
		Timestamp:         now,
		Offset:            now.Sub(tbs.start),
		TotalRequests:     st.totalRequests,
		TotalFailures:     st.totalFailures,
		IntervalRequests:  reqs,
		IntervalFailures:  fails,
		IntervalRPS:       float64(reqs) / width,
		IntervalErrorRate: errRate,
		LatencyP50:        time.Duration(p50) * time.Microsecond,
		LatencyP95:        time.Duration(p95) * time.Microsecond,
		LatencyP99:        time.Duration(p99) * time.Microsecond,
		LatencyMax:        time.Duration(pmax) * time.Microsecond,
		ActiveVUs:         st.activeVUs,
		TargetVUs:         st.targetVUs,
		Phase:             st.phase,
	}

	tbs.buckets[tbs.head] = b
	tbs.head = (tbs.head + 1) % tbs.maxBuckets
	if tbs.count < tbs.maxBuckets {
		tbs.count++
	}
	tbs.lastBucket = now

	return b
}

// GetBuckets returns all retained buckets in chronological order.
func (tbs *TimeBucketStore) GetBuckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, tbs.count)
	first := 0
	if tbs.count == tbs.maxBuckets {
		first = tbs.head
	}
	for i := 0; i < tbs.count; i++ {
		result[i] = tbs.buckets[(first+i)%tbs.maxBuckets]
	}
	return result
}

// GetRecentBuckets returns the n most recent buckets, oldest first.
func (tbs *TimeBucketStore) GetRecentBuckets(n int) []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if n > tbs.count {
		n = tbs.count
	}
	if n <= 0 {
		return nil
	}

	result := make([]*TimeBucket, n)
	for i := 0; i < n; i++ {
		idx := (tbs.head - 1 - i + tbs.maxBuckets) % tbs.maxBuckets
		result[n-1-i] = tbs.buckets[idx]
	}
	return result
}

// SteadyStateRPS averages interval RPS over steady-phase buckets.
// It returns the number of buckets used.
func (tbs *TimeBucketStore) SteadyStateRPS() (float64, int) {
	var sum float64
	var n int
	for _, b := range tbs.GetBuckets() {
		if b.Phase != PhaseSteady {
			continue
		}
		sum += b.IntervalRPS
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// Count returns the number of retained buckets.
func (tbs *TimeBucketStore) Count() int {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()
	return tbs.count
}
