package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Trend is a concurrency-safe HDR histogram of durations.
// Values are stored in microseconds and clamped to the configured range.
// The exact minimum and maximum are kept alongside the histogram and bound
// every reported quantile.
type Trend struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
	lo   int64
	hi   int64

	seen    bool
	exactLo time.Duration
	exactHi time.Duration
}

// NewTrend creates a trend with the given histogram range and precision.
func NewTrend(minMicros, maxMicros int64, sigFigs int) *Trend {
	return &Trend{
		hist: hdrhistogram.New(minMicros, maxMicros, sigFigs),
		lo:   minMicros,
		hi:   maxMicros,
	}
}

// Add records one duration.
func (t *Trend) Add(d time.Duration) {
	v := d.Microseconds()
	if v < t.lo {
		v = t.lo
	}
	if v > t.hi {
		v = t.hi
	}

	// HDR histogram RecordValue is not thread-safe.
	t.mu.Lock()
	_ = t.hist.RecordValue(v)
	if !t.seen || d < t.exactLo {
		t.exactLo = d
	}
	if !t.seen || d > t.exactHi {
		t.exactHi = d
	}
	t.seen = true
	t.mu.Unlock()
}

// Count returns the number of recorded values.
func (t *Trend) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hist.TotalCount()
}

// Stats returns summary statistics. The returned value keeps a private copy
// of the histogram so arbitrary quantiles can be read later.
func (t *Trend) Stats() TrendStats {
	t.mu.Lock()
	cp := hdrhistogram.Import(t.hist.Export())
	lo, hi := t.exactLo, t.exactHi
	t.mu.Unlock()

	return statsOf(cp, lo, hi)
}

// Reset clears all recorded values.
func (t *Trend) Reset() {
	t.mu.Lock()
	t.hist.Reset()
	t.seen = false
	t.exactLo, t.exactHi = 0, 0
	t.mu.Unlock()
}

// statsOf reads h, reporting lo and hi as the exact extremes. HDR quantiles
// are the top of their bucket, so each is clamped to [lo, hi].
func statsOf(h *hdrhistogram.Histogram, lo, hi time.Duration) TrendStats {
	if h.TotalCount() == 0 {
		return TrendStats{quantile: func(float64) time.Duration { return 0 }}
	}

	quantile := func(q float64) time.Duration {
		v := time.Duration(h.ValueAtQuantile(q)) * time.Microsecond
		if v > hi {
			return hi
		}
		if v < lo {
			return lo
		}
		return v
	}
	avg := time.Duration(h.Mean() * float64(time.Microsecond))
	if avg > hi {
		avg = hi
	}
	if avg < lo {
		avg = lo
	}

	return TrendStats{
		Count:    h.TotalCount(),
		Min:      lo,
		Max:      hi,
		Avg:      avg,
		StdDev:   time.Duration(h.StdDev() * float64(time.Microsecond)),
		Med:      quantile(50),
		P90:      quantile(90),
		P95:      quantile(95),
		P99:      quantile(99),
		quantile: quantile,
	}
}
