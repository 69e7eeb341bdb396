package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine(clock *fakeClock) *Engine {
	cfg := DefaultEngineConfig()
	cfg.Now = clock.Now
	return NewEngineWithConfig(cfg)
}

func sample(name string, status int, d time.Duration) Sample {
	return Sample{Name: name, Method: "GET", Status: status, Duration: d, BytesIn: 100}
}

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalRequests != 0 {
		t.Errorf("Initial TotalRequests = %d, want 0", snapshot.TotalRequests)
	}
	if snapshot.CurrentPhase != PhaseInit {
		t.Errorf("Initial phase = %v, want %v", snapshot.CurrentPhase, PhaseInit)
	}
	if snapshot.ErrorRate != 0 {
		t.Errorf("Initial ErrorRate = %v, want 0", snapshot.ErrorRate)
	}
}

func TestSample_Failed(t *testing.T) {
	tests := []struct {
		name   string
		sample Sample
		want   bool
	}{
		{"200", Sample{Status: 200}, false},
		{"201", Sample{Status: 201}, false},
		{"299", Sample{Status: 299}, false},
		{"301", Sample{Status: 301}, true},
		{"404", Sample{Status: 404}, true},
		{"500", Sample{Status: 500}, true},
		{"transport error", Sample{Status: 0, Err: errors.New("connection refused")}, true},
		{"status zero", Sample{Status: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sample.Failed(); got != tt.want {
				t.Errorf("Failed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEngine_Record(t *testing.T) {
	engine := newTestEngine(newFakeClock())

	engine.Record(sample("list_tasks", 200, 10*time.Millisecond))
	engine.Record(sample("create_task", 201, 20*time.Millisecond))
	engine.Record(sample("create_task", 500, 30*time.Millisecond))

	snapshot := engine.GetSnapshot()

	if snapshot.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", snapshot.TotalRequests)
	}
	if snapshot.SuccessRequests != 2 {
		t.Errorf("SuccessRequests = %d, want 2", snapshot.SuccessRequests)
	}
	if snapshot.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", snapshot.FailedRequests)
	}
	if snapshot.TotalBytes != 300 {
		t.Errorf("TotalBytes = %d, want 300", snapshot.TotalBytes)
	}
	if got := snapshot.Counters[MetricReqs].Count; got != 3 {
		t.Errorf("http_reqs = %d, want 3", got)
	}

	failed := snapshot.Rates[SeriesKey(MetricReqFailed, "name", "create_task")]
	if failed.Passes != 1 || failed.Fails != 1 || failed.Rate != 0.5 {
		t.Errorf("http_req_failed{name:create_task} = %+v, want 1/1 rate 0.5", failed)
	}

	endpoints := snapshot.Endpoints()
	if len(endpoints) != 2 {
		t.Fatalf("Endpoints() has %d entries, want 2", len(endpoints))
	}
	if endpoints["create_task"].Count != 2 {
		t.Errorf("create_task count = %d, want 2", endpoints["create_task"].Count)
	}
}

func TestEngine_ErrorRateExactlyTenPercent(t *testing.T) {
	engine := newTestEngine(newFakeClock())

	for i := 0; i < 90; i++ {
		engine.Record(sample("list_tasks", 200, time.Millisecond))
	}
	for i := 0; i < 10; i++ {
		engine.Record(Sample{Name: "list_tasks", Err: errors.New("timeout"), Duration: time.Second})
	}

	snapshot := engine.GetSnapshot()
	if snapshot.ErrorRate != 0.1 {
		t.Errorf("ErrorRate = %v, want 0.1", snapshot.ErrorRate)
	}
	if r := snapshot.Rates[MetricReqFailed].Rate; r != 0.1 {
		t.Errorf("http_req_failed rate = %v, want 0.1", r)
	}
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := newTestEngine(newFakeClock())

	for i := 1; i <= 10; i++ {
		engine.Record(sample("", 200, time.Duration(i*10)*time.Millisecond))
	}

	lat := engine.GetSnapshot().Latency()

	if lat.Med < 40*time.Millisecond || lat.Med > 60*time.Millisecond {
		t.Errorf("Med = %v, want ~50ms", lat.Med)
	}
	if lat.P99 < 90*time.Millisecond || lat.P99 > 110*time.Millisecond {
		t.Errorf("P99 = %v, want ~100ms", lat.P99)
	}
	if lat.Min < 9*time.Millisecond || lat.Min > 11*time.Millisecond {
		t.Errorf("Min = %v, want ~10ms", lat.Min)
	}
	if lat.Avg < 50*time.Millisecond || lat.Avg > 60*time.Millisecond {
		t.Errorf("Avg = %v, want ~55ms", lat.Avg)
	}
	if q := lat.Quantile(50); q != lat.Med {
		t.Errorf("Quantile(50) = %v, want Med %v", q, lat.Med)
	}
}

func TestEngine_Checks(t *testing.T) {
	engine := newTestEngine(newFakeClock())

	engine.RecordCheck("status is 200", true)
	engine.RecordCheck("status is 200", true)
	engine.RecordCheck("response time < 500ms", false)
	engine.RecordCheck("task created", true)

	snapshot := engine.GetSnapshot()

	if len(snapshot.Checks) != 3 {
		t.Fatalf("Checks has %d entries, want 3", len(snapshot.Checks))
	}
	if snapshot.Checks[0].Name != "status is 200" || snapshot.Checks[0].Passes != 2 {
		t.Errorf("Checks[0] = %+v, want status is 200 with 2 passes", snapshot.Checks[0])
	}
	if snapshot.Checks[1].Fails != 1 {
		t.Errorf("Checks[1].Fails = %d, want 1", snapshot.Checks[1].Fails)
	}
	if r := snapshot.Rates[MetricChecks].Rate; r != 0.75 {
		t.Errorf("checks rate = %v, want 0.75", r)
	}
}

func TestEngine_VUGauges(t *testing.T) {
	engine := newTestEngine(newFakeClock())

	engine.SetActiveVUs(5)
	engine.SetActiveVUs(20)
	engine.SetActiveVUs(3)

	snapshot := engine.GetSnapshot()
	g := snapshot.Gauges[MetricVUs]
	if g.Value != 3 || g.Min != 3 || g.Max != 20 {
		t.Errorf("vus gauge = %+v, want value 3 min 3 max 20", g)
	}
	if snapshot.MaxVUs != 20 {
		t.Errorf("MaxVUs = %d, want 20", snapshot.MaxVUs)
	}
}

func TestEngine_Phases(t *testing.T) {
	clock := newFakeClock()
	engine := newTestEngine(clock)

	engine.SetPhase(PhaseRampUp)
	clock.Advance(time.Second)
	engine.SetPhase(PhaseRampUp)
	engine.SetPhase(PhaseSteady)

	history := engine.GetPhaseHistory()
	if len(history) != 2 {
		t.Fatalf("phase history has %d entries, want 2", len(history))
	}
	if history[1].Phase != PhaseSteady {
		t.Errorf("history[1] = %v, want %v", history[1].Phase, PhaseSteady)
	}
	if engine.GetPhase() != PhaseSteady {
		t.Errorf("GetPhase() = %v, want %v", engine.GetPhase(), PhaseSteady)
	}
}

func TestEngine_TickFollowsClock(t *testing.T) {
	clock := newFakeClock()
	engine := newTestEngine(clock)
	engine.SetPhase(PhaseSteady)
	engine.SetActiveVUs(4)
	engine.SetTargetVUs(4)

	if b := engine.Tick(); b != nil {
		t.Fatal("Tick() closed a bucket before the interval elapsed")
	}

	for i := 0; i < 10; i++ {
		engine.Record(sample("list_tasks", 200, 5*time.Millisecond))
	}
	clock.Advance(time.Second)

	b := engine.Tick()
	if b == nil {
		t.Fatal("Tick() did not close a bucket after 1s")
	}
	if b.IntervalRequests != 10 {
		t.Errorf("IntervalRequests = %d, want 10", b.IntervalRequests)
	}
	if b.IntervalRPS != 10 {
		t.Errorf("IntervalRPS = %v, want 10", b.IntervalRPS)
	}
	if b.ActiveVUs != 4 || b.TargetVUs != 4 {
		t.Errorf("bucket VUs = %d/%d, want 4/4", b.ActiveVUs, b.TargetVUs)
	}
	if b.Offset != time.Second {
		t.Errorf("Offset = %v, want 1s", b.Offset)
	}

	clock.Advance(500 * time.Millisecond)
	engine.Stop()
	engine.Stop()

	series := engine.GetTimeSeries()
	if len(series) != 2 {
		t.Fatalf("time series has %d buckets, want 2", len(series))
	}
	if series[1].IntervalRequests != 0 {
		t.Errorf("final bucket IntervalRequests = %d, want 0", series[1].IntervalRequests)
	}
	if engine.Elapsed() != 1500*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 1.5s", engine.Elapsed())
	}

	clock.Advance(time.Hour)
	if engine.Elapsed() != 1500*time.Millisecond {
		t.Error("Elapsed() kept moving after Stop()")
	}
}

func TestEngine_ConcurrentRecord(t *testing.T) {
	engine := newTestEngine(newFakeClock())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				engine.Record(sample("list_tasks", 200, time.Millisecond))
				engine.RecordCheck("status is 200", true)
			}
		}()
	}
	wg.Wait()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalRequests != 4000 {
		t.Errorf("TotalRequests = %d, want 4000", snapshot.TotalRequests)
	}
	if snapshot.Latency().Count != 4000 {
		t.Errorf("latency count = %d, want 4000", snapshot.Latency().Count)
	}
	if snapshot.Checks[0].Passes != 4000 {
		t.Errorf("check passes = %d, want 4000", snapshot.Checks[0].Passes)
	}
}

func TestSeriesKey_RoundTrip(t *testing.T) {
	key := SeriesKey(MetricReqDuration, "name", "create_task")
	if key != "http_req_duration{name:create_task}" {
		t.Errorf("SeriesKey() = %q", key)
	}

	metric, tk, tv := SplitSeriesKey("http_req_duration{ name : create_task }")
	if metric != MetricReqDuration || tk != "name" || tv != "create_task" {
		t.Errorf("SplitSeriesKey() = %q %q %q", metric, tk, tv)
	}

	metric, tk, _ = SplitSeriesKey(MetricReqFailed)
	if metric != MetricReqFailed || tk != "" {
		t.Errorf("SplitSeriesKey(untagged) = %q %q", metric, tk)
	}
}

func TestTrend_ExactExtremesBoundQuantiles(t *testing.T) {
	trend := NewTrend(1, 3600000000, 3)
	for i := 0; i < 100; i++ {
		trend.Add(499990 * time.Microsecond)
	}

	st := trend.Stats()
	want := 499990 * time.Microsecond
	if st.Min != want || st.Max != want {
		t.Errorf("Min/Max = %v/%v, want exactly %v", st.Min, st.Max, want)
	}
	for _, q := range []float64{50, 95, 99, 100} {
		if got := st.Quantile(q); got != want {
			t.Errorf("Quantile(%v) = %v, want %v", q, got, want)
		}
	}
	if st.Avg != want {
		t.Errorf("Avg = %v, want %v", st.Avg, want)
	}

	trend.Reset()
	trend.Add(3 * time.Millisecond)
	if st := trend.Stats(); st.Min != 3*time.Millisecond || st.Max != 3*time.Millisecond {
		t.Errorf("after Reset Min/Max = %v/%v, want 3ms", st.Min, st.Max)
	}
}

func TestEngine_ReqDurationPrecisionNearLimit(t *testing.T) {
	engine := newTestEngine(newFakeClock())

	for i := 0; i < 95; i++ {
		engine.Record(sample("create_task", 201, 499990*time.Microsecond))
	}
	for i := 0; i < 5; i++ {
		engine.Record(sample("create_task", 201, 900*time.Millisecond))
	}

	snapshot := engine.GetSnapshot()
	for _, key := range []string{MetricReqDuration, SeriesKey(MetricReqDuration, "name", "create_task")} {
		p95 := snapshot.Trends[key].P95
		if p95 >= 500*time.Millisecond {
			t.Errorf("%s p95 = %v, want below 500ms", key, p95)
		}
		if got := snapshot.Trends[key].Max; got != 900*time.Millisecond {
			t.Errorf("%s max = %v, want 900ms", key, got)
		}
	}
}
