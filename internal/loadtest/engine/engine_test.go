package engine

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wesleyorama2/taskload/internal/loadtest/config"
	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
	"github.com/wesleyorama2/taskload/internal/mockapi"
)

// scaledClock runs factor times faster than the wall clock.
func scaledClock(factor int64) func() time.Time {
	realStart := time.Now()
	virtualStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		return virtualStart.Add(time.Since(realStart) * time.Duration(factor))
	}
}

func testConfig(baseURL string) *config.TestConfig {
	cfg := config.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.GracefulStop = "5s"
	cfg.Scenario.Sleep = "20ms"
	cfg.Output = config.OutputConfig{}
	return cfg
}

// stateRecorder samples the engine state while a run is in progress.
type stateRecorder struct {
	mu     sync.Mutex
	seen   map[State]bool
	stages map[int]bool
}

func watch(ctx context.Context, e *Engine) *stateRecorder {
	r := &stateRecorder{seen: make(map[State]bool), stages: make(map[int]bool)}
	go func() {
		t := time.NewTicker(time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s, idx := e.State()
				r.mu.Lock()
				r.seen[s] = true
				if s == StateRamping && idx >= 0 {
					r.stages[idx] = true
				}
				r.mu.Unlock()
			}
		}
	}()
	return r
}

func TestEngine_DefaultProfileAgainstTaskAPI(t *testing.T) {
	api := mockapi.New(mockapi.Options{ListLimit: 20})
	srv := httptest.NewServer(api)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	require.Len(t, cfg.Stages, 5)

	eng, err := New(cfg, Options{
		Logger:       zaptest.NewLogger(t),
		Now:          scaledClock(2000),
		TickInterval: time.Millisecond,
	})
	require.NoError(t, err)

	state, idx := eng.State()
	assert.Equal(t, StateInit, state)
	assert.Equal(t, -1, idx)
	assert.Nil(t, eng.Metrics())
	assert.Zero(t, eng.GetProgress())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := watch(ctx, eng)

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)
	cancel()

	state, _ = eng.State()
	assert.Equal(t, StateTerminal, state)
	assert.False(t, eng.IsRunning())
	assert.Equal(t, 1.0, eng.GetProgress())

	_, err = ulid.ParseStrict(summary.ID)
	assert.NoError(t, err, "summary ID should be a ULID")

	assert.False(t, summary.Interrupted)
	assert.True(t, summary.Graceful)
	assert.True(t, summary.Passed, "thresholds: %+v", summary.Thresholds)
	assert.Len(t, summary.Thresholds, 2)
	assert.Empty(t, summary.FailedThresholds())

	assert.LessOrEqual(t, summary.MaxVUs, 200)
	assert.Greater(t, summary.MaxVUs, 100)
	assert.Len(t, summary.Stages, 5)
	assert.GreaterOrEqual(t, summary.Duration, 16*time.Minute)

	snap := summary.Metrics
	require.NotNil(t, snap)
	assert.Greater(t, snap.TotalRequests, int64(0))
	assert.Zero(t, snap.FailedRequests)
	assert.Zero(t, snap.ErrorRate)
	assert.Equal(t, summary.Iterations, snap.Iterations)

	// Every finished iteration issued both requests.
	endpoints := snap.Endpoints()
	assert.GreaterOrEqual(t, endpoints["list_tasks"].Count, summary.Iterations)
	assert.GreaterOrEqual(t, endpoints["create_task"].Count, summary.Iterations)
	assert.Equal(t, int(endpoints["create_task"].Count), api.Len())

	for _, c := range snap.Checks {
		assert.Zero(t, c.Fails, "check %q failed", c.Name)
	}

	for _, b := range summary.TimeSeries {
		assert.LessOrEqual(t, b.ActiveVUs, 200)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.True(t, rec.seen[StateRamping])
	assert.True(t, rec.stages[4], "last stage should have been observed")
}

func TestEngine_InvalidConfig(t *testing.T) {
	cfg := testConfig("ftp://example.com")
	_, err := New(cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "baseUrl")

	cfg = testConfig("http://127.0.0.1:1")
	cfg.Thresholds = map[string][]string{"http_req_duration": {"p95 fast"}}
	_, err = New(cfg, Options{})
	assert.Error(t, err)
}

func TestEngine_FailedThresholdsAreNotAnError(t *testing.T) {
	srv := httptest.NewServer(mockapi.New(mockapi.Options{ErrorRate: 1}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Stages = []config.StageConfig{{Duration: "10s", Target: 3}}
	cfg.StartVUs = 3

	eng, err := New(cfg, Options{Now: scaledClock(100), TickInterval: time.Millisecond})
	require.NoError(t, err)

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Passed)
	assert.Equal(t, 1.0, summary.Metrics.ErrorRate)

	failed := summary.FailedThresholds()
	require.Len(t, failed, 1)
	assert.Equal(t, metrics.MetricReqFailed, failed[0].Threshold.Metric)
}

func TestEngine_StopDrainsGracefully(t *testing.T) {
	srv := httptest.NewServer(mockapi.New(mockapi.Options{}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Stages = nil
	cfg.VUs = 4
	cfg.Duration = "1h"

	eng, err := New(cfg, Options{TickInterval: time.Millisecond})
	require.NoError(t, err)

	go func() {
		time.Sleep(150 * time.Millisecond)
		eng.Stop()
	}()

	start := time.Now()
	summary, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.True(t, summary.Interrupted)
	assert.True(t, summary.Graceful)
	assert.Equal(t, 4, summary.MaxVUs)
	assert.Greater(t, summary.Iterations, int64(0))
	assert.Zero(t, summary.Metrics.FailedRequests)
}

func TestEngine_AbortCancelsInFlightRequests(t *testing.T) {
	srv := httptest.NewServer(mockapi.New(mockapi.Options{Latency: 30 * time.Second}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Stages = nil
	cfg.VUs = 2
	cfg.Duration = "1h"
	cfg.GracefulStop = "1m"

	eng, err := New(cfg, Options{TickInterval: time.Millisecond})
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		eng.Abort()
	}()

	start := time.Now()
	summary, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.True(t, summary.Interrupted)
	assert.Zero(t, summary.Iterations)
	assert.Zero(t, summary.Metrics.TotalRequests, "cancelled requests are not recorded")
}

func TestEngine_RunsOnce(t *testing.T) {
	srv := httptest.NewServer(mockapi.New(mockapi.Options{}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Stages = []config.StageConfig{{Duration: "1s", Target: 1}}

	reg := prometheus.NewRegistry()
	eng, err := New(cfg, Options{
		Now:          scaledClock(20),
		TickInterval: time.Millisecond,
		Registerer:   reg,
	})
	require.NoError(t, err)

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, eng.Metrics())
	require.NotNil(t, eng.GetStats())

	n, err := testutil.GatherAndCount(reg, "taskload_iterations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, float64(summary.Iterations), gatherValue(t, reg, "taskload_iterations_total"))

	_, err = eng.Run(context.Background())
	assert.Error(t, err)
}

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
