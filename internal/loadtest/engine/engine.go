// Package engine runs one load test from configuration to summary.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wesleyorama2/taskload/internal/loadtest"
	"github.com/wesleyorama2/taskload/internal/loadtest/config"
	"github.com/wesleyorama2/taskload/internal/loadtest/executor"
	"github.com/wesleyorama2/taskload/internal/loadtest/httpclient"
	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
	"github.com/wesleyorama2/taskload/internal/loadtest/stage"
	"github.com/wesleyorama2/taskload/internal/loadtest/task"
	"github.com/wesleyorama2/taskload/internal/loadtest/threshold"
	"github.com/wesleyorama2/taskload/internal/loadtest/tracing"
)

// State is the run lifecycle: Init, then Ramping through each stage,
// Draining once the plan ends, and finally Terminal.
type State int32

const (
	StateInit State = iota
	StateRamping
	StateDraining
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRamping:
		return "ramping"
	case StateDraining:
		return "draining"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Options are the collaborators of a run. All fields are optional.
type Options struct {
	Logger *zap.Logger

	// Now drives the stage plan and metric buckets (default time.Now).
	Now func() time.Time

	// TickInterval is how often the VU target is re-evaluated.
	TickInterval time.Duration

	// Client replaces the HTTP client built from the http section.
	Client task.Doer

	// Tracing is passed to the HTTP client.
	Tracing *tracing.Provider

	// Registerer receives live Prometheus collectors.
	Registerer prometheus.Registerer

	// Sinks observe every sample, iteration and check.
	Sinks []metrics.Sink
}

// Engine owns the run state of one load test.
//
// Example usage:
//
//	cfg, _ := config.Load("taskload.yaml", nil)
//	eng, _ := engine.New(cfg, engine.Options{})
//	summary, _ := eng.Run(ctx)
//	fmt.Println(summary.Passed)
type Engine struct {
	cfg    *config.TestConfig
	opts   Options
	logger *zap.Logger

	plan         *stage.Plan
	thresholds   threshold.Set
	gracefulStop time.Duration
	sleep        time.Duration
	taskCfg      task.Config
	httpCfg      httpclient.Config

	state   atomic.Int32
	stage   atomic.Int32
	running atomic.Bool

	mu     sync.Mutex
	run    *RunContext
	cancel context.CancelFunc
}

// RunContext holds everything that lives for the duration of one run.
type RunContext struct {
	ID        string
	StartTime time.Time
	Metrics   *metrics.Engine
	Pool      *loadtest.Pool
	Executor  *executor.RampingVUs

	abort context.CancelFunc
}

// New validates cfg and prepares an engine.
func New(cfg *config.TestConfig, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	plan, err := cfg.Plan()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	set, err := cfg.ThresholdSet()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	gracefulStop, err := cfg.GracefulStopDuration()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: gracefulStop: %w", err)
	}
	sleep, err := cfg.SleepDuration()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: scenario.sleep: %w", err)
	}
	taskCfg, err := cfg.TaskConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	httpCfg, err := cfg.HTTPClientConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:          cfg,
		opts:         opts,
		logger:       logger.With(zap.String("component", "engine")),
		plan:         plan,
		thresholds:   set,
		gracefulStop: gracefulStop,
		sleep:        sleep,
		taskCfg:      taskCfg,
		httpCfg:      httpCfg,
	}
	e.stage.Store(-1)
	return e, nil
}

// Run executes the plan once and returns the summary.
//
// Cancelling ctx ends the plan early and drains VUs gracefully; the summary
// is still produced with Interrupted set. Threshold failures are reported
// through Summary.Passed, not as an error.
func (e *Engine) Run(ctx context.Context) (*RunSummary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("engine is already running")
	}
	defer e.running.Store(false)

	if State(e.state.Load()) == StateTerminal {
		return nil, fmt.Errorf("engine has already run")
	}

	rc, err := e.newRunContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.abort()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.run = rc
	e.cancel = cancel
	e.mu.Unlock()

	e.logger.Info("starting load test",
		zap.String("id", rc.ID),
		zap.String("name", e.cfg.Name),
		zap.String("baseUrl", e.cfg.BaseURL),
		zap.Int("stages", e.plan.Len()),
		zap.Int("maxVUs", e.plan.MaxTarget()),
		zap.Duration("duration", e.plan.TotalDuration()))

	e.setState(StateRamping)
	res, err := rc.Executor.Run(runCtx, rc.Pool, rc.Metrics)
	e.setState(StateTerminal)
	rc.Metrics.Stop()
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	summary := e.summarize(rc, res)
	for _, r := range summary.Thresholds {
		if !r.Passed {
			e.logger.Warn("threshold failed", zap.String("threshold", r.Message))
		}
	}
	e.logger.Info("load test finished",
		zap.String("id", rc.ID),
		zap.Bool("passed", summary.Passed),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Int64("requests", summary.Metrics.TotalRequests),
		zap.Float64("errorRate", summary.Metrics.ErrorRate),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

func (e *Engine) newRunContext(ctx context.Context) (*RunContext, error) {
	mcfg := metrics.DefaultEngineConfig()
	mcfg.Now = e.opts.Now
	m := metrics.NewEngineWithConfig(mcfg)
	m.SetPhase(metrics.PhaseInit)

	if e.opts.Registerer != nil {
		m.AddSink(metrics.NewPromExporter(e.opts.Registerer))
	}
	for _, s := range e.opts.Sinks {
		m.AddSink(s)
	}

	client := e.opts.Client
	if client == nil {
		client = httpclient.New(e.httpCfg, httpclient.WithTracing(e.opts.Tracing))
	}

	scenario, err := task.New(e.taskCfg, client, m,
		task.WithLogger(e.logger),
		task.WithClock(e.opts.Now))
	if err != nil {
		return nil, err
	}

	// VU iterations are detached from ctx: cancelling the run drains VUs
	// gracefully and only Abort or an expired gracefulStop interrupts them.
	poolCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	pool := loadtest.NewPool(poolCtx, loadtest.PoolConfig{
		Iteration: scenario,
		Sleep:     e.sleep,
		Recorder:  m,
		Logger:    e.logger,
	})

	exec, err := executor.NewRampingVUs(executor.Config{
		Plan:         e.plan,
		GracefulStop: e.gracefulStop,
		TickInterval: e.opts.TickInterval,
		Now:          e.opts.Now,
		Logger:       e.logger,
		OnStage: func(i int, _ stage.Stage) {
			e.stage.Store(int32(i))
		},
		OnDrain: func() {
			e.setState(StateDraining)
		},
	})
	if err != nil {
		abort()
		return nil, err
	}

	start := e.opts.Now()
	return &RunContext{
		ID:        ulid.MustNew(ulid.Timestamp(start), ulid.DefaultEntropy()).String(),
		StartTime: start,
		Metrics:   m,
		Pool:      pool,
		Executor:  exec,
		abort:     abort,
	}, nil
}

func (e *Engine) summarize(rc *RunContext, res *executor.Result) *RunSummary {
	snap := rc.Metrics.GetSnapshot()
	results := threshold.Evaluate(e.thresholds, snap)

	return &RunSummary{
		ID:          rc.ID,
		Name:        e.cfg.Name,
		Description: e.cfg.Description,
		BaseURL:     e.cfg.BaseURL,
		Stages:      stageSummaries(e.plan),
		StartVUs:    e.plan.StartVUs(),
		StartTime:   rc.StartTime,
		EndTime:     rc.StartTime.Add(res.Duration),
		Duration:    res.Duration,
		Interrupted: res.Interrupted,
		Graceful:    res.Graceful,
		MaxVUs:      res.PeakVUs,
		Iterations:  rc.Pool.Iterations(),
		Metrics:     snap,
		TimeSeries:  rc.Metrics.GetTimeSeries(),
		Phases:      rc.Metrics.GetPhaseHistory(),
		Thresholds:  results,
		Passed:      threshold.AllPassed(results),
	}
}

// Stop ends the plan early. VUs finish their current iteration within
// gracefulStop.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Abort ends the plan and cancels in-flight requests immediately.
func (e *Engine) Abort() {
	e.mu.Lock()
	cancel, rc := e.cancel, e.run
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if rc != nil {
		rc.abort()
	}
}

// State returns the lifecycle state and, while ramping, the zero-based
// stage index.
func (e *Engine) State() (State, int) {
	return State(e.state.Load()), int(e.stage.Load())
}

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev != s {
		e.logger.Debug("state changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Plan returns the compiled stage plan.
func (e *Engine) Plan() *stage.Plan {
	return e.plan
}

// Metrics returns the live metrics engine, or nil before Run.
func (e *Engine) Metrics() *metrics.Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return nil
	}
	return e.run.Metrics
}

// GetProgress returns plan progress between 0 and 1.
func (e *Engine) GetProgress() float64 {
	e.mu.Lock()
	rc := e.run
	e.mu.Unlock()
	if rc == nil {
		return 0
	}
	return rc.Executor.GetProgress()
}

// GetStats returns the live executor statistics, or nil before Run.
func (e *Engine) GetStats() *executor.Stats {
	e.mu.Lock()
	rc := e.run
	e.mu.Unlock()
	if rc == nil {
		return nil
	}
	return rc.Executor.GetStats()
}
