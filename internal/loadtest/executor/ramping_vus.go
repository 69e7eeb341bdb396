// Package executor drives a VU pool along a stage plan.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/taskload/internal/loadtest"
	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
	"github.com/wesleyorama2/taskload/internal/loadtest/stage"
)

// Config configures a RampingVUs executor.
type Config struct {
	Plan *stage.Plan

	// GracefulStop bounds how long VUs may take to finish their last
	// iteration once the plan ends (default 30s).
	GracefulStop time.Duration

	// TickInterval is how often the target is re-evaluated (default 100ms).
	TickInterval time.Duration

	// Now is the clock the plan is evaluated against (default time.Now).
	Now func() time.Time

	// OnStage is called whenever the active stage changes.
	OnStage func(index int, s stage.Stage)

	// OnDrain is called once the plan has ended and VUs are being stopped.
	OnDrain func()

	Logger *zap.Logger
}

// Stats is a point-in-time view of executor progress.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	LiveVUs   int `json:"liveVUs"`
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	Iterations int64 `json:"iterations"`

	CurrentStage int           `json:"currentStage"`
	TotalStages  int           `json:"totalStages"`
	Phase        metrics.Phase `json:"phase"`
}

// Result summarises a completed run.
type Result struct {
	// Interrupted is set when ctx was cancelled before the plan ended.
	Interrupted bool
	// Graceful is false when in-flight iterations had to be cancelled.
	Graceful bool
	Duration time.Duration
	PeakVUs  int
}

// RampingVUs ramps VU count up and down according to stages.
//
// The target is interpolated from the plan on every tick, so VU counts move
// smoothly instead of stepping at stage boundaries.
//
//	stages:
//	  - duration: 2m
//	    target: 100    # ramp from 0 to 100 VUs over 2 minutes
//	  - duration: 5m
//	    target: 100    # hold
//	  - duration: 2m
//	    target: 0      # ramp down
type RampingVUs struct {
	cfg    Config
	logger *zap.Logger

	pool    *loadtest.Pool
	metrics *metrics.Engine

	startTime    time.Time
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool
	mu           sync.RWMutex
}

// NewRampingVUs validates cfg and creates an executor.
func NewRampingVUs(cfg Config) (*RampingVUs, error) {
	if cfg.Plan == nil {
		return nil, fmt.Errorf("executor: stage plan is required")
	}
	if cfg.GracefulStop < 0 {
		return nil, fmt.Errorf("executor: gracefulStop must not be negative")
	}
	if cfg.GracefulStop == 0 {
		cfg.GracefulStop = 30 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &RampingVUs{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "ramping-vus")),
	}
	e.currentStage.Store(-1)
	return e, nil
}

// Run drives pool along the plan and blocks until every VU has exited.
//
// Cancelling ctx ends the plan early; VUs still get GracefulStop to finish
// their current iteration.
func (e *RampingVUs) Run(ctx context.Context, pool *loadtest.Pool, m *metrics.Engine) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("executor: already running")
	}
	defer e.running.Store(false)

	e.mu.Lock()
	e.pool = pool
	e.metrics = m
	e.startTime = e.cfg.Now()
	e.mu.Unlock()

	e.logger.Info("starting ramping-vus",
		zap.Int("stages", e.cfg.Plan.Len()),
		zap.Duration("duration", e.cfg.Plan.TotalDuration()),
		zap.Int("maxVUs", e.cfg.Plan.MaxTarget()))

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	res := &Result{}
	if !e.step() {
		for done := false; !done; {
			select {
			case <-ctx.Done():
				res.Interrupted = true
				done = true
			case <-ticker.C:
				done = e.step()
			}
		}
	}

	if res.Interrupted {
		e.logger.Warn("run interrupted, draining VUs", zap.Int("live", pool.Live()))
	}
	res.Graceful = e.drain(ticker.C)
	res.Duration = e.cfg.Now().Sub(e.startTime)
	res.PeakVUs = pool.PeakLive()

	m.SetActiveVUs(0)
	m.SetPhase(metrics.PhaseDone)
	return res, nil
}

// step applies the target for the current instant. It reports true once the
// plan is complete.
func (e *RampingVUs) step() bool {
	elapsed := e.cfg.Now().Sub(e.startTime)
	target, done := e.cfg.Plan.TargetAt(elapsed)
	if done {
		return true
	}

	e.targetVUs.Store(int32(target))
	e.pool.Scale(target)
	e.metrics.SetTargetVUs(target)
	e.metrics.SetActiveVUs(e.pool.Live())

	if idx, ok := e.cfg.Plan.StageAt(elapsed); ok && int32(idx) != e.currentStage.Swap(int32(idx)) {
		e.metrics.SetPhase(phaseOf(e.cfg.Plan.DirectionOf(idx)))
		s := e.cfg.Plan.Stage(idx)
		e.logger.Info("stage started",
			zap.Int("stage", idx+1),
			zap.Int("of", e.cfg.Plan.Len()),
			zap.Duration("duration", s.Duration),
			zap.Int("target", s.Target))
		if e.cfg.OnStage != nil {
			e.cfg.OnStage(idx, s)
		}
	}

	e.metrics.Tick()
	return false
}

// drain stops every VU and waits up to GracefulStop for them to exit,
// keeping metrics current meanwhile.
func (e *RampingVUs) drain(tick <-chan time.Time) bool {
	e.targetVUs.Store(0)
	e.metrics.SetTargetVUs(0)
	e.metrics.SetPhase(metrics.PhaseDraining)
	if e.cfg.OnDrain != nil {
		e.cfg.OnDrain()
	}
	e.pool.StopAll()

	waitDone := make(chan bool, 1)
	go func() {
		waitDone <- e.pool.Wait(e.cfg.GracefulStop)
	}()

	for {
		select {
		case graceful := <-waitDone:
			e.logger.Info("all VUs stopped", zap.Bool("graceful", graceful))
			return graceful
		case <-tick:
			e.metrics.SetActiveVUs(e.pool.Live())
			e.metrics.Tick()
		}
	}
}

// GetProgress returns plan progress between 0 and 1.
func (e *RampingVUs) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	if start.IsZero() {
		return 0
	}
	if !e.running.Load() {
		return 1
	}
	p := float64(e.cfg.Now().Sub(start)) / float64(e.cfg.Plan.TotalDuration())
	if p > 1 {
		p = 1
	}
	return p
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := &Stats{
		StartTime:     e.startTime,
		TotalDuration: e.cfg.Plan.TotalDuration(),
		TargetVUs:     int(e.targetVUs.Load()),
		CurrentStage:  int(e.currentStage.Load()),
		TotalStages:   e.cfg.Plan.Len(),
		Phase:         metrics.PhaseInit,
	}
	if !e.startTime.IsZero() {
		st.Elapsed = e.cfg.Now().Sub(e.startTime)
	}
	if e.pool != nil {
		st.LiveVUs = e.pool.Live()
		st.ActiveVUs = e.pool.Active()
		st.Iterations = e.pool.Iterations()
	}
	if e.metrics != nil {
		st.Phase = e.metrics.GetPhase()
	}
	return st
}

func phaseOf(d stage.Direction) metrics.Phase {
	switch d {
	case stage.RampUp:
		return metrics.PhaseRampUp
	case stage.RampDown:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}
