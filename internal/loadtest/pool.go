package loadtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// IterationRecorder receives the duration of every completed iteration.
type IterationRecorder interface {
	RecordIteration(d time.Duration)
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Iteration is run by every VU.
	Iteration Iteration

	// Sleep is the pause after each iteration. A stop request cuts it short.
	Sleep time.Duration

	// Recorder, if set, receives iteration durations.
	Recorder IterationRecorder

	Logger *zap.Logger
}

// Pool owns the live VU goroutines and scales them towards a target.
//
// Live workers never exceed the highest target passed to Scale: on scale-up
// a VU that was asked to stop but is still finishing its iteration is
// revived before a new goroutine is spawned.
//
// Scale-down never interrupts an iteration. Iterations run under a context
// that is cancelled only by Cancel, by Wait when the grace period expires,
// or by the parent context.
type Pool struct {
	cfg    PoolConfig
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	vus      []*VirtualUser // spawn order
	nextID   int
	draining bool

	wg         sync.WaitGroup
	live       atomic.Int64
	peak       atomic.Int64
	iterations atomic.Int64
	spawned    atomic.Int64
}

// NewPool creates an empty pool. VU iterations inherit parent.
func NewPool(parent context.Context, cfg PoolConfig) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Pool{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "vu-pool")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Scale moves the number of running VUs towards target.
// It returns how many VUs were spawned, revived and asked to stop.
func (p *Pool) Scale(target int) (spawned, revived, stopped int) {
	if target < 0 {
		target = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.draining || p.ctx.Err() != nil {
		return 0, 0, 0
	}

	running := 0
	for _, vu := range p.vus {
		if vu.GetState() == VUStateRunning {
			running++
		}
	}

	switch {
	case running < target:
		need := target - running
		for _, vu := range p.vus {
			if need == 0 {
				break
			}
			if vu.GetState() == VUStateStopping && vu.revive() {
				need--
				revived++
			}
		}
		for ; need > 0; need-- {
			p.spawnLocked()
			spawned++
		}

	case running > target:
		surplus := running - target
		for i := len(p.vus) - 1; i >= 0 && surplus > 0; i-- {
			if p.vus[i].RequestStop() {
				surplus--
				stopped++
			}
		}
	}

	if spawned+revived+stopped > 0 {
		p.logger.Debug("scaled VUs",
			zap.Int("target", target),
			zap.Int("spawned", spawned),
			zap.Int("revived", revived),
			zap.Int("stopping", stopped),
			zap.Int64("live", p.live.Load()))
	}
	return spawned, revived, stopped
}

func (p *Pool) spawnLocked() {
	p.nextID++
	vu := newVirtualUser(p.nextID)
	vu.state.Store(int32(VUStateRunning))
	p.vus = append(p.vus, vu)

	n := p.live.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.spawned.Add(1)

	p.wg.Add(1)
	go p.runVU(vu)
}

func (p *Pool) runVU(vu *VirtualUser) {
	defer p.wg.Done()
	defer p.remove(vu)

	for {
		if p.ctx.Err() != nil || p.commitExit(vu) {
			return
		}

		n := vu.iterations.Add(1)
		start := time.Now()
		err := p.cfg.Iteration.Run(p.ctx, IterationInfo{VU: vu.ID, Iteration: n})
		if p.ctx.Err() != nil {
			// interrupted iterations are not counted
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Debug("iteration error", zap.Int("vu", vu.ID), zap.Error(err))
		}

		p.iterations.Add(1)
		if p.cfg.Recorder != nil {
			p.cfg.Recorder.RecordIteration(time.Since(start))
		}

		vu.pause(p.ctx, p.cfg.Sleep)
	}
}

// commitExit settles a pending stop request. The VU leaves the live set in
// the same critical section, so Scale either revives it or no longer
// counts it.
func (p *Pool) commitExit(vu *VirtualUser) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !vu.shouldExit() {
		return false
	}
	p.detachLocked(vu)
	return true
}

func (p *Pool) remove(vu *VirtualUser) {
	p.mu.Lock()
	p.detachLocked(vu)
	p.mu.Unlock()

	vu.markStopped()
}

func (p *Pool) detachLocked(vu *VirtualUser) {
	if vu.detached {
		return
	}
	vu.detached = true
	for i, v := range p.vus {
		if v == vu {
			p.vus = append(p.vus[:i], p.vus[i+1:]...)
			break
		}
	}
	p.live.Add(-1)
}

// Live returns the number of VU goroutines that have not exited, including
// those finishing an iteration after a stop request.
func (p *Pool) Live() int {
	return int(p.live.Load())
}

// Active returns the number of VUs that are running and not stopping.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, vu := range p.vus {
		if vu.GetState() == VUStateRunning {
			n++
		}
	}
	return n
}

// PeakLive returns the highest Live value observed.
func (p *Pool) PeakLive() int {
	return int(p.peak.Load())
}

// Spawned returns the number of VU goroutines ever started.
func (p *Pool) Spawned() int {
	return int(p.spawned.Load())
}

// Iterations returns the number of completed iterations.
func (p *Pool) Iterations() int64 {
	return p.iterations.Load()
}

// StopAll asks every VU to exit after its current iteration and prevents
// further scaling.
func (p *Pool) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.draining = true
	for _, vu := range p.vus {
		vu.RequestStop()
	}
}

// Wait blocks until every VU has exited. If grace elapses first, in-flight
// iterations are cancelled and Wait returns false once they have unwound.
func (p *Pool) Wait(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		return true
	case <-t.C:
		p.logger.Warn("graceful stop expired, cancelling in-flight iterations",
			zap.Duration("gracefulStop", grace),
			zap.Int64("live", p.live.Load()))
		p.cancel()
		<-done
		return false
	}
}

// Cancel aborts all in-flight iterations immediately.
func (p *Pool) Cancel() {
	p.cancel()
}
