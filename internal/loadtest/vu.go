// Package loadtest runs virtual users: long-lived workers that repeat an
// iteration until the pool asks them to stop.
package loadtest

import (
	"context"
	"sync/atomic"
	"time"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU has been created but not started.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is looping iterations.
	VUStateRunning
	// VUStateStopping indicates the VU will exit after its current iteration
	// unless it is revived first.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IterationInfo identifies one iteration of one VU.
type IterationInfo struct {
	VU        int
	Iteration int64
}

// Iteration is the unit of work a VU repeats.
//
// Run must honour ctx: it is cancelled only when the run is aborted or the
// graceful stop period has expired, never on a plain scale-down.
type Iteration interface {
	Run(ctx context.Context, info IterationInfo) error
}

// IterationFunc adapts a function to Iteration.
type IterationFunc func(ctx context.Context, info IterationInfo) error

func (f IterationFunc) Run(ctx context.Context, info IterationInfo) error {
	return f(ctx, info)
}

// VirtualUser is a single simulated user.
type VirtualUser struct {
	ID int

	state      atomic.Int32
	iterations atomic.Int64

	// nudge wakes the VU from its pause when a stop is requested.
	nudge chan struct{}
	done  chan struct{}

	// detached is set once the VU has left the pool; guarded by Pool.mu.
	detached bool
}

func newVirtualUser(id int) *VirtualUser {
	return &VirtualUser{
		ID:    id,
		nudge: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iterations.Load()
}

// RequestStop asks the VU to exit after its current iteration.
// It reports whether the VU was running.
func (vu *VirtualUser) RequestStop() bool {
	if !vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) &&
		!vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		return false
	}
	select {
	case vu.nudge <- struct{}{}:
	default:
	}
	return true
}

// revive cancels a pending stop. It fails if the VU already committed to
// exiting.
func (vu *VirtualUser) revive() bool {
	return vu.state.CompareAndSwap(int32(VUStateStopping), int32(VUStateRunning))
}

// shouldExit is checked between iterations, under Pool.mu. A stopping VU
// commits to exiting here, racing against revive.
func (vu *VirtualUser) shouldExit() bool {
	return vu.state.CompareAndSwap(int32(VUStateStopping), int32(VUStateStopped))
}

// WaitForStop waits for the VU goroutine to exit.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-vu.done:
		return true
	case <-t.C:
		return false
	}
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	close(vu.done)
}

// pause sleeps for d. It returns early when ctx is done or when a stop has
// been requested; a stop that is revived during the pause does not cut it
// short.
func (vu *VirtualUser) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			return
		case <-vu.nudge:
			if vu.GetState() == VUStateStopping {
				return
			}
		}
	}
}
