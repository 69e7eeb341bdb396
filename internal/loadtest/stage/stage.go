// Package stage turns an ordered list of (duration, target) stages into a
// target virtual-user curve.
//
// A stage ramps linearly from the previous stage's target (or the plan's
// start value for the first stage) to its own target over its duration.
// When both ends are equal the stage is a plateau. Lookups are pure
// functions of elapsed time, so the curve can be tested without a clock.
//
//	plan, err := stage.NewPlan([]stage.Stage{
//		{Duration: 2 * time.Minute, Target: 100},
//		{Duration: 5 * time.Minute, Target: 100},
//		{Duration: 2 * time.Minute, Target: 0},
//	}, 0)
//	target, done := plan.TargetAt(90 * time.Second) // 75, false
package stage

import (
	"fmt"
	"time"
)

// Stage is one segment of the target curve.
type Stage struct {
	Duration time.Duration `json:"duration" yaml:"duration"`
	Target   int           `json:"target" yaml:"target"`
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
}

// ConfigError reports an invalid stage list.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "stage config: " + e.Message
	}
	return fmt.Sprintf("stage config: %s: %s", e.Field, e.Message)
}

// Plan is an immutable, validated stage list.
type Plan struct {
	stages    []Stage
	starts    []time.Duration
	startVUs  int
	total     time.Duration
	maxTarget int
}

// NewPlan validates stages and compiles them into a Plan.
// startVUs is the value the first stage ramps from.
func NewPlan(stages []Stage, startVUs int) (*Plan, error) {
	if len(stages) == 0 {
		return nil, &ConfigError{Field: "stages", Message: "at least one stage is required"}
	}
	if startVUs < 0 {
		return nil, &ConfigError{Field: "startVUs", Message: "must not be negative"}
	}

	p := &Plan{
		stages:    make([]Stage, len(stages)),
		starts:    make([]time.Duration, len(stages)),
		startVUs:  startVUs,
		maxTarget: startVUs,
	}
	copy(p.stages, stages)

	var offset time.Duration
	for i, s := range p.stages {
		if s.Duration < 0 {
			return nil, &ConfigError{
				Field:   fmt.Sprintf("stages[%d].duration", i),
				Message: fmt.Sprintf("must not be negative, got %s", s.Duration),
			}
		}
		if s.Target < 0 {
			return nil, &ConfigError{
				Field:   fmt.Sprintf("stages[%d].target", i),
				Message: fmt.Sprintf("must not be negative, got %d", s.Target),
			}
		}
		p.starts[i] = offset
		offset += s.Duration
		if s.Target > p.maxTarget {
			p.maxTarget = s.Target
		}
	}

	if offset <= 0 {
		return nil, &ConfigError{Field: "stages", Message: "total duration must be greater than 0"}
	}
	p.total = offset
	return p, nil
}

// TargetAt returns the interpolated target for the given elapsed time.
// Once elapsed reaches the end of the last stage it returns (0, true).
func (p *Plan) TargetAt(elapsed time.Duration) (int, bool) {
	idx, ok := p.StageAt(elapsed)
	if !ok {
		return 0, true
	}
	if elapsed < 0 {
		elapsed = 0
	}

	s := p.stages[idx]
	from := p.StartTarget(idx)
	if from == s.Target {
		return s.Target, false
	}

	progress := float64(elapsed-p.starts[idx]) / float64(s.Duration)
	if progress < 0 {
		progress = 0
	} else if progress > 1 {
		progress = 1
	}

	target := float64(from) + float64(s.Target-from)*progress
	return int(target + 0.5), false
}

// StageAt returns the index of the stage active at elapsed.
// Zero-length stages are never active; they only move the starting point
// of the next stage.
func (p *Plan) StageAt(elapsed time.Duration) (int, bool) {
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= p.total {
		return 0, false
	}
	for i, s := range p.stages {
		if s.Duration == 0 {
			continue
		}
		if elapsed < p.starts[i]+s.Duration {
			return i, true
		}
	}
	return 0, false
}

// StartTarget returns the value stage i ramps from.
func (p *Plan) StartTarget(i int) int {
	if i <= 0 {
		return p.startVUs
	}
	return p.stages[i-1].Target
}

// StageStart returns the offset at which stage i begins.
func (p *Plan) StageStart(i int) time.Duration {
	return p.starts[i]
}

// Len returns the number of stages.
func (p *Plan) Len() int { return len(p.stages) }

// Stage returns a copy of stage i.
func (p *Plan) Stage(i int) Stage { return p.stages[i] }

// Stages returns a copy of all stages.
func (p *Plan) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// StartVUs returns the value the first stage ramps from.
func (p *Plan) StartVUs() int { return p.startVUs }

// TotalDuration is the sum of all stage durations.
func (p *Plan) TotalDuration() time.Duration { return p.total }

// MaxTarget is the highest target across all stages and startVUs.
func (p *Plan) MaxTarget() int { return p.maxTarget }

// Direction describes how the target moves within a stage.
type Direction int

const (
	Steady Direction = iota
	RampUp
	RampDown
)

func (d Direction) String() string {
	switch d {
	case RampUp:
		return "ramp-up"
	case RampDown:
		return "ramp-down"
	default:
		return "steady"
	}
}

// PhaseAt returns the direction of the stage active at elapsed.
// It reports false once the plan is complete.
func (p *Plan) PhaseAt(elapsed time.Duration) (Direction, bool) {
	idx, ok := p.StageAt(elapsed)
	if !ok {
		return Steady, false
	}
	return p.DirectionOf(idx), true
}

// DirectionOf reports whether stage i ramps up, down, or holds.
func (p *Plan) DirectionOf(i int) Direction {
	from := p.StartTarget(i)
	to := p.stages[i].Target
	switch {
	case to > from:
		return RampUp
	case to < from:
		return RampDown
	default:
		return Steady
	}
}
