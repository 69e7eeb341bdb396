package stage

import (
	"errors"
	"testing"
	"time"
)

func taskAPIStages() []Stage {
	return []Stage{
		{Duration: 2 * time.Minute, Target: 100},
		{Duration: 5 * time.Minute, Target: 100},
		{Duration: 2 * time.Minute, Target: 200},
		{Duration: 5 * time.Minute, Target: 200},
		{Duration: 2 * time.Minute, Target: 0},
	}
}

func TestNewPlan_Valid(t *testing.T) {
	p, err := NewPlan(taskAPIStages(), 0)
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}
	if p.TotalDuration() != 16*time.Minute {
		t.Errorf("TotalDuration() = %v, want 16m", p.TotalDuration())
	}
	if p.MaxTarget() != 200 {
		t.Errorf("MaxTarget() = %d, want 200", p.MaxTarget())
	}
	if p.Len() != 5 {
		t.Errorf("Len() = %d, want 5", p.Len())
	}
}

func TestNewPlan_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		stages   []Stage
		startVUs int
		field    string
	}{
		{name: "no stages", stages: nil, field: "stages"},
		{name: "negative duration", stages: []Stage{{Duration: -time.Second, Target: 1}}, field: "stages[0].duration"},
		{name: "negative target", stages: []Stage{{Duration: time.Second, Target: 1}, {Duration: time.Second, Target: -5}}, field: "stages[1].target"},
		{name: "zero total", stages: []Stage{{Duration: 0, Target: 10}}, field: "stages"},
		{name: "negative start", stages: []Stage{{Duration: time.Second, Target: 1}}, startVUs: -1, field: "startVUs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlan(tt.stages, tt.startVUs)
			if err == nil {
				t.Fatal("NewPlan() expected error, got nil")
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("NewPlan() error type = %T, want *ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("ConfigError.Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestPlan_TargetAt(t *testing.T) {
	p, err := NewPlan(taskAPIStages(), 0)
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	tests := []struct {
		elapsed time.Duration
		want    int
		done    bool
	}{
		{0, 0, false},
		{30 * time.Second, 25, false},
		{1 * time.Minute, 50, false},
		{90 * time.Second, 75, false},
		{2 * time.Minute, 100, false},
		{4 * time.Minute, 100, false},
		{8 * time.Minute, 150, false},
		{10 * time.Minute, 200, false},
		{14 * time.Minute, 200, false},
		{15 * time.Minute, 100, false},
		{16 * time.Minute, 0, true},
		{time.Hour, 0, true},
		{-time.Second, 0, false},
	}

	for _, tt := range tests {
		got, done := p.TargetAt(tt.elapsed)
		if got != tt.want || done != tt.done {
			t.Errorf("TargetAt(%v) = (%d, %v), want (%d, %v)", tt.elapsed, got, done, tt.want, tt.done)
		}
	}
}

func TestPlan_TargetAt_MonotonicWithinRamp(t *testing.T) {
	p, err := NewPlan(taskAPIStages(), 0)
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	for i := 0; i < p.Len(); i++ {
		s := p.Stage(i)
		from, to := p.StartTarget(i), s.Target
		lo, hi := min(from, to), max(from, to)
		start := p.StageStart(i)

		prev := from
		for off := time.Duration(0); off < s.Duration; off += 250 * time.Millisecond {
			got, done := p.TargetAt(start + off)
			if done {
				t.Fatalf("stage %d: TargetAt(%v) reported done", i, start+off)
			}
			if got < lo || got > hi {
				t.Fatalf("stage %d: TargetAt(%v) = %d outside [%d, %d]", i, start+off, got, lo, hi)
			}
			if to >= from && got < prev {
				t.Fatalf("stage %d: target decreased from %d to %d during ramp-up", i, prev, got)
			}
			if to < from && got > prev {
				t.Fatalf("stage %d: target increased from %d to %d during ramp-down", i, prev, got)
			}
			prev = got
		}
	}
}

func TestPlan_ZeroDurationStageJumps(t *testing.T) {
	p, err := NewPlan([]Stage{
		{Duration: 0, Target: 50},
		{Duration: time.Minute, Target: 50},
	}, 0)
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	if got, _ := p.TargetAt(0); got != 50 {
		t.Errorf("TargetAt(0) = %d, want 50", got)
	}
	idx, ok := p.StageAt(0)
	if !ok || idx != 1 {
		t.Errorf("StageAt(0) = (%d, %v), want (1, true)", idx, ok)
	}
}

func TestPlan_StartVUs(t *testing.T) {
	p, err := NewPlan([]Stage{{Duration: 10 * time.Second, Target: 0}}, 10)
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}
	if got, _ := p.TargetAt(0); got != 10 {
		t.Errorf("TargetAt(0) = %d, want 10", got)
	}
	if got, _ := p.TargetAt(5 * time.Second); got != 5 {
		t.Errorf("TargetAt(5s) = %d, want 5", got)
	}
	if p.MaxTarget() != 10 {
		t.Errorf("MaxTarget() = %d, want 10", p.MaxTarget())
	}
}

func TestPlan_DirectionOf(t *testing.T) {
	p, err := NewPlan(taskAPIStages(), 0)
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	want := []Direction{RampUp, Steady, RampUp, Steady, RampDown}
	for i, w := range want {
		if got := p.DirectionOf(i); got != w {
			t.Errorf("DirectionOf(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestPlan_StagesIsCopy(t *testing.T) {
	in := taskAPIStages()
	p, err := NewPlan(in, 0)
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	in[0].Target = 999
	out := p.Stages()
	out[1].Target = 999

	if p.Stage(0).Target != 100 || p.Stage(1).Target != 100 {
		t.Error("Plan stages were mutated through caller slices")
	}
}
