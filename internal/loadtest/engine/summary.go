package engine

import (
	"time"

	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
	"github.com/wesleyorama2/taskload/internal/loadtest/stage"
	"github.com/wesleyorama2/taskload/internal/loadtest/threshold"
)

// RunSummary is the immutable outcome of a run.
type RunSummary struct {
	// ID is a ULID, so summaries sort by start time.
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	BaseURL     string `json:"baseUrl"`

	Stages   []StageSummary `json:"stages"`
	StartVUs int            `json:"startVUs"`

	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// Interrupted is set when the run was stopped before the plan ended.
	Interrupted bool `json:"interrupted"`
	// Graceful is false when in-flight iterations had to be cancelled.
	Graceful bool `json:"graceful"`

	MaxVUs     int   `json:"maxVUs"`
	Iterations int64 `json:"iterations"`

	Metrics    *metrics.Snapshot     `json:"metrics"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`
	Phases     []metrics.PhaseChange `json:"phases,omitempty"`
	Thresholds []threshold.Result    `json:"thresholds,omitempty"`
	Passed     bool                  `json:"passed"`
}

// StageSummary describes one configured stage.
type StageSummary struct {
	Name     string        `json:"name,omitempty"`
	Duration time.Duration `json:"duration"`
	Target   int           `json:"target"`
}

// FailedThresholds returns the thresholds that did not pass.
func (s *RunSummary) FailedThresholds() []threshold.Result {
	var out []threshold.Result
	for _, r := range s.Thresholds {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

func stageSummaries(p *stage.Plan) []StageSummary {
	out := make([]StageSummary, 0, p.Len())
	for _, s := range p.Stages() {
		out = append(out, StageSummary{Name: s.Name, Duration: s.Duration, Target: s.Target})
	}
	return out
}
