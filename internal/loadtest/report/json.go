package report

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wesleyorama2/taskload/internal/loadtest/engine"
	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
)

// Summary is the k6-compatible summary.json document.
type Summary struct {
	RootGroup Group                    `json:"root_group"`
	Options   Options                  `json:"options"`
	State     State                    `json:"state"`
	Metrics   map[string]MetricSummary `json:"metrics"`
	Run       RunInfo                  `json:"taskload"`
}

// Group is the k6 check group. The task scenario has only the root group.
type Group struct {
	Name   string         `json:"name"`
	Path   string         `json:"path"`
	ID     string         `json:"id"`
	Groups []Group        `json:"groups"`
	Checks []CheckSummary `json:"checks"`
}

type CheckSummary struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	ID     string `json:"id"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

type Options struct {
	SummaryTrendStats []string `json:"summaryTrendStats"`
	SummaryTimeUnit   string   `json:"summaryTimeUnit"`
	NoColor           bool     `json:"noColor"`
}

type State struct {
	IsStdOutTTY       bool    `json:"isStdOutTTY"`
	IsStdErrTTY       bool    `json:"isStdErrTTY"`
	TestRunDurationMs float64 `json:"testRunDurationMs"`
}

// MetricSummary is one entry of the metrics map. Trend values are in
// milliseconds.
type MetricSummary struct {
	Type       string                 `json:"type"`
	Contains   string                 `json:"contains"`
	Values     map[string]float64     `json:"values"`
	Thresholds map[string]ThresholdOK `json:"thresholds,omitempty"`
}

type ThresholdOK struct {
	OK bool `json:"ok"`
}

// RunInfo carries the fields k6 has no place for.
type RunInfo struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	BaseURL     string                `json:"baseUrl"`
	StartTime   time.Time             `json:"startTime"`
	EndTime     time.Time             `json:"endTime"`
	Passed      bool                  `json:"passed"`
	Interrupted bool                  `json:"interrupted"`
	Graceful    bool                  `json:"graceful"`
	MaxVUs      int                   `json:"maxVUs"`
	Stages      []engine.StageSummary `json:"stages"`
}

// JSONOptions describe the terminal the run was started from.
type JSONOptions struct {
	StdoutTTY bool
	StderrTTY bool
	NoColor   bool
}

var trendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"}

// BuildSummary converts a run summary to the summary.json document.
func BuildSummary(s *engine.RunSummary, opts JSONOptions) (*Summary, error) {
	if s == nil || s.Metrics == nil {
		return nil, fmt.Errorf("summary cannot be nil")
	}
	snap := s.Metrics

	out := &Summary{
		RootGroup: Group{
			Name:   "",
			Path:   "",
			ID:     groupID(""),
			Groups: []Group{},
			Checks: make([]CheckSummary, 0, len(snap.Checks)),
		},
		Options: Options{
			SummaryTrendStats: trendStats,
			SummaryTimeUnit:   "ms",
			NoColor:           opts.NoColor,
		},
		State: State{
			IsStdOutTTY:       opts.StdoutTTY,
			IsStdErrTTY:       opts.StderrTTY,
			TestRunDurationMs: ms(s.Duration),
		},
		Metrics: make(map[string]MetricSummary),
		Run: RunInfo{
			ID:          s.ID,
			Name:        s.Name,
			BaseURL:     s.BaseURL,
			StartTime:   s.StartTime,
			EndTime:     s.EndTime,
			Passed:      s.Passed,
			Interrupted: s.Interrupted,
			Graceful:    s.Graceful,
			MaxVUs:      s.MaxVUs,
			Stages:      s.Stages,
		},
	}

	for _, c := range snap.Checks {
		out.RootGroup.Checks = append(out.RootGroup.Checks, CheckSummary{
			Name:   c.Name,
			Path:   "::" + c.Name,
			ID:     groupID("::" + c.Name),
			Passes: c.Passes,
			Fails:  c.Fails,
		})
	}

	for key, st := range snap.Trends {
		values := map[string]float64{
			"avg":   ms(st.Avg),
			"min":   ms(st.Min),
			"med":   ms(st.Med),
			"max":   ms(st.Max),
			"p(90)": ms(st.P90),
			"p(95)": ms(st.P95),
			"p(99)": ms(st.P99),
		}
		out.Metrics[key] = MetricSummary{Type: string(metrics.KindTrend), Contains: "time", Values: values}
	}
	for key, st := range snap.Rates {
		out.Metrics[key] = MetricSummary{
			Type:     string(metrics.KindRate),
			Contains: "default",
			Values: map[string]float64{
				"rate":   st.Rate,
				"passes": float64(st.Passes),
				"fails":  float64(st.Fails),
			},
		}
	}
	for key, st := range snap.Counters {
		contains := "default"
		if name, _, _ := metrics.SplitSeriesKey(key); name == metrics.MetricDataReceived || name == metrics.MetricDataSent {
			contains = "data"
		}
		out.Metrics[key] = MetricSummary{
			Type:     string(metrics.KindCounter),
			Contains: contains,
			Values:   map[string]float64{"count": float64(st.Count), "rate": st.Rate},
		}
	}
	for key, st := range snap.Gauges {
		out.Metrics[key] = MetricSummary{
			Type:     string(metrics.KindGauge),
			Contains: "default",
			Values: map[string]float64{
				"value": float64(st.Value),
				"min":   float64(st.Min),
				"max":   float64(st.Max),
			},
		}
	}

	for _, r := range s.Thresholds {
		t := r.Threshold
		m, ok := out.Metrics[t.Metric]
		if !ok {
			// thresholds on series that never saw a sample still show up
			kind, _ := metrics.KindOf(metricName(t.Metric))
			m = MetricSummary{Type: string(kind), Contains: "default", Values: map[string]float64{}}
		}
		if t.Quantile > 0 {
			if st, ok := snap.Trends[t.Metric]; ok {
				m.Values[t.Aggregate] = ms(st.Quantile(t.Quantile))
			}
		}
		if m.Thresholds == nil {
			m.Thresholds = make(map[string]ThresholdOK)
		}
		m.Thresholds[t.Expression] = ThresholdOK{OK: r.Passed}
		out.Metrics[t.Metric] = m
	}

	return out, nil
}

// JSON renders summary.json.
func JSON(s *engine.RunSummary, opts JSONOptions) ([]byte, error) {
	doc, err := BuildSummary(s, opts)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteJSON writes summary.json to path.
func WriteJSON(s *engine.RunSummary, path string, opts JSONOptions) error {
	data, err := JSON(s, opts)
	if err != nil {
		return err
	}
	if err := writeFile(path, data); err != nil {
		return fmt.Errorf("failed to write JSON summary: %w", err)
	}
	return nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func metricName(key string) string {
	name, _, _ := metrics.SplitSeriesKey(key)
	return name
}

// groupID is the md5 of the group or check path, as k6 computes it.
func groupID(path string) string {
	sum := md5.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}
