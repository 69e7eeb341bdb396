// Command generate-sample-report writes an HTML report and summary.json for a
// synthetic run, for working on the report templates without a live API.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wesleyorama2/taskload/internal/loadtest/config"
	"github.com/wesleyorama2/taskload/internal/loadtest/engine"
	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
	"github.com/wesleyorama2/taskload/internal/loadtest/report"
	"github.com/wesleyorama2/taskload/internal/loadtest/stage"
	"github.com/wesleyorama2/taskload/internal/loadtest/threshold"
)

func main() {
	outputDir := "."
	if len(os.Args) > 1 {
		outputDir = os.Args[1]
	}

	summary, err := createSampleRun()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	htmlPath := filepath.Join(outputDir, "sample-report.html")
	if err := report.WriteHTML(summary, htmlPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	jsonPath := filepath.Join(outputDir, "sample-summary.json")
	if err := report.WriteJSON(summary, jsonPath, report.JSONOptions{}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sample report generated: %s\n", htmlPath)
	fmt.Printf("Sample summary generated: %s\n", jsonPath)
}

// createSampleRun replays a compressed version of the default profile
// against a simulated clock: one tick per second, every live VU completing
// one list/create iteration per tick.
func createSampleRun() (*engine.RunSummary, error) {
	stages := []stage.Stage{
		{Duration: 20 * time.Second, Target: 20},
		{Duration: 40 * time.Second, Target: 20},
		{Duration: 20 * time.Second, Target: 40},
		{Duration: 40 * time.Second, Target: 40},
		{Duration: 20 * time.Second, Target: 0},
	}
	plan, err := stage.NewPlan(stages, 0)
	if err != nil {
		return nil, err
	}

	start := time.Now().Add(-plan.TotalDuration())
	now := start
	mcfg := metrics.DefaultEngineConfig()
	mcfg.Now = func() time.Time { return now }
	m := metrics.NewEngineWithConfig(mcfg)

	rng := rand.New(rand.NewSource(42))
	latency := func(base, spread time.Duration, vus int) time.Duration {
		load := time.Duration(vus) * time.Millisecond
		return base + load + time.Duration(rng.Int63n(int64(spread)))
	}

	maxResponse, _ := time.ParseDuration(config.DefaultMaxResponseTime)
	for elapsed := time.Duration(0); elapsed < plan.TotalDuration(); elapsed += time.Second {
		target, _ := plan.TargetAt(elapsed)
		if dir, ok := plan.PhaseAt(elapsed); ok {
			m.SetPhase(metrics.Phase(dir.String()))
		}
		m.SetTargetVUs(target)
		m.SetActiveVUs(target)

		for vu := 0; vu < target; vu++ {
			list := latency(15*time.Millisecond, 40*time.Millisecond, target)
			m.Record(metrics.Sample{Name: "list_tasks", Method: "GET", Status: 200, Duration: list, BytesIn: 4096, BytesOut: 120})
			m.RecordCheck("list status is 200", true)
			m.RecordCheck("list response time < 500ms", list < maxResponse)

			create := latency(25*time.Millisecond, 80*time.Millisecond, target)
			status := 201
			if rng.Float64() < 0.01 {
				status = 500
			}
			m.Record(metrics.Sample{Name: "create_task", Method: "POST", Status: status, Duration: create, BytesIn: 310, BytesOut: 160})
			m.RecordCheck("task created", status == 201)
			m.RecordCheck("create response time < 500ms", create < maxResponse)

			m.RecordIteration(list + create + time.Second)
		}

		now = now.Add(time.Second)
		m.Tick()
	}
	m.SetActiveVUs(0)
	m.SetPhase(metrics.PhaseDone)
	m.Stop()

	snap := m.GetSnapshot()
	set, err := threshold.ParseSet(map[string][]string{
		"http_req_duration":                   {"p(95)<500", "avg<200"},
		"http_req_duration{name:create_task}": {"p(95)<300"},
		"http_req_failed":                     {"rate<0.1"},
		"checks":                              {"rate>0.95"},
	})
	if err != nil {
		return nil, err
	}
	results := threshold.Evaluate(set, snap)

	summaryStages := make([]engine.StageSummary, 0, len(stages))
	for _, s := range stages {
		summaryStages = append(summaryStages, engine.StageSummary{Name: s.Name, Duration: s.Duration, Target: s.Target})
	}

	return &engine.RunSummary{
		ID:          ulid.Make().String(),
		Name:        "Task API Load Test - sample",
		Description: "Synthetic run of the default profile compressed to two minutes",
		BaseURL:     config.DefaultBaseURL,
		Stages:      summaryStages,
		StartTime:   start,
		EndTime:     now,
		Duration:    now.Sub(start),
		Graceful:    true,
		MaxVUs:      snap.MaxVUs,
		Iterations:  snap.Iterations,
		Metrics:     snap,
		TimeSeries:  m.GetTimeSeries(),
		Phases:      m.GetPhaseHistory(),
		Thresholds:  results,
		Passed:      threshold.AllPassed(results),
	}, nil
}
