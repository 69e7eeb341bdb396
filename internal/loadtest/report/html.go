package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"time"

	"github.com/wesleyorama2/taskload/internal/loadtest/engine"
	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
	"github.com/wesleyorama2/taskload/internal/loadtest/threshold"
)

// reportData contains all data needed to render the HTML report.
type reportData struct {
	*engine.RunSummary
	Latency        metrics.TrendStats
	Endpoints      []endpointRow
	Checks         []checkRow
	TimeSeriesJSON template.JS
	GeneratedAt    time.Time
}

type endpointRow struct {
	Name   string
	Stats  metrics.TrendStats
	Failed metrics.RateStats
}

type checkRow struct {
	Name   string
	Passes int64
	Fails  int64
	Rate   float64
}

// timeSeriesPoint is one chart point. Latencies are in milliseconds.
type timeSeriesPoint struct {
	Offset            float64 `json:"offset"`
	IntervalRPS       float64 `json:"rps"`
	IntervalErrorRate float64 `json:"errorRate"`
	IntervalOK        int64   `json:"ok"`
	IntervalFailures  int64   `json:"failures"`
	LatencyP50        float64 `json:"p50"`
	LatencyP95        float64 `json:"p95"`
	LatencyP99        float64 `json:"p99"`
	LatencyMax        float64 `json:"max"`
	ActiveVUs         int     `json:"vus"`
	TargetVUs         int     `json:"target"`
	Phase             string  `json:"phase"`
}

var reportTemplate = template.Must(template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate))

// HTML renders the self-contained HTML report.
func HTML(s *engine.RunSummary) (string, error) {
	if s == nil || s.Metrics == nil {
		return "", fmt.Errorf("summary cannot be nil")
	}

	series, err := timeSeriesJSON(s.TimeSeries)
	if err != nil {
		return "", fmt.Errorf("failed to convert time series: %w", err)
	}

	data := reportData{
		RunSummary:     s,
		Latency:        s.Metrics.Latency(),
		Endpoints:      endpointRows(s.Metrics),
		Checks:         checkRows(s.Metrics),
		TimeSeriesJSON: template.JS(series),
		GeneratedAt:    s.EndTime,
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// WriteHTML writes the HTML report to path.
func WriteHTML(s *engine.RunSummary, path string) error {
	html, err := HTML(s)
	if err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}
	if err := writeFile(path, []byte(html)); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

func timeSeriesJSON(buckets []*metrics.TimeBucket) (string, error) {
	points := make([]timeSeriesPoint, 0, len(buckets))
	for _, b := range buckets {
		points = append(points, timeSeriesPoint{
			Offset:            b.Offset.Seconds(),
			IntervalRPS:       b.IntervalRPS,
			IntervalErrorRate: b.IntervalErrorRate * 100,
			IntervalOK:        b.IntervalRequests - b.IntervalFailures,
			IntervalFailures:  b.IntervalFailures,
			LatencyP50:        ms(b.LatencyP50),
			LatencyP95:        ms(b.LatencyP95),
			LatencyP99:        ms(b.LatencyP99),
			LatencyMax:        ms(b.LatencyMax),
			ActiveVUs:         b.ActiveVUs,
			TargetVUs:         b.TargetVUs,
			Phase:             string(b.Phase),
		})
	}
	data, err := json.Marshal(points)
	if err != nil {
		return "[]", err
	}
	return string(data), nil
}

func endpointRows(snap *metrics.Snapshot) []endpointRow {
	endpoints := snap.Endpoints()
	rows := make([]endpointRow, 0, len(endpoints))
	for name, st := range endpoints {
		rows = append(rows, endpointRow{
			Name:   name,
			Stats:  st,
			Failed: snap.Rates[metrics.SeriesKey(metrics.MetricReqFailed, "name", name)],
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

func checkRows(snap *metrics.Snapshot) []checkRow {
	rows := make([]checkRow, 0, len(snap.Checks))
	for _, c := range snap.Checks {
		row := checkRow{Name: c.Name, Passes: c.Passes, Fails: c.Fails}
		if total := c.Passes + c.Fails; total > 0 {
			row.Rate = float64(c.Passes) / float64(total)
		}
		rows = append(rows, row)
	}
	return rows
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": FormatDuration,
		"formatNumber":   FormatNumber,
		"formatLatency":  FormatLatency,
		"formatBytes":    FormatBytes,
		"percent":        percent,
		"actual": func(r threshold.Result) string {
			return threshold.FormatValue(r.Threshold, r.Actual)
		},
	}
}
