package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/taskload/internal/loadtest/engine"
	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
)

const labelWidth = 36

type palette struct {
	pass, fail, value, muted, header func(a ...interface{}) string
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) func(a ...interface{}) string {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		pass:   mk(color.FgGreen),
		fail:   mk(color.FgRed),
		value:  mk(color.FgCyan),
		muted:  mk(color.Faint),
		header: mk(color.Bold),
	}
}

// Text renders the end-of-test console summary in the k6 layout.
func Text(s *engine.RunSummary, colors bool) string {
	if s == nil || s.Metrics == nil {
		return ""
	}
	p := newPalette(colors)
	snap := s.Metrics

	var b strings.Builder

	fmt.Fprintf(&b, "\n  %s %s\n", p.header("run"), s.ID)
	fmt.Fprintf(&b, "  %s %s\n", p.header("target"), s.BaseURL)
	fmt.Fprintf(&b, "  %s %s, %s\n", p.header("load"), describeStages(s), FormatDuration(s.Duration))
	if s.Interrupted {
		note := "stopped early, VUs drained"
		if !s.Graceful {
			note = "stopped early, in-flight iterations cancelled"
		}
		fmt.Fprintf(&b, "  %s\n", p.fail(note))
	}
	b.WriteString("\n")

	for _, c := range snap.Checks {
		total := c.Passes + c.Fails
		if c.Fails == 0 {
			fmt.Fprintf(&b, "     %s %s\n", p.pass("✓"), c.Name)
			continue
		}
		fmt.Fprintf(&b, "     %s %s\n", p.fail("✗"), c.Name)
		fmt.Fprintf(&b, "      %s  %d%% %s %s / %s %s\n",
			p.muted("↳"),
			c.Passes*100/total,
			p.muted("-"),
			p.pass("✓"), FormatNumber(c.Passes),
			p.fail("✗ "+FormatNumber(c.Fails)))
	}
	if len(snap.Checks) > 0 {
		b.WriteString("\n")
	}

	verdicts := thresholdVerdicts(s)
	for _, key := range seriesKeys(snap) {
		mark := " "
		if ok, has := verdicts[key]; has {
			if ok {
				mark = p.pass("✓")
			} else {
				mark = p.fail("✗")
			}
		}

		label := key
		if _, tk, tv := metrics.SplitSeriesKey(key); tk != "" {
			label = "  { " + tk + ":" + tv + " }"
		}
		dots := labelWidth - len([]rune(label))
		if dots < 3 {
			dots = 3
		}
		fmt.Fprintf(&b, "   %s %s%s: %s\n", mark, label, p.muted(strings.Repeat(".", dots)), metricLine(p, key, snap))
	}

	if failed := s.FailedThresholds(); len(failed) > 0 {
		b.WriteString("\n")
		for _, r := range failed {
			fmt.Fprintf(&b, "   %s threshold %s %q crossed: %s\n", p.fail("✗"), r.Threshold.Metric,
				r.Threshold.Expression, r.Message)
		}
	}

	b.WriteString("\n")
	if s.Passed {
		fmt.Fprintf(&b, "  %s\n", p.pass("✓ all thresholds passed"))
	} else {
		fmt.Fprintf(&b, "  %s\n", p.fail(fmt.Sprintf("✗ %d of %d thresholds failed", len(s.FailedThresholds()), len(s.Thresholds))))
	}
	return b.String()
}

func describeStages(s *engine.RunSummary) string {
	if len(s.Stages) == 1 && s.StartVUs == s.Stages[0].Target {
		return fmt.Sprintf("%d VUs for %s", s.StartVUs, FormatDuration(s.Stages[0].Duration))
	}
	parts := make([]string, 0, len(s.Stages))
	for _, st := range s.Stages {
		parts = append(parts, fmt.Sprintf("%s→%d", FormatDuration(st.Duration), st.Target))
	}
	return fmt.Sprintf("%d stages (%s), max %d VUs", len(s.Stages), strings.Join(parts, " "), s.MaxVUs)
}

// thresholdVerdicts maps each series with thresholds to whether all of them
// passed.
func thresholdVerdicts(s *engine.RunSummary) map[string]bool {
	out := make(map[string]bool)
	for _, r := range s.Thresholds {
		key := r.Threshold.Metric
		prev, seen := out[key]
		out[key] = r.Passed && (!seen || prev)
	}
	return out
}

// seriesKeys returns every series sorted so tagged series follow their
// metric.
func seriesKeys(snap *metrics.Snapshot) []string {
	seen := make(map[string]bool)
	for k := range snap.Trends {
		seen[k] = true
	}
	for k := range snap.Rates {
		seen[k] = true
	}
	for k := range snap.Counters {
		seen[k] = true
	}
	for k := range snap.Gauges {
		seen[k] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func metricLine(p palette, key string, snap *metrics.Snapshot) string {
	if st, ok := snap.Trends[key]; ok {
		kv := func(k string, d time.Duration) string {
			return k + "=" + p.value(FormatLatency(d))
		}
		return strings.Join([]string{
			kv("avg", st.Avg), kv("min", st.Min), kv("med", st.Med),
			kv("max", st.Max), kv("p(90)", st.P90), kv("p(95)", st.P95),
		}, " ")
	}
	if st, ok := snap.Rates[key]; ok {
		return fmt.Sprintf("%s %s %s", p.value(percent(st.Rate)),
			p.pass("✓ "+FormatNumber(st.Passes)), p.fail("✗ "+FormatNumber(st.Fails)))
	}
	if st, ok := snap.Counters[key]; ok {
		name, _, _ := metrics.SplitSeriesKey(key)
		if name == metrics.MetricDataReceived || name == metrics.MetricDataSent {
			return fmt.Sprintf("%s %s", p.value(FormatBytes(st.Count)),
				p.muted(FormatBytes(int64(st.Rate))+"/s"))
		}
		return fmt.Sprintf("%s %s", p.value(FormatNumber(st.Count)),
			p.muted(fmt.Sprintf("%.2f/s", st.Rate)))
	}
	if st, ok := snap.Gauges[key]; ok {
		return fmt.Sprintf("%s min=%d max=%d", p.value(st.Value), st.Min, st.Max)
	}
	return ""
}
