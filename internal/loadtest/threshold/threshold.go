// Package threshold parses and evaluates k6-style pass/fail criteria.
//
// A threshold binds a metric series to an expression:
//
//	http_req_duration                  p(95)<500
//	http_req_duration{name:create_task} p95 < 300ms
//	http_req_failed                    rate<0.1
//	http_reqs                          count>100
//
// Trend values are milliseconds unless a duration unit is given.
package threshold

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
)

// Threshold is one parsed criterion.
type Threshold struct {
	// Metric is the series key, including an optional tag filter.
	Metric string `json:"metric"`
	// Aggregate is avg, med, min, max, p(N), rate, count or value.
	Aggregate string `json:"aggregate"`
	// Quantile is N for p(N) aggregates.
	Quantile float64 `json:"quantile,omitempty"`
	Operator string  `json:"operator"`
	// Value is in milliseconds for trend metrics.
	Value      float64 `json:"value"`
	Expression string  `json:"expression"`

	kind metrics.Kind
}

// Result is the outcome of evaluating one threshold.
type Result struct {
	Threshold Threshold `json:"threshold"`
	Actual    float64   `json:"actual"`
	Passed    bool      `json:"passed"`
	Message   string    `json:"message"`
}

// Set is an ordered list of thresholds.
type Set []Threshold

var exprPattern = regexp.MustCompile(
	`^(p\(\s*[0-9]+(?:\.[0-9]+)?\s*\)|p[0-9]+(?:\.[0-9]+)?|avg|med|min|max|rate|count|value)\s*(<=|>=|==|!=|<|>)\s*([0-9]+(?:\.[0-9]+)?)\s*([a-zµ]*)$`,
)

// Parse parses expr for the series identified by metricKey.
func Parse(metricKey, expr string) (Threshold, error) {
	name, tagKey, tagValue := metrics.SplitSeriesKey(strings.TrimSpace(metricKey))
	if name == "" {
		return Threshold{}, fmt.Errorf("empty metric name")
	}
	if strings.Contains(metricKey, "{") && (tagKey == "" || tagValue == "") {
		return Threshold{}, fmt.Errorf("invalid tag filter in %q (expected metric{tag:value})", metricKey)
	}
	kind, ok := metrics.KindOf(name)
	if !ok {
		return Threshold{}, fmt.Errorf("unknown metric %q", name)
	}

	raw := strings.TrimSpace(expr)
	m := exprPattern.FindStringSubmatch(raw)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold expression %q (expected e.g. 'p(95)<500' or 'rate<0.1')", expr)
	}
	agg, op, num, unit := m[1], m[2], m[3], m[4]

	t := Threshold{
		Metric:     metrics.SeriesKey(name, tagKey, tagValue),
		Operator:   op,
		Expression: raw,
		kind:       kind,
	}

	if strings.HasPrefix(agg, "p") {
		q := strings.Trim(strings.TrimPrefix(agg, "p"), "() ")
		quantile, err := strconv.ParseFloat(q, 64)
		if err != nil || quantile < 0 || quantile > 100 {
			return Threshold{}, fmt.Errorf("invalid percentile %q in %q", q, raw)
		}
		t.Quantile = quantile
		t.Aggregate = "p(" + strconv.FormatFloat(quantile, 'f', -1, 64) + ")"
	} else {
		t.Aggregate = agg
	}

	if !aggregateAllowed(kind, t.Aggregate) {
		return Threshold{}, fmt.Errorf("aggregate %q is not valid for %s metric %q", t.Aggregate, kind, name)
	}

	value, err := parseValue(kind, num, unit)
	if err != nil {
		return Threshold{}, fmt.Errorf("threshold %q: %w", raw, err)
	}
	t.Value = value

	return t, nil
}

// ParseSet parses a metric-to-expressions map. Metrics are ordered by key;
// expressions keep their configured order.
func ParseSet(cfg map[string][]string) (Set, error) {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var set Set
	var errs []string
	for _, k := range keys {
		for i, expr := range cfg[k] {
			t, err := Parse(k, expr)
			if err != nil {
				errs = append(errs, fmt.Sprintf("thresholds.%s[%d]: %v", k, i, err))
				continue
			}
			set = append(set, t)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}
	return set, nil
}

func aggregateAllowed(kind metrics.Kind, agg string) bool {
	switch kind {
	case metrics.KindTrend:
		return agg == "avg" || agg == "med" || agg == "min" || agg == "max" || strings.HasPrefix(agg, "p(")
	case metrics.KindRate:
		return agg == "rate"
	case metrics.KindCounter:
		return agg == "count" || agg == "rate"
	case metrics.KindGauge:
		return agg == "value" || agg == "min" || agg == "max"
	}
	return false
}

func parseValue(kind metrics.Kind, num, unit string) (float64, error) {
	if unit == "" {
		return strconv.ParseFloat(num, 64)
	}
	if kind != metrics.KindTrend {
		return 0, fmt.Errorf("unit %q is only valid for trend metrics", unit)
	}
	d, err := time.ParseDuration(num + unit)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", num+unit)
	}
	return float64(d) / float64(time.Millisecond), nil
}

// Evaluate computes every threshold against the final snapshot.
// A series with no observations evaluates against zero values.
func Evaluate(set Set, snap *metrics.Snapshot) []Result {
	if len(set) == 0 {
		return nil
	}

	results := make([]Result, 0, len(set))
	for _, t := range set {
		actual := actualValue(t, snap)
		passed := compareValues(actual, t.Operator, t.Value)

		status := "✓"
		if !passed {
			status = "✗"
		}
		results = append(results, Result{
			Threshold: t,
			Actual:    actual,
			Passed:    passed,
			Message:   fmt.Sprintf("%s %s %s: actual %s", status, t.Metric, t.Expression, FormatValue(t, actual)),
		})
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// FormatValue renders v in the unit of t's metric.
func FormatValue(t Threshold, v float64) string {
	switch {
	case t.kind == metrics.KindTrend:
		return strconv.FormatFloat(v, 'f', 2, 64) + "ms"
	case t.Aggregate == "rate" && t.kind == metrics.KindRate:
		return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

func actualValue(t Threshold, snap *metrics.Snapshot) float64 {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

	switch t.kind {
	case metrics.KindTrend:
		st := snap.Trends[t.Metric]
		switch t.Aggregate {
		case "avg":
			return ms(st.Avg)
		case "med":
			return ms(st.Med)
		case "min":
			return ms(st.Min)
		case "max":
			return ms(st.Max)
		default:
			return ms(st.Quantile(t.Quantile))
		}
	case metrics.KindRate:
		return snap.Rates[t.Metric].Rate
	case metrics.KindCounter:
		st := snap.Counters[t.Metric]
		if t.Aggregate == "rate" {
			return st.Rate
		}
		return float64(st.Count)
	case metrics.KindGauge:
		st := snap.Gauges[t.Metric]
		switch t.Aggregate {
		case "min":
			return float64(st.Min)
		case "max":
			return float64(st.Max)
		default:
			return float64(st.Value)
		}
	}
	return 0
}

func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}
