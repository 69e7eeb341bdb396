package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/wesleyorama2/taskload/internal/loadtest/stage"
	"github.com/wesleyorama2/taskload/internal/loadtest/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the failing field paths in order.
func (e *ValidationErrors) Fields() []string {
	out := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		out = append(out, err.Field)
	}
	return out
}

// Validate validates the entire configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateBaseURL(c.BaseURL, errs)
	validateProfile(c, errs)
	validateDuration("gracefulStop", c.GracefulStop, errs)
	validateThresholds(c.Thresholds, errs)
	validateScenario(&c.Scenario, errs)
	validateHTTP(&c.HTTP, errs)
	validateTracing(&c.Tracing, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBaseURL(raw string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add("baseUrl", "baseUrl is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		errs.Add("baseUrl", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("baseUrl", fmt.Sprintf("scheme must be http or https, got %q", u.Scheme))
	}
	if u.Host == "" {
		errs.Add("baseUrl", "host is required")
	}
}

// validateProfile checks stages or the vus/duration shorthand.
func validateProfile(c *TestConfig, errs *ValidationErrors) {
	if c.StartVUs < 0 {
		errs.Add("startVUs", "startVUs cannot be negative")
	}
	if c.VUs < 0 {
		errs.Add("vus", "vus cannot be negative")
	}

	if len(c.Stages) > 0 && (c.VUs > 0 || c.Duration != "") {
		errs.Add("stages", "use either stages or vus/duration, not both")
		return
	}

	if len(c.Stages) == 0 {
		if c.VUs == 0 {
			errs.Add("stages", "at least one stage is required")
			return
		}
		if c.Duration == "" {
			errs.Add("duration", "duration is required with vus")
			return
		}
	}

	for i, s := range c.Stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if s.Duration == "" {
			errs.Add(prefix+".duration", "duration is required")
		}
	}

	if _, err := c.Plan(); err != nil {
		var ce *stage.ConfigError
		if errors.As(err, &ce) {
			errs.Add(ce.Field, ce.Message)
		} else {
			errs.Add("stages", err.Error())
		}
	}
}

func validateDuration(field, raw string, errs *ValidationErrors) {
	d, err := ParseDurationString(raw)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
		return
	}
	if d < 0 {
		errs.Add(field, "cannot be negative")
	}
}

func validateThresholds(t map[string][]string, errs *ValidationErrors) {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for i, expr := range t[k] {
			if _, err := threshold.Parse(k, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", k, i), err.Error())
			}
		}
	}
}

func validateScenario(sc *ScenarioConfig, errs *ValidationErrors) {
	if !strings.HasPrefix(sc.ListPath, "/") {
		errs.Add("scenario.listPath", "must start with /")
	}
	if !strings.HasPrefix(sc.CreatePath, "/") {
		errs.Add("scenario.createPath", "must start with /")
	}
	validateDuration("scenario.sleep", sc.Sleep, errs)

	limit, err := ParseDurationString(sc.MaxResponseTime)
	switch {
	case err != nil:
		errs.Add("scenario.maxResponseTime", fmt.Sprintf("invalid duration: %v", err))
	case limit <= 0:
		errs.Add("scenario.maxResponseTime", "must be greater than 0")
	}
}

func validateHTTP(h *HTTPConfig, errs *ValidationErrors) {
	validateDuration("http.timeout", h.Timeout, errs)
	if h.MaxIdleConnsPerHost < 0 {
		errs.Add("http.maxIdleConnsPerHost", "cannot be negative")
	}
	if h.MaxConnsPerHost < 0 {
		errs.Add("http.maxConnsPerHost", "cannot be negative")
	}
	if h.MaxRPS < 0 {
		errs.Add("http.maxRps", "cannot be negative")
	}
}

func validateTracing(t *TracingConfig, errs *ValidationErrors) {
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		errs.Add("tracing.protocol", fmt.Sprintf("must be grpc or http, got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		errs.Add("tracing.sampleRate", "must be between 0.0 and 1.0")
	}
}
