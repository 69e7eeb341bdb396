package config

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/taskload/internal/loadtest/httpclient"
	"github.com/wesleyorama2/taskload/internal/loadtest/stage"
	"github.com/wesleyorama2/taskload/internal/loadtest/task"
	"github.com/wesleyorama2/taskload/internal/loadtest/threshold"
	"github.com/wesleyorama2/taskload/internal/loadtest/tracing"
)

// Plan builds the stage plan. The vus/duration shorthand becomes a single
// stage that starts and stays at vus.
func (c *TestConfig) Plan() (*stage.Plan, error) {
	if len(c.Stages) == 0 && c.VUs > 0 {
		d, err := ParseDurationString(c.Duration)
		if err != nil {
			return nil, &stage.ConfigError{Field: "duration", Message: err.Error()}
		}
		return stage.NewPlan([]stage.Stage{{Duration: d, Target: c.VUs}}, c.VUs)
	}

	stages := make([]stage.Stage, 0, len(c.Stages))
	for i, s := range c.Stages {
		d, err := ParseDurationString(s.Duration)
		if err != nil {
			return nil, &stage.ConfigError{Field: fmt.Sprintf("stages[%d].duration", i), Message: err.Error()}
		}
		stages = append(stages, stage.Stage{Duration: d, Target: s.Target, Name: s.Name})
	}
	return stage.NewPlan(stages, c.StartVUs)
}

// ThresholdSet parses the thresholds.
func (c *TestConfig) ThresholdSet() (threshold.Set, error) {
	return threshold.ParseSet(c.Thresholds)
}

// GracefulStopDuration returns the parsed gracefulStop.
func (c *TestConfig) GracefulStopDuration() (time.Duration, error) {
	return ParseDurationString(c.GracefulStop)
}

// SleepDuration returns the parsed post-iteration sleep.
func (c *TestConfig) SleepDuration() (time.Duration, error) {
	return ParseDurationString(c.Scenario.Sleep)
}

// TaskConfig converts the scenario section.
func (c *TestConfig) TaskConfig() (task.Config, error) {
	limit, err := ParseDurationString(c.Scenario.MaxResponseTime)
	if err != nil {
		return task.Config{}, fmt.Errorf("scenario.maxResponseTime: %w", err)
	}
	return task.Config{
		BaseURL:         c.BaseURL,
		ListPath:        c.Scenario.ListPath,
		CreatePath:      c.Scenario.CreatePath,
		TitlePrefix:     c.Scenario.TitlePrefix,
		Description:     c.Scenario.Description,
		MaxResponseTime: limit,
		ValidateList:    c.Scenario.ValidateList,
		ValidateSchema:  c.Scenario.ValidateSchema,
		Headers:         c.Scenario.Headers,
	}, nil
}

// HTTPClientConfig converts the http section.
func (c *TestConfig) HTTPClientConfig() (httpclient.Config, error) {
	out := httpclient.DefaultConfig()

	timeout, err := ParseDurationString(c.HTTP.Timeout)
	if err != nil {
		return out, fmt.Errorf("http.timeout: %w", err)
	}
	if timeout > 0 {
		out.Timeout = timeout
	}
	if c.HTTP.MaxIdleConnsPerHost > 0 {
		out.MaxIdleConnsPerHost = c.HTTP.MaxIdleConnsPerHost
	}
	if c.HTTP.UserAgent != "" {
		out.UserAgent = c.HTTP.UserAgent
	}
	out.MaxConnsPerHost = c.HTTP.MaxConnsPerHost
	out.InsecureSkipVerify = c.HTTP.InsecureSkipVerify
	out.DisableKeepAlives = c.HTTP.NoConnectionReuse
	out.MaxRPS = c.HTTP.MaxRPS
	return out, nil
}

// TracingOptions converts the tracing section.
func (c *TestConfig) TracingOptions() tracing.Options {
	return tracing.Options{
		Endpoint:    c.Tracing.Endpoint,
		Protocol:    c.Tracing.Protocol,
		Insecure:    c.Tracing.Insecure,
		SampleRate:  c.Tracing.SampleRate,
		ServiceName: c.Tracing.ServiceName,
		Propagate:   c.Tracing.Propagate,
	}
}
