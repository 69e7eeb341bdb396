package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Default values.
const (
	DefaultName            = "task-api-load-test"
	DefaultBaseURL         = "http://127.0.0.1:8080"
	DefaultGracefulStop    = "30s"
	DefaultSleep           = "1s"
	DefaultMaxResponseTime = "500ms"
	DefaultTimeout         = "60s"
	DefaultUserAgent       = "taskload/0.1.0"
	DefaultHTMLReport      = "report.html"
	DefaultJSONSummary     = "summary.json"
)

// DefaultStages is the load profile used when neither stages nor vus are set.
func DefaultStages() []StageConfig {
	return []StageConfig{
		{Duration: "2m", Target: 100},
		{Duration: "5m", Target: 100},
		{Duration: "2m", Target: 200},
		{Duration: "5m", Target: 200},
		{Duration: "2m", Target: 0},
	}
}

// DefaultThresholds are applied when the config has no thresholds section.
func DefaultThresholds() map[string][]string {
	return map[string][]string{
		"http_req_duration": {"p(95)<500"},
		"http_req_failed":   {"rate<0.1"},
	}
}

// DefaultConfig returns a complete configuration with every default set,
// including the report paths.
func DefaultConfig() *TestConfig {
	cfg := &TestConfig{
		Output:  OutputConfig{HTML: DefaultHTMLReport, JSON: DefaultJSONSummary},
		Tracing: TracingConfig{Insecure: true},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values of cfg. Report paths are left alone: an
// empty path disables that report.
func ApplyDefaults(cfg *TestConfig) {
	applyProfileDefaults(cfg)

	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.GracefulStop == "" {
		cfg.GracefulStop = DefaultGracefulStop
	}

	sc := &cfg.Scenario
	if sc.ListPath == "" {
		sc.ListPath = "/api/tasks"
	}
	if sc.CreatePath == "" {
		sc.CreatePath = "/api/tasks"
	}
	if sc.TitlePrefix == "" {
		sc.TitlePrefix = "Task "
	}
	if sc.Description == "" {
		sc.Description = "Load test task"
	}
	if sc.Sleep == "" {
		sc.Sleep = DefaultSleep
	}
	if sc.MaxResponseTime == "" {
		sc.MaxResponseTime = DefaultMaxResponseTime
	}

	if cfg.HTTP.Timeout == "" {
		cfg.HTTP.Timeout = DefaultTimeout
	}
	if cfg.HTTP.MaxIdleConnsPerHost == 0 {
		cfg.HTTP.MaxIdleConnsPerHost = 100
	}
	if cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = DefaultUserAgent
	}

	if cfg.Tracing.Protocol == "" {
		cfg.Tracing.Protocol = "grpc"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "taskload"
	}
}

// applyProfileDefaults sets the stages and thresholds when absent.
func applyProfileDefaults(cfg *TestConfig) {
	if len(cfg.Stages) == 0 && cfg.VUs == 0 {
		cfg.Stages = DefaultStages()
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
}

// WriteYAML writes cfg as YAML.
func WriteYAML(w io.Writer, cfg *TestConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
