// Package config loads, defaults and validates taskload run configuration.
//
// Example YAML:
//
//	name: task-api-load-test
//	baseUrl: http://127.0.0.1:8080
//	stages:
//	  - duration: 2m
//	    target: 100
//	  - duration: 5m
//	    target: 100
//	  - duration: 2m
//	    target: 0
//	thresholds:
//	  http_req_duration: ["p(95)<500"]
//	  http_req_failed: ["rate<0.1"]
//
// Durations accept Go duration strings ("2m", "500ms") or bare seconds ("30").
package config

// TestConfig is the root configuration of a run.
type TestConfig struct {
	// Name of the run (for reporting and history)
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`

	// BaseURL is the task API root, e.g. http://127.0.0.1:8080
	BaseURL string `json:"baseUrl" yaml:"baseUrl" mapstructure:"baseUrl"`

	// StartVUs is the VU count the first stage ramps from.
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty" mapstructure:"startVUs"`

	// VUs and Duration are a shorthand for a single plateau stage. They
	// cannot be combined with Stages.
	VUs      int    `json:"vus,omitempty" yaml:"vus,omitempty" mapstructure:"vus"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty" mapstructure:"duration"`

	// Stages ramp the VU count linearly from one target to the next.
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty" mapstructure:"stages"`

	// GracefulStop is how long VUs may take to finish their last iteration.
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty" mapstructure:"gracefulStop"`

	// Thresholds map a metric series to k6-style expressions.
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty" mapstructure:"thresholds"`

	Scenario ScenarioConfig `json:"scenario" yaml:"scenario" mapstructure:"scenario"`
	HTTP     HTTPConfig     `json:"http" yaml:"http" mapstructure:"http"`
	Output   OutputConfig   `json:"output" yaml:"output" mapstructure:"output"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
	History  HistoryConfig  `json:"history" yaml:"history" mapstructure:"history"`
}

// StageConfig defines a single stage.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration" mapstructure:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target" mapstructure:"target"`

	// Name is an optional label used in logs
	Name string `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
}

// ScenarioConfig shapes the iteration every VU repeats.
type ScenarioConfig struct {
	ListPath    string `json:"listPath" yaml:"listPath" mapstructure:"listPath"`
	CreatePath  string `json:"createPath" yaml:"createPath" mapstructure:"createPath"`
	TitlePrefix string `json:"titlePrefix" yaml:"titlePrefix" mapstructure:"titlePrefix"`
	Description string `json:"description" yaml:"description" mapstructure:"description"`

	// Sleep is the pause after each iteration.
	Sleep string `json:"sleep" yaml:"sleep" mapstructure:"sleep"`

	// MaxResponseTime is the limit of the list response-time check.
	MaxResponseTime string `json:"maxResponseTime" yaml:"maxResponseTime" mapstructure:"maxResponseTime"`

	ValidateList   bool `json:"validateList,omitempty" yaml:"validateList" mapstructure:"validateList"`
	ValidateSchema bool `json:"validateSchema,omitempty" yaml:"validateSchema" mapstructure:"validateSchema"`

	// Headers are sent with every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" mapstructure:"headers"`
}

// HTTPConfig contains transport settings.
type HTTPConfig struct {
	Timeout             string  `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	MaxIdleConnsPerHost int     `json:"maxIdleConnsPerHost" yaml:"maxIdleConnsPerHost" mapstructure:"maxIdleConnsPerHost"`
	MaxConnsPerHost     int     `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty" mapstructure:"maxConnsPerHost"`
	InsecureSkipVerify  bool    `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify" mapstructure:"insecureSkipVerify"`
	UserAgent           string  `json:"userAgent" yaml:"userAgent" mapstructure:"userAgent"`
	MaxRPS              float64 `json:"maxRps,omitempty" yaml:"maxRps" mapstructure:"maxRps"`

	// NoConnectionReuse disables keep-alive
	NoConnectionReuse bool `json:"noConnectionReuse,omitempty" yaml:"noConnectionReuse" mapstructure:"noConnectionReuse"`
}

// OutputConfig names the report files. An empty path disables that report.
type OutputConfig struct {
	HTML string `json:"html" yaml:"html" mapstructure:"html"`
	JSON string `json:"json" yaml:"json" mapstructure:"json"`
}

// TracingConfig configures OTLP export of request spans.
type TracingConfig struct {
	// Endpoint enables tracing when set (or OTEL_EXPORTER_OTLP_ENDPOINT).
	Endpoint    string  `json:"endpoint,omitempty" yaml:"endpoint" mapstructure:"endpoint"`
	Protocol    string  `json:"protocol" yaml:"protocol" mapstructure:"protocol"`
	Insecure    bool    `json:"insecure" yaml:"insecure" mapstructure:"insecure"`
	SampleRate  float64 `json:"sampleRate" yaml:"sampleRate" mapstructure:"sampleRate"`
	ServiceName string  `json:"serviceName" yaml:"serviceName" mapstructure:"serviceName"`
	Propagate   bool    `json:"propagate" yaml:"propagate" mapstructure:"propagate"`
}

// HistoryConfig controls the local run history database.
type HistoryConfig struct {
	// Path defaults to ~/.taskload/history.db
	Path     string `json:"path,omitempty" yaml:"path" mapstructure:"path"`
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled" mapstructure:"disabled"`
}
