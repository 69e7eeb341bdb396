package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate_Defaults(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Validate() returned error for default config: %v", err)
	}
}

func TestValidate_Shorthand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stages = nil
	cfg.VUs = 10
	cfg.Duration = "30s"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error for vus/duration: %v", err)
	}

	plan, err := cfg.Plan()
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	if plan.Len() != 1 || plan.StartVUs() != 10 || plan.MaxTarget() != 10 {
		t.Errorf("shorthand plan = %d stages, start %d, max %d; want 1, 10, 10",
			plan.Len(), plan.StartVUs(), plan.MaxTarget())
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TestConfig)
		field  string
	}{
		{"missing base URL", func(c *TestConfig) { c.BaseURL = "" }, "baseUrl"},
		{"bad scheme", func(c *TestConfig) { c.BaseURL = "ftp://host" }, "baseUrl"},
		{"no host", func(c *TestConfig) { c.BaseURL = "http://" }, "baseUrl"},
		{"no stages", func(c *TestConfig) { c.Stages = nil }, "stages"},
		{"stages and vus", func(c *TestConfig) { c.VUs = 5 }, "stages"},
		{"vus without duration", func(c *TestConfig) { c.Stages = nil; c.VUs = 5 }, "duration"},
		{"negative start", func(c *TestConfig) { c.StartVUs = -1 }, "startVUs"},
		{"bad stage duration", func(c *TestConfig) { c.Stages[0].Duration = "two minutes" }, "stages[0].duration"},
		{"negative stage duration", func(c *TestConfig) { c.Stages[1].Duration = "-5s" }, "stages[1].duration"},
		{"negative target", func(c *TestConfig) { c.Stages[2].Target = -3 }, "stages[2].target"},
		{"zero total", func(c *TestConfig) { c.Stages = []StageConfig{{Duration: "0s", Target: 5}} }, "stages"},
		{"bad threshold", func(c *TestConfig) { c.Thresholds["http_req_failed"] = []string{"p(95)<500"} }, "thresholds.http_req_failed[0]"},
		{"bad graceful stop", func(c *TestConfig) { c.GracefulStop = "soon" }, "gracefulStop"},
		{"bad sleep", func(c *TestConfig) { c.Scenario.Sleep = "-1s" }, "scenario.sleep"},
		{"zero response limit", func(c *TestConfig) { c.Scenario.MaxResponseTime = "0s" }, "scenario.maxResponseTime"},
		{"relative list path", func(c *TestConfig) { c.Scenario.ListPath = "api/tasks" }, "scenario.listPath"},
		{"negative rps", func(c *TestConfig) { c.HTTP.MaxRPS = -1 }, "http.maxRps"},
		{"bad timeout", func(c *TestConfig) { c.HTTP.Timeout = "forever" }, "http.timeout"},
		{"bad protocol", func(c *TestConfig) { c.Tracing.Protocol = "udp" }, "tracing.protocol"},
		{"bad sample rate", func(c *TestConfig) { c.Tracing.SampleRate = 1.5 }, "tracing.sampleRate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error type = %T, want *ValidationErrors", err)
			}
			found := false
			for _, f := range verrs.Fields() {
				if f == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("fields = %v, want %q", verrs.Fields(), tt.field)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	if errs.Error() != "no validation errors" {
		t.Errorf("empty Error() = %q", errs.Error())
	}

	errs.Add("baseUrl", "baseUrl is required")
	if !strings.Contains(errs.Error(), "'baseUrl'") {
		t.Errorf("single Error() = %q", errs.Error())
	}

	errs.Add("stages", "at least one stage is required")
	if !strings.HasPrefix(errs.Error(), "2 validation errors") {
		t.Errorf("multi Error() = %q", errs.Error())
	}
}
