package config

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: TASKLOAD_BASEURL,
// TASKLOAD_HTTP_TIMEOUT, TASKLOAD_SCENARIO_SLEEP and so on.
const EnvPrefix = "TASKLOAD"

// StageFlag is the repeatable "duration:target" stage flag.
const StageFlag = "stage"

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"name":                "name",
	"base-url":            "baseUrl",
	"vus":                 "vus",
	"duration":            "duration",
	"start-vus":           "startVUs",
	"graceful-stop":       "gracefulStop",
	"sleep":               "scenario.sleep",
	"validate-schema":     "scenario.validateSchema",
	"timeout":             "http.timeout",
	"max-rps":             "http.maxRps",
	"insecure":            "http.insecureSkipVerify",
	"no-connection-reuse": "http.noConnectionReuse",
	"html":                "output.html",
	"json":                "output.json",
	"otlp-endpoint":       "tracing.endpoint",
	"otlp-protocol":       "tracing.protocol",
	"history-path":        "history.path",
	"no-history":          "history.disabled",
}

// Load builds a TestConfig from, in increasing precedence: defaults, the
// config file at path (YAML or JSON, optional), TASKLOAD_* environment
// variables and changed flags.
func Load(path string, flags *pflag.FlagSet) (*TestConfig, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag --%s: %w", name, err)
			}
		}
	}

	var cfg TestConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if flags != nil {
		if f := flags.Lookup(StageFlag); f != nil && f.Changed {
			raw, err := flags.GetStringSlice(StageFlag)
			if err != nil {
				return nil, err
			}
			stages, err := ParseStageFlags(raw)
			if err != nil {
				return nil, err
			}
			cfg.Stages = stages
		}
	}
	if cfg.VUs > 0 && flags != nil {
		// --vus/--duration on the command line replace file stages.
		if f := flags.Lookup("vus"); f != nil && f.Changed {
			if s := flags.Lookup(StageFlag); s == nil || !s.Changed {
				cfg.Stages = nil
			}
		}
	}

	if !v.IsSet("thresholds") {
		cfg.Thresholds = nil
	} else if cfg.Thresholds == nil {
		cfg.Thresholds = map[string][]string{}
	}
	applyProfileDefaults(&cfg)
	cfg.Scenario.Headers = canonicalHeaders(cfg.Scenario.Headers)

	return &cfg, nil
}

// setDefaults registers every scalar default so that environment variables
// can override keys the config file does not mention.
func setDefaults(v *viper.Viper, d *TestConfig) {
	v.SetDefault("name", d.Name)
	v.SetDefault("description", "")
	v.SetDefault("baseUrl", d.BaseURL)
	v.SetDefault("startVUs", 0)
	v.SetDefault("vus", 0)
	v.SetDefault("duration", "")
	v.SetDefault("gracefulStop", d.GracefulStop)

	v.SetDefault("scenario.listPath", d.Scenario.ListPath)
	v.SetDefault("scenario.createPath", d.Scenario.CreatePath)
	v.SetDefault("scenario.titlePrefix", d.Scenario.TitlePrefix)
	v.SetDefault("scenario.description", d.Scenario.Description)
	v.SetDefault("scenario.sleep", d.Scenario.Sleep)
	v.SetDefault("scenario.maxResponseTime", d.Scenario.MaxResponseTime)
	v.SetDefault("scenario.validateList", false)
	v.SetDefault("scenario.validateSchema", false)

	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.maxIdleConnsPerHost", d.HTTP.MaxIdleConnsPerHost)
	v.SetDefault("http.maxConnsPerHost", 0)
	v.SetDefault("http.insecureSkipVerify", false)
	v.SetDefault("http.userAgent", d.HTTP.UserAgent)
	v.SetDefault("http.maxRps", 0.0)
	v.SetDefault("http.noConnectionReuse", false)

	v.SetDefault("output.html", d.Output.HTML)
	v.SetDefault("output.json", d.Output.JSON)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.protocol", d.Tracing.Protocol)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.sampleRate", d.Tracing.SampleRate)
	v.SetDefault("tracing.serviceName", d.Tracing.ServiceName)
	v.SetDefault("tracing.propagate", false)

	v.SetDefault("history.path", "")
	v.SetDefault("history.disabled", false)
}

// ParseStageFlags parses "duration:target" pairs such as "30s:10".
func ParseStageFlags(raw []string) ([]StageConfig, error) {
	stages := make([]StageConfig, 0, len(raw))
	for i, s := range raw {
		idx := strings.LastIndex(s, ":")
		if idx <= 0 || idx == len(s)-1 {
			return nil, fmt.Errorf("--%s[%d]: expected duration:target, got %q", StageFlag, i, s)
		}
		target, err := strconv.Atoi(strings.TrimSpace(s[idx+1:]))
		if err != nil {
			return nil, fmt.Errorf("--%s[%d]: invalid target %q", StageFlag, i, s[idx+1:])
		}
		stages = append(stages, StageConfig{Duration: strings.TrimSpace(s[:idx]), Target: target})
	}
	return stages, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

func canonicalHeaders(in map[string]string) map[string]string {
	if len(in) == 0 {
		return in
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[http.CanonicalHeaderKey(k)] = v
	}
	return out
}
