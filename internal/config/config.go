package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the full run configuration assembled from positional
// arguments, flags, and an optional config file.
type Config struct {
	Domain        string        `mapstructure:"domain"`
	APIKey        string        `mapstructure:"api_key"`
	AddressesFile string        `mapstructure:"addresses_file"`
	Shuffle       bool          `mapstructure:"shuffle"`
	Limit         int           `mapstructure:"limit"`
	Stagger       float64       `mapstructure:"stagger"`
	Deviation     float64       `mapstructure:"deviation"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Seed          int64         `mapstructure:"seed"`
	Rate          int           `mapstructure:"rate"`
	MaxInFlight   int           `mapstructure:"max_in_flight"`
	ReportFile    string        `mapstructure:"report"`
	Thresholds    []string      `mapstructure:"thresholds"`
	LogLevel      string        `mapstructure:"log_level"`
	JSONOutput    bool          `mapstructure:"json_output"`
	Yes           bool          `mapstructure:"yes"`
	ConfigFile    string        `mapstructure:"-"`
	Tracing       TracingConfig `mapstructure:"tracing"`
}

// TracingConfig controls optional OpenTelemetry span export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   bool    `mapstructure:"propagate"`
}

// ValidationError aggregates every configuration issue found during Validate.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.issues, "; "))
}

// Issues returns the individual validation failures.
func (e ValidationError) Issues() []string {
	return e.issues
}

// Validate checks the configuration for consistency before a run starts.
func (c *Config) Validate() error {
	var issues []string

	domain := strings.TrimSpace(c.Domain)
	if domain == "" {
		issues = append(issues, "domain is required")
	} else if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		issues = append(issues, fmt.Sprintf("domain %q must start with http:// or https://", domain))
	}

	if strings.TrimSpace(c.APIKey) == "" {
		issues = append(issues, "api_key is required")
	}
	if strings.TrimSpace(c.AddressesFile) == "" {
		issues = append(issues, "addresses file is required")
	}
	if c.Limit < 0 {
		issues = append(issues, "limit must be >= 0")
	}
	if c.Stagger < 0 {
		issues = append(issues, "stagger must be >= 0")
	}
	if c.Deviation < 0 {
		issues = append(issues, "deviation must be >= 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.MaxInFlight < 0 {
		issues = append(issues, "max-inflight must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log level %q is not supported", c.LogLevel))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1.0 {
		issues = append(issues, "tracing sample_rate must be between 0.0 and 1.0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Tracing.Protocol)) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q is not supported", c.Tracing.Protocol))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
