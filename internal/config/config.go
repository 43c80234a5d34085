// Package config loads the agent-level YAML configuration for the serve
// command (spec.md §2): store path, catalog path, IPC endpoint name, drift
// interval, auto-remediation flag, and telemetry settings. Grounded on the
// same gopkg.in/yaml.v3 idiom internal/catalog.Loader uses for policy
// files, applied here to agent settings instead.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level serve-time configuration. Zero value fields are
// filled in by Default() before a file is unmarshaled on top of it, so a
// partial YAML file only overrides what it names.
type Config struct {
	CatalogDir    string        `yaml:"catalog_dir"`
	StorePath     string        `yaml:"store_path"`
	EndpointName  string        `yaml:"endpoint_name"`
	DriftInterval time.Duration `yaml:"drift_interval"`
	AutoRemediate bool          `yaml:"auto_remediate"`
	Telemetry     Telemetry     `yaml:"telemetry"`
}

// Telemetry is the subset of internal/telemetry.Config exposed at the
// agent-config level. buildTelemetryConfig in
// cmd/froyo-guard/commands/serve.go copies every field onto
// telemetry.DefaultConfig() as is, so a field set empty in the YAML file
// replaces the telemetry package default rather than keeping it.
type Telemetry struct {
	ServiceName    string        `yaml:"service_name"`
	Environment    string        `yaml:"environment"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	MetricsEnabled bool          `yaml:"metrics_enabled"`
	MetricsListen  string        `yaml:"metrics_listen"`
	TracingEnabled bool          `yaml:"tracing_enabled"`
	TraceExporter  string        `yaml:"trace_exporter"`
	TraceEndpoint  string        `yaml:"trace_endpoint"`
	SamplingRate   float64       `yaml:"sampling_rate"`
	ExportTimeout  time.Duration `yaml:"export_timeout"`
}

// Default returns the baseline configuration used when no --config flag is
// given and as the base a loaded file is unmarshaled onto.
func Default() *Config {
	return &Config{
		CatalogDir:    "./catalog",
		StorePath:     "./froyo-guard.db",
		EndpointName:  "", // empty: serve falls back to ipc.EndpointName
		DriftInterval: 15 * time.Minute,
		AutoRemediate: false,
		Telemetry: Telemetry{
			ServiceName:    "froyo-guard",
			Environment:    "development",
			LogLevel:       "info",
			LogFormat:      "console",
			MetricsEnabled: true,
			MetricsListen:  ":9090",
			TracingEnabled: true,
			TraceExporter:  "stdout",
			SamplingRate:   1.0,
			ExportTimeout:  30 * time.Second,
		},
	}
}

// Load reads and unmarshals the YAML file at path onto Default(). An empty
// path is not an error: it returns Default() unchanged, letting the serve
// command run with flag defaults/overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
