package otel

import "time"

// Config holds the configuration for the OTel meter setup.
type Config struct {
	// Enabled enables or disables metrics
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ExportInterval is the time between exports. Default: 10s
	ExportInterval time.Duration `yaml:"export_interval" json:"export_interval"`

	// ExportTimeout is the timeout for each export. Default: 30s
	ExportTimeout time.Duration `yaml:"export_timeout" json:"export_timeout"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		ExportInterval: 10 * time.Second,
		ExportTimeout:  30 * time.Second,
	}
}
