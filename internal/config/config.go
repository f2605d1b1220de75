// Package config loads provider and agent settings from YAML or JSON files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tingly-dev/tingly-loop/internal/obs"
	"github.com/tingly-dev/tingly-loop/internal/protocol"
	"github.com/tingly-dev/tingly-loop/internal/protocol/dialect"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root of a configuration file
type Config struct {
	// Default names the provider used when none is requested
	Default string `yaml:"default" json:"default"`

	Providers []Provider    `yaml:"providers" json:"providers"`
	Agent     AgentConfig   `yaml:"agent" json:"agent"`
	Log       obs.LogConfig `yaml:"log" json:"log"`

	// ConfigFile is the path the config was loaded from
	ConfigFile string `yaml:"-" json:"-"`
}

// Provider is one model backend
type Provider struct {
	Name string `yaml:"name" json:"name"`

	// Preset fills unset fields from a built-in provider preset
	Preset string `yaml:"preset,omitempty" json:"preset,omitempty"`

	Dialect  protocol.Dialect  `yaml:"dialect" json:"dialect"`
	BaseURL  string            `yaml:"base_url" json:"base_url"`
	Endpoint string            `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Model    string            `yaml:"model" json:"model"`
	Auth     AuthConfig        `yaml:"auth" json:"auth"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	ProxyURL string            `yaml:"proxy_url,omitempty" json:"proxy_url,omitempty"`

	// TimeoutSeconds bounds a whole call including the streamed body; 0 means none
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`

	// MaxRetries retries 429, 5xx and connection failures before a response
	// body is read
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	Stream      *bool    `yaml:"stream,omitempty" json:"stream,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
}

// AuthConfig describes provider credentials. Token may reference the
// environment as ${VAR}; TokenEnv names a variable holding the token.
type AuthConfig struct {
	Mode     dialect.AuthMode `yaml:"mode" json:"mode"`
	Token    string           `yaml:"token,omitempty" json:"token,omitempty"`
	TokenEnv string           `yaml:"token_env,omitempty" json:"token_env,omitempty"`
	Header   string           `yaml:"header,omitempty" json:"header,omitempty"`
}

// AgentConfig holds run defaults for the CLI
type AgentConfig struct {
	Instructions    string `yaml:"instructions" json:"instructions"`
	MaxSteps        int    `yaml:"max_steps" json:"max_steps"`
	StopAfterSteps  int    `yaml:"stop_after_steps" json:"stop_after_steps"`
	ToolCallingMode string `yaml:"tool_calling_mode" json:"tool_calling_mode"`
	ToolConcurrency int    `yaml:"tool_concurrency" json:"tool_concurrency"`
}

// Load reads, defaults and validates the config at path. The format follows
// the extension; unknown extensions try JSON then YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.ConfigFile = path
	return cfg, nil
}

// Parse decodes data in the format implied by ext, then defaults and
// validates it
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			cfg = Config{}
			if yerr := yaml.Unmarshal(data, &cfg); yerr != nil {
				return nil, fmt.Errorf("unsupported config format %q: %w", ext, yerr)
			}
		}
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Preset != "" {
			if err := p.applyPreset(); err != nil {
				return err
			}
		}
		if p.Auth.Mode == "" {
			if p.Auth.Token != "" || p.Auth.TokenEnv != "" {
				p.Auth.Mode = dialect.AuthBearer
			} else {
				p.Auth.Mode = dialect.AuthNone
			}
		}
		if p.Stream == nil {
			on := true
			p.Stream = &on
		}
	}
	if c.Default == "" && len(c.Providers) > 0 {
		c.Default = c.Providers[0].Name
	}
	if c.Agent.ToolCallingMode == "" {
		c.Agent.ToolCallingMode = "native"
	}
	return nil
}

// Validate checks the config and fails fast on the first problem
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("%w: no providers configured", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("%w: provider without a name", ErrInvalidConfig)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate provider %q", ErrInvalidConfig, p.Name)
		}
		seen[p.Name] = true

		if _, err := dialect.Resolve(p.Dialect); err != nil {
			return fmt.Errorf("%w: provider %q: %v", ErrInvalidConfig, p.Name, err)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("%w: provider %q: base_url is required", ErrInvalidConfig, p.Name)
		}
		switch p.Auth.Mode {
		case dialect.AuthNone, dialect.AuthBearer, dialect.AuthHeader:
		default:
			return fmt.Errorf("%w: provider %q: unknown auth mode %q", ErrInvalidConfig, p.Name, p.Auth.Mode)
		}
		if p.TimeoutSeconds < 0 {
			return fmt.Errorf("%w: provider %q: negative timeout", ErrInvalidConfig, p.Name)
		}
		if p.MaxRetries < 0 {
			return fmt.Errorf("%w: provider %q: negative max_retries", ErrInvalidConfig, p.Name)
		}
	}
	if c.Default != "" && !seen[c.Default] {
		return fmt.Errorf("%w: default provider %q is not defined", ErrInvalidConfig, c.Default)
	}
	switch c.Agent.ToolCallingMode {
	case "native", "text", "off":
	default:
		return fmt.Errorf("%w: unknown tool_calling_mode %q", ErrInvalidConfig, c.Agent.ToolCallingMode)
	}
	if c.Agent.MaxSteps < 0 || c.Agent.StopAfterSteps < 0 || c.Agent.ToolConcurrency < 0 {
		return fmt.Errorf("%w: agent limits must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Provider returns the named provider, or the default one for an empty name
func (c *Config) Provider(name string) (*Provider, error) {
	if name == "" {
		name = c.Default
	}
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], nil
		}
	}
	return nil, fmt.Errorf("provider %q not found", name)
}

// ResolveToken returns the credential with environment references expanded
func (p Provider) ResolveToken() string {
	if p.Auth.Token != "" {
		return os.ExpandEnv(p.Auth.Token)
	}
	if p.Auth.TokenEnv != "" {
		return os.Getenv(p.Auth.TokenEnv)
	}
	return ""
}

// DialectAuth converts the auth settings for the adapter
func (p Provider) DialectAuth() dialect.Auth {
	return dialect.Auth{Mode: p.Auth.Mode, Token: p.ResolveToken(), Header: p.Auth.Header}
}

// Timeout returns the call timeout, zero meaning none
func (p Provider) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Streaming reports whether calls should stream
func (p Provider) Streaming() bool {
	return p.Stream == nil || *p.Stream
}
