package config

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var embeddedPresets []byte

var (
	presetsOnce sync.Once
	presets     map[string]Provider
	presetsErr  error
)

func loadPresets() (map[string]Provider, error) {
	presetsOnce.Do(func() {
		presetsErr = yaml.Unmarshal(embeddedPresets, &presets)
	})
	return presets, presetsErr
}

// Presets lists the names of the built-in provider presets
func Presets() []string {
	ps, err := loadPresets()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PresetProvider returns a provider built from the named preset
func PresetProvider(name string) (Provider, error) {
	p := Provider{Name: name, Preset: name}
	if err := p.applyPreset(); err != nil {
		return Provider{}, err
	}
	return p, nil
}

// applyPreset fills the fields p leaves empty from its preset
func (p *Provider) applyPreset() error {
	ps, err := loadPresets()
	if err != nil {
		return fmt.Errorf("load presets: %w", err)
	}
	preset, ok := ps[p.Preset]
	if !ok {
		return fmt.Errorf("%w: provider %q: unknown preset %q", ErrInvalidConfig, p.Name, p.Preset)
	}
	if p.Dialect == "" {
		p.Dialect = preset.Dialect
	}
	if p.BaseURL == "" {
		p.BaseURL = preset.BaseURL
	}
	if p.Endpoint == "" {
		p.Endpoint = preset.Endpoint
	}
	if p.Model == "" {
		p.Model = preset.Model
	}
	if p.Auth == (AuthConfig{}) {
		p.Auth = preset.Auth
	}
	return nil
}

// FromPreset builds a single-provider config from a preset, for runs that
// have no config file
func FromPreset(name string) (*Config, error) {
	cfg := Config{Providers: []Provider{{Name: name, Preset: name}}}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
