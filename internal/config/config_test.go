package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingly-dev/tingly-loop/internal/obs"
	"github.com/tingly-dev/tingly-loop/internal/protocol"
	"github.com/tingly-dev/tingly-loop/internal/protocol/dialect"
)

const sampleYAML = `
default: local
providers:
  - name: local
    dialect: mlx_native
    base_url: http://127.0.0.1:8080/v1
    model: qwen
    stream: false
  - name: claude
    preset: anthropic
    auth:
      mode: header
      token: ${TEST_LOOP_TOKEN}
agent:
  instructions: be brief
  max_steps: 20
  tool_calling_mode: text
log:
  level: debug
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("TEST_LOOP_TOKEN", "secret")
	cfg, err := Load(writeFile(t, "loop.yaml", sampleYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "be brief", cfg.Agent.Instructions)
	assert.Equal(t, "text", cfg.Agent.ToolCallingMode)
	assert.Equal(t, "debug", cfg.Log.Level)

	local, err := cfg.Provider("")
	require.NoError(t, err)
	assert.Equal(t, "local", local.Name)
	assert.Equal(t, protocol.DialectMLXNative, local.Dialect)
	assert.Equal(t, dialect.AuthNone, local.Auth.Mode)
	assert.False(t, local.Streaming())

	claude, err := cfg.Provider("claude")
	require.NoError(t, err)
	assert.Equal(t, protocol.DialectAnthropicMessages, claude.Dialect)
	assert.Equal(t, "https://api.anthropic.com/v1", claude.BaseURL)
	assert.True(t, claude.Streaming())
	assert.Equal(t, dialect.Auth{Mode: dialect.AuthHeader, Token: "secret"}, claude.DialectAuth())

	_, err = cfg.Provider("missing")
	assert.Error(t, err)
}

func TestLoad_JSON(t *testing.T) {
	t.Setenv("TEST_LOOP_KEY", "from-env")
	path := writeFile(t, "loop.json", `{"providers":[{"name":"oa","dialect":"openai_compatible","base_url":"https://example.test/v1","auth":{"token_env":"TEST_LOOP_KEY"},"timeout_seconds":30}]}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	p, err := cfg.Provider("")
	require.NoError(t, err)
	assert.Equal(t, "oa", cfg.Default)
	assert.Equal(t, dialect.AuthBearer, p.Auth.Mode)
	assert.Equal(t, "from-env", p.ResolveToken())
	assert.Equal(t, 30*time.Second, p.Timeout())
	assert.Equal(t, "native", cfg.Agent.ToolCallingMode)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no providers", `providers: []`},
		{"unknown dialect", "providers:\n  - {name: a, dialect: grpc, base_url: http://x}"},
		{"missing base url", "providers:\n  - {name: a, dialect: openai_compatible}"},
		{"duplicate name", "providers:\n  - {name: a, dialect: openai_compatible, base_url: http://x}\n  - {name: a, dialect: mlx_native, base_url: http://y}"},
		{"bad auth mode", "providers:\n  - {name: a, dialect: openai_compatible, base_url: http://x, auth: {mode: oauth}}"},
		{"unknown default", "default: b\nproviders:\n  - {name: a, dialect: openai_compatible, base_url: http://x}"},
		{"bad mode", "providers:\n  - {name: a, dialect: openai_compatible, base_url: http://x}\nagent: {tool_calling_mode: psychic}"},
		{"unknown preset", "providers:\n  - {name: a, preset: nowhere}"},
		{"negative retries", "providers:\n  - {name: a, dialect: openai_compatible, base_url: http://x, max_retries: -1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body), ".yaml")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), err.Error())
		})
	}

	_, err := Parse([]byte("{not yaml: ["), ".yaml")
	assert.Error(t, err)
}

func TestPresets(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "mlx", "ollama", "openai"}, Presets())

	p, err := PresetProvider("ollama")
	require.NoError(t, err)
	assert.Equal(t, protocol.DialectOpenAICompatible, p.Dialect)
	assert.Equal(t, "http://127.0.0.1:11434/v1", p.BaseURL)

	_, err = PresetProvider("nope")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWatcher_Reloads(t *testing.T) {
	path := writeFile(t, "loop.yaml", "providers:\n  - {name: a, dialect: openai_compatible, base_url: http://x, model: one}\n")

	w, err := NewWatcher(path, obs.Discard())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	assert.Equal(t, "one", w.Current().Providers[0].Model)

	changes := make(chan *Config, 4)
	w.OnChange(func(c *Config) { changes <- c })

	// an invalid edit is ignored
	require.NoError(t, os.WriteFile(path, []byte("providers: []\n"), 0o600))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	time.Sleep(3 * debounceDelay)
	assert.Equal(t, "one", w.Current().Providers[0].Model)

	require.NoError(t, os.WriteFile(path, []byte("providers:\n  - {name: a, dialect: openai_compatible, base_url: http://x, model: two}\n"), 0o600))
	later := future.Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	select {
	case c := <-changes:
		assert.Equal(t, "two", c.Providers[0].Model)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not delivered")
	}
	assert.Equal(t, "two", w.Current().Providers[0].Model)
}

func TestFromPreset(t *testing.T) {
	cfg, err := FromPreset("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Default)
	assert.Equal(t, "native", cfg.Agent.ToolCallingMode)

	p, err := cfg.Provider("")
	require.NoError(t, err)
	assert.Equal(t, protocol.DialectAnthropicMessages, p.Dialect)
	assert.Equal(t, "ANTHROPIC_API_KEY", p.Auth.TokenEnv)
	assert.True(t, p.Streaming())

	_, err = FromPreset("nope")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
