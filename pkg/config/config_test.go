package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestValidateNil(t *testing.T) {
	assert.Error(t, Validate(nil))
}

func TestValidateRejectsBadProvider(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "carrier-pigeon"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Provider")
}

func TestValidateRejectsNegativeTTL(t *testing.T) {
	cfg := Default()
	cfg.Cache.DefaultTTL = -time.Minute

	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsOversizedHashLen(t *testing.T) {
	cfg := Default()
	cfg.Performance.ContextHashLen = 65

	assert.Error(t, Validate(cfg))
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
cache:
  max_entries: 250
  default_ttl: 30m
debounce:
  delay: 200ms
llm:
  provider: anthropic
  model: claude-sonnet-4-5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Cache.MaxEntries)
	assert.Equal(t, 30*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 200*time.Millisecond, cfg.Debounce.Delay)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.LLM.Model)

	// Unmentioned fields keep their defaults.
	assert.Equal(t, int64(50*1024*1024), cfg.Cache.MaxBytes)
	assert.Equal(t, 50, cfg.Conversations.MaxTurnsPerConversation)
	assert.Equal(t, 2, cfg.Retry.Count)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "cache: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadInvalidConfigFails(t *testing.T) {
	path := writeConfigFile(t, `
llm:
  provider: telepathy
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	t.Setenv("COPILOT_CACHE_TTL", "2h")
	t.Setenv("COPILOT_CACHE_MAX_BYTES", "100MB")
	t.Setenv("COPILOT_CACHE_MAX_ENTRIES", "42")
	t.Setenv("COPILOT_DEBOUNCE_DELAY", "50ms")
	t.Setenv("COPILOT_API_KEY", "sk-test")
	t.Setenv("COPILOT_MODEL", "gpt-4o")

	path := writeConfigFile(t, `
cache:
  max_entries: 7
  default_ttl: 5m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, int64(100*1024*1024), cfg.Cache.MaxBytes)
	assert.Equal(t, 42, cfg.Cache.MaxEntries)
	assert.Equal(t, 50*time.Millisecond, cfg.Debounce.Delay)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("COPILOT_CACHE_TTL", "not-a-duration")
	t.Setenv("COPILOT_CACHE_MAX_ENTRIES", "-5")

	path := writeConfigFile(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, 100, cfg.Cache.MaxEntries)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"100", 100},
		{"100B", 100},
		{"1KB", 1024},
		{"50MB", 50 * 1024 * 1024},
		{"2GB", 2 * 1024 * 1024 * 1024},
		{"  10 MB ", 10 * 1024 * 1024},
		{"1gb", 1024 * 1024 * 1024},
		{"garbage", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSize(tt.in))
		})
	}
}
