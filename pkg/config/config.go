package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/editorai/copilot-core/pkg/errors"
)

// Config represents the complete configuration for the assistant core.
// All tunables live in named fields; components receive the sub-struct they
// need at construction time.
type Config struct {
	// Cache configuration
	Cache CacheConfig `yaml:"cache,omitempty" validate:"omitempty"`

	// Debounce configuration
	Debounce DebounceConfig `yaml:"debounce,omitempty" validate:"omitempty"`

	// Conversation retention configuration
	Conversations ConversationConfig `yaml:"conversations,omitempty" validate:"omitempty"`

	// Error recovery configuration
	Recovery RecoveryConfig `yaml:"recovery,omitempty" validate:"omitempty"`

	// Retry configuration
	Retry RetryConfig `yaml:"retry,omitempty" validate:"omitempty"`

	// Performance coordination configuration
	Performance PerformanceConfig `yaml:"performance,omitempty" validate:"omitempty"`

	// Completion endpoint configuration
	LLM LLMConfig `yaml:"llm,omitempty" validate:"omitempty"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging,omitempty" validate:"omitempty"`
}

// CacheConfig holds response cache tunables.
type CacheConfig struct {
	// Maximum number of live entries
	MaxEntries int `yaml:"max_entries" validate:"min=1"`

	// Maximum total size in bytes
	MaxBytes int64 `yaml:"max_bytes" validate:"min=1"`

	// Default TTL for cache entries
	DefaultTTL time.Duration `yaml:"default_ttl" validate:"min=0"`

	// Entries untouched for longer than this are purged by optimize passes
	StaleAfter time.Duration `yaml:"stale_after" validate:"min=0"`
}

// DebounceConfig holds request coalescing tunables.
type DebounceConfig struct {
	// Trailing-edge delay before a coalesced request fires
	Delay time.Duration `yaml:"delay" validate:"min=0"`
}

// ConversationConfig holds conversation retention tunables.
type ConversationConfig struct {
	// Maximum live conversations before oldest-by-activity eviction
	MaxConversations int `yaml:"max_conversations" validate:"min=1"`

	// Conversations idle longer than this are evicted
	MaxAge time.Duration `yaml:"max_age" validate:"min=0"`

	// Aggregate estimated memory ceiling across all conversations
	MaxBytes int64 `yaml:"max_bytes" validate:"min=1"`

	// Turn ceiling applied to every conversation
	MaxTurnsPerConversation int `yaml:"max_turns_per_conversation" validate:"min=1"`

	// Optional sqlite path for archiving ended conversations ("" disables)
	ArchivePath string `yaml:"archive_path,omitempty"`
}

// RecoveryConfig holds error budget and circuit breaker tunables.
type RecoveryConfig struct {
	// Errors tolerated in a rolling hour before feature degradation
	MaxErrorsPerHour int `yaml:"max_errors_per_hour" validate:"min=1"`

	// Default cooldown applied when a circuit breaker trips
	BreakerTimeout time.Duration `yaml:"breaker_timeout" validate:"min=0"`
}

// RetryConfig holds retry policy tunables.
type RetryConfig struct {
	// Number of retries after the first attempt
	Count int `yaml:"count" validate:"min=0"`

	// Base delay between attempts; attempt N waits Delay*N
	Delay time.Duration `yaml:"delay" validate:"min=0"`
}

// PerformanceConfig holds coordinator tunables.
type PerformanceConfig struct {
	// Minimum interval between auto-optimization passes
	OptimizeInterval time.Duration `yaml:"optimize_interval" validate:"min=0"`

	// Hex characters of the context hash mixed into cache keys.
	// Deliberately short so near-identical contexts share a bucket.
	ContextHashLen int `yaml:"context_hash_len" validate:"min=1,max=64"`
}

// LLMConfig holds completion endpoint settings.
type LLMConfig struct {
	// Provider name (openai, anthropic)
	Provider string `yaml:"provider" validate:"omitempty,oneof=openai anthropic"`

	// Base URL for OpenAI-compatible endpoints
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`

	// Model identifier
	Model string `yaml:"model,omitempty"`

	// API key; falls back to provider-specific environment variables
	APIKey string `yaml:"api_key,omitempty"`

	// Request timeout passed to the HTTP client
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Severity threshold (DEBUG, INFO, WARN, ERROR, FATAL)
	Level string `yaml:"level,omitempty" validate:"omitempty,oneof=DEBUG INFO WARN ERROR FATAL"`

	// Optional log file path
	File string `yaml:"file,omitempty"`
}

// Load reads a YAML config file, applies defaults for unset fields,
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to read config file"),
			errors.Fields{"path": path})
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to parse config file"),
			errors.Fields{"path": path})
	}

	cfg.fillDefaults()
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
