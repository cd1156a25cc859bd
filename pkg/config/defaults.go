package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Default returns a configuration with smart defaults for every tunable.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			MaxEntries: 100,
			MaxBytes:   50 * 1024 * 1024, // 50MB
			DefaultTTL: time.Hour,
			StaleAfter: time.Hour,
		},
		Debounce: DebounceConfig{
			Delay: 500 * time.Millisecond,
		},
		Conversations: ConversationConfig{
			MaxConversations:        10,
			MaxAge:                  24 * time.Hour,
			MaxBytes:                10 * 1024 * 1024, // 10MB
			MaxTurnsPerConversation: 50,
		},
		Recovery: RecoveryConfig{
			MaxErrorsPerHour: 50,
			BreakerTimeout:   5 * time.Minute,
		},
		Retry: RetryConfig{
			Count: 2,
			Delay: time.Second,
		},
		Performance: PerformanceConfig{
			OptimizeInterval: 5 * time.Minute,
			ContextHashLen:   8,
		},
		LLM: LLMConfig{
			Provider: "openai",
			BaseURL:  "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
			Timeout:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// fillDefaults replaces zero values left after unmarshalling with defaults.
// Yaml files only need to mention the fields they change.
func (c *Config) fillDefaults() {
	def := Default()

	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = def.Cache.MaxEntries
	}
	if c.Cache.MaxBytes == 0 {
		c.Cache.MaxBytes = def.Cache.MaxBytes
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = def.Cache.DefaultTTL
	}
	if c.Cache.StaleAfter == 0 {
		c.Cache.StaleAfter = def.Cache.StaleAfter
	}
	if c.Debounce.Delay == 0 {
		c.Debounce.Delay = def.Debounce.Delay
	}
	if c.Conversations.MaxConversations == 0 {
		c.Conversations.MaxConversations = def.Conversations.MaxConversations
	}
	if c.Conversations.MaxAge == 0 {
		c.Conversations.MaxAge = def.Conversations.MaxAge
	}
	if c.Conversations.MaxBytes == 0 {
		c.Conversations.MaxBytes = def.Conversations.MaxBytes
	}
	if c.Conversations.MaxTurnsPerConversation == 0 {
		c.Conversations.MaxTurnsPerConversation = def.Conversations.MaxTurnsPerConversation
	}
	if c.Recovery.MaxErrorsPerHour == 0 {
		c.Recovery.MaxErrorsPerHour = def.Recovery.MaxErrorsPerHour
	}
	if c.Recovery.BreakerTimeout == 0 {
		c.Recovery.BreakerTimeout = def.Recovery.BreakerTimeout
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = def.Retry.Delay
	}
	if c.Performance.OptimizeInterval == 0 {
		c.Performance.OptimizeInterval = def.Performance.OptimizeInterval
	}
	if c.Performance.ContextHashLen == 0 {
		c.Performance.ContextHashLen = def.Performance.ContextHashLen
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = def.LLM.Provider
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = def.LLM.BaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = def.LLM.Timeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// applyEnvOverrides applies environment variable settings (highest priority).
func applyEnvOverrides(c *Config) {
	if ttlStr := os.Getenv("COPILOT_CACHE_TTL"); ttlStr != "" {
		if ttl, err := time.ParseDuration(ttlStr); err == nil {
			c.Cache.DefaultTTL = ttl
		}
	}

	if maxSizeStr := os.Getenv("COPILOT_CACHE_MAX_BYTES"); maxSizeStr != "" {
		if size := ParseSize(maxSizeStr); size > 0 {
			c.Cache.MaxBytes = size
		}
	}

	if entriesStr := os.Getenv("COPILOT_CACHE_MAX_ENTRIES"); entriesStr != "" {
		if entries, err := strconv.Atoi(entriesStr); err == nil && entries > 0 {
			c.Cache.MaxEntries = entries
		}
	}

	if delayStr := os.Getenv("COPILOT_DEBOUNCE_DELAY"); delayStr != "" {
		if delay, err := time.ParseDuration(delayStr); err == nil {
			c.Debounce.Delay = delay
		}
	}

	if apiKey := os.Getenv("COPILOT_API_KEY"); apiKey != "" {
		c.LLM.APIKey = apiKey
	}

	if baseURL := os.Getenv("COPILOT_BASE_URL"); baseURL != "" {
		c.LLM.BaseURL = baseURL
	}

	if model := os.Getenv("COPILOT_MODEL"); model != "" {
		c.LLM.Model = model
	}

	if level := os.Getenv("COPILOT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// ParseSize parses human-readable size strings like "100MB", "1GB", etc.
func ParseSize(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	if strings.HasSuffix(s, "KB") {
		multiplier = 1024
		s = s[:len(s)-2]
	} else if strings.HasSuffix(s, "MB") {
		multiplier = 1024 * 1024
		s = s[:len(s)-2]
	} else if strings.HasSuffix(s, "GB") {
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-2]
	} else if strings.HasSuffix(s, "B") {
		s = s[:len(s)-1]
	}

	if num, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		return num * multiplier
	}

	return 0
}

// Environment variable documentation:
//
// COPILOT_CACHE_TTL=1h|30m              - Cache entry TTL (default: 1h)
// COPILOT_CACHE_MAX_BYTES=50MB|1GB      - Maximum cache size (default: 50MB)
// COPILOT_CACHE_MAX_ENTRIES=100         - Maximum cache entries (default: 100)
// COPILOT_DEBOUNCE_DELAY=500ms          - Debounce delay (default: 500ms)
// COPILOT_API_KEY=sk-...                - Completion API key
// COPILOT_BASE_URL=https://...          - OpenAI-compatible endpoint base URL
// COPILOT_MODEL=gpt-4o-mini             - Model identifier
// COPILOT_LOG_LEVEL=DEBUG|INFO|...      - Logging threshold (default: INFO)
