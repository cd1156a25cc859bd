package logging

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureOutput struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (c *captureOutput) Write(e LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

func (c *captureOutput) Sync() error  { return nil }
func (c *captureOutput) Close() error { return nil }

func (c *captureOutput) all() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func newCaptureLogger(severity Severity) (*Logger, *captureOutput) {
	out := &captureOutput{}
	return NewLogger(Config{Severity: severity, Outputs: []Output{out}}), out
}

func TestSeverityFiltering(t *testing.T) {
	logger, out := newCaptureLogger(WARN)

	ctx := context.Background()
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message")

	entries := out.all()
	require.Len(t, entries, 2)
	assert.Equal(t, WARN, entries[0].Severity)
	assert.Equal(t, ERROR, entries[1].Severity)
}

func TestMessageFormatting(t *testing.T) {
	logger, out := newCaptureLogger(DEBUG)

	logger.Info(context.Background(), "cache hit rate %.2f after %d requests", 0.75, 100)

	entries := out.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "cache hit rate 0.75 after 100 requests", entries[0].Message)
	assert.True(t, strings.HasSuffix(entries[0].File, "_test.go"))
}

func TestContextValuesPropagate(t *testing.T) {
	logger, out := newCaptureLogger(DEBUG)

	ctx := WithAgentType(context.Background(), "code_assistant")
	ctx = WithRequestID(ctx, "req-123")
	logger.Info(ctx, "handling request")

	entries := out.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "code_assistant", entries[0].AgentType)
	assert.Equal(t, "req-123", entries[0].RequestID)
}

func TestNilContextSafe(t *testing.T) {
	logger, out := newCaptureLogger(DEBUG)

	logger.Info(nil, "no context") //nolint:staticcheck
	require.Len(t, out.all(), 1)
}

func TestDefaultFieldsApplied(t *testing.T) {
	out := &captureOutput{}
	logger := NewLogger(Config{
		Severity:      DEBUG,
		Outputs:       []Output{out},
		DefaultFields: map[string]interface{}{"component": "cache"},
	})

	logger.Info(context.Background(), "msg")

	entries := out.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "cache", entries[0].Fields["component"])
}

func TestGlobalLoggerSwap(t *testing.T) {
	original := GetLogger()
	defer SetLogger(original)

	replacement, out := newCaptureLogger(DEBUG)
	SetLogger(replacement)

	GetLogger().Info(context.Background(), "through the global")
	require.Len(t, out.all(), 1)
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, DEBUG, ParseSeverity("DEBUG"))
	assert.Equal(t, ERROR, ParseSeverity("ERROR"))
	assert.Equal(t, INFO, ParseSeverity("bogus"))
}

func TestFormatFieldsTruncatesLongUserText(t *testing.T) {
	long := strings.Repeat("x", 300)
	formatted := formatFields(map[string]interface{}{"user_message": long})

	assert.Contains(t, formatted, "...")
	assert.Less(t, len(formatted), 150)
}
