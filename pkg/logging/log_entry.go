package logging

// LogEntry represents a structured log record with fields relevant to
// assistant request handling.
type LogEntry struct {
	// Standard fields
	Time     int64
	Severity Severity
	Message  string
	File     string
	Line     int
	Function string

	// Assistant-specific fields
	AgentType string // Agent issuing the request (code_assistant, copywriter)
	RequestID string // Correlates a request across cache, retry and client layers
	Latency   int64  // Operation duration in milliseconds

	// General structured data
	Fields map[string]interface{}
}
