// Package telemetry keeps a rolling log of AI tool invocations and derives
// usage, cost and health figures from it.
//
// The in-memory Log is the source of truth for reads. Persistence is
// optional: a Recorder forwards entries to a Sink off the request path, and
// SQLiteStore restores the most recent entries on startup.
package telemetry

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of one invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrorCategory groups failure messages for the dashboard.
type ErrorCategory string

const (
	CategoryRateLimit     ErrorCategory = "Rate Limit (429)"
	CategoryNetwork       ErrorCategory = "Network"
	CategoryContentSafety ErrorCategory = "Content Safety"
	CategorySchema        ErrorCategory = "Schema"
	CategoryInternal      ErrorCategory = "Internal"
)

// Entry is one logged invocation.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Tool   string `json:"tool"`
	Model  string `json:"model"`
	Status Status `json:"status"`

	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`

	LatencyMs   int64    `json:"latency_ms"`
	FileCount   int      `json:"file_count"`
	FileFormats []string `json:"file_formats"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// AccuracyScore is 0-100. Zero means not scored.
	AccuracyScore int `json:"accuracy_score,omitempty"`

	// IsAlert marks synthetic alert entries, which stats ignore.
	IsAlert bool `json:"is_alert,omitempty"`
}

// Success reports whether the entry records a successful invocation.
func (e Entry) Success() bool {
	return e.Status == StatusSuccess
}

// Failed fills in the error fields of e from err.
func (e *Entry) Failed(err error) {
	e.Status = StatusError
	if err == nil {
		return
	}
	e.ErrorMessage = err.Error()
	e.ErrorCategory = CategorizeError(e.ErrorMessage)
}

// CategorizeError maps a failure message to a category by keyword.
func CategorizeError(message string) ErrorCategory {
	msg := strings.ToLower(message)
	switch {
	case containsAny(msg, "429", "quota", "rate limit"):
		return CategoryRateLimit
	case containsAny(msg, "network", "fetch", "connection"):
		return CategoryNetwork
	case containsAny(msg, "safety", "blocked", "harmful"):
		return CategoryContentSafety
	case containsAny(msg, "schema", "invalid json", "parse"):
		return CategorySchema
	default:
		return CategoryInternal
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func newID() string {
	return uuid.New().String()
}
