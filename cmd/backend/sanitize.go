package backend

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/lib/pq"
)

const maxSanitizedLength = 200

// IsConnectionError reports whether err looks like a lost or refused connection
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "bad connection") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "sql: database is closed")
}

// Sanitize turns a backend error into a short message that is safe to show to users.
// Query text, positions and server-side detail are dropped.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return "query cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "query timed out"
	}
	if IsConnectionError(err) {
		return "lost connection to backend"
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return truncate("query failed: " + pqErr.Message)
	}

	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	msg = strings.TrimSpace(strings.TrimPrefix(msg, "pq: "))
	if msg == "" {
		msg = "unknown error"
	}
	return truncate("query failed: " + msg)
}

func truncate(msg string) string {
	if utf8.RuneCountInString(msg) <= maxSanitizedLength {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:maxSanitizedLength-3]) + "..."
}
