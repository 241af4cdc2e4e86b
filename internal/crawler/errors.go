package crawler

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by stores and the queue.
var (
	ErrNotFound        = errors.New("not found")
	ErrUniqueViolation = errors.New("unique constraint violation")
	ErrJobNotFound     = errors.New("job not found")
	ErrQueueClosed     = errors.New("queue closed")
)

// ConfigurationError reports a source key with no registered definition.
// It is never retried.
type ConfigurationError struct {
	Key string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unknown source %q", e.Key)
}

// ValidationError reports a rejected job payload or argument.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ExecutionError reports a scraper that could not be started, exited non-zero,
// or produced more output than allowed.
type ExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
	Reason   string
	Err      error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	b.WriteString("scraper execution failed")
	if e.Command != "" {
		fmt.Fprintf(&b, " (%s)", e.Command)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// MalformedOutputError reports scraper stdout with no decodable JSON array.
type MalformedOutputError struct {
	Reason string
	Err    error
}

func (e *MalformedOutputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed scraper output: %s: %v", e.Reason, e.Err)
	}
	return "malformed scraper output: " + e.Reason
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed job attempt may be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}
	var valErr *ValidationError
	return !errors.As(err, &valErr)
}
