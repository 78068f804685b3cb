package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for conditions callers branch on with errors.Is.
var (
	// ErrNotConnected is returned when a request is attempted without a
	// live terminal connection.
	ErrNotConnected = errors.New("terminal not connected")

	// ErrRequestTimeout is returned when no reply arrives within the
	// per-request deadline.
	ErrRequestTimeout = errors.New("terminal request timed out")

	// ErrConnectionClosed settles pending requests when the transport is
	// torn down underneath them.
	ErrConnectionClosed = errors.New("terminal connection closed")

	// ErrEmergencyStopActive fails any trade attempted while the kill
	// switch is active or trading is locked.
	ErrEmergencyStopActive = errors.New("emergency stop active")

	// ErrQueueFull is returned when the command queue is at capacity.
	ErrQueueFull = errors.New("command queue full")
)

// ValidationError reports a malformed or incomplete command. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid command: %s", e.Reason)
	}
	return fmt.Sprintf("invalid command: %s: %s", e.Field, e.Reason)
}

// RateLimitError reports a rejected command with a retry-after hint.
type RateLimitError struct {
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%d requests per %s), retry after %s",
		e.Limit, e.Window, e.RetryAfter.Round(time.Millisecond))
}

// SafetyError names the pre-trade checks that failed. Never queued.
type SafetyError struct {
	Failures []string
}

func (e *SafetyError) Error() string {
	return "safety check failed: " + strings.Join(e.Failures, "; ")
}

// TerminalError is an explicit rejection from the trade terminal.
// Retryable: transient terminal-side states are common.
type TerminalError struct {
	Message string
}

func (e *TerminalError) Error() string {
	return "terminal error: " + e.Message
}

// Retryable reports whether an execution error qualifies for another
// attempt under the retry backoff schedule.
func Retryable(err error) bool {
	if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrRequestTimeout) || errors.Is(err, ErrConnectionClosed) {
		return true
	}
	var te *TerminalError
	return errors.As(err, &te)
}
