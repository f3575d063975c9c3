package sandbox

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotStarted is returned when an operation requiring a sandbox
// identity is invoked before Start has succeeded.
var ErrNotStarted = errors.New("sandbox not started")

// ErrStartTimeout is returned when the overall startup deadline elapses
// before the sandbox reports itself alive.
var ErrStartTimeout = errors.New("sandbox start timed out")

// PidExtractionError reports a detached launch whose captured output
// did not contain the sentinel-wrapped process id. It is distinct from
// the command itself failing: the launch looked fine but the supervisor
// has no identity to track, so no polling is attempted.
type PidExtractionError struct {
	Output string
}

func (e *PidExtractionError) Error() string {
	return fmt.Sprintf("no pid marker found in launch output: %q", e.Output)
}

// CompletionTimeoutError reports a detached process that was still
// alive when the overall wait budget ran out. It is surfaced inside the
// Observation result rather than returned as an error.
type CompletionTimeoutError struct {
	PID     int
	Timeout time.Duration
}

func (e *CompletionTimeoutError) Error() string {
	return fmt.Sprintf("process %d still running after %s", e.PID, e.Timeout)
}
