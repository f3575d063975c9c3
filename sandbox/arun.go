package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/alibaba/rock-go/actions"
	"github.com/alibaba/rock-go/retry"
)

// RunMode selects how ARun executes a command.
type RunMode string

const (
	// ModeNormal runs the command synchronously inside a session.
	ModeNormal RunMode = "normal"
	// ModeNohup launches the command detached and tracks its
	// completion out-of-band.
	ModeNohup RunMode = "nohup"
)

// Detached execution defaults.
const (
	DefaultWaitTimeout  = 300 * time.Second
	DefaultWaitInterval = 10 * time.Second
	// MinWaitInterval is the floor applied to the completion poll
	// interval.
	MinWaitInterval = 5 * time.Second
)

type runConfig struct {
	session       string
	sessionSet    bool
	mode          RunMode
	timeout       time.Duration
	waitTimeout   time.Duration
	waitInterval  time.Duration
	collectOutput bool
	outputLimit   int
	outputPath    string
	expect        []string
}

// RunOption defines a functional option for ARun.
type RunOption func(*runConfig)

// WithSession names the session the command runs in. In nohup mode a
// supplied session is reused as-is instead of being created.
func WithSession(session string) RunOption {
	return func(rc *runConfig) {
		rc.session = session
		rc.sessionSet = true
	}
}

// WithMode selects normal or nohup execution.
func WithMode(mode RunMode) RunOption {
	return func(rc *runConfig) {
		rc.mode = mode
	}
}

// WithTimeout bounds the synchronous in-session run (and, in nohup
// mode, the launch step itself).
func WithTimeout(timeout time.Duration) RunOption {
	return func(rc *runConfig) {
		rc.timeout = timeout
	}
}

// WithWaitTimeout bounds the overall wait for a detached process.
func WithWaitTimeout(timeout time.Duration) RunOption {
	return func(rc *runConfig) {
		rc.waitTimeout = timeout
	}
}

// WithWaitInterval sets the completion poll interval.
func WithWaitInterval(interval time.Duration) RunOption {
	return func(rc *runConfig) {
		rc.waitInterval = interval
	}
}

// WithoutOutput skips reading the detached process's output file; the
// result only names the file and its size.
func WithoutOutput() RunOption {
	return func(rc *runConfig) {
		rc.collectOutput = false
	}
}

// WithOutputLimit truncates collected detached output to the first n
// bytes.
func WithOutputLimit(n int) RunOption {
	return func(rc *runConfig) {
		rc.outputLimit = n
	}
}

// WithOutputPath overrides the detached output file path.
func WithOutputPath(path string) RunOption {
	return func(rc *runConfig) {
		rc.outputPath = path
	}
}

// WithExpect passes expect strings to the in-session run.
func WithExpect(expect ...string) RunOption {
	return func(rc *runConfig) {
		rc.expect = expect
	}
}

func (s *Sandbox) newRunConfig(opts []RunOption) *runConfig {
	rc := &runConfig{
		session:       DefaultSession,
		mode:          ModeNormal,
		timeout:       s.cfg.CommandTimeout(),
		waitTimeout:   DefaultWaitTimeout,
		waitInterval:  DefaultWaitInterval,
		collectOutput: true,
	}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.waitInterval < MinWaitInterval {
		rc.waitInterval = MinWaitInterval
	}
	return rc
}

// ARun is the unified execution entry point. In normal mode it ensures
// the named session exists and runs the command there synchronously.
// In nohup mode it delegates to the detached supervisor; detached
// failures (launch errors, lost PID token, wait timeout) come back
// inside the Observation rather than as an error, so both modes present
// the same result shape.
func (s *Sandbox) ARun(ctx context.Context, cmd string, opts ...RunOption) (*actions.Observation, error) {
	rc := s.newRunConfig(opts)

	switch rc.mode {
	case ModeNormal:
		if err := s.ensureSession(ctx, rc.session); err != nil {
			return nil, err
		}
		id, err := s.requireID()
		if err != nil {
			return nil, err
		}
		action := &actions.SessionAction{
			Session: rc.session,
			Command: cmd,
			Timeout: int(rc.timeout / time.Second),
			Expect:  rc.expect,
		}
		return s.api.RunInSession(ctx, id, action)
	case ModeNohup:
		return s.runDetached(ctx, cmd, rc)
	default:
		return nil, fmt.Errorf("unsupported run mode: %s", rc.mode)
	}
}

// ARunWithRetry wraps ARun in a bounded retry, promoting a nonzero exit
// code to an error so it triggers another attempt.
func ARunWithRetry(ctx context.Context, s *Sandbox, cmd string, opts ...RunOption) (*actions.Observation, error) {
	policy := retry.Policy{
		MaxAttempts:       3,
		InitialDelay:      5 * time.Second,
		BackoffMultiplier: 2.0,
		Clock:             s.clk,
	}
	return retry.Do(ctx, policy, func(ctx context.Context) (*actions.Observation, error) {
		obs, err := s.ARun(ctx, cmd, opts...)
		if err != nil {
			return nil, err
		}
		if obs.ExitCode != 0 {
			return nil, fmt.Errorf("command failed with exit code %d: %s", obs.ExitCode, obs.Output)
		}
		return obs, nil
	})
}
