package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alibaba/rock-go/actions"
)

// Sentinel markers wrapping the background process id in the launch
// step's captured stdout.
const (
	PidPrefix = "ROCK_PID_PREFIX"
	PidSuffix = "ROCK_PID_SUFFIX"
)

var pidPattern = regexp.MustCompile(PidPrefix + `(\d+)` + PidSuffix)

// extractPid parses the sentinel-wrapped process id out of launch
// output. It returns a PidExtractionError when no marker is present.
func extractPid(output string) (int, error) {
	match := pidPattern.FindStringSubmatch(output)
	if match == nil {
		return 0, &PidExtractionError{Output: output}
	}
	pid, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, &PidExtractionError{Output: output}
	}
	return pid, nil
}

// shellQuote single-quotes s for safe embedding in a shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runDetached launches cmd in the background inside a session, polls
// for its completion and retrieves its output. The remote session is
// only held for the launch and the probes, not for the command's full
// duration.
func (s *Sandbox) runDetached(ctx context.Context, cmd string, rc *runConfig) (*actions.Observation, error) {
	nowMs := s.clk.Now().UnixMilli()

	outputPath := rc.outputPath
	if outputPath == "" {
		outputPath = fmt.Sprintf("/tmp/tmp_%d.out", nowMs)
	}

	// A caller-supplied session is reused as-is; otherwise a fresh
	// timestamp-derived session is created for the launch.
	session := rc.session
	if !rc.sessionSet {
		session = fmt.Sprintf("bash-%d", nowMs)
		if err := s.CreateSession(ctx, &actions.CreateSessionRequest{Session: session}); err != nil {
			return nil, err
		}
	}

	launch := fmt.Sprintf("nohup sh -c %s > %s 2>&1 & pid=$!; disown; echo %s${pid}%s",
		shellQuote(cmd), outputPath, PidPrefix, PidSuffix)

	launched, err := s.runInSession(ctx, session, launch, rc.timeout)
	if err != nil {
		return nil, err
	}
	if launched.ExitCode != 0 {
		return &actions.Observation{
			Output:        launched.Output,
			ExitCode:      launched.ExitCode,
			FailureReason: fmt.Sprintf("background launch failed with exit code %d", launched.ExitCode),
		}, nil
	}

	pid, err := extractPid(launched.Output)
	if err != nil {
		// No identity to track, so no polling is attempted.
		return &actions.Observation{
			Output:        launched.Output,
			ExitCode:      1,
			FailureReason: err.Error(),
		}, nil
	}

	s.logger.Info("background process launched",
		zap.String("sandbox_id", s.ID()),
		zap.Int("pid", pid),
		zap.String("session", session),
		zap.String("output_path", outputPath))

	completed, statusMsg := s.waitForCompletion(ctx, session, pid, rc.waitTimeout, rc.waitInterval)

	if !rc.collectOutput {
		return s.outputHint(ctx, session, outputPath, completed, statusMsg, rc.timeout), nil
	}

	obs := &actions.Observation{ExitCode: 0}
	if !completed {
		obs.ExitCode = 1
		obs.FailureReason = statusMsg
	}

	content, readErr := s.ReadFile(ctx, outputPath, rc.outputLimit)
	if readErr != nil {
		s.logger.Warn("failed to read background output",
			zap.String("path", outputPath),
			zap.Error(readErr))
		obs.Output = fmt.Sprintf("%s (output unavailable: %v)", statusMsg, readErr)
		return obs, nil
	}
	obs.Output = content
	return obs, nil
}

// waitForCompletion probes process liveness with a zero signal until
// the process disappears or the overall wait budget runs out. A probe
// that errors means the target process no longer exists, which counts
// as completion. Each probe is bounded by min(2*interval, remaining) so
// a stuck probe cannot stall past the budget.
func (s *Sandbox) waitForCompletion(ctx context.Context, session string, pid int, waitTimeout, interval time.Duration) (bool, string) {
	start := s.clk.Now()
	deadline := start.Add(waitTimeout)

	for {
		remaining := deadline.Sub(s.clk.Now())
		if remaining <= 0 {
			timeoutErr := &CompletionTimeoutError{PID: pid, Timeout: waitTimeout}
			return false, timeoutErr.Error()
		}

		probeTimeout := 2 * interval
		if remaining < probeTimeout {
			probeTimeout = remaining
		}
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		probe, err := s.runInSession(probeCtx, session, fmt.Sprintf("kill -0 %d", pid), probeTimeout)
		cancel()

		if err != nil || probe.ExitCode != 0 {
			// A probe that failed because the caller's context is gone
			// says nothing about the process.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, fmt.Sprintf("wait aborted: %v", ctxErr)
			}
			elapsed := s.clk.Now().Sub(start)
			return true, fmt.Sprintf("Process completed successfully in %s", elapsed)
		}

		if sleepErr := s.clk.Sleep(ctx, interval); sleepErr != nil {
			return false, fmt.Sprintf("wait aborted: %v", sleepErr)
		}
	}
}

// outputHint builds the status-only result used when output collection
// is off: the file path plus a size probe, never the content itself.
func (s *Sandbox) outputHint(ctx context.Context, session, outputPath string, completed bool, statusMsg string, timeout time.Duration) *actions.Observation {
	size := "unknown"
	if stat, err := s.runInSession(ctx, session, fmt.Sprintf("stat -c %%s %s", outputPath), timeout); err == nil && stat.ExitCode == 0 {
		if n, convErr := strconv.ParseInt(strings.TrimSpace(stat.Output), 10, 64); convErr == nil {
			size = humanSize(n)
		}
	}

	obs := &actions.Observation{
		Output: fmt.Sprintf("%s. Output saved to %s without streaming the log content. File size: %s",
			statusMsg, outputPath, size),
	}
	if !completed {
		obs.ExitCode = 1
		obs.FailureReason = statusMsg
	}
	return obs
}

func humanSize(n int64) string {
	const kb = 1024
	switch {
	case n < kb:
		return fmt.Sprintf("%d bytes", n)
	case n < kb*kb:
		return fmt.Sprintf("%.2f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%.2f MB", float64(n)/(kb*kb))
	}
}
