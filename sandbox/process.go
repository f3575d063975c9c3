package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/alibaba/rock-go/actions"
)

// Process provides script execution and directory transfer on top of
// one sandbox's session primitives.
type Process struct {
	sandbox *Sandbox
	logger  *zap.Logger
}

// Process returns the sandbox's process capability.
func (s *Sandbox) Process() *Process {
	return &Process{sandbox: s, logger: s.logger}
}

type scriptConfig struct {
	name         string
	waitTimeout  time.Duration
	waitInterval time.Duration
	cleanup      bool
}

// ScriptOption defines a functional option for ExecuteScript.
type ScriptOption func(*scriptConfig)

// WithScriptName overrides the generated script file name.
func WithScriptName(name string) ScriptOption {
	return func(sc *scriptConfig) {
		sc.name = name
	}
}

// WithScriptWaitTimeout bounds the overall wait for script completion.
func WithScriptWaitTimeout(timeout time.Duration) ScriptOption {
	return func(sc *scriptConfig) {
		sc.waitTimeout = timeout
	}
}

// WithScriptWaitInterval sets the completion poll interval.
func WithScriptWaitInterval(interval time.Duration) ScriptOption {
	return func(sc *scriptConfig) {
		sc.waitInterval = interval
	}
}

// WithoutScriptCleanup keeps the script file after execution.
func WithoutScriptCleanup() ScriptOption {
	return func(sc *scriptConfig) {
		sc.cleanup = false
	}
}

// ExecuteScript uploads a script to /tmp, runs it detached, and
// optionally removes it afterwards. Upload and execution failures are
// reported in the Observation.
func (p *Process) ExecuteScript(ctx context.Context, content string, opts ...ScriptOption) (*actions.Observation, error) {
	sc := &scriptConfig{
		waitTimeout:  DefaultWaitTimeout,
		waitInterval: DefaultWaitInterval,
		cleanup:      true,
	}
	for _, opt := range opts {
		opt(sc)
	}

	name := sc.name
	if name == "" {
		name = fmt.Sprintf("script_%d.sh", p.sandbox.clk.Now().UnixNano())
	}
	scriptPath := "/tmp/" + name

	run := WithTimeLogging(p.logger, "execute script "+scriptPath, func(ctx context.Context) (*actions.Observation, error) {
		written, err := p.sandbox.WriteFile(ctx, content, scriptPath)
		if err != nil {
			return &actions.Observation{
				Output:        fmt.Sprintf("failed to upload script: %v", err),
				ExitCode:      1,
				FailureReason: "script upload failed",
			}, nil
		}
		if !written.Success {
			return &actions.Observation{
				Output:        fmt.Sprintf("failed to upload script: %s", written.Message),
				ExitCode:      1,
				FailureReason: "script upload failed",
			}, nil
		}

		return p.sandbox.ARun(ctx, "bash "+scriptPath,
			WithMode(ModeNohup),
			WithWaitTimeout(sc.waitTimeout),
			WithWaitInterval(sc.waitInterval))
	})

	obs, err := run(ctx)

	if sc.cleanup {
		cmd := &actions.Command{Command: []string{"rm", "-f", scriptPath}}
		if _, rmErr := p.sandbox.Execute(ctx, cmd); rmErr != nil {
			p.logger.Warn("failed to clean up script",
				zap.String("path", scriptPath),
				zap.Error(rmErr))
		}
	}

	return obs, err
}

// UploadDirTimeout bounds the remote tarball extraction by default.
const UploadDirTimeout = 600 * time.Second

// UploadDir packs a local directory into a tar.gz, uploads it and
// extracts it into targetDir inside the sandbox. It always returns an
// Observation; failures land in its FailureReason.
func (p *Process) UploadDir(ctx context.Context, sourceDir, targetDir string) (*actions.Observation, error) {
	run := WithTimeLogging(p.logger, fmt.Sprintf("upload dir %s -> %s", sourceDir, targetDir), func(ctx context.Context) (*actions.Observation, error) {
		return p.uploadDir(ctx, sourceDir, targetDir)
	})
	return run(ctx)
}

func (p *Process) uploadDir(ctx context.Context, sourceDir, targetDir string) (*actions.Observation, error) {
	src, err := filepath.Abs(sourceDir)
	if err != nil {
		return &actions.Observation{ExitCode: 1, FailureReason: fmt.Sprintf("invalid source_dir: %v", err)}, nil
	}
	info, err := os.Stat(src)
	if err != nil {
		return &actions.Observation{ExitCode: 1, FailureReason: fmt.Sprintf("source_dir not found: %s", src)}, nil
	}
	if !info.IsDir() {
		return &actions.Observation{ExitCode: 1, FailureReason: fmt.Sprintf("source_dir must be a directory: %s", src)}, nil
	}
	if !filepath.IsAbs(targetDir) {
		return &actions.Observation{ExitCode: 1, FailureReason: fmt.Sprintf("target_dir must be absolute path: %s", targetDir)}, nil
	}

	ts := p.sandbox.clk.Now().UnixNano()
	localTar := filepath.Join(os.TempDir(), fmt.Sprintf("rock_upload_%d.tar.gz", ts))
	remoteTar := fmt.Sprintf("/tmp/rock_upload_%d.tar.gz", ts)
	session := fmt.Sprintf("bash-%d", ts)

	if err := p.sandbox.CreateSession(ctx, &actions.CreateSessionRequest{Session: session}); err != nil {
		return nil, err
	}

	check, err := p.sandbox.ARun(ctx, "command -v tar >/dev/null 2>&1", WithSession(session))
	if err != nil {
		return nil, err
	}
	if check.ExitCode != 0 {
		return &actions.Observation{ExitCode: 1, FailureReason: "sandbox has no tar command; cannot extract tarball"}, nil
	}

	data, err := packDir(src)
	if err != nil {
		return &actions.Observation{ExitCode: 1, FailureReason: fmt.Sprintf("tar pack failed: %v", err)}, nil
	}
	if err := os.WriteFile(localTar, data, 0600); err != nil {
		return &actions.Observation{ExitCode: 1, FailureReason: fmt.Sprintf("tar pack failed: %v", err)}, nil
	}
	defer func() {
		if rmErr := os.Remove(localTar); rmErr != nil && !os.IsNotExist(rmErr) {
			p.logger.Warn("failed to remove local tarball", zap.String("path", localTar), zap.Error(rmErr))
		}
	}()

	uploaded, err := p.sandbox.Upload(ctx, localTar, remoteTar)
	if err != nil {
		return nil, err
	}
	if !uploaded.Success {
		return &actions.Observation{ExitCode: 1, FailureReason: fmt.Sprintf("tar upload failed: %s", uploaded.Message)}, nil
	}

	extract := fmt.Sprintf("rm -rf %s && mkdir -p %s && tar -xzf %s -C %s",
		shellQuote(targetDir), shellQuote(targetDir), shellQuote(remoteTar), shellQuote(targetDir))
	res, err := p.sandbox.ARun(ctx, "sh -c "+shellQuote(extract),
		WithMode(ModeNohup),
		WithWaitTimeout(UploadDirTimeout))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return &actions.Observation{ExitCode: 1, FailureReason: fmt.Sprintf("tar extract failed: %s", res.Output)}, nil
	}

	cmd := &actions.Command{Command: []string{"rm", "-f", remoteTar}}
	if _, rmErr := p.sandbox.Execute(ctx, cmd); rmErr != nil {
		p.logger.Warn("failed to remove remote tarball", zap.String("path", remoteTar), zap.Error(rmErr))
	}

	return &actions.Observation{
		ExitCode: 0,
		Output:   fmt.Sprintf("uploaded %s -> %s via tar", src, targetDir),
	}, nil
}
