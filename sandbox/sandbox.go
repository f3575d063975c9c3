package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alibaba/rock-go/actions"
	"github.com/alibaba/rock-go/clock"
	"github.com/alibaba/rock-go/config"
)

// API is the admin-service surface the sandbox depends on. The admin
// package provides the production implementation; tests substitute
// their own.
type API interface {
	StartAsync(ctx context.Context, req *actions.StartRequest) (*actions.SandboxStatus, error)
	GetStatus(ctx context.Context, sandboxID string) (*actions.SandboxStatus, error)
	Stop(ctx context.Context, sandboxID string) error
	Execute(ctx context.Context, sandboxID string, cmd *actions.Command) (*actions.Observation, error)
	CreateSession(ctx context.Context, sandboxID string, req *actions.CreateSessionRequest) error
	CloseSession(ctx context.Context, sandboxID, session string) error
	RunInSession(ctx context.Context, sandboxID string, action *actions.SessionAction) (*actions.Observation, error)
	ReadFile(ctx context.Context, sandboxID string, req *actions.ReadFileRequest) (*actions.FileContent, error)
	WriteFile(ctx context.Context, sandboxID string, req *actions.WriteFileRequest) (*actions.OpResult, error)
	Upload(ctx context.Context, sandboxID, localPath, targetPath string) (*actions.OpResult, error)
}

// State is a sandbox lifecycle state.
type State string

// Lifecycle states. Stopped is terminal; a failed Start also lands here.
const (
	StateUninitialized State = "uninitialized"
	StateStarting      State = "starting"
	StateAlive         State = "alive"
	StateStopped       State = "stopped"
)

// DefaultSession is the session used when the caller names none.
const DefaultSession = "default"

// Sandbox manages one remote execution environment.
type Sandbox struct {
	logger *zap.Logger
	api    API
	cfg    config.SandboxConfig
	clk    clock.Clock

	mu        sync.Mutex
	state     State
	sandboxID string
	hostName  string
	hostIP    string
	sessions  map[string]struct{}
}

// Option defines a functional option for Sandbox
type Option func(*Sandbox)

// WithClock sets the clock used for polling and sleeps.
func WithClock(clk clock.Clock) Option {
	return func(s *Sandbox) {
		s.clk = clk
	}
}

// New creates a Sandbox from a template configuration. No network
// activity happens until Start.
func New(logger *zap.Logger, api API, cfg *config.SandboxConfig, opts ...Option) *Sandbox {
	s := &Sandbox{
		logger:   logger,
		api:      api,
		cfg:      *cfg,
		clk:      clock.Real(),
		state:    StateUninitialized,
		sessions: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ID returns the remote sandbox id, empty until Start succeeds.
func (s *Sandbox) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sandboxID
}

// HostName returns the sandbox host name, empty until Start succeeds.
func (s *Sandbox) HostName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostName
}

// HostIP returns the sandbox host address, empty until Start succeeds.
func (s *Sandbox) HostIP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostIP
}

// State returns the current lifecycle state.
func (s *Sandbox) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// requireID returns the sandbox id or ErrNotStarted.
func (s *Sandbox) requireID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAlive || s.sandboxID == "" {
		return "", ErrNotStarted
	}
	return s.sandboxID, nil
}

// Start provisions the sandbox and waits until it reports alive. The
// begin-start call returns immediately; readiness is polled through
// get_status. A status check exceeding its own bound is transient and
// retried; only the overall startup deadline is fatal. A failed Start
// leaves the sandbox in Stopped with no identity.
func (s *Sandbox) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateAlive {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	req := &actions.StartRequest{
		Image:       s.cfg.Image,
		Memory:      s.cfg.Memory,
		CPUCount:    s.cfg.CPUCount,
		ClusterName: s.cfg.ClusterName,
		RouteKey:    s.cfg.RouteKey,
	}

	started, err := s.api.StartAsync(ctx, req)
	if err != nil {
		s.resetToStopped()
		return fmt.Errorf("begin start: %w", err)
	}
	pendingID := started.SandboxID

	s.logger.Info("sandbox start requested",
		zap.String("sandbox_id", pendingID),
		zap.String("image", s.cfg.Image))

	deadline := s.clk.Now().Add(s.cfg.StartupTimeout())
	for {
		remaining := deadline.Sub(s.clk.Now())
		if remaining <= 0 {
			s.resetToStopped()
			return fmt.Errorf("%w after %s (sandbox_id=%s)", ErrStartTimeout, s.cfg.StartupTimeout(), pendingID)
		}

		checkTimeout := s.cfg.StatusCheckTimeout()
		if remaining < checkTimeout {
			checkTimeout = remaining
		}
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		status, checkErr := s.api.GetStatus(checkCtx, pendingID)
		cancel()

		switch {
		case checkErr != nil:
			// Timed-out or failed checks are transient; only the
			// overall deadline ends the loop.
			s.logger.Debug("status check failed, retrying",
				zap.String("sandbox_id", pendingID),
				zap.Error(checkErr))
		case status.Alive():
			s.mu.Lock()
			s.sandboxID = status.SandboxID
			if s.sandboxID == "" {
				s.sandboxID = pendingID
			}
			s.hostName = status.HostName
			s.hostIP = status.HostIP
			s.state = StateAlive
			s.mu.Unlock()
			s.logger.Info("sandbox alive",
				zap.String("sandbox_id", s.ID()),
				zap.String("host_name", status.HostName),
				zap.String("host_ip", status.HostIP))
			return nil
		default:
			s.logger.Debug("sandbox not ready",
				zap.String("sandbox_id", pendingID),
				zap.String("state", status.State))
		}

		if sleepErr := s.clk.Sleep(ctx, s.cfg.StatusCheckInterval()); sleepErr != nil {
			s.resetToStopped()
			return sleepErr
		}
	}
}

func (s *Sandbox) resetToStopped() {
	s.mu.Lock()
	s.state = StateStopped
	s.sandboxID = ""
	s.hostName = ""
	s.hostIP = ""
	s.mu.Unlock()
}

// Stop tears the sandbox down. It is best-effort and always safe to
// call: failures are logged and swallowed, and stopping a sandbox that
// never started is a no-op.
func (s *Sandbox) Stop(ctx context.Context) {
	s.mu.Lock()
	id := s.sandboxID
	s.state = StateStopped
	s.mu.Unlock()

	if id == "" {
		return
	}
	if err := s.api.Stop(ctx, id); err != nil {
		s.logger.Warn("sandbox stop failed",
			zap.String("sandbox_id", id),
			zap.Error(err))
	}
}

// Close is an alias of Stop.
func (s *Sandbox) Close(ctx context.Context) {
	s.Stop(ctx)
}

// GetStatus queries the remote sandbox state.
func (s *Sandbox) GetStatus(ctx context.Context) (*actions.SandboxStatus, error) {
	id, err := s.requireID()
	if err != nil {
		return nil, err
	}
	return s.api.GetStatus(ctx, id)
}

// IsAlive reports whether the remote sandbox is currently alive.
func (s *Sandbox) IsAlive(ctx context.Context) (bool, error) {
	status, err := s.GetStatus(ctx)
	if err != nil {
		return false, err
	}
	return status.Alive(), nil
}

// Execute runs a single-shot command outside any session: one network
// round trip, no retry.
func (s *Sandbox) Execute(ctx context.Context, cmd *actions.Command) (*actions.Observation, error) {
	id, err := s.requireID()
	if err != nil {
		return nil, err
	}
	return s.api.Execute(ctx, id, cmd)
}

// CreateSession creates a named session. Creating a name that already
// exists is not an error.
func (s *Sandbox) CreateSession(ctx context.Context, req *actions.CreateSessionRequest) error {
	id, err := s.requireID()
	if err != nil {
		return err
	}
	if err := s.api.CreateSession(ctx, id, req); err != nil {
		if isAlreadyExists(err) {
			s.logger.Debug("session already exists", zap.String("session", req.Session))
		} else {
			return err
		}
	}
	s.mu.Lock()
	s.sessions[req.Session] = struct{}{}
	s.mu.Unlock()
	return nil
}

// CloseSession tears a named session down.
func (s *Sandbox) CloseSession(ctx context.Context, session string) error {
	id, err := s.requireID()
	if err != nil {
		return err
	}
	if err := s.api.CloseSession(ctx, id, session); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
	return nil
}

// ensureSession lazily creates the named session once per sandbox.
func (s *Sandbox) ensureSession(ctx context.Context, session string) error {
	s.mu.Lock()
	_, known := s.sessions[session]
	s.mu.Unlock()
	if known {
		return nil
	}
	return s.CreateSession(ctx, &actions.CreateSessionRequest{Session: session})
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// runInSession issues one run_in_session call with a timeout expressed
// in whole seconds on the wire.
func (s *Sandbox) runInSession(ctx context.Context, session, command string, timeout time.Duration) (*actions.Observation, error) {
	id, err := s.requireID()
	if err != nil {
		return nil, err
	}
	action := &actions.SessionAction{
		Session: session,
		Command: command,
		Timeout: int(timeout / time.Second),
	}
	return s.api.RunInSession(ctx, id, action)
}

// WriteFile writes content to a path inside the sandbox.
func (s *Sandbox) WriteFile(ctx context.Context, content, path string) (*actions.OpResult, error) {
	id, err := s.requireID()
	if err != nil {
		return nil, err
	}
	return s.api.WriteFile(ctx, id, &actions.WriteFileRequest{Path: path, Content: content})
}

// ReadFile reads a file from the sandbox. maxBytes zero returns the
// whole file; a positive value truncates to the first maxBytes bytes.
func (s *Sandbox) ReadFile(ctx context.Context, path string, maxBytes int) (string, error) {
	id, err := s.requireID()
	if err != nil {
		return "", err
	}
	content, err := s.api.ReadFile(ctx, id, &actions.ReadFileRequest{Path: path, MaxBytes: maxBytes})
	if err != nil {
		return "", err
	}
	return content.Content, nil
}

// Upload transfers a local file into the sandbox.
func (s *Sandbox) Upload(ctx context.Context, localPath, targetPath string) (*actions.OpResult, error) {
	id, err := s.requireID()
	if err != nil {
		return nil, err
	}
	return s.api.Upload(ctx, id, localPath, targetPath)
}
