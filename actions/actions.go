package actions

import "encoding/json"

// Response is the envelope wrapping every admin-service reply.
type Response struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Envelope status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// OK reports whether the envelope carries a successful reply.
func (r *Response) OK() bool {
	return r.Status == StatusSuccess
}

// Sandbox states as reported by the get_status endpoint.
const (
	StateAlive    = "alive"
	StatePending  = "pending"
	StateStopped  = "stopped"
	StateNotFound = "not_found"
)

// StartRequest asks the admin service to begin provisioning a sandbox.
// The call returns before the sandbox is usable; callers poll get_status.
type StartRequest struct {
	Image        string            `json:"image"`
	Memory       string            `json:"memory,omitempty"`
	CPUCount     int               `json:"cpu_count,omitempty"`
	ClusterName  string            `json:"cluster_name,omitempty"`
	RouteKey     string            `json:"route_key,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	ExtraHeaders map[string]string `json:"-"`
}

// SandboxStatus is the payload of start_async and get_status replies.
type SandboxStatus struct {
	SandboxID string `json:"sandbox_id"`
	State     string `json:"state"`
	HostName  string `json:"host_name,omitempty"`
	HostIP    string `json:"host_ip,omitempty"`
}

// Alive reports whether the sandbox is ready for commands.
func (s *SandboxStatus) Alive() bool {
	return s.State == StateAlive
}

// Command is a single-shot, session-less command execution request.
type Command struct {
	Command []string          `json:"command"`
	Timeout int               `json:"timeout,omitempty"` // seconds
	Env     map[string]string `json:"env,omitempty"`
}

// CreateSessionRequest creates a named persistent session. Creating a
// session whose name already exists is not an error on the service side.
type CreateSessionRequest struct {
	Session        string `json:"session"`
	StartupTimeout int    `json:"startup_timeout,omitempty"` // seconds
}

// CloseSessionRequest tears down a named session.
type CloseSessionRequest struct {
	Session string `json:"session"`
}

// SessionAction runs a shell command inside an existing session.
type SessionAction struct {
	Session string   `json:"session"`
	Command string   `json:"command"`
	Timeout int      `json:"timeout,omitempty"` // seconds
	Expect  []string `json:"expect,omitempty"`
}

// Observation is the uniform execution result for both synchronous and
// detached command runs. Detached failures (launch errors, lost PID
// tokens, wait timeouts) are reported here rather than raised, so both
// paths present the same shape to callers.
type Observation struct {
	Output        string `json:"output"`
	ExitCode      int    `json:"exit_code"`
	FailureReason string `json:"failure_reason,omitempty"`
	ExpectString  string `json:"expect_string,omitempty"`
}

// Success reports whether the observed command completed cleanly.
func (o *Observation) Success() bool {
	return o.ExitCode == 0 && o.FailureReason == ""
}

// ReadFileRequest reads a file from the sandbox filesystem. MaxBytes
// zero means the whole file.
type ReadFileRequest struct {
	Path     string `json:"path"`
	MaxBytes int    `json:"max_bytes,omitempty"`
}

// FileContent is the read_file reply payload.
type FileContent struct {
	Content string `json:"content"`
}

// WriteFileRequest writes content to a path inside the sandbox.
type WriteFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// OpResult is the generic success/message payload returned by write_file,
// upload and close_session.
type OpResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
