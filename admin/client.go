package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alibaba/rock-go/actions"
	"github.com/alibaba/rock-go/config"
)

// Endpoint operation names, also the URL paths under the service root.
const (
	opStartAsync    = "start_async"
	opGetStatus     = "get_status"
	opStop          = "stop"
	opExecute       = "execute"
	opCreateSession = "create_session"
	opCloseSession  = "close_session"
	opRunInSession  = "run_in_session"
	opReadFile      = "read_file"
	opWriteFile     = "write_file"
	opUpload        = "upload"
)

// Client talks to the ROCK admin service over HTTP.
type Client struct {
	logger   *zap.Logger
	http     *resty.Client
	endpoint string
}

// ClientOption defines a functional option for Client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying resty client, mainly for tests.
func WithHTTPClient(http *resty.Client) ClientOption {
	return func(c *Client) {
		c.http = http
	}
}

// NewClient creates an admin client from connection settings.
func NewClient(logger *zap.Logger, cfg *config.AdminConfig, opts ...ClientOption) *Client {
	http := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.RequestTimeout()).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "rock-go/1.0")

	if cfg.APIKey != "" {
		http.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	for key, value := range cfg.ExtraHeaders {
		http.SetHeader(key, value)
	}

	c := &Client{
		logger:   logger,
		http:     http,
		endpoint: cfg.Endpoint,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewFromConfig creates an admin client from the full application config.
func NewFromConfig(logger *zap.Logger, cfg *config.Config) *Client {
	return NewClient(logger, &cfg.Admin)
}

// call posts body to the named operation and decodes the envelope's
// result into out when out is non-nil.
func (c *Client) call(ctx context.Context, op string, body any, out any, headers map[string]string) error {
	url := c.endpoint + "/" + op

	var envelope actions.Response
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-Id", uuid.NewString()).
		SetBody(body).
		SetResult(&envelope)
	for key, value := range headers {
		req.SetHeader(key, value)
	}

	started := time.Now()
	resp, err := req.Post("/" + op)
	if err != nil {
		return &RemoteCallError{Op: op, URL: url, Err: err}
	}

	c.logger.Debug("admin call completed",
		zap.String("op", op),
		zap.Int("http_status", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(started)))

	if resp.IsError() {
		return &RemoteCallError{Op: op, URL: url, StatusCode: resp.StatusCode(), Message: string(resp.Body())}
	}
	if !envelope.OK() {
		return &RemoteCallError{Op: op, URL: url, Message: envelope.Message}
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return &RemoteCallError{Op: op, URL: url, Err: fmt.Errorf("decoding result: %w", err)}
		}
	}
	return nil
}

// StartAsync asks the service to begin provisioning a sandbox. The
// reply carries the assigned sandbox id; readiness is polled separately
// through GetStatus.
func (c *Client) StartAsync(ctx context.Context, req *actions.StartRequest) (*actions.SandboxStatus, error) {
	var status actions.SandboxStatus
	if err := c.call(ctx, opStartAsync, req, &status, req.ExtraHeaders); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetStatus fetches the current sandbox state.
func (c *Client) GetStatus(ctx context.Context, sandboxID string) (*actions.SandboxStatus, error) {
	body := map[string]string{"sandbox_id": sandboxID}
	var status actions.SandboxStatus
	if err := c.call(ctx, opGetStatus, body, &status, nil); err != nil {
		return nil, err
	}
	return &status, nil
}

// Stop tears the sandbox down.
func (c *Client) Stop(ctx context.Context, sandboxID string) error {
	body := map[string]string{"sandbox_id": sandboxID}
	return c.call(ctx, opStop, body, nil, nil)
}

type executeRequest struct {
	SandboxID string `json:"sandbox_id"`
	actions.Command
}

// Execute runs a single-shot command outside any session.
func (c *Client) Execute(ctx context.Context, sandboxID string, cmd *actions.Command) (*actions.Observation, error) {
	var obs actions.Observation
	if err := c.call(ctx, opExecute, &executeRequest{SandboxID: sandboxID, Command: *cmd}, &obs, nil); err != nil {
		return nil, err
	}
	return &obs, nil
}

type createSessionRequest struct {
	SandboxID string `json:"sandbox_id"`
	actions.CreateSessionRequest
}

// CreateSession creates a named persistent session in the sandbox.
func (c *Client) CreateSession(ctx context.Context, sandboxID string, req *actions.CreateSessionRequest) error {
	return c.call(ctx, opCreateSession, &createSessionRequest{SandboxID: sandboxID, CreateSessionRequest: *req}, nil, nil)
}

type closeSessionRequest struct {
	SandboxID string `json:"sandbox_id"`
	actions.CloseSessionRequest
}

// CloseSession tears down a named session.
func (c *Client) CloseSession(ctx context.Context, sandboxID, session string) error {
	req := &closeSessionRequest{SandboxID: sandboxID, CloseSessionRequest: actions.CloseSessionRequest{Session: session}}
	return c.call(ctx, opCloseSession, req, nil, nil)
}

type runInSessionRequest struct {
	SandboxID string `json:"sandbox_id"`
	actions.SessionAction
}

// RunInSession runs a shell command inside an existing session.
func (c *Client) RunInSession(ctx context.Context, sandboxID string, action *actions.SessionAction) (*actions.Observation, error) {
	var obs actions.Observation
	if err := c.call(ctx, opRunInSession, &runInSessionRequest{SandboxID: sandboxID, SessionAction: *action}, &obs, nil); err != nil {
		return nil, err
	}
	return &obs, nil
}

type readFileRequest struct {
	SandboxID string `json:"sandbox_id"`
	actions.ReadFileRequest
}

// ReadFile reads a file from the sandbox filesystem.
func (c *Client) ReadFile(ctx context.Context, sandboxID string, req *actions.ReadFileRequest) (*actions.FileContent, error) {
	var content actions.FileContent
	if err := c.call(ctx, opReadFile, &readFileRequest{SandboxID: sandboxID, ReadFileRequest: *req}, &content, nil); err != nil {
		return nil, err
	}
	return &content, nil
}

type writeFileRequest struct {
	SandboxID string `json:"sandbox_id"`
	actions.WriteFileRequest
}

// WriteFile writes content to a path inside the sandbox.
func (c *Client) WriteFile(ctx context.Context, sandboxID string, req *actions.WriteFileRequest) (*actions.OpResult, error) {
	var result actions.OpResult
	if err := c.call(ctx, opWriteFile, &writeFileRequest{SandboxID: sandboxID, WriteFileRequest: *req}, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// Upload transfers a local file into the sandbox as a multipart upload.
func (c *Client) Upload(ctx context.Context, sandboxID, localPath, targetPath string) (*actions.OpResult, error) {
	url := c.endpoint + "/" + opUpload

	var envelope actions.Response
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-Id", uuid.NewString()).
		SetFile("file", localPath).
		SetFormData(map[string]string{
			"sandbox_id":  sandboxID,
			"target_path": targetPath,
		}).
		SetResult(&envelope).
		Post("/" + opUpload)
	if err != nil {
		return nil, &RemoteCallError{Op: opUpload, URL: url, Err: err}
	}
	if resp.IsError() {
		return nil, &RemoteCallError{Op: opUpload, URL: url, StatusCode: resp.StatusCode(), Message: string(resp.Body())}
	}
	if !envelope.OK() {
		return nil, &RemoteCallError{Op: opUpload, URL: url, Message: envelope.Message}
	}

	result := actions.OpResult{Success: true}
	if len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, &result); err != nil {
			return nil, &RemoteCallError{Op: opUpload, URL: url, Err: fmt.Errorf("decoding result: %w", err)}
		}
	}
	return &result, nil
}
