package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/alibaba/rock-go/config"
	"github.com/alibaba/rock-go/sandbox"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	api       sandbox.API
	mcpServer *server.MCPServer

	mu        sync.Mutex
	sandboxes map[string]*sandbox.Sandbox
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, api sandbox.API) (*MCPServer, error) {
	s := &MCPServer{
		config:    cfg,
		logger:    logger,
		api:       api,
		sandboxes: make(map[string]*sandbox.Sandbox),
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("admin.endpoint", cfg.Admin.Endpoint),
		zap.String("sandbox.image", cfg.Sandbox.Image),
		zap.String("sandbox.memory", cfg.Sandbox.Memory),
		zap.Int("sandbox.cpu_count", cfg.Sandbox.CPUCount),
		zap.Int("sandbox.startup_timeout_sec", cfg.Sandbox.StartupTimeoutSec),
		zap.Int("group.size", cfg.Group.Size),
		zap.Int("group.start_concurrency", cfg.Group.StartConcurrency),
	)

	s.mcpServer = server.NewMCPServer("rock-sandbox-manager", "A remote sandbox management server")

	s.registerTools()

	return s, nil
}

func (s *MCPServer) registerTools() {
	createTool := mcp.Tool{
		Name:        "create_sandbox",
		Description: "Create a remote sandbox and wait until it is alive",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"image": map[string]any{
					"type":        "string",
					"description": "Container image (defaults to the configured template)",
				},
				"memory": map[string]any{
					"type":        "string",
					"description": "Memory limit, e.g. 2g",
				},
				"cpu_count": map[string]any{
					"type":        "number",
					"description": "CPU count",
				},
			},
		},
	}
	s.mcpServer.AddTool(createTool, s.handleCreateSandbox)

	runTool := mcp.Tool{
		Name:        "run_command",
		Description: "Run a shell command inside a sandbox session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"sandbox_id": map[string]any{
					"type":        "string",
					"description": "Target sandbox id",
				},
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to run",
				},
				"session": map[string]any{
					"type":        "string",
					"description": "Session name (defaults to 'default')",
				},
				"mode": map[string]any{
					"type":        "string",
					"description": "Execution mode",
					"enum":        []string{"normal", "nohup"},
				},
				"wait_timeout_sec": map[string]any{
					"type":        "number",
					"description": "Overall wait for detached completion (nohup mode)",
				},
			},
			Required: []string{"sandbox_id", "command"},
		},
	}
	s.mcpServer.AddTool(runTool, s.handleRunCommand)

	statusTool := mcp.Tool{
		Name:        "get_sandbox_status",
		Description: "Query the current state of a sandbox",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"sandbox_id": map[string]any{
					"type":        "string",
					"description": "Target sandbox id",
				},
			},
			Required: []string{"sandbox_id"},
		},
	}
	s.mcpServer.AddTool(statusTool, s.handleGetStatus)

	stopTool := mcp.Tool{
		Name:        "stop_sandbox",
		Description: "Stop a sandbox and remove it from the registry",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"sandbox_id": map[string]any{
					"type":        "string",
					"description": "Target sandbox id",
				},
			},
			Required: []string{"sandbox_id"},
		},
	}
	s.mcpServer.AddTool(stopTool, s.handleStopSandbox)

	listTool := mcp.Tool{
		Name:        "list_sandboxes",
		Description: "List every sandbox in the registry",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}
	s.mcpServer.AddTool(listTool, s.handleListSandboxes)
}

func (s *MCPServer) lookup(sandboxID string) (*sandbox.Sandbox, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb, ok := s.sandboxes[sandboxID]
	return sb, ok
}

func textResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: fmt.Sprintf(format, args...)},
		},
		IsError: true,
	}
}

func (s *MCPServer) handleCreateSandbox(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	template := s.config.Sandbox
	if image := request.GetString("image", ""); image != "" {
		template.Image = image
	}
	if memory := request.GetString("memory", ""); memory != "" {
		template.Memory = memory
	}
	if cpu := request.GetInt("cpu_count", 0); cpu > 0 {
		template.CPUCount = cpu
	}

	s.logger.Info("sandbox creation requested", zap.String("image", template.Image))

	sb := sandbox.New(s.logger, s.api, &template)
	if err := sb.Start(ctx); err != nil {
		s.logger.Error("sandbox start failed", zap.Error(err))
		return errorResult("sandbox start failed: %v", err), nil
	}

	s.mu.Lock()
	s.sandboxes[sb.ID()] = sb
	s.mu.Unlock()

	return textResult(map[string]any{
		"sandbox_id": sb.ID(),
		"host_name":  sb.HostName(),
		"host_ip":    sb.HostIP(),
		"state":      string(sb.State()),
	})
}

func (s *MCPServer) handleRunCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sandboxID, err := request.RequireString("sandbox_id")
	if err != nil {
		return nil, fmt.Errorf("sandbox_id parameter is required: %w", err)
	}
	command, err := request.RequireString("command")
	if err != nil {
		return nil, fmt.Errorf("command parameter is required: %w", err)
	}

	sb, ok := s.lookup(sandboxID)
	if !ok {
		return errorResult("unknown sandbox: %s", sandboxID), nil
	}

	var opts []sandbox.RunOption
	if session := request.GetString("session", ""); session != "" {
		opts = append(opts, sandbox.WithSession(session))
	}
	mode := request.GetString("mode", "normal")
	switch mode {
	case "normal":
	case "nohup":
		opts = append(opts, sandbox.WithMode(sandbox.ModeNohup))
		if wait := request.GetInt("wait_timeout_sec", 0); wait > 0 {
			opts = append(opts, sandbox.WithWaitTimeout(time.Duration(wait)*time.Second))
		}
	default:
		return errorResult("invalid mode: %s, must be 'normal' or 'nohup'", mode), nil
	}

	s.logger.Info("command requested",
		zap.String("sandbox_id", sandboxID),
		zap.String("mode", mode))

	obs, err := sb.ARun(ctx, command, opts...)
	if err != nil {
		s.logger.Error("command failed",
			zap.String("sandbox_id", sandboxID),
			zap.Error(err))
		return errorResult("command failed: %v", err), nil
	}

	return textResult(obs)
}

func (s *MCPServer) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sandboxID, err := request.RequireString("sandbox_id")
	if err != nil {
		return nil, fmt.Errorf("sandbox_id parameter is required: %w", err)
	}

	sb, ok := s.lookup(sandboxID)
	if !ok {
		return errorResult("unknown sandbox: %s", sandboxID), nil
	}

	status, err := sb.GetStatus(ctx)
	if err != nil {
		return errorResult("status query failed: %v", err), nil
	}
	return textResult(status)
}

func (s *MCPServer) handleStopSandbox(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sandboxID, err := request.RequireString("sandbox_id")
	if err != nil {
		return nil, fmt.Errorf("sandbox_id parameter is required: %w", err)
	}

	sb, ok := s.lookup(sandboxID)
	if !ok {
		return errorResult("unknown sandbox: %s", sandboxID), nil
	}

	sb.Stop(ctx)
	s.mu.Lock()
	delete(s.sandboxes, sandboxID)
	s.mu.Unlock()

	s.logger.Info("sandbox stopped", zap.String("sandbox_id", sandboxID))
	return textResult(map[string]string{"sandbox_id": sandboxID, "state": string(sandbox.StateStopped)})
}

func (s *MCPServer) handleListSandboxes(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	entries := make([]map[string]string, 0, len(s.sandboxes))
	for id, sb := range s.sandboxes {
		entries = append(entries, map[string]string{
			"sandbox_id": id,
			"host_name":  sb.HostName(),
			"state":      string(sb.State()),
		})
	}
	s.mu.Unlock()

	return textResult(entries)
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
