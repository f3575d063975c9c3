// Package mcpserver exposes sandbox management over the Model Context
// Protocol.
//
// The server keeps a registry of live sandboxes and provides tools to
// create them, run commands (synchronously or detached), query status,
// and stop them. It uses the mark3labs/mcp-go library for the protocol
// details and supports stdio and HTTP transports.
package mcpserver
