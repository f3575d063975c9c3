// Package admin implements the HTTP client for the ROCK administrative
// service.
//
// The admin service owns sandbox provisioning and proxies every
// in-sandbox operation (sessions, command execution, file transfer).
// Each endpoint wraps its reply in an actions.Response envelope; this
// package decodes the envelope and surfaces failures as RemoteCallError
// values carrying the originating operation and URL.
package admin
