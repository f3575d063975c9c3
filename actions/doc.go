// Package actions defines the request and response types exchanged with
// the ROCK administrative service.
//
// Every remote endpoint accepts a request struct from this package and
// answers with a Response envelope whose Result field carries the
// endpoint-specific payload. Observation is the uniform result shape for
// command execution, shared by the synchronous and detached paths.
package actions
