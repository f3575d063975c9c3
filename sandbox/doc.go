// Package sandbox implements the client-side supervisor for remote
// ROCK sandboxes.
//
// A Sandbox owns the lifecycle of one remote execution environment:
// starting it through the admin service and polling until it is alive,
// running commands synchronously inside named sessions, launching
// detached background processes tracked through sentinel PID markers,
// and best-effort teardown. Group fans the lifecycle out across many
// sandboxes with bounded concurrency and per-instance retry.
//
// Sessions are not exclusively owned: two callers sharing a session
// name may interleave commands. The package does not arbitrate that
// race; callers wanting isolation should use distinct session names.
package sandbox
