// Package diagnostics reports on the agent process itself: pid, uptime, Go
// runtime statistics and the host resources the process competes for. The
// collector backs the admin process endpoint and is cheap enough to call on
// every request.
package diagnostics
