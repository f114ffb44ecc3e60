package mcp

import "time"

// Status is the connection status of one MCP server.
type Status string

const (
	Disconnected Status = "disconnected"
	Connecting   Status = "connecting"
	Connected    Status = "connected"
	Failed       Status = "failed"
)

// State tracks one MCP server connection. Returned by value so callers
// cannot mutate the tracked copy.
type State struct {
	Name         string
	Status       Status
	LastError    error
	LastAttempt  time.Time
	SuccessCount int
	FailureCount int
}
