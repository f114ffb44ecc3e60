// Package mcp connects Parley to external MCP (Model Context Protocol)
// tool servers and exposes them as a tool source for the tooled
// generation path. Server failures degrade gracefully: the host stays
// usable and the orchestrator falls back to tool-free generation.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/mcp"
)

// ServerConfig describes one MCP server to connect to.
type ServerConfig struct {
	Name          string
	ClientOptions mcp.MCPClientOptions
}

// Source aggregates tools from the configured MCP servers. It
// implements the tool source contract used by the tooled generator:
// tool refs are fetched per acquisition, so a server that came back
// after a failure contributes its tools again without a restart.
type Source struct {
	host   *mcp.MCPHost
	g      *genkit.Genkit
	logger *slog.Logger

	mu     sync.RWMutex
	states map[string]*State
}

// NewSource creates the MCP host and connects to the configured
// servers. A server that fails to connect is tracked as Failed; the
// host itself must come up for NewSource to succeed.
func NewSource(ctx context.Context, g *genkit.Genkit, configs []ServerConfig, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	serverConfigs := make([]mcp.MCPServerConfig, len(configs))
	states := make(map[string]*State, len(configs))
	for i, cfg := range configs {
		serverConfigs[i] = mcp.MCPServerConfig{
			Name:   cfg.Name,
			Config: cfg.ClientOptions,
		}
		states[cfg.Name] = &State{
			Name:        cfg.Name,
			Status:      Connecting,
			LastAttempt: time.Now(),
		}
	}

	host, err := mcp.NewMCPHost(g, mcp.MCPHostOptions{
		Name:       "parley-mcp",
		Version:    "1.0.0",
		MCPServers: serverConfigs,
	})
	if err != nil {
		return nil, fmt.Errorf("create MCP host: %w", err)
	}

	// MCPHost reports no per-server status; track optimistically and
	// correct on the first failed tool fetch.
	for _, state := range states {
		state.Status = Connected
		state.SuccessCount++
	}
	logger.Info("MCP host created", "servers", len(configs))

	return &Source{host: host, g: g, logger: logger, states: states}, nil
}

// Acquire fetches the current tool set from all connected servers.
// The release function is a no-op: the host owns the connections and
// they outlive individual generations.
func (s *Source) Acquire(ctx context.Context) ([]ai.ToolRef, func(), error) {
	tools, err := s.host.GetActiveTools(ctx, s.g)
	if err != nil {
		s.markAll(Failed, err)
		return nil, nil, fmt.Errorf("get MCP tools: %w", err)
	}
	s.markAll(Connected, nil)

	refs := make([]ai.ToolRef, len(tools))
	for i, t := range tools {
		refs[i] = t
	}
	s.logger.Debug("acquired MCP tools", "count", len(refs))
	return refs, func() {}, nil
}

func (s *Source) markAll(status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range s.states {
		state.Status = status
		state.LastError = err
		state.LastAttempt = time.Now()
		if err != nil {
			state.FailureCount++
		} else {
			state.SuccessCount++
		}
	}
}

// States returns a copy of every server's connection state. Used by
// readiness reporting.
func (s *Source) States() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.states))
	for name, state := range s.states {
		out[name] = *state
	}
	return out
}

// ConnectedCount reports how many servers are currently connected.
func (s *Source) ConnectedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, state := range s.states {
		if state.Status == Connected {
			n++
		}
	}
	return n
}
