package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"

	"github.com/hpungsan/brief/internal/ops"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"context_assemble": {
		def:     assembleToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAssemble },
	},
	"context_effective": {
		def:     effectiveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleEffective },
	},
	"context_set": {
		def:     setContextToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSetContext },
	},
	"activity_record": {
		def:     recordActivityToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecordActivity },
	},
	"budget_allocate": {
		def:     allocateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAllocate },
	},
	"cache_purge": {
		def:     purgeCacheToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePurgeCache },
	},
}

// AllToolNames returns every tool name in sorted order.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server with the brief tools registered. Tools in
// disabled_tools are skipped. When assemble_rate_limit is set,
// context_assemble calls wait for a token before running.
func NewServer(rt *ops.Runtime, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"brief",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(rt)
	if limit := rt.Config.AssembleRateLimit; limit > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(limit), burstFor(limit))
	}

	disabled := make(map[string]bool, len(rt.Config.DisabledTools))
	for _, name := range rt.Config.DisabledTools {
		disabled[name] = true
	}

	for _, name := range AllToolNames() {
		if disabled[name] {
			continue
		}
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// burstFor lets a client spend up to one second's worth of calls at once.
func burstFor(limit float64) int {
	if limit < 1 {
		return 1
	}
	return int(limit)
}

// Run starts the MCP server using stdio transport.
func Run(rt *ops.Runtime, version string) error {
	return server.ServeStdio(NewServer(rt, version))
}
