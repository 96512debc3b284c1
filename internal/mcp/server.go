package mcp

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/dayloom/internal/events"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"timeline_list": {
		def:     timelineListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTimelineList },
	},
	"timeline_search": {
		def:     timelineSearchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTimelineSearch },
	},
	"timeline_export": {
		def:     timelineExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTimelineExport },
	},
	"batch_list": {
		def:     batchListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBatchList },
	},
	"batch_get": {
		def:     batchGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBatchGet },
	},
	"batch_retry": {
		def:     batchRetryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBatchRetry },
	},
	"card_recategorize": {
		def:     cardRecategorizeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCardRecategorize },
	},
	"card_attach_video": {
		def:     cardAttachVideoToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCardAttachVideo },
	},
	"pipeline_tick": {
		def:     pipelineTickToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePipelineTick },
	},
}

// AllToolNames returns all valid tool names, sorted.
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

// NewServer creates an MCP server with the Dayloom tools registered.
// Tools listed in disabled are excluded from registration.
func NewServer(h *Handlers, disabled []string, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"dayloom",
		version,
		server.WithToolCapabilities(true),
	)

	skip := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		skip[name] = true
	}

	for _, name := range AllToolNames() {
		if skip[name] {
			continue
		}
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run starts the MCP server using stdio transport. When feed is non-nil its
// events are pushed to clients as EventNotification messages.
func Run(h *Handlers, disabled []string, version string, feed *events.ChannelSink) error {
	s := NewServer(h, disabled, version)
	if feed != nil {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go forwardEvents(ctx, feed.Events(), s.SendNotificationToAllClients)
	}
	return server.ServeStdio(s)
}

