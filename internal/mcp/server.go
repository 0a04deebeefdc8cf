// Package mcp exposes the riverboat pipeline over the Model Context
// Protocol so editor agents can send Party Boxes without the HTTP
// gateway.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/campfirevalley/riverboat/internal/pipeline"
	"github.com/campfirevalley/riverboat/internal/store"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler
// factories.
var toolRegistry = map[string]toolEntry{
	"partybox_process": {
		def:     processToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProcess },
	},
	"partybox_validate": {
		def:     validateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleValidate },
	},
	"partybox_status": {
		def:     statusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
}

var processToolDef = mcp.NewTool("partybox_process",
	mcp.WithDescription("Send a task through the riverboat pipeline and return the aggregated camper response."),
	mcp.WithString("claim", mcp.Required(),
		mcp.Description("What is being asked for: generate_code, review_code, or execute_command."),
		mcp.Enum("generate_code", "review_code", "execute_command")),
	mcp.WithString("task", mcp.Required(),
		mcp.Description("The task description, at most 500 characters.")),
	mcp.WithString("os", mcp.Required(),
		mcp.Description("Target operating system."),
		mcp.Enum("windows", "linux", "macos")),
	mcp.WithString("workspace_root", mcp.Required(),
		mcp.Description("Absolute path of the caller's workspace.")),
	mcp.WithArray("attachments",
		mcp.Description("Files to ship with the task: objects with path, content, type, timestamp.")),
	mcp.WithObject("context",
		mcp.Description("Editor context: current_file, project_structure, terminal_history.")),
)

var validateToolDef = mcp.NewTool("partybox_validate",
	mcp.WithDescription("Validate a Party Box without processing it. Returns is_valid plus per-field errors."),
	mcp.WithString("claim", mcp.Required(), mcp.Description("Claim to validate.")),
	mcp.WithString("task", mcp.Required(), mcp.Description("Task text to validate.")),
	mcp.WithString("os", mcp.Required(), mcp.Description("Target operating system.")),
	mcp.WithString("workspace_root", mcp.Required(), mcp.Description("Workspace root path.")),
	mcp.WithArray("attachments", mcp.Description("Attachments to validate.")),
)

var statusToolDef = mcp.NewTool("partybox_status",
	mcp.WithDescription("Look up a delivery by box ID, or overall delivery statistics when no ID is given."),
	mcp.WithString("box_id", mcp.Description("Box ID to look up. Optional.")),
)

// NewServer creates the MCP server with the riverboat tools
// registered.
func NewServer(dispatcher *pipeline.Dispatcher, st *store.Store, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"riverboat",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(dispatcher, st)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run starts the MCP server using stdio transport.
func Run(dispatcher *pipeline.Dispatcher, st *store.Store, version string) error {
	return server.ServeStdio(NewServer(dispatcher, st, version))
}
