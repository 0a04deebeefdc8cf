package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/campfirevalley/riverboat/internal/envelope"
	"github.com/campfirevalley/riverboat/internal/pipeline"
	"github.com/campfirevalley/riverboat/internal/store"
)

// Handlers holds dependencies for the MCP tool handlers. The store may
// be nil; status degrades accordingly.
type Handlers struct {
	dispatcher *pipeline.Dispatcher
	store      *store.Store
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(dispatcher *pipeline.Dispatcher, st *store.Store) *Handlers {
	return &Handlers{dispatcher: dispatcher, store: st}
}

// BoxRequest is the shared argument shape of process and validate.
type BoxRequest struct {
	Claim         string                `json:"claim"`
	Task          string                `json:"task"`
	OS            string                `json:"os"`
	WorkspaceRoot string                `json:"workspace_root"`
	Attachments   []envelope.Attachment `json:"attachments,omitempty"`
	Context       envelope.TorchContext `json:"context,omitempty"`
}

// StatusRequest represents the arguments for status.
type StatusRequest struct {
	BoxID string `json:"box_id,omitempty"`
}

// HandleProcess builds a Party Box from the arguments and runs it
// through the full pipeline.
func (h *Handlers) HandleProcess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BoxRequest](req)
	if err != nil {
		return errorResult(envelope.NewError(envelope.CodeParse, err.Error(), false)), nil
	}

	box, buildErr := envelope.Build(envelope.BuildInput{
		Claim:         envelope.Claim(input.Claim),
		Task:          input.Task,
		OS:            envelope.OSType(input.OS),
		WorkspaceRoot: input.WorkspaceRoot,
		Attachments:   input.Attachments,
		Context:       input.Context,
	})
	if buildErr != nil {
		errResp := envelope.NewError(envelope.CodeValidation, buildErr.Error(), false)
		return errorResult(errResp), nil
	}

	raw, err := json.Marshal(box)
	if err != nil {
		return errorResult(envelope.NewError(envelope.CodeValidation, err.Error(), false)), nil
	}

	boxed, errResp := h.dispatcher.Process(ctx, raw)
	if errResp != nil {
		return errorResult(errResp), nil
	}
	return successResult(boxed)
}

// HandleValidate runs envelope validation only; it never dispatches.
func (h *Handlers) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BoxRequest](req)
	if err != nil {
		return errorResult(envelope.NewError(envelope.CodeParse, err.Error(), false)), nil
	}

	box := &envelope.PartyBox{
		Torch: envelope.Torch{
			Claim:         envelope.Claim(input.Claim),
			Task:          input.Task,
			OS:            envelope.OSType(input.OS),
			WorkspaceRoot: input.WorkspaceRoot,
			Attachments:   input.Attachments,
			Context:       input.Context,
		},
	}
	return successResult(envelope.Validate(box))
}

// HandleStatus returns one delivery with its reports, or aggregate
// stats when no box ID is given.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StatusRequest](req)
	if err != nil {
		return errorResult(envelope.NewError(envelope.CodeParse, err.Error(), false)), nil
	}

	if h.store == nil {
		return errorResult(envelope.NewError(envelope.CodePipeline,
			"delivery log is not configured", false)), nil
	}

	if input.BoxID == "" {
		stats, err := h.store.DeliveryStats(ctx)
		if err != nil {
			return errorResult(envelope.NewError(envelope.CodePipeline, err.Error(), true)), nil
		}
		return successResult(stats)
	}

	delivery, err := h.store.GetDelivery(ctx, input.BoxID)
	if err != nil {
		return errorResult(envelope.NewError(envelope.CodePipeline, err.Error(), true)), nil
	}
	if delivery == nil {
		errResp := envelope.NewError(envelope.CodeValidation, "delivery not found", false)
		return errorResult(errResp.WithDetail("box_id", input.BoxID)), nil
	}
	reports, err := h.store.ListReportsByBox(ctx, input.BoxID)
	if err != nil {
		return errorResult(envelope.NewError(envelope.CodePipeline, err.Error(), true)), nil
	}
	return successResult(map[string]any{
		"delivery": delivery,
		"reports":  reports,
	})
}

// errorResult creates an MCP error result from a coded error.
// Uses IsError: true so MCP clients recognize failures properly.
func errorResult(errResp *envelope.ErrorResponse) *mcp.CallToolResult {
	content, _ := json.Marshal(map[string]any{"error": errResp})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
