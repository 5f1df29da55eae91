package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/time/rate"

	"github.com/hpungsan/brief/internal/errors"
	"github.com/hpungsan/brief/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	rt      *ops.Runtime
	limiter *rate.Limiter // nil when context_assemble is unthrottled
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(rt *ops.Runtime) *Handlers {
	return &Handlers{rt: rt}
}

// Request types for each tool

// AssembleRequest represents the arguments for context_assemble.
type AssembleRequest struct {
	TaskID    int64  `json:"task_id"`
	Capacity  int    `json:"capacity,omitempty"`
	AgentRole string `json:"agent_role,omitempty"`
	Format    string `json:"format,omitempty"`
}

// EffectiveRequest represents the arguments for context_effective.
type EffectiveRequest struct {
	TaskID int64 `json:"task_id"`
}

// SetContextRequest represents the arguments for context_set.
type SetContextRequest struct {
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	SixW       map[string]any `json:"six_w"`
}

// RecordActivityRequest represents the arguments for activity_record.
type RecordActivityRequest struct {
	WorkItemID      int64             `json:"work_item_id"`
	SessionID       string            `json:"session_id,omitempty"`
	AgentRole       string            `json:"agent_role"`
	Summary         string            `json:"summary"`
	FilesReferenced []string          `json:"files_referenced,omitempty"`
	FilesModified   []string          `json:"files_modified,omitempty"`
	Snapshots       map[string]string `json:"snapshots,omitempty"`
	Timestamp       *time.Time        `json:"timestamp,omitempty"`
}

// AllocateRequest represents the arguments for budget_allocate.
type AllocateRequest struct {
	Capacity int `json:"capacity,omitempty"`
}

// Handler implementations

// HandleAssemble handles the context_assemble tool call.
func (h *Handlers) HandleAssemble(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AssembleRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Format != "" && input.Format != "json" && input.Format != "text" {
		return errorResult(errors.NewInvalidRequest("format must be json or text")), nil
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return errorResult(errors.NewCancelled("assemble")), nil
			}
			return errorResult(errors.NewInvalidRequest("assemble rate limit exceeded")), nil
		}
	}

	bundle, err := ops.Assemble(ctx, h.rt, ops.AssembleInput{
		TaskID:    input.TaskID,
		Capacity:  input.Capacity,
		AgentRole: input.AgentRole,
	})
	if err != nil {
		return errorResult(err), nil
	}

	if input.Format == "text" {
		return mcp.NewToolResultText(bundle.Text()), nil
	}
	return successResult(bundle)
}

// HandleEffective handles the context_effective tool call.
func (h *Handlers) HandleEffective(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[EffectiveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Effective(ctx, h.rt, ops.EffectiveInput{TaskID: input.TaskID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSetContext handles the context_set tool call.
func (h *Handlers) HandleSetContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SetContextRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.SetContext(ctx, h.rt.DB, ops.SetContextInput{
		EntityType: input.EntityType,
		EntityID:   input.EntityID,
		Values:     input.SixW,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRecordActivity handles the activity_record tool call.
func (h *Handlers) HandleRecordActivity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordActivityRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.RecordActivity(ctx, h.rt.DB, ops.RecordActivityInput{
		WorkItemID:      input.WorkItemID,
		SessionID:       input.SessionID,
		AgentRole:       input.AgentRole,
		Summary:         input.Summary,
		FilesReferenced: input.FilesReferenced,
		FilesModified:   input.FilesModified,
		Snapshots:       input.Snapshots,
		Timestamp:       input.Timestamp,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleAllocate handles the budget_allocate tool call.
func (h *Handlers) HandleAllocate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AllocateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Allocate(h.rt.Config, ops.AllocateInput{Capacity: input.Capacity})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePurgeCache handles the cache_purge tool call.
func (h *Handlers) HandlePurgeCache(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.PurgeCache(ctx, h.rt.Cache)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// errorResult creates an MCP error result from an error. Wrapped errors keep
// the code of the BriefError they carry and the wrapper's context in the message.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if bErr, ok := errors.As(err); ok {
		msg := bErr.Message
		if err != error(bErr) {
			msg = strings.Replace(err.Error(), bErr.Error(), bErr.Message, 1)
		}
		errorObj := map[string]any{
			"code":    bErr.Code,
			"message": msg,
			"status":  bErr.Status,
		}
		// INTERNAL details carry raw SQL and filesystem errors.
		if bErr.Code != errors.ErrInternal && bErr.Details != nil {
			errorObj["details"] = bErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
