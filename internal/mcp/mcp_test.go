package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/hpungsan/brief/internal/config"
	"github.com/hpungsan/brief/internal/db"
	"github.com/hpungsan/brief/internal/errors"
	"github.com/hpungsan/brief/internal/ops"
	"github.com/hpungsan/brief/internal/sixw"
)

// testSetup creates a temporary database and runtime for testing.
func testSetup(t *testing.T) (*ops.Runtime, func()) {
	t.Helper()
	return testSetupWithConfig(t, config.DefaultConfig())
}

func testSetupWithConfig(t *testing.T, cfg *config.Config) (*ops.Runtime, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}

	rt, err := ops.NewRuntime(database, cfg, ops.RuntimeOptions{Root: "/repo", Fs: afero.NewMemMapFs()})
	if err != nil {
		database.Close()
		t.Fatalf("failed to build runtime: %v", err)
	}

	cleanup := func() {
		database.Close()
	}

	return rt, cleanup
}

// seedChain creates Billing -> SSO login -> Add SAML callback with some context.
func seedChain(t *testing.T, database *sql.DB) (workItemID, taskID int64) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	p, err := db.InsertEntity(ctx, database, sixw.EntityProject, 0, "Billing", now)
	if err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	w, err := db.InsertEntity(ctx, database, sixw.EntityWorkItem, p.ID, "SSO login", now)
	if err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	task, err := db.InsertEntity(ctx, database, sixw.EntityTask, w.ID, "Add SAML callback", now)
	if err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	if _, err := db.UpsertContextRecord(ctx, database, sixw.EntityProject, p.ID,
		map[sixw.Field]string{sixw.Who: "Platform team"}, now); err != nil {
		t.Fatalf("UpsertContextRecord failed: %v", err)
	}
	return w.ID, task.ID
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleAssemble(t *testing.T) {
	rt, cleanup := testSetup(t)
	defer cleanup()
	_, taskID := seedChain(t, rt.DB)

	h := NewHandlers(rt)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name: "assemble with capacity",
			args: map[string]any{"task_id": taskID, "capacity": 8000},
		},
		{
			name: "assemble with default capacity and role",
			args: map[string]any{"task_id": taskID, "agent_role": "reviewer"},
		},
		{
			name:      "missing task_id",
			args:      map[string]any{},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "unknown task",
			args:      map[string]any{"task_id": 999},
			wantError: true,
			errorCode: "NOT_FOUND",
		},
		{
			name:      "negative capacity",
			args:      map[string]any{"task_id": taskID, "capacity": -1},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "unknown format",
			args:      map[string]any{"task_id": taskID, "format": "xml"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "task_id of wrong type",
			args:      map[string]any{"task_id": "seven"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleAssemble(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Errorf("expected error result, got success")
				}
				if tt.errorCode != "" {
					assertErrorCode(t, result, tt.errorCode)
				}
				return
			}

			output := parseOutput(t, result)
			if output["task_title"] != "Add SAML callback" {
				t.Errorf("task_title = %v", output["task_title"])
			}
			if _, ok := output["allocation"]; !ok {
				t.Error("expected allocation in output")
			}
		})
	}
}

func TestHandleAssemble_TextFormat(t *testing.T) {
	rt, cleanup := testSetup(t)
	defer cleanup()
	_, taskID := seedChain(t, rt.DB)

	h := NewHandlers(rt)
	result, err := h.HandleAssemble(context.Background(), makeRequest(map[string]any{
		"task_id": taskID,
		"format":  "text",
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}

	text := result.Content[0].(mcp.TextContent).Text
	if !strings.HasPrefix(text, fmt.Sprintf("# Task #%d: Add SAML callback", taskID)) {
		t.Errorf("text output should start with the task heading, got:\n%s", text)
	}
	if !strings.Contains(text, "Platform team") {
		t.Errorf("text output should include inherited context, got:\n%s", text)
	}
}

func TestHandleAssemble_RateLimited(t *testing.T) {
	rt, cleanup := testSetup(t)
	defer cleanup()
	_, taskID := seedChain(t, rt.DB)

	h := NewHandlers(rt)
	// One token per hour, already spent.
	h.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	h.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := h.HandleAssemble(ctx, makeRequest(map[string]any{"task_id": taskID}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected rate limited call to fail")
	}
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleAssemble_CancelledContextReturnsCancelled(t *testing.T) {
	rt, cleanup := testSetup(t)
	defer cleanup()
	_, taskID := seedChain(t, rt.DB)

	h := NewHandlers(rt)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.HandleAssemble(ctx, makeRequest(map[string]any{"task_id": taskID}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	assertErrorCode(t, result, "CANCELLED")
}

func TestHandleEffective(t *testing.T) {
	rt, cleanup := testSetup(t)
	defer cleanup()
	_, taskID := seedChain(t, rt.DB)

	h := NewHandlers(rt)
	result, err := h.HandleEffective(context.Background(), makeRequest(map[string]any{"task_id": taskID}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	output := parseOutput(t, result)
	if output["project_title"] != "Billing" {
		t.Errorf("project_title = %v, want Billing", output["project_title"])
	}
	ec := output["context"].(map[string]any)
	if ec["confidence_band"] != "RED" {
		t.Errorf("confidence_band = %v, want RED", ec["confidence_band"])
	}
	values := ec["six_w"].(map[string]any)
	if values["who"] != "Platform team" {
		t.Errorf("who = %v, want inherited project value", values["who"])
	}

	result, err = h.HandleEffective(context.Background(), makeRequest(map[string]any{"task_id": 404}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestHandleSetContext(t *testing.T) {
	rt, cleanup := testSetup(t)
	defer cleanup()
	_, taskID := seedChain(t, rt.DB)

	h := NewHandlers(rt)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name: "set task fields",
			args: map[string]any{
				"entity_type": "task",
				"entity_id":   taskID,
				"six_w": map[string]any{
					"what":  "SAML callback handler",
					"where": []any{"auth service", "gateway"},
				},
			},
		},
		{
			name: "unknown entity type",
			args: map[string]any{
				"entity_type": "epic",
				"entity_id":   taskID,
				"six_w":       map[string]any{"what": "x"},
			},
			wantError: true,
			errorCode: "MALFORMED",
		},
		{
			name: "unknown field",
			args: map[string]any{
				"entity_type": "task",
				"entity_id":   taskID,
				"six_w":       map[string]any{"whom": "x"},
			},
			wantError: true,
			errorCode: "MALFORMED",
		},
		{
			name: "no values",
			args: map[string]any{
				"entity_type": "task",
				"entity_id":   taskID,
			},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name: "missing entity",
			args: map[string]any{
				"entity_type": "work_item",
				"entity_id":   999,
				"six_w":       map[string]any{"what": "x"},
			},
			wantError: true,
			errorCode: "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleSetContext(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Errorf("expected error result, got success")
				}
				assertErrorCode(t, result, tt.errorCode)
				return
			}

			output := parseOutput(t, result)
			record := output["record"].(map[string]any)
			values := record["six_w"].(map[string]any)
			if values["where"] != "auth service; gateway" {
				t.Errorf("where = %v, want flattened list", values["where"])
			}
		})
	}
}

func TestHandleRecordActivity(t *testing.T) {
	rt, cleanup := testSetup(t)
	defer cleanup()
	workItemID, _ := seedChain(t, rt.DB)

	h := NewHandlers(rt)
	ctx := context.Background()

	result, err := h.HandleRecordActivity(ctx, makeRequest(map[string]any{
		"work_item_id":   workItemID,
		"agent_role":     "implementer",
		"summary":        "Added the callback route",
		"files_modified": []any{"auth/saml.go"},
		"snapshots":      map[string]any{"auth/saml.go": "package auth\n"},
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	output := parseOutput(t, result)
	sessionID, _ := output["session_id"].(string)
	if sessionID == "" {
		t.Fatal("expected a generated session_id")
	}

	// Same session continues on the same work item.
	result, err = h.HandleRecordActivity(ctx, makeRequest(map[string]any{
		"work_item_id": workItemID,
		"session_id":   sessionID,
		"agent_role":   "implementer",
		"summary":      "Added tests",
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	parseOutput(t, result)

	acts, err := db.ListActivities(ctx, rt.DB, workItemID)
	if err != nil {
		t.Fatalf("ListActivities failed: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("activities = %d, want 2", len(acts))
	}
	if !acts[1].Timestamp.After(acts[0].Timestamp) {
		t.Errorf("timestamps not increasing: %v, %v", acts[0].Timestamp, acts[1].Timestamp)
	}

	errorCases := []struct {
		name string
		args map[string]any
		code string
	}{
		{"missing summary", map[string]any{"work_item_id": workItemID, "agent_role": "planner"}, "INVALID_REQUEST"},
		{"summary too long", map[string]any{"work_item_id": workItemID, "agent_role": "planner", "summary": strings.Repeat("x", 501)}, "INVALID_REQUEST"},
		{"unknown work item", map[string]any{"work_item_id": 999, "agent_role": "planner", "summary": "x"}, "NOT_FOUND"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := h.HandleRecordActivity(ctx, makeRequest(tc.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			assertErrorCode(t, result, tc.code)
		})
	}
}

func TestHandleAllocate(t *testing.T) {
	rt, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(rt)
	ctx := context.Background()

	result, err := h.HandleAllocate(ctx, makeRequest(map[string]any{"capacity": 10000}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	output := parseOutput(t, result)
	if output["content_tokens"] != float64(6000) {
		t.Errorf("content_tokens = %v, want 6000", output["content_tokens"])
	}
	if output["response_tokens"] != float64(2000) {
		t.Errorf("response_tokens = %v, want 2000", output["response_tokens"])
	}

	result, err = h.HandleAllocate(ctx, makeRequest(map[string]any{"capacity": -5}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandlePurgeCache(t *testing.T) {
	rt, cleanup := testSetup(t)
	defer cleanup()
	_, taskID := seedChain(t, rt.DB)

	h := NewHandlers(rt)
	ctx := context.Background()

	result, err := h.HandlePurgeCache(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if output := parseOutput(t, result); output["purged"] != float64(0) {
		t.Errorf("purged = %v, want 0", output["purged"])
	}

	if _, err := h.HandleAssemble(ctx, makeRequest(map[string]any{"task_id": taskID})); err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	result, err = h.HandlePurgeCache(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	output := parseOutput(t, result)
	if output["purged"] != float64(1) {
		t.Errorf("purged = %v, want 1", output["purged"])
	}
	if output["message"] != "Purged 1 cached bundle" {
		t.Errorf("message = %v", output["message"])
	}
}

func TestServerRegistration(t *testing.T) {
	rt, cleanup := testSetup(t)
	defer cleanup()

	s := NewServer(rt, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"context_assemble",
		"context_effective",
		"context_set",
		"activity_record",
		"budget_allocate",
		"cache_purge",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DisabledTools = []string{"cache_purge", "context_set", "context_set"}
	rt, cleanup := testSetupWithConfig(t, cfg)
	defer cleanup()

	tools := NewServer(rt, "test").ListTools()

	if len(tools) != 4 {
		t.Errorf("registered tool count = %d, want 4", len(tools))
	}
	for _, name := range []string{"cache_purge", "context_set"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
	if _, ok := tools["context_assemble"]; !ok {
		t.Error("context_assemble should be registered")
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DisabledTools = AllToolNames()
	rt, cleanup := testSetupWithConfig(t, cfg)
	defer cleanup()

	if tools := NewServer(rt, "test").ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"cache_purge", "context_set"}, 0},
		{"one unknown", []string{"cache_purge", "fake_tool"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != 6 {
		t.Errorf("AllToolNames() returned %d names, want 6", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("AllToolNames() not sorted: %v", names)
		}
	}
	if unknown := ValidateDisabledTools(names); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
}

func TestBurstFor(t *testing.T) {
	if got := burstFor(0.5); got != 1 {
		t.Errorf("burstFor(0.5) = %d, want 1", got)
	}
	if got := burstFor(4); got != 4 {
		t.Errorf("burstFor(4) = %d, want 4", got)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrappedErr := fmt.Errorf("projects[2]: %w", errors.NewNotFound("work item", 7))

	r := errorResult(wrappedErr)
	errObj := errorObject(t, r)

	if errObj["code"] != string(errors.ErrNotFound) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	msg := errObj["message"].(string)
	if msg != "projects[2]: work item not found: 7" {
		t.Errorf("message = %q", msg)
	}
}

func TestErrorResult_PlainErrorIsInternal(t *testing.T) {
	r := errorResult(fmt.Errorf("boom"))
	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Errorf("code=%v, want INTERNAL", errObj["code"])
	}
	if errObj["message"] != "an internal error occurred" {
		t.Errorf("message = %v", errObj["message"])
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	errObj := errorObject(t, errorResult(errors.NewNotFound("task", 42)))

	if errObj["code"] != string(errors.ErrNotFound) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

// Helper functions

func errorObject(t *testing.T, r *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	return payload["error"].(map[string]any)
}

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Errorf("content is not TextContent")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}

	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}

	code, ok := errorObj["code"].(string)
	if !ok {
		t.Errorf("no code in error object")
		return
	}

	if code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
