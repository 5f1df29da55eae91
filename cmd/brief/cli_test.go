package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/brief/internal/config"
	"github.com/hpungsan/brief/internal/db"
	"github.com/hpungsan/brief/internal/ops"
	"github.com/hpungsan/brief/internal/sixw"
)

// setupTestRuntime creates a runtime backed by a temporary database.
func setupTestRuntime(t *testing.T, cfg *config.Config) (*ops.Runtime, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	rt, err := ops.NewRuntime(database, cfg, ops.RuntimeOptions{Root: tmpDir})
	if err != nil {
		database.Close()
		t.Fatalf("failed to build runtime: %v", err)
	}
	cleanup := func() {
		database.Close()
	}
	return rt, cleanup
}

// seedTask creates Billing -> SSO login -> Add SAML callback.
func seedTask(t *testing.T, rt *ops.Runtime) (workItemID, taskID int64) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	p, err := db.InsertEntity(ctx, rt.DB, sixw.EntityProject, 0, "Billing", now)
	if err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	w, err := db.InsertEntity(ctx, rt.DB, sixw.EntityWorkItem, p.ID, "SSO login", now)
	if err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	task, err := db.InsertEntity(ctx, rt.DB, sixw.EntityTask, w.ID, "Add SAML callback", now)
	if err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	return w.ID, task.ID
}

// runCLI runs the app with args and returns what it wrote to stdout.
func runCLI(t *testing.T, rt *ops.Runtime, args ...string) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	runErr := newCLIApp(rt).Run(append([]string{"brief"}, args...))

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout

	return buf.String(), runErr
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single item", "auth/saml.go", []string{"auth/saml.go"}},
		{"multiple items", "a.go,b.go", []string{"a.go", "b.go"}},
		{"items with spaces", " a.go , b.go ", []string{"a.go", "b.go"}},
		{"empty items dropped", "a.go,,b.go,", []string{"a.go", "b.go"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseList(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("parseList(%q) = %v, want %v", tt.input, result, tt.expected)
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("parseList(%q)[%d] = %q, want %q", tt.input, i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestCLIAssemble(t *testing.T) {
	rt, cleanup := setupTestRuntime(t, nil)
	defer cleanup()
	_, taskID := seedTask(t, rt)
	id := itoa(taskID)

	t.Run("text", func(t *testing.T) {
		out, err := runCLI(t, rt, "assemble", "--task", id, "--capacity", "8000")
		if err != nil {
			t.Fatalf("assemble failed: %v", err)
		}
		if !strings.HasPrefix(out, "# Task #"+id+": Add SAML callback") {
			t.Errorf("unexpected text output:\n%s", out)
		}
	})

	t.Run("json", func(t *testing.T) {
		out, err := runCLI(t, rt, "assemble", "--task", id, "--format", "json")
		if err != nil {
			t.Fatalf("assemble failed: %v", err)
		}
		var bundle map[string]any
		if err := json.Unmarshal([]byte(out), &bundle); err != nil {
			t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
		}
		if bundle["project_title"] != "Billing" {
			t.Errorf("project_title = %v, want Billing", bundle["project_title"])
		}
	})

	t.Run("html", func(t *testing.T) {
		out, err := runCLI(t, rt, "assemble", "--task", id, "--format", "html")
		if err != nil {
			t.Fatalf("assemble failed: %v", err)
		}
		if !strings.Contains(out, "<h1>Task #"+id+": Add SAML callback</h1>") {
			t.Errorf("unexpected html output:\n%s", out)
		}
	})

	t.Run("bad format", func(t *testing.T) {
		if _, err := runCLI(t, rt, "assemble", "--task", id, "--format", "pdf"); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestCLIEffective(t *testing.T) {
	rt, cleanup := setupTestRuntime(t, nil)
	defer cleanup()
	_, taskID := seedTask(t, rt)

	out, err := runCLI(t, rt, "effective", "--task", itoa(taskID))
	if err != nil {
		t.Fatalf("effective failed: %v", err)
	}

	var output ops.EffectiveOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if output.TaskTitle != "Add SAML callback" {
		t.Errorf("task_title = %q", output.TaskTitle)
	}
	if output.Context.Band != sixw.BandRed {
		t.Errorf("band = %s, want RED for an empty hierarchy", output.Context.Band)
	}
}

func TestCLIAllocate(t *testing.T) {
	rt, cleanup := setupTestRuntime(t, nil)
	defer cleanup()

	out, err := runCLI(t, rt, "allocate", "--capacity", "10000")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}

	var output map[string]any
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if output["content_tokens"] != float64(6000) {
		t.Errorf("content_tokens = %v, want 6000", output["content_tokens"])
	}

	// Default capacity comes from config.
	out, err = runCLI(t, rt, "allocate")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output["total_tokens"] != float64(200000) {
		t.Errorf("total_tokens = %v, want 200000", output["total_tokens"])
	}
}

func TestCLIContextSet(t *testing.T) {
	rt, cleanup := setupTestRuntime(t, nil)
	defer cleanup()
	_, taskID := seedTask(t, rt)

	out, err := runCLI(t, rt, "context", "set", "--entity", "task", "--id", itoa(taskID),
		"--what", "SAML callback", "--how", "Validate then map")
	if err != nil {
		t.Fatalf("context set failed: %v", err)
	}

	var output ops.SetContextOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if output.Record.Values[sixw.What] != "SAML callback" {
		t.Errorf("what = %q", output.Record.Values[sixw.What])
	}

	// Clearing one field keeps the other.
	if _, err := runCLI(t, rt, "context", "set", "--entity", "task", "--id", itoa(taskID), "--how", ""); err != nil {
		t.Fatalf("context set failed: %v", err)
	}
	rec, err := db.GetContextRecord(context.Background(), rt.DB, sixw.EntityTask, taskID)
	if err != nil {
		t.Fatalf("GetContextRecord failed: %v", err)
	}
	if rec.Value(sixw.What) != "SAML callback" || rec.Value(sixw.How) != "" {
		t.Errorf("record = %+v", rec.Values)
	}

	if _, err := runCLI(t, rt, "context", "set", "--entity", "epic", "--id", "1", "--what", "x"); err == nil {
		t.Error("expected error for unknown entity type")
	}
}

func TestCLIActivityRecord(t *testing.T) {
	rt, cleanup := setupTestRuntime(t, nil)
	defer cleanup()
	workItemID, _ := seedTask(t, rt)

	out, err := runCLI(t, rt, "activity", "record", "--work-item", itoa(workItemID),
		"--role", "implementer", "--summary", "Added callback route",
		"--modified", "auth/saml.go", "--at", "2026-09-01T10:00:00Z")
	if err != nil {
		t.Fatalf("activity record failed: %v", err)
	}

	var output ops.RecordActivityOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if output.SessionID == "" {
		t.Error("expected generated session id")
	}

	acts, err := db.ListActivities(context.Background(), rt.DB, workItemID)
	if err != nil {
		t.Fatalf("ListActivities failed: %v", err)
	}
	if len(acts) != 1 || acts[0].FilesModified[0] != "auth/saml.go" {
		t.Errorf("activities = %+v", acts)
	}

	// Going back in time within a session is rejected.
	_, err = runCLI(t, rt, "activity", "record", "--work-item", itoa(workItemID),
		"--session", output.SessionID, "--role", "implementer", "--summary", "Earlier",
		"--at", "2026-08-01T10:00:00Z")
	if err == nil {
		t.Error("expected error for out-of-order timestamp")
	}

	if _, err := runCLI(t, rt, "activity", "record", "--work-item", itoa(workItemID),
		"--role", "implementer", "--summary", "x", "--at", "yesterday"); err == nil {
		t.Error("expected error for unparseable --at")
	}
}

func TestCLIImport(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AllowedPaths = []string{dir}
	rt, cleanup := setupTestRuntime(t, cfg)
	defer cleanup()

	seed := `projects:
  - title: Billing
    context:
      who: Platform team
    work_items:
      - title: SSO login
        tasks:
          - title: Add SAML callback
`
	path := filepath.Join(dir, "seed.yaml")
	if err := os.WriteFile(path, []byte(seed), 0600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	out, err := runCLI(t, rt, "import", "--path", path)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	var output ops.ImportOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if output.Projects != 1 || output.Tasks != 1 || output.Contexts != 1 {
		t.Errorf("import counts = %+v", output)
	}

	// Outside the allowed directories.
	outside := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(outside, []byte(seed), 0600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := runCLI(t, rt, "import", "--path", outside); err == nil {
		t.Error("expected error for path outside allowed directories")
	}
}

func TestCLICachePurge(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CacheBackend = config.CacheSQLite
	rt, cleanup := setupTestRuntime(t, cfg)
	defer cleanup()
	_, taskID := seedTask(t, rt)

	if _, err := runCLI(t, rt, "assemble", "--task", itoa(taskID)); err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	out, err := runCLI(t, rt, "cache", "purge")
	if err != nil {
		t.Fatalf("cache purge failed: %v", err)
	}

	var output ops.PurgeCacheOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if output.Purged != 1 {
		t.Errorf("purged = %d, want 1", output.Purged)
	}
}

func TestCLIErrorHandling(t *testing.T) {
	rt, cleanup := setupTestRuntime(t, nil)
	defer cleanup()

	t.Run("assemble unknown task returns error", func(t *testing.T) {
		_, err := runCLI(t, rt, "assemble", "--task", "999")
		if err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("assemble without task returns error", func(t *testing.T) {
		if _, err := runCLI(t, rt, "assemble"); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("negative capacity returns error", func(t *testing.T) {
		if _, err := runCLI(t, rt, "allocate", "--capacity", "-1"); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"brief"}, false},
		{"assemble command", []string{"brief", "assemble"}, true},
		{"context command", []string{"brief", "context", "set"}, true},
		{"serve command", []string{"brief", "serve"}, true},
		{"help flag", []string{"brief", "--help"}, true},
		{"version flag", []string{"brief", "--version"}, true},
		{"short help flag", []string{"brief", "-h"}, true},
		{"short version flag", []string{"brief", "-v"}, true},
		{"unknown arg defaults to MCP", []string{"brief", "--unknown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isCLIMode(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"brief"}, false},
		{"help flag", []string{"brief", "--help"}, true},
		{"short help flag", []string{"brief", "-h"}, true},
		{"version flag", []string{"brief", "--version"}, true},
		{"short version flag", []string{"brief", "-v"}, true},
		{"help subcommand", []string{"brief", "help"}, true},
		{"assemble is not help", []string{"brief", "assemble"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isHelpOrVersion(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestReadStdinWithLimit(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		content := "small content"
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}
		go func() {
			_, _ = w.WriteString(content)
			w.Close()
		}()

		oldStdin := os.Stdin
		os.Stdin = r
		defer func() { os.Stdin = oldStdin }()

		result, err := readStdin(1000)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != content {
			t.Errorf("expected %q, got %q", content, result)
		}
	})

	t.Run("exceeds limit", func(t *testing.T) {
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}
		go func() {
			_, _ = w.WriteString(strings.Repeat("x", 100))
			w.Close()
		}()

		oldStdin := os.Stdin
		os.Stdin = r
		defer func() { os.Stdin = oldStdin }()

		if _, err = readStdin(50); err == nil {
			t.Error("expected error for content exceeding limit, got nil")
		}
	})
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
