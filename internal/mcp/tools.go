package mcp

import "github.com/mark3labs/mcp-go/mcp"

var assembleToolDef = mcp.NewTool("context_assemble",
	mcp.WithDescription("Assemble the context bundle for a task: merged 6W context, rules, tech stack, "+
		"session history and file contents, fitted to the model's token capacity."),
	mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task to assemble context for")),
	mcp.WithNumber("capacity", mcp.Description("Model context capacity in tokens (default: config default_capacity)")),
	mcp.WithString("agent_role", mcp.Description("Role of the requesting agent; selects bundle sections (implementer, planner, reviewer, tester)")),
	mcp.WithString("format", mcp.Enum("json", "text"), mcp.Description("json (default) returns the structured bundle, text returns markdown")),
)

var effectiveToolDef = mcp.NewTool("context_effective",
	mcp.WithDescription("Resolve a task's effective 6W context and confidence score without history."),
	mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task to resolve")),
)

var setContextToolDef = mcp.NewTool("context_set",
	mcp.WithDescription("Set 6W fields (who, what, when, where, why, how) on a project, work item or task. "+
		"Omitted fields are kept; an empty string clears a field."),
	mcp.WithString("entity_type", mcp.Required(), mcp.Enum("project", "work_item", "task"), mcp.Description("Level of the hierarchy")),
	mcp.WithNumber("entity_id", mcp.Required(), mcp.Description("Entity id")),
	mcp.WithObject("six_w", mcp.Required(), mcp.Description("Field values; lists and maps are flattened to text")),
)

var recordActivityToolDef = mcp.NewTool("activity_record",
	mcp.WithDescription("Record what an agent session did on a work item. Later assemblies include it in history."),
	mcp.WithNumber("work_item_id", mcp.Required(), mcp.Description("Work item the session worked on")),
	mcp.WithString("session_id", mcp.Description("Session id (default: a new ULID, returned in the result)")),
	mcp.WithString("agent_role", mcp.Required(), mcp.Description("Role of the agent")),
	mcp.WithString("summary", mcp.Required(), mcp.Description("What happened, at most 500 characters")),
	mcp.WithArray("files_referenced", mcp.Description("Paths the session read")),
	mcp.WithArray("files_modified", mcp.Description("Paths the session changed")),
	mcp.WithObject("snapshots", mcp.Description("Path to content as the session saw it")),
)

var allocateToolDef = mcp.NewTool("budget_allocate",
	mcp.WithDescription("Show how a model capacity is split into content, response and overhead tokens."),
	mcp.WithNumber("capacity", mcp.Description("Model context capacity in tokens (default: config default_capacity)")),
)

var purgeCacheToolDef = mcp.NewTool("cache_purge",
	mcp.WithDescription("Drop every cached context bundle."),
)
