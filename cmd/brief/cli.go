package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/brief/internal/assembly"
	"github.com/hpungsan/brief/internal/cache"
	"github.com/hpungsan/brief/internal/errors"
	"github.com/hpungsan/brief/internal/mcp"
	"github.com/hpungsan/brief/internal/ops"
	"github.com/hpungsan/brief/internal/sixw"
)

// maxSummaryInput bounds what activity record reads from stdin.
const maxSummaryInput = 64 << 10

// newCLIApp creates the CLI application with all commands.
func newCLIApp(rt *ops.Runtime) *cli.App {
	app := &cli.App{
		Name:    "brief",
		Usage:   "Token-budgeted context bundles for coding agents",
		Version: Version,
		Commands: []*cli.Command{
			assembleCmd(rt),
			effectiveCmd(rt),
			allocateCmd(rt),
			contextCmd(rt),
			activityCmd(rt),
			importCmd(rt),
			cacheCmd(rt),
			serveCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// assembleCmd creates the assemble command.
func assembleCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "assemble",
		Usage: "Assemble the context bundle for a task",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "task", Aliases: []string{"t"}, Required: true, Usage: "Task ID"},
			&cli.IntFlag{Name: "capacity", Aliases: []string{"c"}, Usage: "Model context capacity in tokens (default: config default_capacity)"},
			&cli.StringFlag{Name: "role", Aliases: []string{"r"}, Usage: "Agent role: implementer|planner|reviewer|tester"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "text", Usage: "Output format: text|json|html"},
		},
		Action: func(c *cli.Context) error {
			format := c.String("format")
			if format != "text" && format != "json" && format != "html" {
				return outputError(errors.NewInvalidRequest("format must be text, json or html"))
			}

			bundle, err := ops.Assemble(c.Context, rt, ops.AssembleInput{
				TaskID:    c.Int64("task"),
				Capacity:  c.Int("capacity"),
				AgentRole: c.String("role"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputBundle(bundle, format)
		},
	}
}

// effectiveCmd creates the effective command.
func effectiveCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "effective",
		Usage: "Show a task's merged 6W context and confidence",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "task", Aliases: []string{"t"}, Required: true, Usage: "Task ID"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Effective(c.Context, rt, ops.EffectiveInput{TaskID: c.Int64("task")})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// allocateCmd creates the allocate command.
func allocateCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "allocate",
		Usage: "Show the token budget split for a model capacity",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "capacity", Aliases: []string{"c"}, Usage: "Model context capacity in tokens (default: config default_capacity)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Allocate(rt.Config, ops.AllocateInput{Capacity: c.Int("capacity")})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// contextCmd creates the context command group.
func contextCmd(rt *ops.Runtime) *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "entity", Aliases: []string{"e"}, Required: true, Usage: "Entity type: project|work_item|task"},
		&cli.Int64Flag{Name: "id", Required: true, Usage: "Entity ID"},
	}
	for _, f := range sixw.Fields {
		flags = append(flags, &cli.StringFlag{
			Name:  string(f),
			Usage: fmt.Sprintf("Set %q (empty string clears it)", f),
		})
	}

	return &cli.Command{
		Name:  "context",
		Usage: "Manage 6W context records",
		Subcommands: []*cli.Command{
			{
				Name:  "set",
				Usage: "Set 6W fields on a project, work item or task; unset flags are kept",
				Flags: flags,
				Action: func(c *cli.Context) error {
					values := make(map[string]any)
					for _, f := range sixw.Fields {
						if c.IsSet(string(f)) {
							values[string(f)] = c.String(string(f))
						}
					}

					output, err := ops.SetContext(c.Context, rt.DB, ops.SetContextInput{
						EntityType: c.String("entity"),
						EntityID:   c.Int64("id"),
						Values:     values,
					})
					if err != nil {
						return outputError(err)
					}

					return outputJSON(output)
				},
			},
		},
	}
}

// activityCmd creates the activity command group.
func activityCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "activity",
		Usage: "Manage session activity history",
		Subcommands: []*cli.Command{
			{
				Name:  "record",
				Usage: "Record a session activity (summary from --summary or stdin)",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "work-item", Aliases: []string{"w"}, Required: true, Usage: "Work item ID"},
					&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Session ID (default: new ULID)"},
					&cli.StringFlag{Name: "role", Aliases: []string{"r"}, Required: true, Usage: "Agent role"},
					&cli.StringFlag{Name: "summary", Usage: "What the session did (at most 500 characters)"},
					&cli.StringFlag{Name: "referenced", Usage: "Comma-separated paths the session read"},
					&cli.StringFlag{Name: "modified", Usage: "Comma-separated paths the session changed"},
					&cli.StringFlag{Name: "at", Usage: "Activity time, RFC 3339 (default: now)"},
				},
				Action: func(c *cli.Context) error {
					summary := c.String("summary")
					if summary == "" && stdinHasData() {
						text, err := readStdin(maxSummaryInput)
						if err != nil {
							return outputError(errors.NewInvalidRequest(err.Error()))
						}
						summary = text
					}

					input := ops.RecordActivityInput{
						WorkItemID:      c.Int64("work-item"),
						SessionID:       c.String("session"),
						AgentRole:       c.String("role"),
						Summary:         summary,
						FilesReferenced: parseList(c.String("referenced")),
						FilesModified:   parseList(c.String("modified")),
					}
					if at := c.String("at"); at != "" {
						ts, err := time.Parse(time.RFC3339, at)
						if err != nil {
							return outputError(errors.NewInvalidRequest(fmt.Sprintf("invalid --at: %v", err)))
						}
						input.Timestamp = &ts
					}

					output, err := ops.RecordActivity(c.Context, rt.DB, input)
					if err != nil {
						return outputError(err)
					}

					return outputJSON(output)
				},
			},
		},
	}
}

// importCmd creates the import command.
func importCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import projects, work items, tasks and history from a YAML or JSON seed file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Seed file path (must be in ~/.brief/imports or allowed_paths)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, rt.DB, rt.Config, ops.ImportInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// cacheCmd creates the cache command group.
func cacheCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the bundle cache",
		Subcommands: []*cli.Command{
			{
				Name:  "purge",
				Usage: "Delete every persisted cached bundle",
				Action: func(c *cli.Context) error {
					// A CLI process never shares the server's in-memory cache,
					// so only the persisted table has anything to drop.
					persisted := cache.NewSQLite[*assembly.Bundle](rt.DB, 0, 0)
					output, err := ops.PurgeCache(c.Context, persisted)
					if err != nil {
						return outputError(err)
					}

					return outputJSON(output)
				},
			},
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			return mcp.Run(rt, Version)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputBundle writes a bundle to stdout in the requested format.
func outputBundle(b *assembly.Bundle, format string) error {
	switch format {
	case "json":
		return outputJSON(b)
	case "html":
		html, err := b.HTML()
		if err != nil {
			return outputError(errors.NewInternal(err))
		}
		_, err = io.WriteString(os.Stdout, html)
		return err
	}
	_, err := io.WriteString(os.Stdout, b.Text())
	return err
}

// outputError formats error for CLI.
func outputError(err error) error {
	if bErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", bErr.Code, bErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseList splits a comma-separated string into trimmed, non-empty items.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		item := strings.TrimSpace(p)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
