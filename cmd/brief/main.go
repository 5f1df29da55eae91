package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/brief/internal/config"
	"github.com/hpungsan/brief/internal/db"
	"github.com/hpungsan/brief/internal/logging"
	"github.com/hpungsan/brief/internal/mcp"
	"github.com/hpungsan/brief/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"assemble": true, "effective": true, "allocate": true,
	"context": true, "activity": true, "import": true,
	"cache": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _          _       __
  | |__  _ __(_) ___ / _|
  | '_ \| '__| |/ _ \ |_
  | |_) | |  | |  __/  _|
  |_.__/|_|  |_|\___|_|

  Token-budgeted context bundles for coding agents

  Usage: brief <command> [options]
         brief --help

  MCP server mode requires piped input.`)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(os.Args) >= 2 && !isCLIMode() && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'brief --help' for usage.\n")
		os.Exit(1)
	}

	rt, closeDB, err := setup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	if isCLIMode() {
		app := newCLIApp(rt)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			closeDB()
			os.Exit(1)
		}
		return
	}

	// MCP server mode (default)
	if err := mcp.Run(rt, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		closeDB()
		os.Exit(1)
	}
}

// setup opens ~/.brief/brief.db, loads global and repo configuration and
// wires the runtime shared by the CLI and the MCP server.
func setup() (*ops.Runtime, func(), error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, fmt.Errorf("could not determine home directory: %w", err)
	}
	baseDir := filepath.Join(homeDir, config.RepoDir)

	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("could not determine working directory: %w", err)
	}

	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid logging config: %w", err)
	}
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", "tools", strings.Join(unknown, ", "))
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	root := config.FindRepoRoot(cwd)
	if root == "" {
		root = cwd
	}
	logger.Debug("runtime configured", "root", root, "cache_backend", cfg.CacheBackend)

	rt, err := ops.NewRuntime(database, cfg, ops.RuntimeOptions{Root: root, Logger: logger})
	if err != nil {
		database.Close()
		return nil, nil, err
	}

	var closed bool
	closeDB := func() {
		if !closed {
			closed = true
			database.Close()
		}
	}
	return rt, closeDB, nil
}
