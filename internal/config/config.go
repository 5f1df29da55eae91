package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RepoDir is the per-repository configuration directory name.
const RepoDir = ".brief"

// Cache backends.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheNone   = "none"
)

// Config holds application configuration.
type Config struct {
	// DefaultCapacity is the model capacity used when a request omits one.
	DefaultCapacity int `json:"default_capacity"`

	// CacheBackend selects where assembled bundles are cached: memory, sqlite or none.
	CacheBackend string `json:"cache_backend"`

	// CacheMaxEntries bounds the cache. Least recently used entries go first.
	CacheMaxEntries int `json:"cache_max_entries"`

	// CacheTTLSeconds expires cached bundles. Facts and workspace files are
	// not fingerprinted, so this is also how long an edit to either can take
	// to show up. Must be positive unless CacheBackend is none.
	CacheTTLSeconds int `json:"cache_ttl_seconds"`

	// FactTimeoutMS bounds each fact provider call.
	FactTimeoutMS int `json:"fact_timeout_ms"`

	// FactsFiles are YAML fact files. Relative paths resolve against the workspace root.
	FactsFiles []string `json:"facts_files,omitempty"`

	// WorkspaceRoot is where referenced files are read from when an activity
	// carries no snapshot. Empty means the repository root (or the working
	// directory when there is no repository config).
	WorkspaceRoot string `json:"workspace_root,omitempty"`

	// RoleSections overrides which bundle sections a role receives.
	// Known sections: six_w, rules, tech_stack, history, files.
	RoleSections map[string][]string `json:"role_sections,omitempty"`

	// AssembleRateLimit caps context_assemble MCP calls per second. 0 disables.
	AssembleRateLimit float64 `json:"assemble_rate_limit,omitempty"`

	// AllowedPaths is an allowlist of directories for import.
	// Paths outside ~/.brief/imports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for import.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// LogLevel is one of trace, debug, info, warn, error, off.
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is text or json.
	LogFormat string `json:"log_format,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultCapacity: 200000,
		CacheBackend:    CacheMemory,
		CacheMaxEntries: 256,
		CacheTTLSeconds: 900,
		FactTimeoutMS:   2000,
		FactsFiles:      []string{filepath.Join(RepoDir, "facts.yaml")},
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Validate checks enumerated and numeric fields.
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case CacheMemory, CacheSQLite, CacheNone:
	default:
		return fmt.Errorf("cache_backend must be memory, sqlite or none, got %q", c.CacheBackend)
	}
	if c.DefaultCapacity < 0 || c.CacheMaxEntries < 0 || c.CacheTTLSeconds < 0 || c.FactTimeoutMS < 0 {
		return errors.New("numeric settings must not be negative")
	}
	// Fact and workspace file edits only reach a cached bundle through expiry.
	if c.CacheBackend != CacheNone && c.CacheTTLSeconds == 0 {
		return errors.New("cache_ttl_seconds must be positive unless cache_backend is none")
	}
	if c.AssembleRateLimit < 0 {
		return errors.New("assemble_rate_limit must not be negative")
	}
	return nil
}

// CacheTTL returns CacheTTLSeconds as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// FactTimeout returns FactTimeoutMS as a duration.
func (c *Config) FactTimeout() time.Duration {
	return time.Duration(c.FactTimeoutMS) * time.Millisecond
}

// ResolveFactsFiles returns FactsFiles with relative entries joined to root.
func (c *Config) ResolveFactsFiles(root string) []string {
	out := make([]string, 0, len(c.FactsFiles))
	for _, p := range c.FactsFiles {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		out = append(out, p)
	}
	return out
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.brief.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.brief) and repo (.brief) directories.
// Repo config is found by walking upward from startDir to find the nearest .brief/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	// Defaults, then global, then repo. Fact files are the one list that
	// replaces rather than merges, so a repo can opt out of the default path.
	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if len(repo.FactsFiles) > 0 {
		cfg.FactsFiles = cleanStrings(repo.FactsFiles)
	} else if len(global.FactsFiles) > 0 {
		cfg.FactsFiles = cleanStrings(global.FactsFiles)
	}
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .brief/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	root := FindRepoRoot(startDir)
	if root == "" {
		return ""
	}
	configPath := filepath.Join(root, RepoDir, "config.json")
	if _, err := os.Stat(configPath); err != nil {
		return ""
	}
	return configPath
}

// FindRepoRoot walks upward from startDir to the nearest directory holding a
// .brief directory. Returns empty string if there is none.
func FindRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, RepoDir)); err == nil && info.IsDir() {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	if len(cfg.FactsFiles) > 0 {
		merged.FactsFiles = cleanStrings(cfg.FactsFiles)
	}
	return merged, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated;
// role_sections entries from overlay replace the same role in base.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.DefaultCapacity = pickInt(overlay.DefaultCapacity, base.DefaultCapacity)
	result.CacheMaxEntries = pickInt(overlay.CacheMaxEntries, base.CacheMaxEntries)
	result.CacheTTLSeconds = pickInt(overlay.CacheTTLSeconds, base.CacheTTLSeconds)
	result.FactTimeoutMS = pickInt(overlay.FactTimeoutMS, base.FactTimeoutMS)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.AssembleRateLimit = overlay.AssembleRateLimit
	if result.AssembleRateLimit == 0 {
		result.AssembleRateLimit = base.AssembleRateLimit
	}

	result.CacheBackend = pickString(overlay.CacheBackend, base.CacheBackend)
	result.WorkspaceRoot = pickString(overlay.WorkspaceRoot, base.WorkspaceRoot)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = pickString(overlay.LogFormat, base.LogFormat)

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.FactsFiles = mergeStringSlice(base.FactsFiles, overlay.FactsFiles)

	if len(base.RoleSections)+len(overlay.RoleSections) > 0 {
		result.RoleSections = make(map[string][]string, len(base.RoleSections)+len(overlay.RoleSections))
		for role, secs := range base.RoleSections {
			result.RoleSections[normRole(role)] = cleanStrings(secs)
		}
		for role, secs := range overlay.RoleSections {
			result.RoleSections[normRole(role)] = cleanStrings(secs)
		}
	}

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if s := strings.TrimSpace(overlay); s != "" {
		return s
	}
	return base
}

func normRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func cleanStrings(in []string) []string {
	return mergeStringSlice(in, nil)
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
