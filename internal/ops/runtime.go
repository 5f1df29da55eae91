package ops

import (
	"database/sql"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/hpungsan/brief/internal/assembly"
	"github.com/hpungsan/brief/internal/cache"
	"github.com/hpungsan/brief/internal/config"
	"github.com/hpungsan/brief/internal/db"
	"github.com/hpungsan/brief/internal/errors"
	"github.com/hpungsan/brief/internal/facts"
	"github.com/hpungsan/brief/internal/history"
	"github.com/hpungsan/brief/internal/logging"
)

// Runtime holds the long-lived collaborators shared by every surface.
type Runtime struct {
	DB        *sql.DB
	Config    *config.Config
	Cache     cache.Cache[*assembly.Bundle]
	Assembler *assembly.Assembler
	Logger    *logging.Logger
}

// RuntimeOptions tunes NewRuntime. The zero value reads from the OS
// filesystem relative to the working directory.
type RuntimeOptions struct {
	// Root is the repository root. Relative facts files and workspace_root
	// resolve against it.
	Root string

	// Fs defaults to the OS filesystem.
	Fs afero.Fs

	Logger *logging.Logger
}

// NewRuntime wires the assembler from configuration: the cache backend, the
// YAML fact files and the workspace file source.
func NewRuntime(database *sql.DB, cfg *config.Config, opts RuntimeOptions) (*Runtime, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	c, err := NewCache(database, cfg)
	if err != nil {
		return nil, err
	}
	roles, err := RoleSections(cfg)
	if err != nil {
		return nil, err
	}

	workspace := cfg.WorkspaceRoot
	if workspace == "" {
		workspace = opts.Root
	} else if !filepath.IsAbs(workspace) {
		workspace = filepath.Join(opts.Root, workspace)
	}

	store := db.NewStore(database)
	asm := assembly.New(store, store, assembly.Options{
		Cache:        c,
		Facts:        []facts.Provider{facts.NewFileProvider(opts.Fs, cfg.ResolveFactsFiles(opts.Root)...)},
		FactTimeout:  cfg.FactTimeout(),
		Files:        history.NewWorkspaceSource(opts.Fs, workspace),
		RoleSections: roles,
		Logger:       opts.Logger,
	})

	return &Runtime{
		DB:        database,
		Config:    cfg,
		Cache:     c,
		Assembler: asm,
		Logger:    opts.Logger,
	}, nil
}

// NewCache builds the bundle cache selected by cache_backend.
func NewCache(database *sql.DB, cfg *config.Config) (cache.Cache[*assembly.Bundle], error) {
	switch cfg.CacheBackend {
	case config.CacheMemory, "":
		return cache.NewMemory[*assembly.Bundle](cfg.CacheMaxEntries, cfg.CacheTTL()), nil
	case config.CacheSQLite:
		if database == nil {
			return nil, errors.NewInvalidRequest("sqlite cache backend requires a database")
		}
		return cache.NewSQLite[*assembly.Bundle](database, cfg.CacheMaxEntries, cfg.CacheTTL()), nil
	case config.CacheNone:
		return cache.Null[*assembly.Bundle]{}, nil
	}
	return nil, errors.NewInvalidRequest("cache_backend must be memory, sqlite or none")
}

// RoleSections parses the role_sections overrides.
func RoleSections(cfg *config.Config) (map[string][]assembly.Section, error) {
	if len(cfg.RoleSections) == 0 {
		return nil, nil
	}
	out := make(map[string][]assembly.Section, len(cfg.RoleSections))
	for role, names := range cfg.RoleSections {
		sections := make([]assembly.Section, 0, len(names))
		for _, n := range names {
			s, err := assembly.ParseSection(n)
			if err != nil {
				return nil, err
			}
			sections = append(sections, s)
		}
		out[assembly.NormalizeRole(role)] = sections
	}
	return out, nil
}
