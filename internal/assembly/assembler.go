package assembly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/brief/internal/budget"
	"github.com/hpungsan/brief/internal/cache"
	"github.com/hpungsan/brief/internal/errors"
	"github.com/hpungsan/brief/internal/facts"
	"github.com/hpungsan/brief/internal/history"
	"github.com/hpungsan/brief/internal/logging"
	"github.com/hpungsan/brief/internal/sixw"
)

// Options configures an Assembler. The zero value is usable.
type Options struct {
	// Cache memoizes bundles. Nil means no caching.
	Cache cache.Cache[*Bundle]

	// Facts are consulted on every build.
	Facts []facts.Provider

	// FactTimeout bounds each provider call. Zero means no bound.
	FactTimeout time.Duration

	// Files backs history embeds whose activity carried no snapshot.
	Files history.FileSource

	// RoleSections overrides DefaultRoleSections per role.
	RoleSections map[string][]Section

	Logger *logging.Logger
}

// Assembler produces context bundles.
type Assembler struct {
	records    RecordStore
	activities ActivityStore
	opts       Options
	history    *history.Builder
}

// New creates an Assembler over the given stores.
func New(records RecordStore, activities ActivityStore, opts Options) *Assembler {
	if opts.Cache == nil {
		opts.Cache = cache.Null[*Bundle]{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Assembler{
		records:    records,
		activities: activities,
		opts:       opts,
		history:    history.NewBuilder(opts.Files),
	}
}

// Request asks for the bundle of one task.
type Request struct {
	TaskID    int64
	Capacity  int
	AgentRole string
}

// CacheKey returns the cache key for r.
func (r Request) CacheKey() string {
	role := NormalizeRole(r.AgentRole)
	if role == "" {
		role = "default"
	}
	return fmt.Sprintf("task:%d/role:%s/capacity:%d", r.TaskID, role, r.Capacity)
}

// Assemble resolves, merges, budgets, and renders the context for a task.
// Only NOT_FOUND, MALFORMED, INVALID_REQUEST, CANCELLED and INTERNAL are
// returned as errors; every other problem is a warning on the bundle.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Bundle, error) {
	if req.TaskID <= 0 {
		return nil, errors.NewInvalidRequest("task_id must be positive")
	}
	if req.Capacity <= 0 {
		return nil, errors.NewInvalidRequest("capacity must be positive")
	}

	start := time.Now()
	l, err := a.load(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	key := req.CacheKey()
	fp := l.fingerprint()

	bundle, out, err := cache.GetOrBuild(ctx, a.opts.Cache, key, fp, func(ctx context.Context) (*Bundle, error) {
		return a.build(ctx, req, l, key, fp)
	})
	if err != nil {
		return nil, err
	}
	if out.Err != nil {
		a.opts.Logger.Warn("cache unavailable", "key", key, "error", out.Err.Error())
	}

	a.opts.Logger.Debug("assembled",
		"task", req.TaskID,
		"role", NormalizeRole(req.AgentRole),
		"cache_hit", out.Hit,
		"tokens", bundle.TokensUsed,
		"files", strings.Join(bundle.EmbeddedPaths(), ","),
		"warnings", len(bundle.Warnings),
		"elapsed", time.Since(start).String(),
	)
	return bundle, nil
}

// Effective resolves a task and merges its 6W context without touching
// history, facts or the cache.
func (a *Assembler) Effective(ctx context.Context, taskID int64) (*Chain, *sixw.EffectiveContext, []string, error) {
	if taskID <= 0 {
		return nil, nil, nil, errors.NewInvalidRequest("task_id must be positive")
	}
	l, err := a.load(ctx, taskID)
	if err != nil {
		return nil, nil, nil, err
	}
	ec, err := sixw.Merge(l.project, l.workItem, l.task)
	if err != nil {
		return nil, nil, nil, err
	}
	warnings := l.missingWarnings()
	if ec.Band == sixw.BandRed {
		warnings = append(warnings, redWarning(ec))
	}
	return l.chain, ec, warnings, nil
}

// loaded is everything read before the cache is consulted.
type loaded struct {
	chain     *Chain
	project   *sixw.ContextRecord
	workItem  *sixw.ContextRecord
	task      *sixw.ContextRecord
	watermark time.Time
}

func (a *Assembler) load(ctx context.Context, taskID int64) (*loaded, error) {
	chain, err := a.records.ResolveTask(ctx, taskID)
	if err != nil {
		return nil, storeError(ctx, err)
	}

	l := &loaded{chain: chain}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		l.project, err = a.records.ContextRecord(gctx, sixw.EntityProject, chain.Project.ID)
		return err
	})
	g.Go(func() (err error) {
		l.workItem, err = a.records.ContextRecord(gctx, sixw.EntityWorkItem, chain.WorkItem.ID)
		return err
	})
	g.Go(func() (err error) {
		l.task, err = a.records.ContextRecord(gctx, sixw.EntityTask, chain.Task.ID)
		return err
	})
	g.Go(func() (err error) {
		l.watermark, err = a.activities.ActivityWatermark(gctx, chain.WorkItem.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, storeError(ctx, err)
	}
	return l, nil
}

func (l *loaded) fingerprint() cache.Fingerprint {
	return cache.NewFingerprint(
		l.chain.Project.UpdatedAt,
		l.chain.WorkItem.UpdatedAt,
		l.chain.Task.UpdatedAt,
		recordStamp(l.project),
		recordStamp(l.workItem),
		recordStamp(l.task),
		l.watermark,
	)
}

func (l *loaded) missingWarnings() []string {
	var out []string
	for _, lv := range []struct {
		kind sixw.EntityType
		rec  *sixw.ContextRecord
		id   int64
	}{
		{sixw.EntityTask, l.task, l.chain.Task.ID},
		{sixw.EntityWorkItem, l.workItem, l.chain.WorkItem.ID},
		{sixw.EntityProject, l.project, l.chain.Project.ID},
	} {
		if lv.rec == nil {
			out = append(out, fmt.Sprintf("no 6W context recorded for %s #%d", lv.kind.Label(), lv.id))
		}
	}
	return out
}

func recordStamp(r *sixw.ContextRecord) time.Time {
	if r == nil {
		return time.Time{}
	}
	return r.UpdatedAt
}

func (a *Assembler) build(ctx context.Context, req Request, l *loaded, key string, fp cache.Fingerprint) (*Bundle, error) {
	warnings := l.missingWarnings()

	ec, err := sixw.Merge(l.project, l.workItem, l.task)
	if err != nil {
		return nil, err
	}
	if ec.Band == sixw.BandRed {
		warnings = append(warnings, redWarning(ec))
	}

	alloc := budget.Allocate(req.Capacity)
	if alloc.BelowMinimum {
		warnings = append(warnings, fmt.Sprintf("capacity %d is below the %d-token minimum; overhead floor applied", req.Capacity, budget.MinViableCapacity))
	}

	var (
		activities   []history.SessionActivity
		gathered     []facts.Fact
		factWarnings []string
	)
	scope := facts.Scope{
		ProjectID:  l.chain.Project.ID,
		WorkItemID: l.chain.WorkItem.ID,
		TaskID:     l.chain.Task.ID,
		Role:       NormalizeRole(req.AgentRole),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		activities, err = a.activities.Activities(gctx, l.chain.WorkItem.ID)
		return err
	})
	g.Go(func() error {
		gathered, factWarnings = facts.Gather(gctx, a.opts.Facts, scope, a.opts.FactTimeout)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, storeError(ctx, err)
	}
	warnings = append(warnings, factWarnings...)

	hist := a.history.Build(activities, alloc.Sub.History)
	if hist.SessionsExcluded > 0 {
		warnings = append(warnings, fmt.Sprintf("%d older session(s) excluded to fit the history budget", hist.SessionsExcluded))
	}
	if len(hist.FilesMissing) > 0 {
		warnings = append(warnings, "files unavailable: "+strings.Join(hist.FilesMissing, ", "))
	}

	a.opts.Logger.Debug("history compiled",
		"task", req.TaskID,
		"sessions", hist.SessionsIncluded,
		"embedded", strings.Join(hist.FilesEmbedded(), ","),
		"deferred", strings.Join(hist.FilesSkipped(), ","),
	)

	files, skipped := secondChance(hist.Skipped, alloc.Sub.Files)
	if len(skipped) > 0 {
		warnings = append(warnings, "files skipped for budget: "+strings.Join(skipped, ", "))
	}

	sixwCost := budget.EstimateTokens(renderSixW(ec))
	if sixwCost > alloc.Sub.Metadata {
		warnings = append(warnings, fmt.Sprintf("6W context uses %d tokens, over the %d-token metadata budget", sixwCost, alloc.Sub.Metadata))
	}
	metaLeft := max(alloc.Sub.Metadata-sixwCost, 0)
	kept, dropped := facts.Fit(gathered, metaLeft, func(f facts.Fact) int {
		return budget.EstimateTokens(renderFact(f))
	})
	if len(dropped) > 0 {
		names := make([]string, len(dropped))
		for i, f := range dropped {
			names[i] = f.Name
		}
		warnings = append(warnings, "facts dropped for budget: "+strings.Join(names, ", "))
	}

	sections, known := SectionsFor(req.AgentRole, a.opts.RoleSections)
	if !known {
		warnings = append(warnings, fmt.Sprintf("unknown agent role %q; including all sections", req.AgentRole))
	}

	b := &Bundle{
		TaskID:           l.chain.Task.ID,
		TaskTitle:        l.chain.Task.Title,
		WorkItemID:       l.chain.WorkItem.ID,
		WorkItemTitle:    l.chain.WorkItem.Title,
		ProjectID:        l.chain.Project.ID,
		ProjectTitle:     l.chain.Project.Title,
		AgentRole:        NormalizeRole(req.AgentRole),
		Context:          ec,
		History:          hist.Text,
		Files:            files,
		Facts:            kept,
		Warnings:         warnings,
		Allocation:       alloc,
		SessionsIncluded: hist.SessionsIncluded,
		SessionsExcluded: hist.SessionsExcluded,
		CacheKey:         key,
		Fingerprint:      fp.Key(),
		historyFiles:     toEmbedded(hist.Embedded),
	}
	b.project(sections)
	return b, nil
}

// secondChance fits files that missed the history budget into the file
// budget, newest reference first. It returns the embedded files and the
// paths that still did not fit.
func secondChance(refs []history.FileRef, fileBudget int) ([]EmbeddedFile, []string) {
	var embedded []EmbeddedFile
	var skipped []string
	remaining := fileBudget
	for _, r := range refs {
		if r.Tokens > remaining {
			skipped = append(skipped, r.Path)
			continue
		}
		remaining -= r.Tokens
		embedded = append(embedded, EmbeddedFile{Path: r.Path, SessionID: r.SessionID, Content: r.Content, Tokens: r.Tokens})
	}
	return embedded, skipped
}

func toEmbedded(refs []history.FileRef) []EmbeddedFile {
	if len(refs) == 0 {
		return nil
	}
	out := make([]EmbeddedFile, len(refs))
	for i, r := range refs {
		out[i] = EmbeddedFile{Path: r.Path, SessionID: r.SessionID, Content: r.Content, Tokens: r.Tokens}
	}
	return out
}

func redWarning(ec *sixw.EffectiveContext) string {
	missing := make([]string, len(ec.Missing))
	for i, f := range ec.Missing {
		missing[i] = string(f)
	}
	msg := fmt.Sprintf("6W confidence %.2f is %s", ec.Confidence, ec.Band)
	if len(missing) > 0 {
		msg += "; missing: " + strings.Join(missing, ", ")
	}
	return msg
}

// storeError maps collaborator failures onto structured errors.
func storeError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.NewCancelled("assemble")
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	return errors.NewInternal(err)
}
