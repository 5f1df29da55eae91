// Package facts supplies project rules and tech-stack notes to the assembler.
// Facts come from providers that the assembler consults concurrently; a slow
// or failing provider costs a warning, never the whole bundle.
package facts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Kind separates rules from tech-stack notes. Each renders in its own section.
type Kind string

const (
	KindRule      Kind = "rule"
	KindTechStack Kind = "tech_stack"
)

// Fact is one unit of project guidance.
type Fact struct {
	Name     string   `yaml:"name" json:"name"`
	Kind     Kind     `yaml:"kind,omitempty" json:"kind"`
	Text     string   `yaml:"text" json:"text"`
	Priority int      `yaml:"priority,omitempty" json:"priority"`
	Roles    []string `yaml:"roles,omitempty" json:"roles,omitempty"`
}

// AppliesTo reports whether the fact targets role. Facts without roles apply
// to everyone, as does an empty role.
func (f Fact) AppliesTo(role string) bool {
	if len(f.Roles) == 0 || role == "" {
		return true
	}
	for _, r := range f.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Scope identifies what the facts are being gathered for.
type Scope struct {
	ProjectID  int64
	WorkItemID int64
	TaskID     int64
	Role       string
}

// Provider yields facts for a scope.
type Provider interface {
	Name() string
	Facts(ctx context.Context, scope Scope) ([]Fact, error)
}

// Static is a fixed fact list.
type Static struct {
	Label string
	List  []Fact
}

func (s Static) Name() string {
	if s.Label == "" {
		return "static"
	}
	return s.Label
}

func (s Static) Facts(_ context.Context, scope Scope) ([]Fact, error) {
	var out []Fact
	for _, f := range s.List {
		if f.AppliesTo(scope.Role) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Sort orders facts by priority (highest first), then kind, then name.
func Sort(list []Fact) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Name < b.Name
	})
}

// Fit keeps the longest prefix of list whose total cost fits within budget.
// list must already be sorted; everything from the first misfit on is dropped
// so a lower-priority fact never displaces a higher one.
func Fit(list []Fact, budget int, cost func(Fact) int) (kept, dropped []Fact) {
	remaining := budget
	for i, f := range list {
		c := cost(f)
		if c > remaining {
			return list[:i], list[i:]
		}
		remaining -= c
	}
	return list, nil
}

// Gather queries providers concurrently, each bounded by timeout when
// timeout > 0. Provider failures become warnings. The result is sorted and
// deduplicated by kind and name, keeping the higher-priority copy.
func Gather(ctx context.Context, providers []Provider, scope Scope, timeout time.Duration) ([]Fact, []string) {
	results := make([][]Fact, len(providers))
	problems := make([]string, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			pctx := gctx
			if timeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(gctx, timeout)
				defer cancel()
			}

			list, err := call(pctx, p, scope)
			if err != nil {
				problems[i] = fmt.Sprintf("facts provider %s: %v", p.Name(), err)
				return nil
			}
			results[i] = list
			return nil
		})
	}
	_ = g.Wait()

	var warnings []string
	for _, w := range problems {
		if w != "" {
			warnings = append(warnings, w)
		}
	}

	return dedupe(results), warnings
}

// call runs p.Facts and abandons it once ctx is done, so a provider that
// ignores its context still cannot stall the caller.
func call(ctx context.Context, p Provider, scope Scope) ([]Fact, error) {
	type result struct {
		list []Fact
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		list, err := p.Facts(ctx, scope)
		ch <- result{list, err}
	}()

	select {
	case r := <-ch:
		return r.list, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func dedupe(results [][]Fact) []Fact {
	type key struct {
		kind Kind
		name string
	}
	best := make(map[key]int)
	var out []Fact
	for _, list := range results {
		for _, f := range list {
			if f.Kind == "" {
				f.Kind = KindRule
			}
			k := key{f.Kind, strings.ToLower(f.Name)}
			if idx, ok := best[k]; ok {
				if f.Priority > out[idx].Priority {
					out[idx] = f
				}
				continue
			}
			best[k] = len(out)
			out = append(out, f)
		}
	}
	Sort(out)
	return out
}
