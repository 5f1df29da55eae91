package history

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/brief/internal/budget"
)

// Builder selects and renders session history within a token budget.
type Builder struct {
	// Source supplies file content when the referencing activity carries no
	// snapshot. May be nil.
	Source FileSource
}

// NewBuilder creates a Builder. src may be nil.
func NewBuilder(src FileSource) *Builder {
	return &Builder{Source: src}
}

// planned is an activity accepted during collection, with the file embeds
// reserved for it.
type planned struct {
	activity SessionActivity
	block    string
	tokens   int
	files    []plannedFile
}

type plannedFile struct {
	ref   FileRef
	block string
}

// Build compiles activities into history text that never exceeds
// historyBudget tokens.
//
// Collection walks newest to oldest: an activity is kept while its block
// fits, and the first one that does not fit is excluded along with every
// older activity. The first time a path is seen its newest referencing
// activity owns it; the embed is reserved if it fits and skipped otherwise.
// Presentation then renders the kept activities oldest to newest.
func (b *Builder) Build(activities []SessionActivity, historyBudget int) Result {
	if len(activities) == 0 {
		return Result{}
	}
	if historyBudget <= 0 {
		return Result{SessionsExcluded: len(activities)}
	}

	c := b.collect(NewestFirst(activities), historyBudget)
	res := present(c.included)
	res.Skipped = c.skipped
	res.FilesMissing = c.missing
	res.SessionsExcluded = c.excluded
	return res
}

type collection struct {
	included []planned // newest first
	skipped  []FileRef
	missing  []string
	excluded int
}

// collect is the newest-first, budget-bounded pass.
func (b *Builder) collect(sorted []SessionActivity, historyBudget int) collection {
	var c collection
	remaining := historyBudget
	seen := make(map[string]bool)

	for i, act := range sorted {
		block := renderActivity(act)
		cost := budget.EstimateTokens(block)
		if cost > remaining {
			c.excluded = len(sorted) - i
			break
		}
		remaining -= cost
		p := planned{activity: act, block: block, tokens: cost}

		for _, path := range act.paths() {
			if seen[path] {
				continue
			}
			seen[path] = true

			content, ok := b.resolve(act, path)
			if !ok {
				c.missing = append(c.missing, path)
				continue
			}

			fileBlock := RenderFile(path, act.SessionID, content)
			ref := FileRef{
				Path:      path,
				SessionID: act.SessionID,
				Timestamp: act.Timestamp,
				Content:   content,
				Tokens:    budget.EstimateTokens(fileBlock),
			}
			if ref.Tokens > remaining {
				c.skipped = append(c.skipped, ref)
				continue
			}
			remaining -= ref.Tokens
			p.files = append(p.files, plannedFile{ref: ref, block: fileBlock})
		}

		c.included = append(c.included, p)
	}

	return c
}

// present is the chronological rendering pass.
func present(included []planned) Result {
	var sb strings.Builder
	res := Result{SessionsIncluded: len(included)}

	for i := len(included) - 1; i >= 0; i-- {
		p := included[i]
		sb.WriteString(p.block)
		res.TokensUsed += p.tokens
		for _, f := range p.files {
			sb.WriteString(f.block)
			res.TokensUsed += f.ref.Tokens
			res.Embedded = append(res.Embedded, f.ref)
		}
	}

	res.Text = sb.String()
	return res
}

// resolve finds the content for path as of act: the activity's own snapshot,
// else the file source.
func (b *Builder) resolve(act SessionActivity, path string) (string, bool) {
	if content, ok := act.Snapshots[path]; ok {
		return content, true
	}
	if b.Source == nil {
		return "", false
	}
	content, err := b.Source.ReadFile(path)
	if err != nil {
		return "", false
	}
	return content, true
}

// renderActivity renders the block for one activity, trailing blank line included.
func renderActivity(a SessionActivity) string {
	var sb strings.Builder

	role := a.AgentRole
	if role == "" {
		role = "agent"
	}
	fmt.Fprintf(&sb, "### %s · %s · session %s\n", a.Timestamp.UTC().Format("2006-01-02 15:04 UTC"), role, a.SessionID)

	if summary := truncateRunes(strings.TrimSpace(a.Summary), MaxSummaryChars); summary != "" {
		sb.WriteString(summary)
		sb.WriteString("\n")
	}
	if len(a.FilesModified) > 0 {
		fmt.Fprintf(&sb, "Modified: %s\n", strings.Join(a.FilesModified, ", "))
	}
	if len(a.FilesReferenced) > 0 {
		fmt.Fprintf(&sb, "Referenced: %s\n", strings.Join(a.FilesReferenced, ", "))
	}
	sb.WriteString("\n")
	return sb.String()
}

// RenderFile renders an embedded file as a fenced block attributed to the
// session it was taken from. The fence grows past any backtick run in content.
func RenderFile(path, sessionID, content string) string {
	fence := "```"
	for strings.Contains(content, fence) {
		fence += "`"
	}
	lang := strings.TrimPrefix(filepath.Ext(path), ".")

	var sb strings.Builder
	if sessionID != "" {
		fmt.Fprintf(&sb, "#### File: %s (as of session %s)\n", path, sessionID)
	} else {
		fmt.Fprintf(&sb, "#### File: %s\n", path)
	}
	sb.WriteString(fence + lang + "\n")
	sb.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString(fence + "\n\n")
	return sb.String()
}

// truncateRunes shortens s to at most n runes, marking the cut with an ellipsis.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
