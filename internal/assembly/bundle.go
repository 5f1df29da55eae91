package assembly

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"

	"github.com/hpungsan/brief/internal/budget"
	"github.com/hpungsan/brief/internal/facts"
	"github.com/hpungsan/brief/internal/history"
	"github.com/hpungsan/brief/internal/sixw"
)

// EmbeddedFile is file content carried in a bundle.
type EmbeddedFile struct {
	Path      string `json:"path"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
	Tokens    int    `json:"tokens"`
}

// Bundle is the assembled context for one task and role. Bundles may be
// shared through the cache; treat them as read-only.
type Bundle struct {
	TaskID        int64  `json:"task_id"`
	TaskTitle     string `json:"task_title"`
	WorkItemID    int64  `json:"work_item_id"`
	WorkItemTitle string `json:"work_item_title"`
	ProjectID     int64  `json:"project_id"`
	ProjectTitle  string `json:"project_title"`
	AgentRole     string `json:"agent_role,omitempty"`

	Context *sixw.EffectiveContext `json:"context"`

	// History is the rendered session history, history-owned embeds included.
	History string `json:"history,omitempty"`

	// Files holds embeds that missed the history budget and fit the file budget.
	Files []EmbeddedFile `json:"files,omitempty"`

	// EmbeddedFiles maps every embedded path to its content.
	EmbeddedFiles map[string]string `json:"embedded_files,omitempty"`

	Facts    []facts.Fact `json:"facts,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`

	Allocation       budget.Allocation `json:"allocation"`
	TokensUsed       int               `json:"tokens_used"`
	SessionsIncluded int               `json:"sessions_included"`
	SessionsExcluded int               `json:"sessions_excluded"`

	CacheKey    string    `json:"cache_key"`
	Fingerprint string    `json:"fingerprint"`
	Sections    []Section `json:"sections"`

	historyFiles []EmbeddedFile
}

// Has reports whether s is among the bundle's projected sections.
func (b *Bundle) Has(s Section) bool {
	for _, x := range b.Sections {
		if x == s {
			return true
		}
	}
	return false
}

// project narrows the bundle to sections and recomputes the derived fields.
func (b *Bundle) project(sections []Section) {
	b.Sections = sections

	if !b.Has(SectionHistory) {
		b.History = ""
		b.historyFiles = nil
	}
	if !b.Has(SectionFiles) {
		b.Files = nil
	}

	kept := b.Facts[:0:0]
	for _, f := range b.Facts {
		if (f.Kind == facts.KindRule && b.Has(SectionRules)) ||
			(f.Kind == facts.KindTechStack && b.Has(SectionTechStack)) {
			kept = append(kept, f)
		}
	}
	b.Facts = kept
	if len(b.Facts) == 0 {
		b.Facts = nil
	}

	b.EmbeddedFiles = nil
	for _, group := range [][]EmbeddedFile{b.historyFiles, b.Files} {
		for _, f := range group {
			if b.EmbeddedFiles == nil {
				b.EmbeddedFiles = make(map[string]string)
			}
			b.EmbeddedFiles[f.Path] = f.Content
		}
	}

	b.TokensUsed = 0
	for _, s := range b.Sections {
		b.TokensUsed += budget.EstimateTokens(b.SectionText(s))
	}
}

// SectionText renders one section, or "" when it has no content.
func (b *Bundle) SectionText(s Section) string {
	switch s {
	case SectionSixW:
		return renderSixW(b.Context)
	case SectionRules:
		return renderFacts("Rules", b.Facts, facts.KindRule)
	case SectionTechStack:
		return renderFacts("Tech stack", b.Facts, facts.KindTechStack)
	case SectionHistory:
		if b.History == "" {
			return ""
		}
		return "## History\n\n" + b.History
	case SectionFiles:
		if len(b.Files) == 0 {
			return ""
		}
		var sb strings.Builder
		sb.WriteString("## Files\n\n")
		for _, f := range b.Files {
			sb.WriteString(history.RenderFile(f.Path, f.SessionID, f.Content))
		}
		return sb.String()
	}
	return ""
}

// Text renders the bundle as markdown. Output is deterministic for a given
// bundle.
func (b *Bundle) Text() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Task #%d: %s\n\n", b.TaskID, b.TaskTitle)
	fmt.Fprintf(&sb, "Project: %s · Work item: %s\n", b.ProjectTitle, b.WorkItemTitle)
	if b.AgentRole != "" {
		fmt.Fprintf(&sb, "Role: %s\n", b.AgentRole)
	}
	fmt.Fprintf(&sb, "Tokens: %s used of %s content budget (capacity %s)\n",
		humanize.Comma(int64(b.TokensUsed)),
		humanize.Comma(int64(b.Allocation.Content)),
		humanize.Comma(int64(b.Allocation.Total)))
	if b.SessionsIncluded+b.SessionsExcluded > 0 {
		fmt.Fprintf(&sb, "Sessions: %d included, %d excluded\n", b.SessionsIncluded, b.SessionsExcluded)
	}
	sb.WriteString("\n")

	for _, s := range b.Sections {
		if text := b.SectionText(s); text != "" {
			sb.WriteString(text)
			if !strings.HasSuffix(text, "\n\n") {
				sb.WriteString("\n")
			}
		}
	}

	if len(b.Warnings) > 0 {
		sb.WriteString("## Warnings\n")
		for _, w := range b.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}

	return sb.String()
}

// HTML renders Text as HTML.
func (b *Bundle) HTML() (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(b.Text()), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// EmbeddedPaths returns the embedded paths in sorted order.
func (b *Bundle) EmbeddedPaths() []string {
	paths := make([]string, 0, len(b.EmbeddedFiles))
	for p := range b.EmbeddedFiles {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func renderSixW(ec *sixw.EffectiveContext) string {
	if ec == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Context (6W) · confidence %.2f %s\n", ec.Confidence, ec.Band)
	for _, f := range sixw.Fields {
		v, ok := ec.Values[f]
		if !ok {
			fmt.Fprintf(&sb, "- **%s**: (missing)\n", f.Title())
			continue
		}
		src, _ := ec.Source(f)
		fmt.Fprintf(&sb, "- **%s**: %s (from %s)\n", f.Title(), v, src.Label())
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderFacts(title string, list []facts.Fact, kind facts.Kind) string {
	var sb strings.Builder
	for _, f := range list {
		if f.Kind != kind {
			continue
		}
		if sb.Len() == 0 {
			fmt.Fprintf(&sb, "## %s\n", title)
		}
		sb.WriteString(renderFact(f))
	}
	if sb.Len() == 0 {
		return ""
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderFact(f facts.Fact) string {
	return fmt.Sprintf("- **%s**: %s\n", f.Name, f.Text)
}
