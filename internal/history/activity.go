// Package history compiles prior session activity for a work item into a
// token-budgeted, chronologically ordered briefing.
package history

import (
	"sort"
	"time"
)

// MaxSummaryChars is the longest summary an activity may carry.
const MaxSummaryChars = 500

// SessionActivity is one recorded unit of agent work.
type SessionActivity struct {
	SessionID       string    `json:"session_id"`
	WorkItemID      int64     `json:"work_item_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	AgentRole       string    `json:"agent_role"`
	FilesReferenced []string  `json:"files_referenced,omitempty"`
	FilesModified   []string  `json:"files_modified,omitempty"`
	Summary         string    `json:"summary"`

	// Snapshots holds file content as the session saw it, keyed by path.
	Snapshots map[string]string `json:"snapshots,omitempty"`
}

// paths returns the activity's files, modified first, without duplicates.
func (a SessionActivity) paths() []string {
	seen := make(map[string]bool, len(a.FilesModified)+len(a.FilesReferenced))
	out := make([]string, 0, len(a.FilesModified)+len(a.FilesReferenced))
	for _, group := range [][]string{a.FilesModified, a.FilesReferenced} {
		for _, p := range group {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// NewestFirst returns a copy of activities sorted by timestamp, newest first.
// Equal timestamps keep their input order.
func NewestFirst(activities []SessionActivity) []SessionActivity {
	sorted := make([]SessionActivity, len(activities))
	copy(sorted, activities)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	return sorted
}

// FileRef is a file chosen for embedding, tied to the newest activity that
// referenced it.
type FileRef struct {
	Path      string    `json:"path"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"-"`
	Tokens    int       `json:"tokens"`
}

// Result is the output of Builder.Build.
type Result struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`

	// Embedded lists files rendered into Text, in presentation order.
	Embedded []FileRef `json:"embedded,omitempty"`

	// Skipped lists files that did not fit, newest reference first.
	Skipped []FileRef `json:"skipped,omitempty"`

	// FilesMissing lists paths with no snapshot and no readable source.
	FilesMissing []string `json:"files_missing,omitempty"`

	SessionsIncluded int `json:"sessions_included"`
	SessionsExcluded int `json:"sessions_excluded"`
}

// FilesEmbedded returns the embedded paths.
func (r Result) FilesEmbedded() []string {
	return refPaths(r.Embedded)
}

// FilesSkipped returns the skipped paths.
func (r Result) FilesSkipped() []string {
	return refPaths(r.Skipped)
}

func refPaths(refs []FileRef) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Path
	}
	return out
}
