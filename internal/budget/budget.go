// Package budget splits a model's token capacity into the sub-budgets used
// when assembling a context bundle, and provides the shared token estimator.
package budget

import (
	"math"
	"strings"
)

// Top-level split of total capacity, in percent.
const (
	ContentPercent  = 60
	ResponsePercent = 20
	OverheadPercent = 20
)

// Split of content tokens, in percent.
const (
	FilesPercent    = 50
	HistoryPercent  = 30
	MetadataPercent = 20
)

const (
	// MinViableCapacity is the smallest capacity that gets the normal split.
	MinViableCapacity = 1000

	// MinOverheadTokens is the overhead floor applied below MinViableCapacity.
	MinOverheadTokens = 200
)

// SubAllocation divides content tokens between bundle sections.
type SubAllocation struct {
	Files    int `json:"file_tokens"`
	History  int `json:"history_tokens"`
	Metadata int `json:"metadata_tokens"`
}

// Allocation is the token plan for one assembly call. Never persisted.
type Allocation struct {
	Total    int           `json:"total_tokens"`
	Content  int           `json:"content_tokens"`
	Response int           `json:"response_tokens"`
	Overhead int           `json:"overhead_tokens"`
	Sub      SubAllocation `json:"sub_allocation"`

	// BelowMinimum is set when Total < MinViableCapacity and the overhead
	// floor was applied. Callers surface it as a warning.
	BelowMinimum bool `json:"below_minimum,omitempty"`
}

// Allocate computes the budget plan for totalCapacity. Content, Response and
// Overhead always sum to Total (rounding remainder goes to Content), and the
// sub-allocation always sums to Content (remainder goes to Files).
func Allocate(totalCapacity int) Allocation {
	total := max(totalCapacity, 0)

	a := Allocation{Total: total}
	a.Response = total * ResponsePercent / 100
	a.Overhead = total * OverheadPercent / 100

	if total < MinViableCapacity {
		a.BelowMinimum = true
		a.Overhead = min(max(a.Overhead, MinOverheadTokens), total)
		if a.Response+a.Overhead > total {
			a.Response = total - a.Overhead
		}
	}

	a.Content = total - a.Response - a.Overhead

	a.Sub.History = a.Content * HistoryPercent / 100
	a.Sub.Metadata = a.Content * MetadataPercent / 100
	a.Sub.Files = a.Content - a.Sub.History - a.Sub.Metadata

	return a
}

// EstimateTokens estimates token count using a word-based heuristic
// (1.3 tokens per whitespace-separated word, rounded up).
func EstimateTokens(text string) int {
	words := strings.Fields(text)
	return int(math.Ceil(float64(len(words)) * 1.3))
}
