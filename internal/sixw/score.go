package sixw

import (
	"math"
	"regexp"
	"strings"
)

// Band classifies how complete an effective context is.
type Band string

const (
	BandRed    Band = "RED"
	BandYellow Band = "YELLOW"
	BandGreen  Band = "GREEN"
)

// Band thresholds. Fixed for the core; callers never pass their own.
const (
	GreenThreshold  = 0.85
	YellowThreshold = 0.70
)

// Richness heuristics. Tunable, validated by the score property tests.
const (
	// MinRichWords is the word count at which a field earns its full weight.
	MinRichWords = 3

	// ThinMultiplier scales the weight of a filled field below MinRichWords.
	ThinMultiplier = 0.6
)

// fieldWeight is the equal per-field share of the total score.
var fieldWeight = 1.0 / float64(len(Fields))

// placeholders are values that read as filled but carry no information.
var placeholders = map[string]bool{
	"tbd":         true,
	"tbc":         true,
	"todo":        true,
	"n/a":         true,
	"na":          true,
	"none":        true,
	"unknown":     true,
	"?":           true,
	"??":          true,
	"...":         true,
	"-":           true,
	"--":          true,
	"xxx":         true,
	"placeholder": true,
	"fill me in":  true,
	"lorem ipsum": true,
}

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize trims, lowercases, and collapses internal whitespace.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// IsPlaceholder reports whether text is a known filler value such as "TBD".
func IsPlaceholder(text string) bool {
	norm := strings.TrimRight(Normalize(text), ".!")
	if norm == "" {
		// Pure punctuation like "..." trims to empty.
		return strings.TrimSpace(text) != ""
	}
	return placeholders[norm]
}

// fieldQuality returns the multiplier a single field earns: 0 when empty or
// a placeholder, ThinMultiplier when terse, 1 when rich.
func fieldQuality(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" || IsPlaceholder(text) {
		return 0
	}
	if len(strings.Fields(text)) < MinRichWords {
		return ThinMultiplier
	}
	return 1
}

// Score computes the completeness/quality of a set of 6W values in [0,1].
// Pure and deterministic; rounded to 4 decimals so equal inputs compare equal.
func Score(values map[Field]string) float64 {
	total := 0.0
	for _, f := range Fields {
		total += fieldWeight * fieldQuality(values[f])
	}
	total = math.Max(0, math.Min(1, total))
	return math.Round(total*10000) / 10000
}

// BandFor maps a score to its confidence band.
func BandFor(score float64) Band {
	switch {
	case score >= GreenThreshold:
		return BandGreen
	case score >= YellowThreshold:
		return BandYellow
	default:
		return BandRed
	}
}
