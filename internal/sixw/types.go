// Package sixw models the six context dimensions (who, what, when, where, why, how)
// recorded at each level of the project → work item → task hierarchy, and
// resolves them into a single effective context with a confidence score.
package sixw

import (
	"strings"
	"time"

	"github.com/hpungsan/brief/internal/errors"
)

// EntityType identifies a level in the work hierarchy.
type EntityType string

const (
	EntityProject  EntityType = "PROJECT"
	EntityWorkItem EntityType = "WORK_ITEM"
	EntityTask     EntityType = "TASK"
)

// Valid reports whether t is one of the three enumerated levels.
func (t EntityType) Valid() bool {
	switch t {
	case EntityProject, EntityWorkItem, EntityTask:
		return true
	}
	return false
}

// Label returns a lowercase human label ("work item").
func (t EntityType) Label() string {
	return strings.ReplaceAll(strings.ToLower(string(t)), "_", " ")
}

// ParseEntityType accepts "task", "work-item", "WORK_ITEM" and similar spellings.
// Anything else is a MALFORMED error.
func ParseEntityType(s string) (EntityType, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	if norm == "WORKITEM" {
		norm = string(EntityWorkItem)
	}
	t := EntityType(norm)
	if !t.Valid() {
		return "", errors.NewMalformed(
			"entity type must be one of: PROJECT, WORK_ITEM, TASK",
			map[string]any{"entity_type": s},
		)
	}
	return t, nil
}

// Field is one of the six context dimensions.
type Field string

const (
	Who   Field = "who"
	What  Field = "what"
	When  Field = "when"
	Where Field = "where"
	Why   Field = "why"
	How   Field = "how"
)

// Fields lists the dimensions in canonical order. Every per-field scan uses it
// so output ordering is stable.
var Fields = []Field{Who, What, When, Where, Why, How}

// Title returns the capitalized field name.
func (f Field) Title() string {
	if f == "" {
		return ""
	}
	return strings.ToUpper(string(f[:1])) + string(f[1:])
}

// ParseField normalizes a field name; unknown names are MALFORMED.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Fields {
		if f == known {
			return f, nil
		}
	}
	return "", errors.NewMalformed(
		"field must be one of: who, what, when, where, why, how",
		map[string]any{"field": s},
	)
}

// ContextRecord is one level's 6W data.
type ContextRecord struct {
	EntityType EntityType       `json:"entity_type"`
	EntityID   int64            `json:"entity_id"`
	Values     map[Field]string `json:"six_w"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Value returns the trimmed text for f, or "" when unset.
func (r *ContextRecord) Value(f Field) string {
	if r == nil || r.Values == nil {
		return ""
	}
	return strings.TrimSpace(r.Values[f])
}

// Confidence recomputes the record's score; it is never stored.
func (r *ContextRecord) Confidence() float64 {
	if r == nil {
		return 0
	}
	return Score(r.Values)
}

// Entity is a node of the work hierarchy as seen by the assembler.
type Entity struct {
	Type      EntityType `json:"type"`
	ID        int64      `json:"id"`
	ParentID  int64      `json:"parent_id,omitempty"`
	Title     string     `json:"title"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// EffectiveContext is the merged view handed to an agent.
type EffectiveContext struct {
	// Values holds the winning value per field; unfilled fields are absent.
	Values map[Field]string `json:"six_w"`

	// Sources records which level supplied each filled field.
	Sources map[Field]EntityType `json:"sources"`

	// Missing lists unfilled fields in canonical order.
	Missing []Field `json:"missing,omitempty"`

	Confidence float64 `json:"confidence_score"`
	Band       Band    `json:"confidence_band"`
}

// Source returns the level that supplied f and whether f is filled.
func (ec *EffectiveContext) Source(f Field) (EntityType, bool) {
	t, ok := ec.Sources[f]
	return t, ok
}
