package sixw

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hpungsan/brief/internal/errors"
)

// level pairs a hierarchy slot with the record supplied for it.
type level struct {
	slot   EntityType
	record *ContextRecord
}

// Merge resolves the effective context for a task from its three levels.
// Any record may be nil. For each field the most specific non-empty value
// wins (task, then work item, then project). Confidence is scored on the
// merged values, so completeness gained through inheritance counts.
//
// Merge never fails for missing levels; it returns MALFORMED when a record's
// entity type is outside the enumeration or does not match its slot.
func Merge(project, workItem, task *ContextRecord) (*EffectiveContext, error) {
	levels := []level{
		{slot: EntityTask, record: task},
		{slot: EntityWorkItem, record: workItem},
		{slot: EntityProject, record: project},
	}

	for _, l := range levels {
		if l.record == nil {
			continue
		}
		if !l.record.EntityType.Valid() {
			return nil, errors.NewMalformed(
				fmt.Sprintf("context record %d has unknown entity type %q", l.record.EntityID, l.record.EntityType),
				map[string]any{"entity_type": string(l.record.EntityType), "entity_id": l.record.EntityID},
			)
		}
		if l.record.EntityType != l.slot {
			return nil, errors.NewMalformed(
				fmt.Sprintf("context record for %s supplied in %s position", l.record.EntityType, l.slot),
				map[string]any{"entity_type": string(l.record.EntityType), "expected": string(l.slot)},
			)
		}
	}

	ec := &EffectiveContext{
		Values:  make(map[Field]string, len(Fields)),
		Sources: make(map[Field]EntityType, len(Fields)),
	}

	for _, f := range Fields {
		filled := false
		for _, l := range levels {
			if v := l.record.Value(f); v != "" {
				ec.Values[f] = v
				ec.Sources[f] = l.slot
				filled = true
				break
			}
		}
		if !filled {
			ec.Missing = append(ec.Missing, f)
		}
	}

	ec.Confidence = Score(ec.Values)
	ec.Band = BandFor(ec.Confidence)
	return ec, nil
}

// Flatten renders a decoded YAML/JSON value as canonical 6W text.
// Lists join with "; ", maps become sorted "key: value" pairs.
func Flatten(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := Flatten(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return Flatten(items)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := Flatten(val[k]); s != "" {
				parts = append(parts, k+": "+s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
