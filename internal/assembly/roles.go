package assembly

import (
	"strings"

	"github.com/hpungsan/brief/internal/errors"
)

// Section is one renderable part of a bundle.
type Section string

const (
	SectionSixW      Section = "six_w"
	SectionRules     Section = "rules"
	SectionTechStack Section = "tech_stack"
	SectionHistory   Section = "history"
	SectionFiles     Section = "files"
)

// AllSections lists sections in render order.
var AllSections = []Section{SectionSixW, SectionRules, SectionTechStack, SectionHistory, SectionFiles}

// DefaultRoleSections maps agent roles to the sections they receive.
var DefaultRoleSections = map[string][]Section{
	"implementer": AllSections,
	"developer":   AllSections,
	"planner":     {SectionSixW, SectionRules, SectionHistory},
	"reviewer":    {SectionSixW, SectionRules, SectionHistory, SectionFiles},
	"tester":      {SectionSixW, SectionRules, SectionTechStack, SectionFiles},
}

// ParseSection validates a section name.
func ParseSection(s string) (Section, error) {
	sec := Section(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllSections {
		if sec == known {
			return sec, nil
		}
	}
	return "", errors.NewInvalidRequest("unknown section " + s + " (want six_w, rules, tech_stack, history or files)")
}

// NormalizeRole lowercases and trims a role name.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// SectionsFor returns the sections for role in render order. Overrides take
// precedence over DefaultRoleSections. An empty role gets every section; an
// unknown role does too, and known reports false.
func SectionsFor(role string, overrides map[string][]Section) (sections []Section, known bool) {
	role = NormalizeRole(role)
	if role == "" {
		return AllSections, true
	}

	want, ok := overrides[role]
	if !ok {
		want, ok = DefaultRoleSections[role]
	}
	if !ok {
		return AllSections, false
	}

	set := make(map[Section]bool, len(want))
	for _, s := range want {
		set[s] = true
	}
	for _, s := range AllSections {
		if set[s] {
			sections = append(sections, s)
		}
	}
	return sections, true
}
