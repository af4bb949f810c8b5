package rules

import (
	"fmt"
	"sort"

	"github.com/reforge-inc/reforge-engine/pkg/models"
)

// RuleSet is the immutable rule configuration for one deployment: the field
// priority registry, the per-field impact map, the chapter dependency graph,
// and the item-category universe. It is built once and passed explicitly to
// the analyzer; there is no process-wide singleton.
type RuleSet struct {
	fields     map[string]models.FieldDescriptor
	impacts    map[string]models.ImpactDescriptor
	graph      *ChapterGraph
	categories []string
}

// New assembles a RuleSet and validates it: field tiers must be known,
// impact entries must reference known fields and stages, and the chapter
// graph must already have passed its acyclicity check.
func New(
	fields []models.FieldDescriptor,
	impacts map[string]models.ImpactDescriptor,
	graph *ChapterGraph,
	categories []string,
) (*RuleSet, error) {
	fieldMap := make(map[string]models.FieldDescriptor, len(fields))
	for _, fd := range fields {
		if fd.Name == "" {
			return nil, fmt.Errorf("field descriptor with empty name")
		}
		if !models.IsValidFieldTier(fd.Tier) {
			return nil, fmt.Errorf("field %q: invalid tier %q", fd.Name, fd.Tier)
		}
		if _, dup := fieldMap[fd.Name]; dup {
			return nil, fmt.Errorf("field %q declared twice", fd.Name)
		}
		fieldMap[fd.Name] = fd
	}

	for field, desc := range impacts {
		if _, ok := fieldMap[field]; !ok {
			return nil, fmt.Errorf("impact mapping for undeclared field %q", field)
		}
		for _, st := range desc.Stages {
			if !models.IsValidStage(st) {
				return nil, fmt.Errorf("field %q: unknown stage %q", field, st)
			}
		}
	}

	return &RuleSet{
		fields:     fieldMap,
		impacts:    impacts,
		graph:      graph,
		categories: append([]string(nil), categories...),
	}, nil
}

// ============================================================================
// Field Priority Registry
// ============================================================================

// Descriptor returns the descriptor for a known field.
func (rs *RuleSet) Descriptor(field string) (models.FieldDescriptor, bool) {
	fd, ok := rs.fields[field]
	return fd, ok
}

// TierOf returns the tier of a known field. The second return value is
// false for unrecognized names; that is a signal, not an error.
func (rs *RuleSet) TierOf(field string) (models.FieldTier, bool) {
	fd, ok := rs.fields[field]
	if !ok {
		return "", false
	}
	return fd.Tier, true
}

// HighestTier returns the most severe tier among the recognized fields in
// the set, plus every unrecognized name. When no field is recognized the
// returned tier is empty.
func (rs *RuleSet) HighestTier(fields []string) (models.FieldTier, []string) {
	var highest models.FieldTier
	var unknown []string
	for _, f := range fields {
		tier, ok := rs.TierOf(f)
		if !ok {
			unknown = append(unknown, f)
			continue
		}
		if highest == "" || tier.MoreSevereThan(highest) {
			highest = tier
		}
	}
	sort.Strings(unknown)
	return highest, unknown
}

// Validate checks a proposed value against the field's validation rule.
// Fields without a rule, and unrecognized fields, accept any value.
func (rs *RuleSet) Validate(field, value string) error {
	fd, ok := rs.fields[field]
	if !ok || fd.Rule == nil {
		return nil
	}
	if err := fd.Rule(value); err != nil {
		return fmt.Errorf("field %q: %w", field, err)
	}
	return nil
}

// FieldNames returns every registered field name, sorted.
func (rs *RuleSet) FieldNames() []string {
	names := make([]string, 0, len(rs.fields))
	for n := range rs.fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ============================================================================
// Impact Mapper
// ============================================================================

// CombinedImpact unions the impact descriptors of the given fields,
// expanding the ALL wildcard to the full category or section universe.
// Fields without an impact mapping (including unrecognized ones) contribute
// nothing; callers handle them through the tier classification instead.
func (rs *RuleSet) CombinedImpact(fields []string) models.Impact {
	stageSet := make(map[models.Stage]bool)
	categorySet := make(map[string]bool)
	sectionSet := make(map[string]bool)

	for _, f := range fields {
		desc, ok := rs.impacts[f]
		if !ok {
			continue
		}
		for _, st := range desc.Stages {
			stageSet[st] = true
		}
		for _, c := range desc.Categories {
			if c == models.WildcardAll {
				for _, all := range rs.categories {
					categorySet[all] = true
				}
				continue
			}
			categorySet[c] = true
		}
		for _, s := range desc.Sections {
			if s == models.WildcardAll {
				for _, all := range rs.graph.Sections() {
					sectionSet[all] = true
				}
				continue
			}
			sectionSet[s] = true
		}
	}

	return models.Impact{
		Stages:     sortedStages(stageSet),
		Categories: sortedKeys(categorySet),
		Sections:   sortedKeys(sectionSet),
	}
}

// Closure expands a section set along the chapter dependency graph.
func (rs *RuleSet) Closure(sections []string) []string {
	return rs.graph.Closure(sections)
}

// Universe returns the entire stage, category, and section space. A full
// rerun is defined as this impact.
func (rs *RuleSet) Universe() models.Impact {
	return models.Impact{
		Stages:     models.AllStages(),
		Categories: append([]string(nil), rs.categories...),
		Sections:   rs.graph.Sections(),
	}
}

// StageCount returns the size of the stage universe.
func (rs *RuleSet) StageCount() int {
	return len(models.AllStages())
}

func sortedStages(set map[models.Stage]bool) []models.Stage {
	stages := make([]models.Stage, 0, len(set))
	for _, st := range models.AllStages() {
		if set[st] {
			stages = append(stages, st)
		}
	}
	return stages
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
