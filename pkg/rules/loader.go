package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/reforge-inc/reforge-engine/pkg/models"
)

// ruleSetFile is the on-disk YAML shape of a rule set.
type ruleSetFile struct {
	Fields []struct {
		Name        string `yaml:"name"`
		DisplayName string `yaml:"display_name"`
		Tier        string `yaml:"tier"`
		Rationale   string `yaml:"rationale"`
		// Validate names a built-in validation rule: date, non_empty,
		// email, or none (default).
		Validate string `yaml:"validate"`
	} `yaml:"fields"`

	Impacts map[string]models.ImpactDescriptor `yaml:"impacts"`

	Categories []string `yaml:"categories"`

	// Chapters maps each report section to the sections it depends on.
	Chapters map[string][]string `yaml:"chapters"`
}

// namedRules are the validation rules a YAML rule set may reference.
var namedRules = map[string]models.ValidationRule{
	"date":      dateRule,
	"non_empty": nonEmptyRule,
	"email":     emailRule,
}

// Load reads a rule set from a YAML file. The file fully replaces the
// built-in defaults; partial overrides are not supported so that a
// deployment's rule set is reviewable in one place.
func Load(path string) (*RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule set %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse builds a RuleSet from YAML bytes.
func Parse(raw []byte) (*RuleSet, error) {
	var file ruleSetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse rule set: %w", err)
	}

	fields := make([]models.FieldDescriptor, 0, len(file.Fields))
	for _, f := range file.Fields {
		fd := models.FieldDescriptor{
			Name:        f.Name,
			DisplayName: f.DisplayName,
			Tier:        models.FieldTier(f.Tier),
			Rationale:   f.Rationale,
		}
		if f.Validate != "" && f.Validate != "none" {
			rule, ok := namedRules[f.Validate]
			if !ok {
				return nil, fmt.Errorf("field %q: unknown validation rule %q", f.Name, f.Validate)
			}
			fd.Rule = rule
		}
		fields = append(fields, fd)
	}

	graph, err := NewChapterGraph(file.Chapters)
	if err != nil {
		return nil, fmt.Errorf("chapter graph: %w", err)
	}

	rs, err := New(fields, file.Impacts, graph, file.Categories)
	if err != nil {
		return nil, fmt.Errorf("rule set: %w", err)
	}
	return rs, nil
}
