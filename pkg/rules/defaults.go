package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/reforge-inc/reforge-engine/pkg/models"
)

// Built-in rule set for insolvency case processing. Deployments can replace
// it with a YAML rule set via Load; the built-in set doubles as the
// reference for the expected file shape.

// Default report sections and their dependencies. A section listing another
// section depends on its content and must be regenerated when it changes.
var defaultChapterDeps = map[string][]string{
	"procedure":             {},
	"parties":               {},
	"claims_overview":       {"procedure"},
	"interest_calculations": {"claims_overview"},
	"distribution":          {"claims_overview", "interest_calculations"},
	"summary":               {"procedure", "parties", "claims_overview", "interest_calculations", "distribution"},
	"appendix":              {},
}

// defaultCategories is the domain-item universe the ALL wildcard expands to.
var defaultCategories = []string{"assets", "claims", "creditors", "distributions"}

func dateRule(value string) error {
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return fmt.Errorf("expected YYYY-MM-DD date: %w", err)
	}
	return nil
}

func nonEmptyRule(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("value must not be empty")
	}
	return nil
}

func emailRule(value string) error {
	if value == "" {
		return nil
	}
	if !strings.Contains(value, "@") {
		return fmt.Errorf("expected an email address")
	}
	return nil
}

func defaultFields() []models.FieldDescriptor {
	return []models.FieldDescriptor{
		{
			Name:        "bankruptcy_date",
			DisplayName: "Bankruptcy date",
			Tier:        models.TierCritical,
			Rationale:   "every computed date and interest period derives from it",
			Rule:        dateRule,
		},
		{
			Name:        "case_number",
			DisplayName: "Case number",
			Tier:        models.TierCritical,
			Rationale:   "identifies the case; all artifacts are filed under it",
			Rule:        nonEmptyRule,
		},
		{
			Name:        "applicable_law_version",
			DisplayName: "Applicable law version",
			Tier:        models.TierCritical,
			Rationale:   "changes the rules every stage applies",
			Rule:        nonEmptyRule,
		},
		{
			Name:        "judgment_document",
			DisplayName: "Judgment document",
			Tier:        models.TierHigh,
			Rationale:   "source document for claim recognition",
			Rule:        nonEmptyRule,
		},
		{
			Name:        "claims_register",
			DisplayName: "Claims register",
			Tier:        models.TierHigh,
			Rationale:   "claim amounts feed interest computation and the report",
			Rule:        nonEmptyRule,
		},
		{
			Name:        "interest_basis",
			DisplayName: "Interest basis",
			Tier:        models.TierHigh,
			Rationale:   "changes every computed interest amount",
			Rule:        nonEmptyRule,
		},
		{
			Name:        "debtor_name",
			DisplayName: "Debtor name",
			Tier:        models.TierMedium,
			Rationale:   "appears throughout the report text but not in computations",
			Rule:        nonEmptyRule,
		},
		{
			Name:        "trustee_name",
			DisplayName: "Trustee name",
			Tier:        models.TierMedium,
			Rationale:   "report header and parties section only",
			Rule:        nonEmptyRule,
		},
		{
			Name:        "court_name",
			DisplayName: "Court name",
			Tier:        models.TierMedium,
			Rationale:   "parties section only",
			Rule:        nonEmptyRule,
		},
		{
			Name:        "filing_reference",
			DisplayName: "Filing reference",
			Tier:        models.TierLow,
			Rationale:   "cosmetic reference in the procedure section",
		},
		{
			Name:        "notes",
			DisplayName: "Internal notes",
			Tier:        models.TierLow,
			Rationale:   "appendix-only free text",
		},
		{
			Name:        "contact_email",
			DisplayName: "Contact email",
			Tier:        models.TierLow,
			Rationale:   "correspondence metadata, not report content",
			Rule:        emailRule,
		},
	}
}

func defaultImpacts() map[string]models.ImpactDescriptor {
	return map[string]models.ImpactDescriptor{
		"bankruptcy_date": {
			Stages:     models.AllStages(),
			Categories: []string{models.WildcardAll},
			Sections:   []string{models.WildcardAll},
		},
		"case_number": {
			Stages:     models.AllStages(),
			Categories: []string{models.WildcardAll},
			Sections:   []string{models.WildcardAll},
		},
		"applicable_law_version": {
			Stages:     models.AllStages(),
			Categories: []string{models.WildcardAll},
			Sections:   []string{models.WildcardAll},
		},
		"judgment_document": {
			Stages:     []models.Stage{models.StageDocumentAnalysis, models.StageReportGeneration},
			Categories: []string{"claims"},
			Sections:   []string{"claims_overview"},
		},
		"claims_register": {
			Stages:     []models.Stage{models.StageDocumentAnalysis, models.StageInterestComputation, models.StageReportGeneration},
			Categories: []string{"claims", "creditors"},
			Sections:   []string{"claims_overview"},
		},
		"interest_basis": {
			Stages:     []models.Stage{models.StageInterestComputation, models.StageReportGeneration},
			Categories: []string{"claims"},
			Sections:   []string{"interest_calculations"},
		},
		"debtor_name": {
			Stages:     []models.Stage{models.StageReportGeneration},
			Categories: []string{models.WildcardAll},
			Sections:   []string{models.WildcardAll},
		},
		"trustee_name": {
			Stages:     []models.Stage{models.StageReportGeneration},
			Categories: nil,
			Sections:   []string{"parties"},
		},
		"court_name": {
			Stages:     []models.Stage{models.StageReportGeneration},
			Categories: nil,
			Sections:   []string{"parties"},
		},
		"filing_reference": {
			Stages:     []models.Stage{models.StageReportGeneration},
			Categories: nil,
			Sections:   []string{"procedure"},
		},
		"notes": {
			Stages:     []models.Stage{models.StageReportGeneration},
			Categories: nil,
			Sections:   []string{"appendix"},
		},
		"contact_email": {
			Stages:     []models.Stage{models.StageReportGeneration},
			Categories: nil,
			Sections:   []string{"parties"},
		},
	}
}

// Default returns the built-in rule set. It panics only on programmer error
// in the tables above, which the package tests pin down.
func Default() *RuleSet {
	graph, err := NewChapterGraph(defaultChapterDeps)
	if err != nil {
		panic(fmt.Sprintf("built-in chapter graph invalid: %v", err))
	}
	rs, err := New(defaultFields(), defaultImpacts(), graph, defaultCategories)
	if err != nil {
		panic(fmt.Sprintf("built-in rule set invalid: %v", err))
	}
	return rs
}
