package models

// ============================================================================
// Reprocess Mode
// ============================================================================

// ReprocessMode describes how much of the pipeline must be redone after a
// field change.
type ReprocessMode string

const (
	// ModeFull reruns every stage for every item and section.
	ModeFull ReprocessMode = "full"
	// ModeIncremental reruns the affected stages, carrying unaffected
	// artifacts forward from the parent round.
	ModeIncremental ReprocessMode = "incremental"
	// ModePartial regenerates only the affected report sections.
	ModePartial ReprocessMode = "partial"
)

// ValidReprocessModes contains all valid mode values.
var ValidReprocessModes = []ReprocessMode{
	ModeFull,
	ModeIncremental,
	ModePartial,
}

// IsValidReprocessMode checks if the given mode is valid.
func IsValidReprocessMode(m ReprocessMode) bool {
	for _, v := range ValidReprocessModes {
		if v == m {
			return true
		}
	}
	return false
}

// ============================================================================
// Impact Analysis Result
// ============================================================================

// ImpactAnalysis is one reprocessing decision, produced fresh per analysis
// call. It is persisted verbatim as the impact snapshot of the round that
// records the decision.
type ImpactAnalysis struct {
	Mode ReprocessMode `json:"mode"`

	// Affected sets, post wildcard expansion and section closure.
	AffectedStages     []Stage  `json:"affected_stages"`
	AffectedCategories []string `json:"affected_categories"`
	AffectedSections   []string `json:"affected_sections"`

	// FieldsChanged is the input field set, sorted for stable output.
	FieldsChanged []string `json:"fields_changed"`

	// HighestTier is the most severe tier among recognized fields. Empty
	// when no field was recognized.
	HighestTier FieldTier `json:"highest_tier,omitempty"`

	// UnknownFields lists field names the rule set does not know. A
	// non-empty list always forces ModeFull.
	UnknownFields []string `json:"unknown_fields,omitempty"`

	// TimeSavingsPercent estimates work avoided relative to a full rerun.
	TimeSavingsPercent int `json:"time_savings_percent"`

	// Reasoning is a human-readable justification for the decision.
	Reasoning string `json:"reasoning"`

	// ConfirmationRequired signals that an operator should confirm before
	// the decision is acted on. Always false for forced full reruns.
	ConfirmationRequired bool `json:"confirmation_required"`
}

// IsFullRerun reports whether the decision discards all prior work.
func (a *ImpactAnalysis) IsFullRerun() bool {
	return a.Mode == ModeFull
}
