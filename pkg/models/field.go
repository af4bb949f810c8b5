package models

// ============================================================================
// Field Tier
// ============================================================================

// FieldTier classifies how severely a change to an input field invalidates
// previously produced pipeline output.
type FieldTier string

const (
	TierCritical FieldTier = "critical"
	TierHigh     FieldTier = "high"
	TierMedium   FieldTier = "medium"
	TierLow      FieldTier = "low"
)

// ValidFieldTiers contains all valid tier values.
var ValidFieldTiers = []FieldTier{
	TierCritical,
	TierHigh,
	TierMedium,
	TierLow,
}

// IsValidFieldTier checks if the given tier is valid.
func IsValidFieldTier(t FieldTier) bool {
	for _, v := range ValidFieldTiers {
		if v == t {
			return true
		}
	}
	return false
}

// tierRank orders tiers from most to least severe. Lower rank is more severe.
var tierRank = map[FieldTier]int{
	TierCritical: 0,
	TierHigh:     1,
	TierMedium:   2,
	TierLow:      3,
}

// MoreSevereThan returns true if t invalidates more work than other.
func (t FieldTier) MoreSevereThan(other FieldTier) bool {
	return tierRank[t] < tierRank[other]
}

// ============================================================================
// Field Descriptor
// ============================================================================

// ValidationRule checks a proposed value for a field. A nil return means the
// value is acceptable.
type ValidationRule func(value string) error

// FieldDescriptor is the static classification rule for one known input
// field. Descriptors are defined at rule-set load time and never mutated.
type FieldDescriptor struct {
	Name        string
	DisplayName string
	Tier        FieldTier
	// Rationale explains why the field sits in its tier. Surfaced in
	// analyzer reasoning and audit output.
	Rationale string
	// Rule validates candidate values. Optional; nil means any value is
	// accepted.
	Rule ValidationRule
}
