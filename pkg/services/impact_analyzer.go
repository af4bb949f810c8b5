package services

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/reforge-inc/reforge-engine/pkg/models"
	"github.com/reforge-inc/reforge-engine/pkg/rules"
)

// MediumFieldPolicy decides how Medium-tier changes are treated when no
// higher tier is present.
type MediumFieldPolicy string

const (
	// PolicyConservative escalates Medium-tier changes to an incremental
	// rerun. This is the default.
	PolicyConservative MediumFieldPolicy = "conservative"
	// PolicyAggressive lets Medium-tier changes run as partial
	// regeneration. It never weakens the unconditional full-rerun rules
	// for Critical or unrecognized fields.
	PolicyAggressive MediumFieldPolicy = "aggressive"
)

// Savings heuristics. Stated business numbers, reproduced as-is.
const (
	partialSavingsPercent = 85
	incrementalFloor      = 40
	incrementalCeiling    = 75
	incrementalNoSkipBase = 50
	mediumBatchPenalty    = 5  // 4-5 fields changed
	largeBatchPenalty     = 10 // more than 5 fields changed
	mediumBatchLowerBound = 4
	mediumBatchUpperBound = 5
)

// ImpactAnalyzer turns a changed-field set into a reprocessing decision:
// mode, combined impact, estimated savings, and a human-readable
// justification. The analyzer is stateless; all rules come from the
// injected rule set.
type ImpactAnalyzer struct {
	rules  *rules.RuleSet
	policy MediumFieldPolicy
	logger *zap.Logger
}

// NewImpactAnalyzer creates an analyzer bound to a rule set and Medium-tier
// policy.
func NewImpactAnalyzer(rs *rules.RuleSet, policy MediumFieldPolicy, logger *zap.Logger) *ImpactAnalyzer {
	if policy != PolicyAggressive {
		policy = PolicyConservative
	}
	return &ImpactAnalyzer{
		rules:  rs,
		policy: policy,
		logger: logger.Named("impact-analyzer"),
	}
}

// DiffFields returns every field whose presence or value differs between
// the two snapshots. A field missing from the old snapshot counts as
// changed. The result is sorted.
func DiffFields(old, updated map[string]string) []string {
	changedSet := make(map[string]bool)
	for name, newVal := range updated {
		oldVal, existed := old[name]
		if !existed || oldVal != newVal {
			changedSet[name] = true
		}
	}
	for name := range old {
		if _, still := updated[name]; !still {
			changedSet[name] = true
		}
	}

	changed := make([]string, 0, len(changedSet))
	for name := range changedSet {
		changed = append(changed, name)
	}
	sort.Strings(changed)
	return changed
}

// AnalyzeDiff diffs two field snapshots and analyzes the result.
func (a *ImpactAnalyzer) AnalyzeDiff(old, updated map[string]string) *models.ImpactAnalysis {
	return a.Analyze(DiffFields(old, updated))
}

// Analyze produces one reprocessing decision for the changed-field set.
func (a *ImpactAnalyzer) Analyze(changed []string) *models.ImpactAnalysis {
	fields := append([]string(nil), changed...)
	sort.Strings(fields)

	// An empty change set still yields a valid decision: regenerate
	// nothing, save everything.
	if len(fields) == 0 {
		return &models.ImpactAnalysis{
			Mode:               models.ModePartial,
			FieldsChanged:      []string{},
			TimeSavingsPercent: 100,
			Reasoning:          "no fields changed; nothing to reprocess",
		}
	}

	highest, unknown := a.rules.HighestTier(fields)

	result := &models.ImpactAnalysis{
		FieldsChanged: fields,
		HighestTier:   highest,
		UnknownFields: unknown,
	}

	// Unknown fields and Critical-tier fields force a full rerun
	// unconditionally; the Medium-tier policy never applies here.
	switch {
	case len(unknown) > 0:
		result.Mode = models.ModeFull
		result.Reasoning = fmt.Sprintf(
			"unrecognized field(s) %s cannot be classified; forcing a full rerun",
			strings.Join(unknown, ", "))
	case highest == models.TierCritical:
		result.Mode = models.ModeFull
		result.Reasoning = fmt.Sprintf(
			"critical field(s) %s changed; all derived artifacts are invalid",
			strings.Join(a.fieldsAtTier(fields, models.TierCritical), ", "))
	case highest == models.TierHigh:
		result.Mode = models.ModeIncremental
		result.ConfirmationRequired = true
		result.Reasoning = fmt.Sprintf(
			"high-impact field(s) %s changed; rerunning affected stages and carrying the rest forward",
			strings.Join(a.fieldsAtTier(fields, models.TierHigh), ", "))
	case highest == models.TierMedium:
		if a.policy == PolicyAggressive {
			result.Mode = models.ModePartial
			result.Reasoning = "medium-tier change under aggressive policy; regenerating affected sections only"
		} else {
			result.Mode = models.ModeIncremental
			result.Reasoning = "medium-tier change under conservative policy; rerunning affected stages"
		}
		result.ConfirmationRequired = true
	default:
		result.Mode = models.ModePartial
		result.ConfirmationRequired = true
		result.Reasoning = "low-tier change; regenerating affected sections only"
	}

	a.applyImpact(result)
	result.TimeSavingsPercent = a.estimateSavings(result)

	a.logger.Info("Impact analysis complete",
		zap.Strings("fields", fields),
		zap.String("mode", string(result.Mode)),
		zap.String("highest_tier", string(highest)),
		zap.Strings("unknown_fields", unknown),
		zap.Int("savings_percent", result.TimeSavingsPercent))

	return result
}

// applyImpact fills the affected sets. Full mode claims the entire
// universe; the other modes union per-field impacts and close over the
// chapter graph.
func (a *ImpactAnalyzer) applyImpact(result *models.ImpactAnalysis) {
	if result.Mode == models.ModeFull {
		universe := a.rules.Universe()
		result.AffectedStages = universe.Stages
		result.AffectedCategories = universe.Categories
		result.AffectedSections = universe.Sections
		return
	}

	impact := a.rules.CombinedImpact(result.FieldsChanged)
	result.AffectedStages = impact.Stages
	result.AffectedCategories = impact.Categories
	result.AffectedSections = a.rules.Closure(impact.Sections)
}

// estimateSavings applies the stated savings heuristic for each mode.
func (a *ImpactAnalyzer) estimateSavings(result *models.ImpactAnalysis) int {
	switch result.Mode {
	case models.ModeFull:
		return 0
	case models.ModePartial:
		return partialSavingsPercent
	}

	total := a.rules.StageCount()
	skipped := total - len(result.AffectedStages)

	base := incrementalNoSkipBase
	if skipped > 0 {
		base = skipped * 100 / total
	}

	changed := len(result.FieldsChanged)
	switch {
	case changed > mediumBatchUpperBound:
		base -= largeBatchPenalty
	case changed >= mediumBatchLowerBound:
		base -= mediumBatchPenalty
	}

	if base < incrementalFloor {
		return incrementalFloor
	}
	if base > incrementalCeiling {
		return incrementalCeiling
	}
	return base
}

// fieldsAtTier filters the changed set down to recognized fields at the
// given tier, for reasoning strings.
func (a *ImpactAnalyzer) fieldsAtTier(fields []string, tier models.FieldTier) []string {
	var out []string
	for _, f := range fields {
		if t, ok := a.rules.TierOf(f); ok && t == tier {
			out = append(out, f)
		}
	}
	return out
}
