package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reforge-inc/reforge-engine/pkg/models"
	"github.com/reforge-inc/reforge-engine/pkg/rules"
)

func newTestAnalyzer(t *testing.T, policy MediumFieldPolicy) *ImpactAnalyzer {
	t.Helper()
	return NewImpactAnalyzer(rules.Default(), policy, zap.NewNop())
}

func TestDiffFields(t *testing.T) {
	old := map[string]string{
		"debtor_name": "Acme GmbH",
		"notes":       "old text",
		"court_name":  "Hamburg",
	}
	updated := map[string]string{
		"debtor_name": "Acme GmbH",
		"notes":       "new text",
		"case_number": "HRB 12345",
	}

	// court_name was removed, notes changed, case_number added.
	assert.Equal(t, []string{"case_number", "court_name", "notes"}, DiffFields(old, updated))
}

func TestAnalyze_EmptyChangeSet(t *testing.T) {
	analyzer := newTestAnalyzer(t, PolicyConservative)

	result := analyzer.Analyze(nil)
	assert.Equal(t, models.ModePartial, result.Mode)
	assert.Equal(t, 100, result.TimeSavingsPercent)
	assert.Empty(t, result.AffectedStages)
	assert.Empty(t, result.AffectedSections)
	assert.False(t, result.ConfirmationRequired)
}

func TestAnalyze_CriticalFieldForcesFullRerun(t *testing.T) {
	analyzer := newTestAnalyzer(t, PolicyConservative)

	result := analyzer.Analyze([]string{"bankruptcy_date"})
	assert.Equal(t, models.ModeFull, result.Mode)
	assert.Equal(t, 0, result.TimeSavingsPercent)
	assert.Equal(t, models.AllStages(), result.AffectedStages)
	assert.Len(t, result.AffectedSections, 7)
	// The decision is unconditional; no confirmation round-trip.
	assert.False(t, result.ConfirmationRequired)
	assert.Contains(t, result.Reasoning, "bankruptcy_date")
}

func TestAnalyze_UnknownFieldForcesFullRerun(t *testing.T) {
	// The aggressive policy never weakens the unknown-field rule.
	analyzer := newTestAnalyzer(t, PolicyAggressive)

	result := analyzer.Analyze([]string{"mystery_field"})
	assert.Equal(t, models.ModeFull, result.Mode)
	assert.Equal(t, 0, result.TimeSavingsPercent)
	assert.Equal(t, []string{"mystery_field"}, result.UnknownFields)
	assert.False(t, result.ConfirmationRequired)
	assert.Contains(t, result.Reasoning, "mystery_field")
}

func TestAnalyze_UnknownDominatesRecognizedFields(t *testing.T) {
	analyzer := newTestAnalyzer(t, PolicyConservative)

	result := analyzer.Analyze([]string{"notes", "mystery_field"})
	assert.Equal(t, models.ModeFull, result.Mode)
}

func TestAnalyze_HighFieldIsIncremental(t *testing.T) {
	analyzer := newTestAnalyzer(t, PolicyConservative)

	result := analyzer.Analyze([]string{"judgment_document"})
	require.Equal(t, models.ModeIncremental, result.Mode)
	assert.True(t, result.ConfirmationRequired)

	// The interest computation stage is untouched.
	assert.Equal(t, []models.Stage{
		models.StageDocumentAnalysis,
		models.StageReportGeneration,
	}, result.AffectedStages)

	// claims_overview pulls in every chapter built on top of it.
	assert.Equal(t, []string{
		"claims_overview", "distribution", "interest_calculations", "summary",
	}, result.AffectedSections)

	// One of three stages skipped: 33% rounded down, lifted to the floor.
	assert.Equal(t, 40, result.TimeSavingsPercent)
}

func TestAnalyze_HighFieldTouchingEveryStage(t *testing.T) {
	analyzer := newTestAnalyzer(t, PolicyConservative)

	result := analyzer.Analyze([]string{"claims_register"})
	require.Equal(t, models.ModeIncremental, result.Mode)
	assert.Equal(t, models.AllStages(), result.AffectedStages)
	// Nothing skipped: the no-skip base applies.
	assert.Equal(t, 50, result.TimeSavingsPercent)
}

func TestAnalyze_MediumFieldPolicy(t *testing.T) {
	conservative := newTestAnalyzer(t, PolicyConservative)
	aggressive := newTestAnalyzer(t, PolicyAggressive)

	resultC := conservative.Analyze([]string{"trustee_name"})
	assert.Equal(t, models.ModeIncremental, resultC.Mode)
	assert.True(t, resultC.ConfirmationRequired)

	resultA := aggressive.Analyze([]string{"trustee_name"})
	assert.Equal(t, models.ModePartial, resultA.Mode)
	assert.Equal(t, 85, resultA.TimeSavingsPercent)
	assert.True(t, resultA.ConfirmationRequired)
}

func TestAnalyze_LowFieldIsPartial(t *testing.T) {
	analyzer := newTestAnalyzer(t, PolicyConservative)

	result := analyzer.Analyze([]string{"notes"})
	require.Equal(t, models.ModePartial, result.Mode)
	assert.True(t, result.ConfirmationRequired)
	assert.Equal(t, 85, result.TimeSavingsPercent)

	// Appendix has no dependents; the blast radius stays put.
	assert.Equal(t, []models.Stage{models.StageReportGeneration}, result.AffectedStages)
	assert.Equal(t, []string{"appendix"}, result.AffectedSections)
}

func TestEstimateSavings_BatchPenalties(t *testing.T) {
	analyzer := newTestAnalyzer(t, PolicyConservative)

	// Three medium/low report-only fields: two stages skipped, 66% base.
	small := analyzer.Analyze([]string{"debtor_name", "trustee_name", "court_name"})
	require.Equal(t, models.ModeIncremental, small.Mode)
	assert.Equal(t, 66, small.TimeSavingsPercent)

	// Four fields: the medium-batch penalty applies.
	medium := analyzer.Analyze([]string{"debtor_name", "trustee_name", "court_name", "filing_reference"})
	require.Equal(t, models.ModeIncremental, medium.Mode)
	assert.Equal(t, 61, medium.TimeSavingsPercent)

	// Six fields: the large-batch penalty applies.
	large := analyzer.Analyze([]string{
		"debtor_name", "trustee_name", "court_name",
		"filing_reference", "notes", "contact_email",
	})
	require.Equal(t, models.ModeIncremental, large.Mode)
	assert.Equal(t, 56, large.TimeSavingsPercent)
}

func TestEstimateSavings_ClampedToFloor(t *testing.T) {
	analyzer := newTestAnalyzer(t, PolicyConservative)

	// judgment_document plus enough extras to trip the medium penalty:
	// base 33 minus 5 would be 28, clamped up to the floor.
	result := analyzer.Analyze([]string{
		"judgment_document", "notes", "filing_reference", "contact_email",
	})
	require.Equal(t, models.ModeIncremental, result.Mode)
	assert.Equal(t, 40, result.TimeSavingsPercent)
}

func TestAnalyzeDiff(t *testing.T) {
	analyzer := newTestAnalyzer(t, PolicyConservative)

	result := analyzer.AnalyzeDiff(
		map[string]string{"bankruptcy_date": "2023-06-01"},
		map[string]string{"bankruptcy_date": "2023-06-12"},
	)
	assert.Equal(t, models.ModeFull, result.Mode)
	assert.Equal(t, []string{"bankruptcy_date"}, result.FieldsChanged)
}
