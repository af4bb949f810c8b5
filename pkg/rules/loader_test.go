package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reforge-inc/reforge-engine/pkg/models"
)

const sampleRuleSet = `
fields:
  - name: settlement_date
    display_name: Settlement date
    tier: critical
    rationale: anchors every computed period
    validate: date
  - name: remarks
    display_name: Remarks
    tier: low

impacts:
  settlement_date:
    stages: [DocumentAnalysis, InterestComputation, ReportGeneration]
    categories: [ALL]
    sections: [ALL]
  remarks:
    stages: [ReportGeneration]
    sections: [annex]

categories: [assets, claims]

chapters:
  overview: []
  annex: [overview]
`

func TestParse(t *testing.T) {
	rs, err := Parse([]byte(sampleRuleSet))
	require.NoError(t, err)

	tier, ok := rs.TierOf("settlement_date")
	require.True(t, ok)
	assert.Equal(t, models.TierCritical, tier)

	// The named date rule is attached.
	assert.Error(t, rs.Validate("settlement_date", "not-a-date"))
	assert.NoError(t, rs.Validate("settlement_date", "2024-01-31"))

	// Wildcards expand against the file's own universes.
	impact := rs.CombinedImpact([]string{"settlement_date"})
	assert.Equal(t, []string{"assets", "claims"}, impact.Categories)
	assert.Equal(t, []string{"annex", "overview"}, impact.Sections)
}

func TestParse_UnknownValidationRule(t *testing.T) {
	_, err := Parse([]byte(`
fields:
  - name: f
    tier: low
    validate: regex
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown validation rule")
}

func TestParse_InvalidTier(t *testing.T) {
	_, err := Parse([]byte(`
fields:
  - name: f
    tier: severe
`))
	require.Error(t, err)
}

func TestParse_CyclicChapters(t *testing.T) {
	_, err := Parse([]byte(`
chapters:
  a: [b]
  b: [a]
`))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRuleSet), 0o644))

	rs, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"remarks", "settlement_date"}, rs.FieldNames())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestDefault_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { Default() })
}
