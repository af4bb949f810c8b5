package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundStatus_IsTerminal(t *testing.T) {
	// Completed and Failed rounds can still be rolled back later; only
	// RolledBack is final.
	assert.True(t, RoundStatusRolledBack.IsTerminal())
	assert.False(t, RoundStatusCompleted.IsTerminal())
	assert.False(t, RoundStatusFailed.IsTerminal())
	assert.False(t, RoundStatusInitialized.IsTerminal())
	assert.False(t, RoundStatusProcessing.IsTerminal())
}

func TestRoundStatus_CanRollBack(t *testing.T) {
	assert.True(t, RoundStatusCompleted.CanRollBack())
	assert.True(t, RoundStatusFailed.CanRollBack())
	assert.False(t, RoundStatusInitialized.CanRollBack())
	assert.False(t, RoundStatusProcessing.CanRollBack())
	assert.False(t, RoundStatusRolledBack.CanRollBack())
}

func TestIsValidRoundStatus(t *testing.T) {
	for _, s := range ValidRoundStatuses {
		assert.True(t, IsValidRoundStatus(s))
	}
	assert.False(t, IsValidRoundStatus("archived"))
}

func TestRound_IsActive(t *testing.T) {
	assert.True(t, (&Round{Status: RoundStatusInitialized}).IsActive())
	assert.True(t, (&Round{Status: RoundStatusProcessing}).IsActive())
	assert.False(t, (&Round{Status: RoundStatusCompleted}).IsActive())
	assert.False(t, (&Round{Status: RoundStatusFailed}).IsActive())
	assert.False(t, (&Round{Status: RoundStatusRolledBack}).IsActive())
}

func TestRoundHistory_Round(t *testing.T) {
	h := &RoundHistory{
		Rounds: []*Round{
			{RoundNumber: 1},
			{RoundNumber: 2},
		},
	}
	assert.Equal(t, 2, h.Round(2).RoundNumber)
	assert.Nil(t, h.Round(3))
}

func TestFieldTier_MoreSevereThan(t *testing.T) {
	assert.True(t, TierCritical.MoreSevereThan(TierHigh))
	assert.True(t, TierHigh.MoreSevereThan(TierMedium))
	assert.True(t, TierMedium.MoreSevereThan(TierLow))
	assert.False(t, TierLow.MoreSevereThan(TierLow))
	assert.False(t, TierLow.MoreSevereThan(TierCritical))
}

func TestImpact_ContainsStage(t *testing.T) {
	impact := Impact{Stages: []Stage{StageReportGeneration}}
	assert.True(t, impact.ContainsStage(StageReportGeneration))
	assert.False(t, impact.ContainsStage(StageDocumentAnalysis))
}

func TestImpactAnalysis_IsFullRerun(t *testing.T) {
	assert.True(t, (&ImpactAnalysis{Mode: ModeFull}).IsFullRerun())
	assert.False(t, (&ImpactAnalysis{Mode: ModePartial}).IsFullRerun())
}
