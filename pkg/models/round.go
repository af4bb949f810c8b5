package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Round Status
// ============================================================================

// RoundStatus represents the lifecycle state of one reprocessing round.
type RoundStatus string

const (
	RoundStatusInitialized RoundStatus = "initialized"
	RoundStatusProcessing  RoundStatus = "processing"
	RoundStatusCompleted   RoundStatus = "completed"
	RoundStatusFailed      RoundStatus = "failed"
	RoundStatusRolledBack  RoundStatus = "rolled_back"
)

// ValidRoundStatuses contains all valid round status values.
var ValidRoundStatuses = []RoundStatus{
	RoundStatusInitialized,
	RoundStatusProcessing,
	RoundStatusCompleted,
	RoundStatusFailed,
	RoundStatusRolledBack,
}

// IsValidRoundStatus checks if the given status is valid.
func IsValidRoundStatus(s RoundStatus) bool {
	for _, v := range ValidRoundStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true once no further forward transition exists.
// RolledBack is the only hard-terminal state; Completed and Failed rounds
// may still be flipped to RolledBack by a later rollback.
func (s RoundStatus) IsTerminal() bool {
	return s == RoundStatusRolledBack
}

// CanRollBack returns true if a round in this status is a valid rollback
// target or subject.
func (s RoundStatus) CanRollBack() bool {
	return s == RoundStatusCompleted || s == RoundStatusFailed
}

// ============================================================================
// Round
// ============================================================================

// Round is one versioned reprocessing attempt for a single work item.
// Rounds are append-only: they are created once and never deleted; rollback
// only flips status and audit metadata.
type Round struct {
	ID         uuid.UUID `json:"id"`
	WorkItemID uuid.UUID `json:"work_item_id"`

	// RoundNumber is monotonic per work item, starting at 1, never reused.
	RoundNumber int `json:"round_number"`

	// ParentRound, when set, names the round whose artifacts this round
	// carries forward. Always strictly less than RoundNumber.
	ParentRound *int `json:"parent_round,omitempty"`

	Mode          ReprocessMode `json:"mode"`
	TriggerReason string        `json:"trigger_reason"`
	Status        RoundStatus   `json:"status"`

	FieldsUpdated  []string        `json:"fields_updated"`
	ImpactSnapshot *ImpactAnalysis `json:"impact_snapshot,omitempty"`

	// Rollback metadata, set only when Status is RolledBack.
	RolledBackAt     *time.Time `json:"rolled_back_at,omitempty"`
	RolledBackReason *string    `json:"rolled_back_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive returns true while the round still owns its work item's
// processing slot.
func (r *Round) IsActive() bool {
	return r.Status == RoundStatusInitialized || r.Status == RoundStatusProcessing
}

// ============================================================================
// Round History
// ============================================================================

// RoundHistory is the full versioned record for one work item. The round
// list grows monotonically and is never pruned.
type RoundHistory struct {
	WorkItemID   uuid.UUID `json:"work_item_id"`
	CurrentRound int       `json:"current_round"`
	Rounds       []*Round  `json:"rounds"`
}

// Round returns the round with the given number, or nil.
func (h *RoundHistory) Round(number int) *Round {
	for _, r := range h.Rounds {
		if r.RoundNumber == number {
			return r
		}
	}
	return nil
}

// ============================================================================
// Changelog
// ============================================================================

// ChangelogEntry is the single live audit record for one round. Later
// transitions update the entry in place rather than appending duplicates.
type ChangelogEntry struct {
	ID          uuid.UUID `json:"id"`
	WorkItemID  uuid.UUID `json:"work_item_id"`
	RoundNumber int       `json:"round_number"`

	// Action is the latest lifecycle action applied to the round.
	Action string      `json:"action"`
	Status RoundStatus `json:"status"`

	FieldsUpdated  []string        `json:"fields_updated"`
	ImpactSnapshot *ImpactAnalysis `json:"impact_snapshot,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Changelog actions recorded against rounds.
const (
	ChangelogActionInitialized = "initialized"
	ChangelogActionStatus      = "status_changed"
	ChangelogActionRolledBack  = "rolled_back"
)
