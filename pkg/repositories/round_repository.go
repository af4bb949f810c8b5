package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/reforge-inc/reforge-engine/pkg/models"
)

// RoundRepository provides data access for rounds, the per-item
// current-round pointer, and the changelog. Implementations must keep the
// three together: ApplyRollback in particular must be atomic so a failed
// rollback never partially applies.
type RoundRepository interface {
	// CreateRound inserts a new round. Returns apperrors.ErrRoundExists
	// when the (work item, round number) pair is already taken.
	CreateRound(ctx context.Context, round *models.Round) error

	// GetRound returns one round. Returns apperrors.ErrRoundNotFound when
	// it does not exist.
	GetRound(ctx context.Context, workItemID uuid.UUID, roundNumber int) (*models.Round, error)

	// UpdateRound persists status and audit fields of an existing round.
	UpdateRound(ctx context.Context, round *models.Round) error

	// ListRounds returns every round for the work item ordered by round
	// number ascending. Rounds are never pruned.
	ListRounds(ctx context.Context, workItemID uuid.UUID) ([]*models.Round, error)

	// GetCurrentRound returns the current-round pointer, or 0 when the
	// work item has no rounds yet.
	GetCurrentRound(ctx context.Context, workItemID uuid.UUID) (int, error)

	// SetCurrentRound moves the current-round pointer.
	SetCurrentRound(ctx context.Context, workItemID uuid.UUID, roundNumber int) error

	// UpsertChangelog creates or replaces the single live changelog entry
	// for the round. Repeated transitions update the entry in place.
	UpsertChangelog(ctx context.Context, entry *models.ChangelogEntry) error

	// ListChangelog returns changelog entries ordered by round number.
	ListChangelog(ctx context.Context, workItemID uuid.UUID) ([]*models.ChangelogEntry, error)

	// ApplyRollback atomically marks every round with a number greater
	// than targetRound as rolled back, moves the pointer to targetRound,
	// and updates the affected changelog entries. Returns the affected
	// rounds. Callers validate the target before calling.
	ApplyRollback(ctx context.Context, workItemID uuid.UUID, targetRound int, reason string, at time.Time) ([]*models.Round, error)
}
