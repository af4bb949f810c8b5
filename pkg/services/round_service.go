package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reforge-inc/reforge-engine/pkg/apperrors"
	"github.com/reforge-inc/reforge-engine/pkg/models"
	"github.com/reforge-inc/reforge-engine/pkg/repositories"
)

// RoundService maintains the versioned round lifecycle for every work item:
// append-only rounds, the current-round pointer, the changelog, and
// audit-preserving rollback.
type RoundService interface {
	// Initialize opens the next round for the work item and moves the
	// current-round pointer to it. Fails with apperrors.ErrRoundExists if
	// the allocated number is already taken and with
	// apperrors.ErrRoundInProgress while another round is active.
	Initialize(ctx context.Context, workItemID uuid.UUID, params InitializeParams) (*models.Round, error)

	// MarkStatus transitions a round. Any transition is allowed except out
	// of the terminal RolledBack state. Every call upserts the round's
	// changelog entry.
	MarkStatus(ctx context.Context, workItemID uuid.UUID, roundNumber int, status models.RoundStatus) error

	// RollbackTo reverts the work item to an earlier round. Every round
	// above the target is marked rolled back; nothing is deleted. The
	// operation validates fully before applying and never partially
	// applies.
	RollbackTo(ctx context.Context, workItemID uuid.UUID, targetRound int, reason string) error

	// GetHistory returns the work item's round history. Rolled-back
	// rounds are filtered out unless includeRolledBack is set; they are
	// still fully readable either way.
	GetHistory(ctx context.Context, workItemID uuid.UUID, includeRolledBack bool) (*models.RoundHistory, error)

	// GetChangelog returns the audit changelog, one live entry per round.
	GetChangelog(ctx context.Context, workItemID uuid.UUID) ([]*models.ChangelogEntry, error)
}

// InitializeParams carries everything a new round records about the
// decision that triggered it.
type InitializeParams struct {
	Mode          models.ReprocessMode
	ParentRound   *int
	TriggerReason string
	FieldsUpdated []string
	Impact        *models.ImpactAnalysis
}

type roundService struct {
	repo   repositories.RoundRepository
	logger *zap.Logger

	// locks serializes round allocation per work item. Round
	// initialization must finish before any concurrent stage work starts,
	// and only one round per item may be processing.
	locks sync.Map // uuid.UUID -> *sync.Mutex
}

// NewRoundService creates a RoundService on top of a round repository.
func NewRoundService(repo repositories.RoundRepository, logger *zap.Logger) RoundService {
	return &roundService{
		repo:   repo,
		logger: logger.Named("round-service"),
	}
}

var _ RoundService = (*roundService)(nil)

func (s *roundService) itemLock(workItemID uuid.UUID) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(workItemID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (s *roundService) Initialize(ctx context.Context, workItemID uuid.UUID, params InitializeParams) (*models.Round, error) {
	lock := s.itemLock(workItemID)
	lock.Lock()
	defer lock.Unlock()

	rounds, err := s.repo.ListRounds(ctx, workItemID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}

	next := 1
	for _, r := range rounds {
		if r.IsActive() {
			return nil, fmt.Errorf("round %d is still active: %w",
				r.RoundNumber, apperrors.ErrRoundInProgress)
		}
		if r.RoundNumber >= next {
			next = r.RoundNumber + 1
		}
	}

	if params.ParentRound != nil && *params.ParentRound >= next {
		return nil, fmt.Errorf("parent round %d must precede round %d",
			*params.ParentRound, next)
	}

	round := &models.Round{
		WorkItemID:     workItemID,
		RoundNumber:    next,
		ParentRound:    params.ParentRound,
		Mode:           params.Mode,
		TriggerReason:  params.TriggerReason,
		Status:         models.RoundStatusInitialized,
		FieldsUpdated:  params.FieldsUpdated,
		ImpactSnapshot: params.Impact,
	}

	if err := s.repo.CreateRound(ctx, round); err != nil {
		return nil, fmt.Errorf("create round %d: %w", next, err)
	}
	if err := s.repo.SetCurrentRound(ctx, workItemID, next); err != nil {
		return nil, fmt.Errorf("set current round: %w", err)
	}

	if err := s.repo.UpsertChangelog(ctx, &models.ChangelogEntry{
		WorkItemID:     workItemID,
		RoundNumber:    next,
		Action:         models.ChangelogActionInitialized,
		Status:         round.Status,
		FieldsUpdated:  round.FieldsUpdated,
		ImpactSnapshot: round.ImpactSnapshot,
	}); err != nil {
		return nil, fmt.Errorf("record changelog: %w", err)
	}

	s.logger.Info("Round initialized",
		zap.String("work_item_id", workItemID.String()),
		zap.Int("round_number", next),
		zap.String("mode", string(params.Mode)),
		zap.String("trigger_reason", params.TriggerReason))

	return round, nil
}

func (s *roundService) MarkStatus(ctx context.Context, workItemID uuid.UUID, roundNumber int, status models.RoundStatus) error {
	if !models.IsValidRoundStatus(status) {
		return fmt.Errorf("invalid round status %q", status)
	}

	lock := s.itemLock(workItemID)
	lock.Lock()
	defer lock.Unlock()

	round, err := s.repo.GetRound(ctx, workItemID, roundNumber)
	if err != nil {
		return fmt.Errorf("get round %d: %w", roundNumber, err)
	}

	if round.Status.IsTerminal() {
		return fmt.Errorf("round %d: %w", roundNumber, apperrors.ErrRoundRolledBack)
	}

	round.Status = status
	if err := s.repo.UpdateRound(ctx, round); err != nil {
		return fmt.Errorf("update round %d: %w", roundNumber, err)
	}

	if err := s.repo.UpsertChangelog(ctx, &models.ChangelogEntry{
		WorkItemID:     workItemID,
		RoundNumber:    roundNumber,
		Action:         models.ChangelogActionStatus,
		Status:         status,
		FieldsUpdated:  round.FieldsUpdated,
		ImpactSnapshot: round.ImpactSnapshot,
	}); err != nil {
		return fmt.Errorf("record changelog: %w", err)
	}

	s.logger.Info("Round status changed",
		zap.String("work_item_id", workItemID.String()),
		zap.Int("round_number", roundNumber),
		zap.String("status", string(status)))

	return nil
}

func (s *roundService) RollbackTo(ctx context.Context, workItemID uuid.UUID, targetRound int, reason string) error {
	if reason == "" {
		return fmt.Errorf("rollback requires a reason")
	}

	lock := s.itemLock(workItemID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.repo.GetCurrentRound(ctx, workItemID)
	if err != nil {
		return fmt.Errorf("get current round: %w", err)
	}
	if current == 0 {
		return fmt.Errorf("work item %s has no rounds: %w",
			workItemID, apperrors.ErrWorkItemNotFound)
	}
	if targetRound >= current {
		return fmt.Errorf("target round %d is not before current round %d: %w",
			targetRound, current, apperrors.ErrInvalidRollbackTarget)
	}

	target, err := s.repo.GetRound(ctx, workItemID, targetRound)
	if err != nil {
		return fmt.Errorf("target round %d: %w", targetRound, err)
	}
	if target.Status == models.RoundStatusRolledBack {
		return fmt.Errorf("target round %d: %w", targetRound, apperrors.ErrRoundRolledBack)
	}

	affected, err := s.repo.ApplyRollback(ctx, workItemID, targetRound, reason, time.Now())
	if err != nil {
		return fmt.Errorf("apply rollback to round %d: %w", targetRound, err)
	}

	s.logger.Info("Rolled back to earlier round",
		zap.String("work_item_id", workItemID.String()),
		zap.Int("target_round", targetRound),
		zap.Int("rounds_rolled_back", len(affected)),
		zap.String("reason", reason))

	return nil
}

func (s *roundService) GetHistory(ctx context.Context, workItemID uuid.UUID, includeRolledBack bool) (*models.RoundHistory, error) {
	rounds, err := s.repo.ListRounds(ctx, workItemID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	current, err := s.repo.GetCurrentRound(ctx, workItemID)
	if err != nil {
		return nil, fmt.Errorf("get current round: %w", err)
	}

	history := &models.RoundHistory{
		WorkItemID:   workItemID,
		CurrentRound: current,
	}
	for _, r := range rounds {
		if !includeRolledBack && r.Status == models.RoundStatusRolledBack {
			continue
		}
		history.Rounds = append(history.Rounds, r)
	}
	return history, nil
}

func (s *roundService) GetChangelog(ctx context.Context, workItemID uuid.UUID) ([]*models.ChangelogEntry, error) {
	entries, err := s.repo.ListChangelog(ctx, workItemID)
	if err != nil {
		return nil, fmt.Errorf("list changelog: %w", err)
	}
	return entries, nil
}
