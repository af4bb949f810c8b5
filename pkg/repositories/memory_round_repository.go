package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reforge-inc/reforge-engine/pkg/apperrors"
	"github.com/reforge-inc/reforge-engine/pkg/models"
)

// memoryRoundRepository is an in-process RoundRepository. It backs unit
// tests and embedded callers that do not want a database; the engine's
// semantics do not depend on which backend is used.
type memoryRoundRepository struct {
	mu        sync.RWMutex
	rounds    map[uuid.UUID]map[int]*models.Round
	pointers  map[uuid.UUID]int
	changelog map[uuid.UUID]map[int]*models.ChangelogEntry
}

// NewMemoryRoundRepository creates an empty in-memory round store.
func NewMemoryRoundRepository() RoundRepository {
	return &memoryRoundRepository{
		rounds:    make(map[uuid.UUID]map[int]*models.Round),
		pointers:  make(map[uuid.UUID]int),
		changelog: make(map[uuid.UUID]map[int]*models.ChangelogEntry),
	}
}

var _ RoundRepository = (*memoryRoundRepository)(nil)

func (r *memoryRoundRepository) CreateRound(ctx context.Context, round *models.Round) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byNumber, ok := r.rounds[round.WorkItemID]
	if !ok {
		byNumber = make(map[int]*models.Round)
		r.rounds[round.WorkItemID] = byNumber
	}
	if _, dup := byNumber[round.RoundNumber]; dup {
		return apperrors.ErrRoundExists
	}

	stored := cloneRound(round)
	now := time.Now()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	byNumber[round.RoundNumber] = stored

	round.ID = stored.ID
	round.CreatedAt = stored.CreatedAt
	round.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *memoryRoundRepository) GetRound(ctx context.Context, workItemID uuid.UUID, roundNumber int) (*models.Round, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	round, ok := r.rounds[workItemID][roundNumber]
	if !ok {
		return nil, apperrors.ErrRoundNotFound
	}
	return cloneRound(round), nil
}

func (r *memoryRoundRepository) UpdateRound(ctx context.Context, round *models.Round) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.rounds[round.WorkItemID][round.RoundNumber]
	if !ok {
		return apperrors.ErrRoundNotFound
	}

	updated := cloneRound(round)
	updated.ID = stored.ID
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = time.Now()
	r.rounds[round.WorkItemID][round.RoundNumber] = updated
	round.UpdatedAt = updated.UpdatedAt
	return nil
}

func (r *memoryRoundRepository) ListRounds(ctx context.Context, workItemID uuid.UUID) ([]*models.Round, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byNumber := r.rounds[workItemID]
	rounds := make([]*models.Round, 0, len(byNumber))
	for _, round := range byNumber {
		rounds = append(rounds, cloneRound(round))
	}
	sort.Slice(rounds, func(i, j int) bool {
		return rounds[i].RoundNumber < rounds[j].RoundNumber
	})
	return rounds, nil
}

func (r *memoryRoundRepository) GetCurrentRound(ctx context.Context, workItemID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pointers[workItemID], nil
}

func (r *memoryRoundRepository) SetCurrentRound(ctx context.Context, workItemID uuid.UUID, roundNumber int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pointers[workItemID] = roundNumber
	return nil
}

func (r *memoryRoundRepository) UpsertChangelog(ctx context.Context, entry *models.ChangelogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertChangelogLocked(entry)
	return nil
}

// upsertChangelogLocked keeps exactly one live entry per round number.
// Must be called with the write lock held.
func (r *memoryRoundRepository) upsertChangelogLocked(entry *models.ChangelogEntry) {
	byRound, ok := r.changelog[entry.WorkItemID]
	if !ok {
		byRound = make(map[int]*models.ChangelogEntry)
		r.changelog[entry.WorkItemID] = byRound
	}

	now := time.Now()
	stored := cloneChangelogEntry(entry)
	if existing, ok := byRound[entry.RoundNumber]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.ID == uuid.Nil {
			stored.ID = uuid.New()
		}
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	byRound[entry.RoundNumber] = stored
}

func (r *memoryRoundRepository) ListChangelog(ctx context.Context, workItemID uuid.UUID) ([]*models.ChangelogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byRound := r.changelog[workItemID]
	entries := make([]*models.ChangelogEntry, 0, len(byRound))
	for _, e := range byRound {
		entries = append(entries, cloneChangelogEntry(e))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RoundNumber < entries[j].RoundNumber
	})
	return entries, nil
}

func (r *memoryRoundRepository) ApplyRollback(ctx context.Context, workItemID uuid.UUID, targetRound int, reason string, at time.Time) ([]*models.Round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byNumber, ok := r.rounds[workItemID]
	if !ok {
		return nil, apperrors.ErrWorkItemNotFound
	}

	var affected []*models.Round
	for number, round := range byNumber {
		if number <= targetRound || round.Status == models.RoundStatusRolledBack {
			continue
		}
		round.Status = models.RoundStatusRolledBack
		rolledAt := at
		rolledReason := reason
		round.RolledBackAt = &rolledAt
		round.RolledBackReason = &rolledReason
		round.UpdatedAt = at

		r.upsertChangelogLocked(&models.ChangelogEntry{
			WorkItemID:     workItemID,
			RoundNumber:    number,
			Action:         models.ChangelogActionRolledBack,
			Status:         models.RoundStatusRolledBack,
			FieldsUpdated:  round.FieldsUpdated,
			ImpactSnapshot: round.ImpactSnapshot,
		})

		affected = append(affected, cloneRound(round))
	}

	r.pointers[workItemID] = targetRound

	sort.Slice(affected, func(i, j int) bool {
		return affected[i].RoundNumber < affected[j].RoundNumber
	})
	return affected, nil
}

func cloneRound(in *models.Round) *models.Round {
	out := *in
	out.FieldsUpdated = append([]string(nil), in.FieldsUpdated...)
	if in.ParentRound != nil {
		parent := *in.ParentRound
		out.ParentRound = &parent
	}
	if in.RolledBackAt != nil {
		at := *in.RolledBackAt
		out.RolledBackAt = &at
	}
	if in.RolledBackReason != nil {
		reason := *in.RolledBackReason
		out.RolledBackReason = &reason
	}
	if in.ImpactSnapshot != nil {
		snapshot := *in.ImpactSnapshot
		out.ImpactSnapshot = &snapshot
	}
	return &out
}

func cloneChangelogEntry(in *models.ChangelogEntry) *models.ChangelogEntry {
	out := *in
	out.FieldsUpdated = append([]string(nil), in.FieldsUpdated...)
	if in.ImpactSnapshot != nil {
		snapshot := *in.ImpactSnapshot
		out.ImpactSnapshot = &snapshot
	}
	return &out
}
