package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/reforge-inc/reforge-engine/pkg/apperrors"
	"github.com/reforge-inc/reforge-engine/pkg/database"
	"github.com/reforge-inc/reforge-engine/pkg/models"
)

// postgresRoundRepository persists rounds, pointers, and the changelog in
// PostgreSQL. Schema lives in migrations/.
type postgresRoundRepository struct {
	db *database.DB
}

// NewPostgresRoundRepository creates a RoundRepository backed by PostgreSQL.
func NewPostgresRoundRepository(db *database.DB) RoundRepository {
	return &postgresRoundRepository{db: db}
}

var _ RoundRepository = (*postgresRoundRepository)(nil)

const roundColumns = `
	id, work_item_id, round_number, parent_round, mode, trigger_reason,
	status, fields_updated, impact_snapshot, rolled_back_at,
	rolled_back_reason, created_at, updated_at`

func (r *postgresRoundRepository) CreateRound(ctx context.Context, round *models.Round) error {
	if round.ID == uuid.Nil {
		round.ID = uuid.New()
	}
	now := time.Now()
	round.CreatedAt = now
	round.UpdatedAt = now

	snapshotJSON, err := marshalImpactSnapshot(round.ImpactSnapshot)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO reprocess_rounds (
			id, work_item_id, round_number, parent_round, mode,
			trigger_reason, status, fields_updated, impact_snapshot,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Exec(ctx, query,
		round.ID,
		round.WorkItemID,
		round.RoundNumber,
		round.ParentRound,
		round.Mode,
		round.TriggerReason,
		round.Status,
		round.FieldsUpdated,
		snapshotJSON,
		round.CreatedAt,
		round.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrRoundExists
		}
		return fmt.Errorf("failed to create round: %w", err)
	}
	return nil
}

func (r *postgresRoundRepository) GetRound(ctx context.Context, workItemID uuid.UUID, roundNumber int) (*models.Round, error) {
	query := `SELECT ` + roundColumns + `
		FROM reprocess_rounds
		WHERE work_item_id = $1 AND round_number = $2`

	round, err := scanRound(r.db.QueryRow(ctx, query, workItemID, roundNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrRoundNotFound
		}
		return nil, err
	}
	return round, nil
}

func (r *postgresRoundRepository) UpdateRound(ctx context.Context, round *models.Round) error {
	round.UpdatedAt = time.Now()

	snapshotJSON, err := marshalImpactSnapshot(round.ImpactSnapshot)
	if err != nil {
		return err
	}

	query := `
		UPDATE reprocess_rounds
		SET status = $1, fields_updated = $2, impact_snapshot = $3,
		    rolled_back_at = $4, rolled_back_reason = $5, updated_at = $6
		WHERE work_item_id = $7 AND round_number = $8`

	tag, err := r.db.Exec(ctx, query,
		round.Status,
		round.FieldsUpdated,
		snapshotJSON,
		round.RolledBackAt,
		round.RolledBackReason,
		round.UpdatedAt,
		round.WorkItemID,
		round.RoundNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to update round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrRoundNotFound
	}
	return nil
}

func (r *postgresRoundRepository) ListRounds(ctx context.Context, workItemID uuid.UUID) ([]*models.Round, error) {
	query := `SELECT ` + roundColumns + `
		FROM reprocess_rounds
		WHERE work_item_id = $1
		ORDER BY round_number ASC`

	rows, err := r.db.Query(ctx, query, workItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []*models.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, round)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rounds: %w", err)
	}
	return rounds, nil
}

func (r *postgresRoundRepository) GetCurrentRound(ctx context.Context, workItemID uuid.UUID) (int, error) {
	query := `SELECT current_round FROM reprocess_round_pointers WHERE work_item_id = $1`

	var current int
	err := r.db.QueryRow(ctx, query, workItemID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current round: %w", err)
	}
	return current, nil
}

func (r *postgresRoundRepository) SetCurrentRound(ctx context.Context, workItemID uuid.UUID, roundNumber int) error {
	query := `
		INSERT INTO reprocess_round_pointers (work_item_id, current_round, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (work_item_id)
		DO UPDATE SET current_round = EXCLUDED.current_round, updated_at = EXCLUDED.updated_at`

	if _, err := r.db.Exec(ctx, query, workItemID, roundNumber, time.Now()); err != nil {
		return fmt.Errorf("failed to set current round: %w", err)
	}
	return nil
}

func (r *postgresRoundRepository) UpsertChangelog(ctx context.Context, entry *models.ChangelogEntry) error {
	if _, err := upsertChangelogTx(ctx, r.db, entry); err != nil {
		return err
	}
	return nil
}

func (r *postgresRoundRepository) ListChangelog(ctx context.Context, workItemID uuid.UUID) ([]*models.ChangelogEntry, error) {
	query := `
		SELECT id, work_item_id, round_number, action, status,
		       fields_updated, impact_snapshot, created_at, updated_at
		FROM reprocess_round_changelog
		WHERE work_item_id = $1
		ORDER BY round_number ASC`

	rows, err := r.db.Query(ctx, query, workItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list changelog: %w", err)
	}
	defer rows.Close()

	var entries []*models.ChangelogEntry
	for rows.Next() {
		var entry models.ChangelogEntry
		var snapshotJSON []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.WorkItemID,
			&entry.RoundNumber,
			&entry.Action,
			&entry.Status,
			&entry.FieldsUpdated,
			&snapshotJSON,
			&entry.CreatedAt,
			&entry.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan changelog entry: %w", err)
		}
		if err := unmarshalImpactSnapshot(snapshotJSON, &entry.ImpactSnapshot); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changelog entries: %w", err)
	}
	return entries, nil
}

// ApplyRollback flips every round above the target to rolled back, moves the
// pointer, and rewrites the affected changelog entries, all in one
// transaction.
func (r *postgresRoundRepository) ApplyRollback(ctx context.Context, workItemID uuid.UUID, targetRound int, reason string, at time.Time) ([]*models.Round, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin rollback transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE reprocess_rounds
		SET status = $1, rolled_back_at = $2, rolled_back_reason = $3, updated_at = $2
		WHERE work_item_id = $4 AND round_number > $5 AND status <> $1
		RETURNING ` + roundColumns

	rows, err := tx.Query(ctx, query,
		models.RoundStatusRolledBack, at, reason, workItemID, targetRound)
	if err != nil {
		return nil, fmt.Errorf("failed to roll back rounds: %w", err)
	}

	var affected []*models.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		affected = append(affected, round)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating rolled back rounds: %w", err)
	}
	rows.Close()

	pointerQuery := `
		INSERT INTO reprocess_round_pointers (work_item_id, current_round, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (work_item_id)
		DO UPDATE SET current_round = EXCLUDED.current_round, updated_at = EXCLUDED.updated_at`
	if _, err := tx.Exec(ctx, pointerQuery, workItemID, targetRound, at); err != nil {
		return nil, fmt.Errorf("failed to move current round pointer: %w", err)
	}

	for _, round := range affected {
		entry := &models.ChangelogEntry{
			WorkItemID:     workItemID,
			RoundNumber:    round.RoundNumber,
			Action:         models.ChangelogActionRolledBack,
			Status:         models.RoundStatusRolledBack,
			FieldsUpdated:  round.FieldsUpdated,
			ImpactSnapshot: round.ImpactSnapshot,
		}
		if _, err := upsertChangelogTx(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit rollback: %w", err)
	}
	return affected, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertChangelogTx(ctx context.Context, q querier, entry *models.ChangelogEntry) (uuid.UUID, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	now := time.Now()

	snapshotJSON, err := marshalImpactSnapshot(entry.ImpactSnapshot)
	if err != nil {
		return uuid.Nil, err
	}

	query := `
		INSERT INTO reprocess_round_changelog (
			id, work_item_id, round_number, action, status,
			fields_updated, impact_snapshot, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (work_item_id, round_number)
		DO UPDATE SET action = EXCLUDED.action, status = EXCLUDED.status,
		              fields_updated = EXCLUDED.fields_updated,
		              impact_snapshot = EXCLUDED.impact_snapshot,
		              updated_at = EXCLUDED.updated_at`

	_, err = q.Exec(ctx, query,
		entry.ID,
		entry.WorkItemID,
		entry.RoundNumber,
		entry.Action,
		entry.Status,
		entry.FieldsUpdated,
		snapshotJSON,
		now,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert changelog entry: %w", err)
	}
	return entry.ID, nil
}

func scanRound(row pgx.Row) (*models.Round, error) {
	var round models.Round
	var snapshotJSON []byte

	err := row.Scan(
		&round.ID,
		&round.WorkItemID,
		&round.RoundNumber,
		&round.ParentRound,
		&round.Mode,
		&round.TriggerReason,
		&round.Status,
		&round.FieldsUpdated,
		&snapshotJSON,
		&round.RolledBackAt,
		&round.RolledBackReason,
		&round.CreatedAt,
		&round.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan round: %w", err)
	}

	if err := unmarshalImpactSnapshot(snapshotJSON, &round.ImpactSnapshot); err != nil {
		return nil, err
	}
	return &round, nil
}

func marshalImpactSnapshot(snapshot *models.ImpactAnalysis) ([]byte, error) {
	if snapshot == nil {
		return nil, nil
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal impact snapshot: %w", err)
	}
	return raw, nil
}

func unmarshalImpactSnapshot(raw []byte, out **models.ImpactAnalysis) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var snapshot models.ImpactAnalysis
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal impact snapshot: %w", err)
	}
	*out = &snapshot
	return nil
}
