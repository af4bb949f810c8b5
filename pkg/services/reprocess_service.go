package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reforge-inc/reforge-engine/pkg/models"
)

// ReprocessService drives the full control flow for one field change across
// a batch of work items: analyze the change, open a round per item, run the
// pre-flight date gate, execute the selected stages stage-major, and close
// each round with its own outcome. A fatal error on one item's round never
// stops the rest of the batch.
type ReprocessService struct {
	analyzer     *ImpactAnalyzer
	rounds       RoundService
	orchestrator *BatchOrchestrator
	validator    *DateConsistencyValidator
	logger       *zap.Logger
}

// NewReprocessService wires the reprocessing control flow.
func NewReprocessService(
	analyzer *ImpactAnalyzer,
	rounds RoundService,
	orchestrator *BatchOrchestrator,
	validator *DateConsistencyValidator,
	logger *zap.Logger,
) *ReprocessService {
	return &ReprocessService{
		analyzer:     analyzer,
		rounds:       rounds,
		orchestrator: orchestrator,
		validator:    validator,
		logger:       logger.Named("reprocess-service"),
	}
}

// BatchRequest describes one reprocessing run.
type BatchRequest struct {
	// OldFields and NewFields are the two field-value snapshots whose
	// difference triggers the run.
	OldFields map[string]string
	NewFields map[string]string

	// WorkItemIDs are the independent items the change applies to.
	WorkItemIDs []uuid.UUID

	// Stages is the full pipeline; the decision selects which of them
	// actually run.
	Stages []PipelineStage

	// Checkpoint, when set, gates each stage for the whole batch.
	Checkpoint CheckpointFunc

	// Shared is batch-wide context handed to stages as an isolated copy
	// per item.
	Shared map[string]any
}

// BatchOutcome reports one run.
type BatchOutcome struct {
	Decision *models.ImpactAnalysis
	Report   *PipelineReport

	// Rounds maps each work item to the round opened for it. Items whose
	// round failed pre-flight still appear here with a Failed round.
	Rounds map[uuid.UUID]*models.Round

	// PreflightFailures maps work items to the date-validation error that
	// aborted their round before any stage ran.
	PreflightFailures map[uuid.UUID]error
}

// Execute runs the whole flow. The returned error covers orchestration
// failures only; per-item outcomes are reported in the BatchOutcome.
func (s *ReprocessService) Execute(ctx context.Context, req BatchRequest) (*BatchOutcome, error) {
	decision := s.analyzer.AnalyzeDiff(req.OldFields, req.NewFields)

	outcome := &BatchOutcome{
		Decision:          decision,
		Rounds:            make(map[uuid.UUID]*models.Round, len(req.WorkItemIDs)),
		PreflightFailures: make(map[uuid.UUID]error),
	}

	selected := s.selectStages(decision, req.Stages)
	if len(selected) == 0 {
		s.logger.Info("Decision selects no stages; batch is a no-op",
			zap.String("mode", string(decision.Mode)),
			zap.Strings("fields", decision.FieldsChanged))
		return outcome, nil
	}

	// Open one round per item, then gate it on date consistency before
	// any expensive work. Round initialization is synchronous: it must
	// finish before concurrent stage execution starts.
	items := make([]*BatchItem, 0, len(req.WorkItemIDs))
	for _, itemID := range req.WorkItemIDs {
		round, err := s.openRound(ctx, itemID, decision)
		if err != nil {
			return outcome, fmt.Errorf("open round for item %s: %w", itemID, err)
		}
		outcome.Rounds[itemID] = round

		if err := s.validator.Validate(ctx, itemID); err != nil {
			// Fatal for this round only; siblings proceed.
			outcome.PreflightFailures[itemID] = err
			if markErr := s.rounds.MarkStatus(ctx, itemID, round.RoundNumber, models.RoundStatusFailed); markErr != nil {
				return outcome, fmt.Errorf("fail round %d for item %s: %w", round.RoundNumber, itemID, markErr)
			}
			round.Status = models.RoundStatusFailed
			s.logger.Warn("Round aborted by date pre-flight check",
				zap.String("work_item_id", itemID.String()),
				zap.Int("round_number", round.RoundNumber),
				zap.Error(err))
			continue
		}

		if err := s.rounds.MarkStatus(ctx, itemID, round.RoundNumber, models.RoundStatusProcessing); err != nil {
			return outcome, fmt.Errorf("start round %d for item %s: %w", round.RoundNumber, itemID, err)
		}
		round.Status = models.RoundStatusProcessing

		items = append(items, &BatchItem{
			ID:          itemID,
			State:       make(map[string]any),
			Round:       round,
			ParentRound: s.parentRound(ctx, itemID, round),
		})
	}

	report, pipelineErr := s.orchestrator.RunPipeline(ctx, selected, items, req.Shared, req.Checkpoint)
	outcome.Report = report

	for _, item := range items {
		status := models.RoundStatusCompleted
		if report.ItemFailed(item.ID) || pipelineErr != nil {
			status = models.RoundStatusFailed
		}
		if err := s.rounds.MarkStatus(ctx, item.ID, item.Round.RoundNumber, status); err != nil {
			return outcome, fmt.Errorf("close round %d for item %s: %w", item.Round.RoundNumber, item.ID, err)
		}
		item.Round.Status = status
	}

	return outcome, pipelineErr
}

// openRound records the decision as a new round for the item. Incremental
// and partial rounds point at the item's current round as their parent.
func (s *ReprocessService) openRound(ctx context.Context, itemID uuid.UUID, decision *models.ImpactAnalysis) (*models.Round, error) {
	var parent *int
	if decision.Mode != models.ModeFull {
		history, err := s.rounds.GetHistory(ctx, itemID, false)
		if err != nil {
			return nil, err
		}
		if history.CurrentRound > 0 {
			current := history.CurrentRound
			parent = &current
		}
	}

	return s.rounds.Initialize(ctx, itemID, InitializeParams{
		Mode:          decision.Mode,
		ParentRound:   parent,
		TriggerReason: decision.Reasoning,
		FieldsUpdated: decision.FieldsChanged,
		Impact:        decision,
	})
}

// parentRound loads the parent round record so stages can reference the
// prior artifacts. Missing parents are tolerated; stages then rebuild from
// scratch.
func (s *ReprocessService) parentRound(ctx context.Context, itemID uuid.UUID, round *models.Round) *models.Round {
	if round.ParentRound == nil {
		return nil
	}
	history, err := s.rounds.GetHistory(ctx, itemID, true)
	if err != nil {
		s.logger.Warn("Failed to load parent round",
			zap.String("work_item_id", itemID.String()),
			zap.Int("parent_round", *round.ParentRound),
			zap.Error(err))
		return nil
	}
	return history.Round(*round.ParentRound)
}

// selectStages filters the pipeline down to the stages the decision
// affects. A full rerun keeps every stage.
func (s *ReprocessService) selectStages(decision *models.ImpactAnalysis, stages []PipelineStage) []PipelineStage {
	if decision.Mode == models.ModeFull {
		return stages
	}

	selected := make([]PipelineStage, 0, len(stages))
	for _, stage := range stages {
		for _, affected := range decision.AffectedStages {
			if stage.Name == affected {
				selected = append(selected, stage)
				break
			}
		}
	}
	return selected
}
