package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reforge-inc/reforge-engine/pkg/apperrors"
	"github.com/reforge-inc/reforge-engine/pkg/models"
)

// BatchItem is one independent work item moving through the pipeline.
// State accumulates the metadata stages hand back; the orchestrator never
// interprets it.
type BatchItem struct {
	ID    uuid.UUID
	State map[string]any

	// Round is the item's active round; ParentRound is set for
	// incremental and partial modes so stages can copy unaffected
	// artifacts forward.
	Round       *models.Round
	ParentRound *models.Round
}

// ItemContext is the view a stage function receives for one item: the item
// identity and state, plus an isolated copy of the batch-wide shared
// context. Mutating Shared never affects sibling items.
type ItemContext struct {
	ItemID      uuid.UUID
	Shared      map[string]any
	State       map[string]any
	Round       *models.Round
	ParentRound *models.Round
}

// StageFunc is the opaque per-item work of one pipeline stage. It returns
// metadata to merge into the item state, or an error.
type StageFunc func(ctx context.Context, item *ItemContext) (map[string]any, error)

// CheckpointFunc inspects a whole stage's results once per batch. A false
// return is advisory by default: it is logged and the batch proceeds.
type CheckpointFunc func(stage models.Stage, results []ItemResult) bool

// ItemResult is the outcome of one stage execution for one item. Exactly
// one result exists per supplied item.
type ItemResult struct {
	ItemID   uuid.UUID
	Stage    models.Stage
	Metadata map[string]any
	Err      error
}

// Success reports whether the item's stage execution succeeded.
func (r ItemResult) Success() bool {
	return r.Err == nil
}

// PipelineStage pairs a stage name with its work function.
type PipelineStage struct {
	Name models.Stage
	Run  StageFunc
}

// PipelineReport aggregates a full multi-stage batch run.
type PipelineReport struct {
	StageResults map[models.Stage][]ItemResult
	// FailedItems holds every item that failed at least one stage.
	FailedItems map[uuid.UUID]bool
	// CheckpointFailures lists stages whose checkpoint returned false.
	CheckpointFailures []models.Stage
}

// ItemFailed reports whether the item failed any stage.
func (p *PipelineReport) ItemFailed(itemID uuid.UUID) bool {
	return p.FailedItems[itemID]
}

// BatchOrchestratorConfig configures batch execution.
type BatchOrchestratorConfig struct {
	// MaxConcurrent bounds the worker pool driving item-level stage
	// execution.
	MaxConcurrent int
	// StrictCheckpoints aborts the remaining stages when a checkpoint
	// fails, instead of the default warn-and-proceed.
	StrictCheckpoints bool
}

// DefaultBatchOrchestratorConfig returns the default orchestrator settings.
func DefaultBatchOrchestratorConfig() BatchOrchestratorConfig {
	return BatchOrchestratorConfig{
		MaxConcurrent:     5,
		StrictCheckpoints: false,
	}
}

// BatchOrchestrator runs pipeline stages across many independent work items
// under a bounded worker pool. One item's failure never affects its
// siblings, and a full run is stage-major: every item finishes stage K
// before any item starts stage K+1.
type BatchOrchestrator struct {
	config BatchOrchestratorConfig
	logger *zap.Logger
}

// NewBatchOrchestrator creates a batch orchestrator.
func NewBatchOrchestrator(config BatchOrchestratorConfig, logger *zap.Logger) *BatchOrchestrator {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultBatchOrchestratorConfig().MaxConcurrent
	}
	return &BatchOrchestrator{
		config: config,
		logger: logger.Named("batch-orchestrator"),
	}
}

// RunStage executes one stage function once per item with bounded
// parallelism. It always returns exactly len(items) results, in item order,
// each tagged success or failure. Panics inside the stage function are
// captured as that item's failure.
func (o *BatchOrchestrator) RunStage(ctx context.Context, stage models.Stage, fn StageFunc, items []*BatchItem, shared map[string]any) []ItemResult {
	results := make([]ItemResult, len(items))
	sem := make(chan struct{}, o.config.MaxConcurrent)

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item *BatchItem) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = ItemResult{ItemID: item.ID, Stage: stage, Err: ctx.Err()}
				return
			}

			results[i] = o.executeItem(ctx, stage, fn, item, shared)
		}(i, item)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success() {
			failed++
		}
	}
	o.logger.Info("Stage batch complete",
		zap.String("stage", string(stage)),
		zap.Int("items", len(items)),
		zap.Int("failed", failed))

	return results
}

// executeItem runs the stage function for one item inside a bulkhead:
// errors and panics are captured into the result slot.
func (o *BatchOrchestrator) executeItem(ctx context.Context, stage models.Stage, fn StageFunc, item *BatchItem, shared map[string]any) (result ItemResult) {
	result = ItemResult{ItemID: item.ID, Stage: stage}

	defer func() {
		if rec := recover(); rec != nil {
			result.Metadata = nil
			result.Err = fmt.Errorf("stage %s panicked: %v", stage, rec)
			o.logger.Error("Stage execution panicked",
				zap.String("stage", string(stage)),
				zap.String("item_id", item.ID.String()),
				zap.Any("panic", rec))
		}
	}()

	itemCtx := &ItemContext{
		ItemID:      item.ID,
		Shared:      copyShared(shared),
		State:       item.State,
		Round:       item.Round,
		ParentRound: item.ParentRound,
	}

	metadata, err := fn(ctx, itemCtx)
	if err != nil {
		result.Err = err
		o.logger.Warn("Stage execution failed for item",
			zap.String("stage", string(stage)),
			zap.String("item_id", item.ID.String()),
			zap.Error(err))
		return result
	}

	result.Metadata = metadata
	return result
}

// RunPipeline executes the given stages stage-major across the batch. After
// each stage the checkpoint, when provided, is invoked once for the whole
// batch; a failed checkpoint is logged and the run proceeds unless strict
// checkpoints are configured, in which case the remaining stages are
// skipped and the report is returned with an error.
//
// Items that fail a stage are still carried through later stages' result
// accounting, but their stage function is not invoked again.
func (o *BatchOrchestrator) RunPipeline(ctx context.Context, stages []PipelineStage, items []*BatchItem, shared map[string]any, checkpoint CheckpointFunc) (*PipelineReport, error) {
	report := &PipelineReport{
		StageResults: make(map[models.Stage][]ItemResult, len(stages)),
		FailedItems:  make(map[uuid.UUID]bool),
	}

	for _, item := range items {
		if item.State == nil {
			item.State = make(map[string]any)
		}
	}

	for _, stage := range stages {
		// Only items that have not failed an earlier stage run this one.
		active := make([]*BatchItem, 0, len(items))
		for _, item := range items {
			if !report.FailedItems[item.ID] {
				active = append(active, item)
			}
		}

		results := o.RunStage(ctx, stage.Name, stage.Run, active, shared)

		for i, r := range results {
			if r.Success() {
				mergeState(active[i].State, r.Metadata)
				continue
			}
			report.FailedItems[r.ItemID] = true
		}

		// Items skipped because of an earlier failure still get a result
		// slot so every stage reports exactly one result per batch item.
		full := results
		if len(active) != len(items) {
			full = make([]ItemResult, 0, len(items))
			next := 0
			for _, item := range items {
				if next < len(active) && active[next].ID == item.ID {
					full = append(full, results[next])
					next++
					continue
				}
				full = append(full, ItemResult{
					ItemID: item.ID,
					Stage:  stage.Name,
					Err:    fmt.Errorf("skipped: item failed an earlier stage"),
				})
			}
		}
		report.StageResults[stage.Name] = full

		if checkpoint == nil {
			continue
		}
		if checkpoint(stage.Name, full) {
			continue
		}

		report.CheckpointFailures = append(report.CheckpointFailures, stage.Name)
		if o.config.StrictCheckpoints {
			o.logger.Error("Checkpoint failed, aborting remaining stages",
				zap.String("stage", string(stage.Name)))
			return report, fmt.Errorf("stage %s: %w", stage.Name, apperrors.ErrCheckpointRejected)
		}
		// Advisory gate: surface loudly, keep going.
		o.logger.Warn("Checkpoint failed, proceeding with batch",
			zap.String("stage", string(stage.Name)))
	}

	return report, nil
}

func copyShared(shared map[string]any) map[string]any {
	copied := make(map[string]any, len(shared))
	for k, v := range shared {
		copied[k] = v
	}
	return copied
}

func mergeState(state map[string]any, metadata map[string]any) {
	for k, v := range metadata {
		state[k] = v
	}
}
