package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reforge-inc/reforge-engine/pkg/apperrors"
	"github.com/reforge-inc/reforge-engine/pkg/models"
)

func newTestOrchestrator(maxConcurrent int, strict bool) *BatchOrchestrator {
	return NewBatchOrchestrator(BatchOrchestratorConfig{
		MaxConcurrent:     maxConcurrent,
		StrictCheckpoints: strict,
	}, zap.NewNop())
}

func makeItems(n int) []*BatchItem {
	items := make([]*BatchItem, n)
	for i := range items {
		items[i] = &BatchItem{ID: uuid.New(), State: make(map[string]any)}
	}
	return items
}

func TestRunStage_OneResultPerItem(t *testing.T) {
	o := newTestOrchestrator(3, false)
	items := makeItems(10)

	failing := items[4].ID
	fn := func(ctx context.Context, item *ItemContext) (map[string]any, error) {
		if item.ItemID == failing {
			return nil, errors.New("document missing")
		}
		return map[string]any{"done": true}, nil
	}

	results := o.RunStage(context.Background(), models.StageDocumentAnalysis, fn, items, nil)
	require.Len(t, results, 10)

	for i, r := range results {
		assert.Equal(t, items[i].ID, r.ItemID)
		if r.ItemID == failing {
			assert.False(t, r.Success())
		} else {
			assert.True(t, r.Success())
			assert.Equal(t, map[string]any{"done": true}, r.Metadata)
		}
	}
}

func TestRunStage_BoundsConcurrency(t *testing.T) {
	const limit = 3
	o := newTestOrchestrator(limit, false)
	items := makeItems(20)

	var current, peak int64
	var mu sync.Mutex

	fn := func(ctx context.Context, item *ItemContext) (map[string]any, error) {
		n := atomic.AddInt64(&current, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		defer atomic.AddInt64(&current, -1)
		return nil, nil
	}

	o.RunStage(context.Background(), models.StageInterestComputation, fn, items, nil)
	assert.LessOrEqual(t, peak, int64(limit))
}

func TestRunStage_SharedContextIsolatedPerItem(t *testing.T) {
	o := newTestOrchestrator(4, false)
	items := makeItems(8)
	shared := map[string]any{"language": "de"}

	fn := func(ctx context.Context, item *ItemContext) (map[string]any, error) {
		// Scribbling on the shared map must not leak to siblings or the
		// caller.
		item.Shared["language"] = item.ItemID.String()
		return nil, nil
	}

	results := o.RunStage(context.Background(), models.StageReportGeneration, fn, items, shared)
	for _, r := range results {
		require.NoError(t, r.Err)
	}
	assert.Equal(t, "de", shared["language"])
}

func TestRunStage_PanicIsCapturedAsFailure(t *testing.T) {
	o := newTestOrchestrator(2, false)
	items := makeItems(3)

	fn := func(ctx context.Context, item *ItemContext) (map[string]any, error) {
		if item.ItemID == items[1].ID {
			panic("corrupt input")
		}
		return nil, nil
	}

	results := o.RunStage(context.Background(), models.StageDocumentAnalysis, fn, items, nil)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success())
	assert.False(t, results[1].Success())
	assert.Contains(t, results[1].Err.Error(), "panicked")
	assert.True(t, results[2].Success())
}

func TestRunStage_CancelledContext(t *testing.T) {
	o := newTestOrchestrator(1, false)
	items := makeItems(4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fn := func(ctx context.Context, item *ItemContext) (map[string]any, error) {
		return nil, nil
	}

	results := o.RunStage(ctx, models.StageDocumentAnalysis, fn, items, nil)
	require.Len(t, results, 4)
}

func TestRunPipeline_StageMajorOrdering(t *testing.T) {
	o := newTestOrchestrator(4, false)
	items := makeItems(5)

	var mu sync.Mutex
	var order []models.Stage

	record := func(stage models.Stage) StageFunc {
		return func(ctx context.Context, item *ItemContext) (map[string]any, error) {
			mu.Lock()
			order = append(order, stage)
			mu.Unlock()
			return nil, nil
		}
	}

	stages := []PipelineStage{
		{Name: models.StageDocumentAnalysis, Run: record(models.StageDocumentAnalysis)},
		{Name: models.StageInterestComputation, Run: record(models.StageInterestComputation)},
	}

	report, err := o.RunPipeline(context.Background(), stages, items, nil, nil)
	require.NoError(t, err)
	require.Len(t, order, 10)

	// Every item finishes the first stage before any item starts the second.
	for _, s := range order[:5] {
		assert.Equal(t, models.StageDocumentAnalysis, s)
	}
	for _, s := range order[5:] {
		assert.Equal(t, models.StageInterestComputation, s)
	}
	assert.Empty(t, report.FailedItems)
}

func TestRunPipeline_FailedItemSkipsLaterStages(t *testing.T) {
	o := newTestOrchestrator(2, false)
	items := makeItems(3)
	failing := items[1].ID

	var secondStageRuns int64
	stages := []PipelineStage{
		{
			Name: models.StageDocumentAnalysis,
			Run: func(ctx context.Context, item *ItemContext) (map[string]any, error) {
				if item.ItemID == failing {
					return nil, errors.New("unreadable scan")
				}
				return nil, nil
			},
		},
		{
			Name: models.StageInterestComputation,
			Run: func(ctx context.Context, item *ItemContext) (map[string]any, error) {
				atomic.AddInt64(&secondStageRuns, 1)
				assert.NotEqual(t, failing, item.ItemID)
				return nil, nil
			},
		},
	}

	report, err := o.RunPipeline(context.Background(), stages, items, nil, nil)
	require.NoError(t, err)

	assert.EqualValues(t, 2, secondStageRuns)
	assert.True(t, report.ItemFailed(failing))

	// The skipped item still has a result slot in the second stage.
	second := report.StageResults[models.StageInterestComputation]
	require.Len(t, second, 3)
	assert.False(t, second[1].Success())
	assert.Contains(t, second[1].Err.Error(), "skipped")
}

func TestRunPipeline_MergesMetadataIntoState(t *testing.T) {
	o := newTestOrchestrator(2, false)
	items := makeItems(1)

	stages := []PipelineStage{
		{
			Name: models.StageDocumentAnalysis,
			Run: func(ctx context.Context, item *ItemContext) (map[string]any, error) {
				return map[string]any{"claims_found": 12}, nil
			},
		},
		{
			Name: models.StageInterestComputation,
			Run: func(ctx context.Context, item *ItemContext) (map[string]any, error) {
				assert.Equal(t, 12, item.State["claims_found"])
				return map[string]any{"interest_total": "154.20"}, nil
			},
		},
	}

	_, err := o.RunPipeline(context.Background(), stages, items, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 12, items[0].State["claims_found"])
	assert.Equal(t, "154.20", items[0].State["interest_total"])
}

func TestRunPipeline_AdvisoryCheckpointProceeds(t *testing.T) {
	o := newTestOrchestrator(2, false)
	items := makeItems(2)

	var stagesRun []models.Stage
	var mu sync.Mutex
	run := func(stage models.Stage) StageFunc {
		return func(ctx context.Context, item *ItemContext) (map[string]any, error) {
			mu.Lock()
			stagesRun = append(stagesRun, stage)
			mu.Unlock()
			return nil, nil
		}
	}

	stages := []PipelineStage{
		{Name: models.StageDocumentAnalysis, Run: run(models.StageDocumentAnalysis)},
		{Name: models.StageReportGeneration, Run: run(models.StageReportGeneration)},
	}

	rejectAll := func(stage models.Stage, results []ItemResult) bool { return false }

	report, err := o.RunPipeline(context.Background(), stages, items, nil, rejectAll)
	require.NoError(t, err)

	// Both checkpoints failed but every stage still ran.
	assert.Len(t, stagesRun, 4)
	assert.Equal(t, []models.Stage{
		models.StageDocumentAnalysis,
		models.StageReportGeneration,
	}, report.CheckpointFailures)
}

func TestRunPipeline_StrictCheckpointAborts(t *testing.T) {
	o := newTestOrchestrator(2, true)
	items := makeItems(2)

	var secondStageRan atomic.Bool
	stages := []PipelineStage{
		{
			Name: models.StageDocumentAnalysis,
			Run: func(ctx context.Context, item *ItemContext) (map[string]any, error) {
				return nil, nil
			},
		},
		{
			Name: models.StageReportGeneration,
			Run: func(ctx context.Context, item *ItemContext) (map[string]any, error) {
				secondStageRan.Store(true)
				return nil, nil
			},
		},
	}

	rejectAll := func(stage models.Stage, results []ItemResult) bool { return false }

	report, err := o.RunPipeline(context.Background(), stages, items, nil, rejectAll)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCheckpointRejected)
	assert.False(t, secondStageRan.Load())
	require.NotNil(t, report)
	assert.Equal(t, []models.Stage{models.StageDocumentAnalysis}, report.CheckpointFailures)
}

func TestNewBatchOrchestrator_DefaultsInvalidConcurrency(t *testing.T) {
	o := NewBatchOrchestrator(BatchOrchestratorConfig{MaxConcurrent: 0}, zap.NewNop())
	assert.Equal(t, DefaultBatchOrchestratorConfig().MaxConcurrent, o.config.MaxConcurrent)
}
