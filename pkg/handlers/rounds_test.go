package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reforge-inc/reforge-engine/pkg/models"
	"github.com/reforge-inc/reforge-engine/pkg/repositories"
	"github.com/reforge-inc/reforge-engine/pkg/services"
)

func newTestMux(t *testing.T) (*http.ServeMux, services.RoundService) {
	t.Helper()
	rounds := services.NewRoundService(repositories.NewMemoryRoundRepository(), zap.NewNop())
	mux := http.NewServeMux()
	NewRoundsHandler(rounds, zap.NewNop()).RegisterRoutes(mux)
	return mux, rounds
}

func TestHistory(t *testing.T) {
	mux, rounds := newTestMux(t)
	itemID := uuid.New()

	_, err := rounds.Initialize(context.Background(), itemID, services.InitializeParams{
		Mode:          models.ModeFull,
		TriggerReason: "initial processing",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/rounds/history?work_item_id="+itemID.String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var history models.RoundHistory
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
	assert.Equal(t, itemID, history.WorkItemID)
	assert.Equal(t, 1, history.CurrentRound)
	require.Len(t, history.Rounds, 1)
	assert.Equal(t, models.ModeFull, history.Rounds[0].Mode)
}

func TestHistory_UnknownItem(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest(http.MethodGet, "/rounds/history?work_item_id="+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistory_InvalidID(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest(http.MethodGet, "/rounds/history?work_item_id=not-a-uuid", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangelog(t *testing.T) {
	mux, rounds := newTestMux(t)
	itemID := uuid.New()

	_, err := rounds.Initialize(context.Background(), itemID, services.InitializeParams{
		Mode:          models.ModeIncremental,
		TriggerReason: "register corrected",
		FieldsUpdated: []string{"claims_register"},
	})
	require.NoError(t, err)
	require.NoError(t, rounds.MarkStatus(context.Background(), itemID, 1, models.RoundStatusCompleted))

	req := httptest.NewRequest(http.MethodGet, "/rounds/changelog?work_item_id="+itemID.String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var entries []*models.ChangelogEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, models.RoundStatusCompleted, entries[0].Status)
	assert.Equal(t, []string{"claims_register"}, entries[0].FieldsUpdated)
}
