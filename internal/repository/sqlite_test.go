package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/common"
)

func openTestLedger(t *testing.T) *SQLiteRunLedger {
	t.Helper()
	ledger, err := OpenSQLiteRunLedger(filepath.Join(t.TempDir(), "runs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}

func TestSQLiteRunLifecycle(t *testing.T) {
	ledger := openTestLedger(t)
	ctx := context.Background()

	id := uuid.New()
	started := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, ledger.CreateRun(ctx, &Run{
		ID:         id,
		PipelineID: "triage",
		UserID:     "u1",
		Status:     constants.RunStatusRunning,
		InputData:  []any{map[string]any{"a": float64(1)}},
		StartedAt:  started,
	}))

	run, err := ledger.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.RunStatusRunning, run.Status)
	assert.Equal(t, "triage", run.PipelineID)
	assert.Equal(t, "u1", run.UserID)
	assert.Nil(t, run.CompletedAt)

	completed := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, ledger.UpdateRun(ctx, id, RunPatch{
		Status:      constants.RunStatusCompleted,
		OutputData:  map[string]any{"results": []any{map[string]any{"a": float64(1)}}},
		Metrics:     map[string]any{"total_duration_ms": float64(5)},
		CompletedAt: &completed,
	}))

	run, err = ledger.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.RunStatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)

	output, ok := run.OutputData.(map[string]any)
	require.True(t, ok, "json round-trips as generic maps")
	assert.Len(t, output["results"], 1)

	metrics, ok := run.Metrics.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(5), metrics["total_duration_ms"])
}

func TestSQLiteUpdateMissingRun(t *testing.T) {
	ledger := openTestLedger(t)
	err := ledger.UpdateRun(context.Background(), uuid.New(), RunPatch{Status: constants.RunStatusFailed})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteGetMissingRun(t *testing.T) {
	ledger := openTestLedger(t)
	_, err := ledger.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryLedgerDuplicateCreate(t *testing.T) {
	ledger := NewMemoryRunLedger()
	run := &Run{ID: uuid.New(), PipelineID: "p", Status: constants.RunStatusRunning}
	require.NoError(t, ledger.CreateRun(context.Background(), run))
	assert.Error(t, ledger.CreateRun(context.Background(), run))
}
