package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/common"
)

// Run is the durable record of one pipeline execution.
type Run struct {
	ID           uuid.UUID
	PipelineID   string
	UserID       string
	Status       constants.RunStatus
	InputData    any
	OutputData   any
	Metrics      any
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// RunPatch carries the single terminal-state update of a run.
type RunPatch struct {
	Status       constants.RunStatus
	OutputData   any
	Metrics      any
	ErrorMessage string
	CompletedAt  *time.Time
}

// RunRepository is the run ledger: created once per run, patched exactly
// once at terminal state.
type RunRepository interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, id uuid.UUID, patch RunPatch) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
}

type pgRunRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewRunRepository(pool *pgxpool.Pool, log *slog.Logger) RunRepository {
	if log == nil {
		log = slog.Default()
	}
	return &pgRunRepo{pool: pool, log: log}
}

func (r *pgRunRepo) CreateRun(ctx context.Context, run *Run) error {
	input, err := json.Marshal(run.InputData)
	if err != nil {
		return fmt.Errorf("marshal input_data: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO pipeline_run (id, pipeline_id, user_id, status, input_data, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.PipelineID, nullable(run.UserID), string(run.Status), input, run.StartedAt,
	)
	if err != nil {
		r.log.Error("pipeline_run create failed", "run_id", run.ID, "err", err)
		return common.WrapError(err, "create run")
	}
	r.log.Info("pipeline_run created", "run_id", run.ID, "pipeline_id", run.PipelineID)
	return nil
}

func (r *pgRunRepo) UpdateRun(ctx context.Context, id uuid.UUID, patch RunPatch) error {
	output, err := json.Marshal(patch.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output_data: %w", err)
	}
	metrics, err := json.Marshal(patch.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE pipeline_run
		SET status = $2, output_data = $3, metrics = $4, error_message = $5, completed_at = $6
		WHERE id = $1`,
		id, string(patch.Status), output, metrics, nullable(patch.ErrorMessage), patch.CompletedAt,
	)
	if err != nil {
		r.log.Error("pipeline_run update failed", "run_id", id, "err", err)
		return common.WrapError(err, "update run")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", id, common.ErrNotFound)
	}
	r.log.Info("pipeline_run updated", "run_id", id, "status", patch.Status)
	return nil
}

func (r *pgRunRepo) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	var (
		run     Run
		status  string
		userID  *string
		errMsg  *string
		input   []byte
		output  []byte
		metrics []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, pipeline_id, user_id, status, input_data, output_data, metrics, error_message, started_at, completed_at
		FROM pipeline_run WHERE id = $1`, id,
	).Scan(&run.ID, &run.PipelineID, &userID, &status, &input, &output, &metrics, &errMsg, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, common.ErrNotFound)
		}
		return nil, common.WrapError(err, "get run")
	}
	run.Status = constants.RunStatus(status)
	if userID != nil {
		run.UserID = *userID
	}
	if errMsg != nil {
		run.ErrorMessage = *errMsg
	}
	decodeJSON(input, &run.InputData)
	decodeJSON(output, &run.OutputData)
	decodeJSON(metrics, &run.Metrics)
	return &run, nil
}

func decodeJSON(b []byte, dst *any) {
	if len(b) == 0 {
		return
	}
	_ = json.Unmarshal(b, dst)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
