package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/common"
)

// SQLiteRunLedger is an embedded RunRepository used by the CLI and for
// local runs without Postgres. JSON payloads are stored as TEXT.
type SQLiteRunLedger struct {
	db  *sql.DB
	log *slog.Logger
}

func OpenSQLiteRunLedger(path string, logger *slog.Logger) (*SQLiteRunLedger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	l := &SQLiteRunLedger{db: db, log: logger}
	if err := l.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteRunLedger) ensureSchema() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS pipeline_run (
			id            TEXT PRIMARY KEY,
			pipeline_id   TEXT NOT NULL,
			user_id       TEXT,
			status        TEXT NOT NULL,
			input_data    TEXT,
			output_data   TEXT,
			metrics       TEXT,
			error_message TEXT,
			started_at    TIMESTAMP NOT NULL,
			completed_at  TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("sqlite schema: %w", err)
	}
	return nil
}

func (l *SQLiteRunLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteRunLedger) CreateRun(ctx context.Context, run *Run) error {
	input, err := json.Marshal(run.InputData)
	if err != nil {
		return fmt.Errorf("marshal input_data: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO pipeline_run (id, pipeline_id, user_id, status, input_data, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.PipelineID, run.UserID, string(run.Status), string(input), run.StartedAt.UTC(),
	)
	if err != nil {
		l.log.Error("pipeline_run create failed", "run_id", run.ID, "err", err)
		return common.WrapError(err, "create run")
	}
	return nil
}

func (l *SQLiteRunLedger) UpdateRun(ctx context.Context, id uuid.UUID, patch RunPatch) error {
	output, err := json.Marshal(patch.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output_data: %w", err)
	}
	metrics, err := json.Marshal(patch.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	var completed *time.Time
	if patch.CompletedAt != nil {
		t := patch.CompletedAt.UTC()
		completed = &t
	}
	res, err := l.db.ExecContext(ctx, `
		UPDATE pipeline_run
		SET status = ?, output_data = ?, metrics = ?, error_message = ?, completed_at = ?
		WHERE id = ?`,
		string(patch.Status), string(output), string(metrics), patch.ErrorMessage, completed, id.String(),
	)
	if err != nil {
		l.log.Error("pipeline_run update failed", "run_id", id, "err", err)
		return common.WrapError(err, "update run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (l *SQLiteRunLedger) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	var (
		run       Run
		idStr     string
		status    string
		userID    sql.NullString
		errMsg    sql.NullString
		input     sql.NullString
		output    sql.NullString
		metrics   sql.NullString
		completed sql.NullTime
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT id, pipeline_id, user_id, status, input_data, output_data, metrics, error_message, started_at, completed_at
		FROM pipeline_run WHERE id = ?`, id.String(),
	).Scan(&idStr, &run.PipelineID, &userID, &status, &input, &output, &metrics, &errMsg, &run.StartedAt, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, common.ErrNotFound)
		}
		return nil, common.WrapError(err, "get run")
	}
	run.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	run.Status = constants.RunStatus(status)
	run.UserID = userID.String
	run.ErrorMessage = errMsg.String
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	if input.Valid {
		decodeJSON([]byte(input.String), &run.InputData)
	}
	if output.Valid {
		decodeJSON([]byte(output.String), &run.OutputData)
	}
	if metrics.Valid {
		decodeJSON([]byte(metrics.String), &run.Metrics)
	}
	return &run, nil
}
