package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/docintel/pipeline/internal/common"
	"github.com/docintel/pipeline/internal/engine"
	"github.com/docintel/pipeline/internal/export"
	"github.com/docintel/pipeline/internal/repository"
)

// Server exposes the engine over HTTP JSON.
type Server struct {
	engine *engine.Engine
	runs   repository.RunRepository
	export *export.Service
	logger *slog.Logger
}

func New(eng *engine.Engine, runs repository.RunRepository, exp *export.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: eng, runs: runs, export: exp, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/pipelines/{id}/execute", s.handleExecute)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /v1/runs/{id}/export", s.handleExportRun)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

type executeRequest struct {
	Input  any    `json:"input"`
	UserID string `json:"user_id,omitempty"`
}

type executeResponse struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"execution_id,omitempty"`
	Results     any    `json:"results,omitempty"`
	Metrics     any    `json:"metrics,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	pipelineID := r.PathValue("id")

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	ctx := common.WithRequestID(r.Context(), uuid.New().String())
	if req.UserID != "" {
		ctx = common.WithUserID(ctx, req.UserID)
	}

	result, err := s.engine.Execute(ctx, pipelineID, req.Input, req.UserID)
	if err != nil {
		s.logger.Warn("server.execute.failed", "pipeline_id", pipelineID, "err", err)
		status := http.StatusInternalServerError
		if errors.Is(err, common.ErrNotFound) {
			status = http.StatusNotFound
		} else if errors.Is(err, common.ErrValidation) || errors.Is(err, common.ErrInvalidInput) {
			status = http.StatusUnprocessableEntity
		}
		s.writeError(w, status, err)
		return
	}

	s.writeJSON(w, http.StatusOK, executeResponse{
		Success:     true,
		ExecutionID: result.RunID,
		Results:     result.Results,
		Metrics: map[string]any{
			"operators":          result.Metrics,
			"total_duration_ms":  result.TotalDurationMs,
			"operators_executed": result.OperatorsExecuted,
		},
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run id: %w", err))
		return
	}
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":            run.ID,
		"pipeline_id":   run.PipelineID,
		"status":        run.Status,
		"input_data":    run.InputData,
		"output_data":   run.OutputData,
		"metrics":       run.Metrics,
		"error_message": run.ErrorMessage,
		"started_at":    run.StartedAt,
		"completed_at":  run.CompletedAt,
	})
}

func (s *Server) handleExportRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run id: %w", err))
		return
	}
	data, err := s.export.ExportRunXLSX(r.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "run-"+id.String()+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("server.write_response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, executeResponse{Success: false, Error: err.Error()})
}
