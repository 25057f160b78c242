package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/common"
	"github.com/docintel/pipeline/internal/llm"
	"github.com/docintel/pipeline/internal/pipeline"
	"github.com/docintel/pipeline/internal/record"
	"github.com/docintel/pipeline/internal/repository"
)

// Options tune run-wide behavior.
type Options struct {
	// RunTimeout is the overall run deadline; 0 disables it. A timed-out
	// run is marked FAILED with a timeout reason.
	RunTimeout time.Duration
	// MaxConcurrency is the default fan-out for per-item LLM calls in
	// map. 1 keeps the strictly sequential reference behavior.
	MaxConcurrency int
	// DefaultModel is used when neither the operator config nor the
	// request names a model.
	DefaultModel string
}

// Engine executes pipelines: it loads a definition, folds the operator
// list over an evolving record sequence, and writes exactly two ledger
// states (running, then completed or failed).
type Engine struct {
	pipelines pipeline.Store
	runs      repository.RunRepository
	registry  Registry
	opts      Options
	log       *slog.Logger
}

func New(pipelines pipeline.Store, runs repository.RunRepository, invoker llm.Invoker, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = "gpt-4o-mini"
	}

	reg := Registry{}
	reg.Register(&MapOperator{Invoker: invoker, DefaultModel: opts.DefaultModel, MaxConcurrency: opts.MaxConcurrency, Log: logger})
	reg.Register(&FilterOperator{Log: logger})
	reg.Register(&ReduceOperator{Invoker: invoker, DefaultModel: opts.DefaultModel, Log: logger})
	reg.Register(&ResolveOperator{Invoker: invoker, DefaultModel: opts.DefaultModel, Log: logger})
	reg.Register(&GatherOperator{})
	reg.Register(&UnnestOperator{})
	reg.Register(&SplitOperator{})
	reg.Register(&JoinOperator{})

	return &Engine{pipelines: pipelines, runs: runs, registry: reg, opts: opts, log: logger}
}

// Execute runs pipelineID over input. Non-array input is wrapped into a
// single-element sequence. An unknown pipeline id fails before any run
// is created; once a run exists it always reaches exactly one terminal
// state.
func (e *Engine) Execute(ctx context.Context, pipelineID string, input any, userID string) (*Result, error) {
	def, err := e.pipelines.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, common.WrapError(err, "load pipeline")
	}

	seq := record.FromAny(input)
	run := &repository.Run{
		ID:         uuid.New(),
		PipelineID: def.ID,
		UserID:     userID,
		Status:     constants.RunStatusRunning,
		InputData:  input,
		StartedAt:  time.Now().UTC(),
	}
	if err := e.runs.CreateRun(ctx, run); err != nil {
		return nil, common.WrapError(err, "create run")
	}

	if e.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RunTimeout)
		defer cancel()
	}

	e.log.Info("engine.run.start",
		"run_id", run.ID, "pipeline_id", def.ID,
		"operators", len(def.Operators), "input_count", len(seq),
	)

	metrics := make(map[string]OperatorMetrics, len(def.Operators))
	runStart := time.Now()

	// Validate every operator config before running any operator, so a
	// bad pipeline fails whole rather than mid-flight. The failure is
	// attributed to the offending operator's metrics entry.
	for _, cfg := range def.Operators {
		op, err := e.registry.Lookup(cfg.Type)
		if err == nil {
			err = op.Validate(cfg)
		}
		if err != nil {
			metrics[cfg.MetricsKey()] = OperatorMetrics{
				Status: constants.OperatorStatusFailed,
				Error:  err.Error(),
			}
			e.failRun(ctx, run.ID, metrics, err)
			return nil, fmt.Errorf("operator %q: %w", cfg.MetricsKey(), err)
		}
	}

	executed := 0
	for _, cfg := range def.Operators {
		op, _ := e.registry.Lookup(cfg.Type)

		opStart := time.Now()
		out, err := op.Apply(ctx, cfg, seq)
		elapsed := time.Since(opStart).Milliseconds()

		if err == nil && ctx.Err() != nil {
			err = fmt.Errorf("run deadline exceeded: %w", common.ErrTimeout)
		}
		if err != nil {
			metrics[cfg.MetricsKey()] = OperatorMetrics{
				DurationMs: elapsed,
				InputCount: len(seq),
				Status:     constants.OperatorStatusFailed,
				Error:      err.Error(),
			}
			e.log.Error("engine.operator.failed",
				"run_id", run.ID, "operator", cfg.MetricsKey(), "type", cfg.Type, "err", err,
			)
			e.failRun(ctx, run.ID, metrics, err)
			return nil, fmt.Errorf("operator %q: %w", cfg.MetricsKey(), err)
		}

		metrics[cfg.MetricsKey()] = OperatorMetrics{
			DurationMs:  elapsed,
			InputCount:  len(seq),
			OutputCount: len(out),
			Status:      constants.OperatorStatusCompleted,
		}
		e.log.Info("engine.operator.ok",
			"run_id", run.ID, "operator", cfg.MetricsKey(), "type", cfg.Type,
			"input_count", len(seq), "output_count", len(out), "elapsed_ms", elapsed,
		)
		seq = out
		executed++
	}

	result := &Result{
		RunID:             run.ID.String(),
		Results:           seq,
		Metrics:           metrics,
		TotalDurationMs:   time.Since(runStart).Milliseconds(),
		OperatorsExecuted: executed,
	}

	now := time.Now().UTC()
	patch := repository.RunPatch{
		Status:     constants.RunStatusCompleted,
		OutputData: map[string]any{"results": seq},
		Metrics: map[string]any{
			"operators":          metrics,
			"total_duration_ms":  result.TotalDurationMs,
			"operators_executed": result.OperatorsExecuted,
		},
		CompletedAt: &now,
	}
	if err := e.runs.UpdateRun(ctx, run.ID, patch); err != nil {
		return nil, common.WrapError(err, "persist run result")
	}

	e.log.Info("engine.run.completed",
		"run_id", run.ID, "pipeline_id", def.ID,
		"output_count", len(seq), "total_ms", result.TotalDurationMs,
	)
	return result, nil
}

// failRun records the terminal FAILED state. Ledger errors here are
// logged, not returned; the operator error is the one the caller needs.
func (e *Engine) failRun(ctx context.Context, runID uuid.UUID, metrics map[string]OperatorMetrics, cause error) {
	now := time.Now().UTC()
	patch := repository.RunPatch{
		Status:       constants.RunStatusFailed,
		Metrics:      map[string]any{"operators": metrics},
		ErrorMessage: cause.Error(),
		CompletedAt:  &now,
	}
	// use a fresh context so a run killed by deadline still gets its
	// terminal state persisted
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := e.runs.UpdateRun(ctx, runID, patch); err != nil {
		e.log.Error("engine.run.ledger_update_failed", "run_id", runID, "err", err)
	}
	e.log.Warn("engine.run.failed", "run_id", runID, "err", cause)
}
