package engine

import (
	"context"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/common"
	"github.com/docintel/pipeline/internal/pipeline"
	"github.com/docintel/pipeline/internal/record"
)

// FilterOperator keeps records for which filter_condition evaluates to
// true. The condition is a sandboxed expression over the variable
// "item" (e.g. `item.score > 0.5`), compiled once per run — never
// eval'd caller code. A record whose evaluation errors, or yields a
// non-boolean, is excluded.
type FilterOperator struct {
	Log *slog.Logger
}

func (o *FilterOperator) Type() constants.OperatorType { return constants.OpFilter }

func (o *FilterOperator) Validate(cfg pipeline.OperatorConfig) error {
	if err := requireString(cfg, "filter_condition"); err != nil {
		return err
	}
	// a condition that does not compile is a config error, not a
	// per-record one
	if _, err := compileCondition(cfg.GetString("filter_condition", "")); err != nil {
		return common.NewAppError("OPERATOR_CONFIG", "invalid filter_condition", err)
	}
	return nil
}

func (o *FilterOperator) Apply(_ context.Context, cfg pipeline.OperatorConfig, in record.Sequence) (record.Sequence, error) {
	program, err := compileCondition(cfg.GetString("filter_condition", ""))
	if err != nil {
		return nil, common.NewAppError("OPERATOR_CONFIG", "invalid filter_condition", err)
	}

	log := o.Log
	if log == nil {
		log = slog.Default()
	}

	out := make(record.Sequence, 0, len(in))
	for i, rec := range in {
		env := map[string]any{"item": map[string]any(rec)}
		v, err := expr.Run(program, env)
		if err != nil {
			log.Debug("operator.filter.eval_error", "index", i, "err", err)
			continue
		}
		keep, ok := v.(bool)
		if !ok || !keep {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func compileCondition(cond string) (*vm.Program, error) {
	return expr.Compile(cond, expr.AllowUndefinedVariables())
}
