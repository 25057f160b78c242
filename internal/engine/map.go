package engine

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/llm"
	"github.com/docintel/pipeline/internal/pipeline"
	"github.com/docintel/pipeline/internal/record"
)

// MapOperator applies one LLM call per record and shallow-merges the
// returned object into it (returned keys overwrite). A failing call
// keeps the item and tags it with _error instead of aborting, so output
// cardinality always equals input cardinality.
type MapOperator struct {
	Invoker        llm.Invoker
	DefaultModel   string
	MaxConcurrency int
	Log            *slog.Logger
}

func (o *MapOperator) Type() constants.OperatorType { return constants.OpMap }

func (o *MapOperator) Validate(cfg pipeline.OperatorConfig) error {
	return requireString(cfg, "prompt")
}

func (o *MapOperator) Apply(ctx context.Context, cfg pipeline.OperatorConfig, in record.Sequence) (record.Sequence, error) {
	prompt := cfg.GetString("prompt", "")
	model := cfg.GetString("model", o.DefaultModel)
	schema := cfg.GetMap("output_schema")

	limit := cfg.GetInt("max_concurrency", o.MaxConcurrency)
	if limit < 1 {
		limit = 1
	}

	log := o.Log
	if log == nil {
		log = slog.Default()
	}

	// Items are independent; fan out under a bounded group while keeping
	// each result at its input index. Workers never return errors, so
	// the group is purely a limiter.
	out := make(record.Sequence, len(in))
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for i, rec := range in {
		g.Go(func() error {
			item := rec.Clone()
			res, err := o.Invoker.Invoke(ctx, llm.InvokeRequest{
				Prompt:       prompt,
				Data:         rec,
				Model:        model,
				OutputSchema: schema,
			})
			if err != nil {
				log.Warn("operator.map.item_error", "index", i, "err", err)
				item["_error"] = err.Error()
			} else {
				item.Merge(res)
			}
			out[i] = item
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}
