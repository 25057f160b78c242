package engine

import (
	"context"
	"log/slog"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/llm"
	"github.com/docintel/pipeline/internal/pipeline"
	"github.com/docintel/pipeline/internal/record"
)

// ReduceOperator groups records by the value of reduce_key and emits one
// record per distinct key, in first-occurrence order. With fold_prompt
// each group is folded through one LLM call; without it the group is
// aggregated purely (`{reduce_key, items, count}`) and the invoker is
// never called.
type ReduceOperator struct {
	Invoker      llm.Invoker
	DefaultModel string
	Log          *slog.Logger
}

func (o *ReduceOperator) Type() constants.OperatorType { return constants.OpReduce }

func (o *ReduceOperator) Validate(cfg pipeline.OperatorConfig) error {
	return requireString(cfg, "reduce_key")
}

func (o *ReduceOperator) Apply(ctx context.Context, cfg pipeline.OperatorConfig, in record.Sequence) (record.Sequence, error) {
	key := cfg.GetString("reduce_key", "")
	foldPrompt := cfg.GetString("fold_prompt", "")
	model := cfg.GetString("model", o.DefaultModel)

	log := o.Log
	if log == nil {
		log = slog.Default()
	}

	order, groups, rawKeys := groupBy(in, key)

	out := make(record.Sequence, 0, len(order))
	for _, gk := range order {
		items := groups[gk]
		rawKey := rawKeys[gk]

		if foldPrompt == "" {
			out = append(out, record.Record{
				"reduce_key": rawKey,
				"items":      items,
				"count":      len(items),
			})
			continue
		}

		res, err := o.Invoker.Invoke(ctx, llm.InvokeRequest{
			Prompt: foldPrompt,
			Data:   map[string]any{"key": rawKey, "items": items},
			Model:  model,
		})
		if err != nil {
			// fold failures are group-local: fall back to the pure
			// aggregation so no input record is lost
			log.Warn("operator.reduce.fold_error", "key", gk, "err", err)
			out = append(out, record.Record{
				"reduce_key": rawKey,
				"items":      items,
				"count":      len(items),
				"_error":     err.Error(),
			})
			continue
		}

		merged := record.Record{"reduce_key": rawKey}
		merged.Merge(res)
		merged["_original_count"] = len(items)
		out = append(out, merged)
	}
	return out, nil
}

// groupBy partitions records by the canonical value at key, preserving
// first-occurrence order. A record missing the key groups under null.
func groupBy(in record.Sequence, key string) (order []string, groups map[string]record.Sequence, rawKeys map[string]any) {
	groups = make(map[string]record.Sequence)
	rawKeys = make(map[string]any)
	for _, rec := range in {
		raw := rec[key] // nil when absent
		gk := record.CanonicalKey(raw)
		if _, seen := groups[gk]; !seen {
			order = append(order, gk)
			rawKeys[gk] = raw
		}
		groups[gk] = append(groups[gk], rec)
	}
	return order, groups, rawKeys
}
