package engine

import (
	"context"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/pipeline"
	"github.com/docintel/pipeline/internal/record"
)

// GatherOperator groups records by gather_key and emits one record per
// distinct key: `{<gather_key>: key, items: [...]}`. With content_key
// set, items holds just that field's values instead of the full
// records. Pure restructuring, no LLM call.
type GatherOperator struct{}

func (o *GatherOperator) Type() constants.OperatorType { return constants.OpGather }

func (o *GatherOperator) Validate(cfg pipeline.OperatorConfig) error {
	return requireString(cfg, "gather_key")
}

func (o *GatherOperator) Apply(_ context.Context, cfg pipeline.OperatorConfig, in record.Sequence) (record.Sequence, error) {
	key := cfg.GetString("gather_key", "")
	contentKey := cfg.GetString("content_key", "")

	order, groups, rawKeys := groupBy(in, key)

	out := make(record.Sequence, 0, len(order))
	for _, gk := range order {
		items := make([]any, 0, len(groups[gk]))
		for _, rec := range groups[gk] {
			if contentKey != "" {
				items = append(items, rec[contentKey])
			} else {
				items = append(items, rec)
			}
		}
		out = append(out, record.Record{
			key:     rawKeys[gk],
			"items": items,
		})
	}
	return out, nil
}
