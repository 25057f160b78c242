package engine

import (
	"context"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/pipeline"
	"github.com/docintel/pipeline/internal/record"
)

// UnnestOperator expands an array-valued field: a record whose
// unnest_key holds an array of length N becomes N records, each with
// the field replaced by one element. Records where the field is not an
// array pass through unchanged.
type UnnestOperator struct{}

func (o *UnnestOperator) Type() constants.OperatorType { return constants.OpUnnest }

func (o *UnnestOperator) Validate(cfg pipeline.OperatorConfig) error {
	return requireString(cfg, "unnest_key")
}

func (o *UnnestOperator) Apply(_ context.Context, cfg pipeline.OperatorConfig, in record.Sequence) (record.Sequence, error) {
	key := cfg.GetString("unnest_key", "")

	out := make(record.Sequence, 0, len(in))
	for _, rec := range in {
		arr, ok := rec.GetSlice(key)
		if !ok {
			out = append(out, rec)
			continue
		}
		for _, el := range arr {
			expanded := rec.Clone()
			expanded[key] = el
			out = append(out, expanded)
		}
	}
	return out, nil
}
