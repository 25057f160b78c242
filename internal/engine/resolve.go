package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/common"
	"github.com/docintel/pipeline/internal/llm"
	"github.com/docintel/pipeline/internal/pipeline"
	"github.com/docintel/pipeline/internal/record"
)

// ResolveOperator deduplicates records whose values at every
// resolution_keys field match exactly. Candidate grouping is syntactic;
// the fuzzy part is the optional LLM merge: a multi-record group with a
// comparison_prompt is folded into one record carrying _resolved_from.
// Every input record lands in exactly one output group.
type ResolveOperator struct {
	Invoker      llm.Invoker
	DefaultModel string
	Log          *slog.Logger
}

func (o *ResolveOperator) Type() constants.OperatorType { return constants.OpResolve }

func (o *ResolveOperator) Validate(cfg pipeline.OperatorConfig) error {
	if len(cfg.GetStringSlice("resolution_keys")) == 0 {
		return common.NewAppError("OPERATOR_CONFIG",
			"resolve operator requires config.resolution_keys", common.ErrValidation)
	}
	return nil
}

func (o *ResolveOperator) Apply(ctx context.Context, cfg pipeline.OperatorConfig, in record.Sequence) (record.Sequence, error) {
	keys := cfg.GetStringSlice("resolution_keys")
	comparisonPrompt := cfg.GetString("comparison_prompt", "")
	model := cfg.GetString("model", o.DefaultModel)

	log := o.Log
	if log == nil {
		log = slog.Default()
	}

	// one signature per record, then a single left-to-right pass
	sigs := make([]string, len(in))
	for i, rec := range in {
		sigs[i] = resolutionSignature(rec, keys)
	}

	processed := make([]bool, len(in))
	out := make(record.Sequence, 0, len(in))
	for i := range in {
		if processed[i] {
			continue
		}
		processed[i] = true
		duplicates := record.Sequence{in[i]}
		for j := i + 1; j < len(in); j++ {
			if processed[j] || sigs[j] != sigs[i] {
				continue
			}
			processed[j] = true
			duplicates = append(duplicates, in[j])
		}

		if len(duplicates) == 1 || comparisonPrompt == "" {
			out = append(out, duplicates...)
			continue
		}

		res, err := o.Invoker.Invoke(ctx, llm.InvokeRequest{
			Prompt: comparisonPrompt,
			Data:   map[string]any{"candidates": duplicates},
			Model:  model,
		})
		if err != nil {
			// comparison failures are group-local: pass the candidates
			// through unmerged rather than dropping any of them
			log.Warn("operator.resolve.compare_error", "group_size", len(duplicates), "err", err)
			out = append(out, duplicates...)
			continue
		}

		merged := record.Record{}
		merged.Merge(res)
		merged["_resolved_from"] = len(duplicates)
		out = append(out, merged)
	}
	return out, nil
}

// resolutionSignature renders the values at the resolution keys into a
// comparable string. Field values are compared by exact (canonical
// JSON) equality.
func resolutionSignature(rec record.Record, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, record.CanonicalKey(rec[k]))
	}
	return strings.Join(parts, "\x1f")
}
