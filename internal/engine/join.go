package engine

import (
	"context"
	"fmt"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/common"
	"github.com/docintel/pipeline/internal/pipeline"
	"github.com/docintel/pipeline/internal/record"
)

// JoinOperator performs a key-based join of the flowing sequence (left
// side) against an inline right-hand dataset (config.right). For every
// left/right pair with equal join_key values one merged record is
// emitted; left fields win on conflicts. join_type selects inner
// (default, unmatched left records dropped) or left (unmatched left
// records pass through).
type JoinOperator struct{}

func (o *JoinOperator) Type() constants.OperatorType { return constants.OpJoin }

func (o *JoinOperator) Validate(cfg pipeline.OperatorConfig) error {
	if err := requireString(cfg, "join_key"); err != nil {
		return err
	}
	if _, ok := cfg.Config["right"].([]any); !ok {
		return common.NewAppError("OPERATOR_CONFIG",
			"join operator requires config.right (array of objects)", common.ErrValidation)
	}
	switch jt := cfg.GetString("join_type", "inner"); jt {
	case "inner", "left":
	default:
		return common.NewAppError("OPERATOR_CONFIG",
			fmt.Sprintf("unsupported join_type %q", jt), common.ErrValidation)
	}
	return nil
}

func (o *JoinOperator) Apply(_ context.Context, cfg pipeline.OperatorConfig, in record.Sequence) (record.Sequence, error) {
	key := cfg.GetString("join_key", "")
	joinType := cfg.GetString("join_type", "inner")
	rightRaw, _ := cfg.Config["right"].([]any)

	// index the right side by canonical key value
	rightIndex := make(map[string][]record.Record, len(rightRaw))
	for _, el := range rightRaw {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		r := record.Record(m)
		gk := record.CanonicalKey(r[key])
		rightIndex[gk] = append(rightIndex[gk], r)
	}

	out := make(record.Sequence, 0, len(in))
	for _, left := range in {
		matches := rightIndex[record.CanonicalKey(left[key])]
		if len(matches) == 0 {
			if joinType == "left" {
				out = append(out, left)
			}
			continue
		}
		for _, right := range matches {
			merged := left.Clone()
			for k, v := range right {
				if _, exists := merged[k]; !exists {
					merged[k] = v
				}
			}
			out = append(out, merged)
		}
	}
	return out, nil
}
