package engine

import (
	"context"
	"fmt"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/common"
	"github.com/docintel/pipeline/internal/pipeline"
	"github.com/docintel/pipeline/internal/record"
)

// Operator is one stateless pipeline stage: it validates its config and
// maps an input sequence to an output sequence. Operators never mutate
// input records; they clone before writing.
type Operator interface {
	Type() constants.OperatorType
	// Validate checks required config fields. Called for every operator
	// before any operator runs; an error fails the whole run.
	Validate(cfg pipeline.OperatorConfig) error
	Apply(ctx context.Context, cfg pipeline.OperatorConfig, in record.Sequence) (record.Sequence, error)
}

// Registry maps operator types to implementations.
type Registry map[constants.OperatorType]Operator

func (r Registry) Register(op Operator) {
	r[op.Type()] = op
}

func (r Registry) Lookup(t constants.OperatorType) (Operator, error) {
	op, ok := r[t]
	if !ok {
		return nil, common.NewAppError("UNKNOWN_OPERATOR",
			fmt.Sprintf("unknown operator type %q (supported: %v)", t, constants.AllOperatorTypes()),
			common.ErrInvalidInput)
	}
	return op, nil
}

func requireString(cfg pipeline.OperatorConfig, key string) error {
	if cfg.GetString(key, "") == "" {
		return common.NewAppError("OPERATOR_CONFIG",
			fmt.Sprintf("%s operator requires config.%s", cfg.Type, key), common.ErrValidation)
	}
	return nil
}
