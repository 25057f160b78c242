package engine

import (
	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/record"
)

// OperatorMetrics is the per-operator entry in a run's metrics map.
type OperatorMetrics struct {
	DurationMs  int64                    `json:"duration_ms"`
	InputCount  int                      `json:"input_count"`
	OutputCount int                      `json:"output_count"`
	Status      constants.OperatorStatus `json:"status"`
	Error       string                   `json:"error,omitempty"`
}

// Result is what Execute hands back to the caller on success.
type Result struct {
	RunID             string                     `json:"execution_id"`
	Results           record.Sequence            `json:"results"`
	Metrics           map[string]OperatorMetrics `json:"metrics"`
	TotalDurationMs   int64                      `json:"total_duration_ms"`
	OperatorsExecuted int                        `json:"operators_executed"`
}
