package constants

// RunStatus is the canonical status for rows in pipeline_run.
type RunStatus string

// Stable values (store these exact strings in DB).
const (
	RunStatusRunning   RunStatus = "RUNNING"   // in progress
	RunStatusCompleted RunStatus = "COMPLETED" // all operators finished
	RunStatusFailed    RunStatus = "FAILED"    // terminal failure
)

// OperatorStatus is recorded per operator in a run's metrics map.
type OperatorStatus string

const (
	OperatorStatusCompleted OperatorStatus = "completed"
	OperatorStatusFailed    OperatorStatus = "failed"
)
