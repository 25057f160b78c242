package constants

// OperatorType identifies one kind of pipeline stage.
type OperatorType string

const (
	OpMap     OperatorType = "map"
	OpFilter  OperatorType = "filter"
	OpReduce  OperatorType = "reduce"
	OpResolve OperatorType = "resolve"
	OpGather  OperatorType = "gather"
	OpUnnest  OperatorType = "unnest"
	OpSplit   OperatorType = "split"
	OpJoin    OperatorType = "join"
)

// AllOperatorTypes lists every supported operator type.
func AllOperatorTypes() []OperatorType {
	return []OperatorType{OpMap, OpFilter, OpReduce, OpResolve, OpGather, OpUnnest, OpSplit, OpJoin}
}
