package metrics

// Operation labels a performance sample.
type Operation string

const (
	OpCacheHit           Operation = "cache_hit"
	OpQueryExecution     Operation = "query_execution"
	OpQueryError         Operation = "query_error"
	OpComponentRender    Operation = "component_render"
	OpMemoryOptimization Operation = "memory_optimization"
)

// Operations lists every known operation in a stable order.
var Operations = []Operation{
	OpCacheHit,
	OpQueryExecution,
	OpQueryError,
	OpComponentRender,
	OpMemoryOptimization,
}

// IsQuery reports whether the operation came from the query optimizer and
// therefore counts toward hit-rate and error-rate denominators.
func (o Operation) IsQuery() bool {
	switch o {
	case OpCacheHit, OpQueryExecution, OpQueryError:
		return true
	case OpComponentRender, OpMemoryOptimization:
		return false
	}
	return false
}

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	for _, op := range Operations {
		if op == o {
			return true
		}
	}
	return false
}

func (o Operation) String() string { return string(o) }
