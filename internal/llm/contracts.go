package llm

import "context"

// InvokeRequest carries one LLM call: an instruction prompt, the JSON
// data it operates on, the model to use, and an optional JSON Schema
// the returned object must match.
type InvokeRequest struct {
	Prompt       string
	Data         any
	Model        string
	OutputSchema map[string]any
}

// Invoker is the interface the pipeline operators depend on. Calls are
// fail-fast: no retries, a transport or parse failure surfaces as an
// error for the calling operator to absorb per its own policy.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (map[string]any, error)
}
