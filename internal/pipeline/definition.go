package pipeline

import (
	"context"

	"github.com/docintel/pipeline/constants"
)

// OperatorConfig is one stage of a pipeline: a type plus a type-specific
// bag of parameters (prompt, reduce_key, filter_condition, ...).
type OperatorConfig struct {
	ID     string                 `json:"id,omitempty" yaml:"id,omitempty"`
	Name   string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Type   constants.OperatorType `json:"type" yaml:"type"`
	Config map[string]any         `json:"config" yaml:"config"`
}

// MetricsKey returns the key under which this operator's metrics are
// recorded: name, falling back to id, falling back to the type.
func (o OperatorConfig) MetricsKey() string {
	if o.Name != "" {
		return o.Name
	}
	if o.ID != "" {
		return o.ID
	}
	return string(o.Type)
}

// GetString reads a string parameter from the config bag.
func (o OperatorConfig) GetString(key, def string) string {
	if v, ok := o.Config[key].(string); ok && v != "" {
		return v
	}
	return def
}

// GetInt reads an integer parameter, tolerating JSON's float64 decoding.
func (o OperatorConfig) GetInt(key string, def int) int {
	switch v := o.Config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// GetMap reads an object parameter from the config bag.
func (o OperatorConfig) GetMap(key string) map[string]any {
	if v, ok := o.Config[key].(map[string]any); ok {
		return v
	}
	return nil
}

// GetStringSlice reads a list-of-strings parameter, tolerating the
// []any shape JSON and YAML decoding produce.
func (o OperatorConfig) GetStringSlice(key string) []string {
	switch v := o.Config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, el := range v {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Definition is one immutable pipeline: an ordered operator list plus
// pipeline-level settings. The engine only reads it.
type Definition struct {
	ID                 string           `json:"id" yaml:"id"`
	Name               string           `json:"name" yaml:"name"`
	Operators          []OperatorConfig `json:"operators" yaml:"operators"`
	DefaultLLMProvider string           `json:"default_llm_provider,omitempty" yaml:"default_llm_provider,omitempty"`
}

// Store resolves pipeline ids to definitions.
type Store interface {
	GetPipeline(ctx context.Context, id string) (*Definition, error)
}
