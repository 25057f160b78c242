package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/docintel/pipeline/internal/common"
)

// YAMLStore serves pipeline definitions from a directory of YAML files,
// one <id>.yaml (or <id>.yml) file per pipeline. Used by the CLI and in
// environments without a database.
type YAMLStore struct {
	dir string
	log *slog.Logger
}

func NewYAMLStore(dir string, logger *slog.Logger) *YAMLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &YAMLStore{dir: dir, log: logger}
}

func (s *YAMLStore) GetPipeline(_ context.Context, id string) (*Definition, error) {
	// ids come from callers; never let them escape the pipelines dir
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, common.NewAppError("PIPELINE_ID", "invalid pipeline id", common.ErrInvalidInput)
	}

	var data []byte
	var err error
	for _, ext := range []string{".yaml", ".yml"} {
		data, err = os.ReadFile(filepath.Join(s.dir, id+ext))
		if err == nil {
			break
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("pipeline %q: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("read pipeline %q: %w", id, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse pipeline %q: %w", id, err)
	}
	if def.ID == "" {
		def.ID = id
	}
	normalizeConfigs(&def)

	s.log.Debug("pipeline.yaml.loaded", "id", def.ID, "operators", len(def.Operators))
	return &def, nil
}

// normalizeConfigs rewrites nested yaml maps into the map[string]any
// shape the operators expect, so YAML- and JSON-sourced definitions
// behave identically.
func normalizeConfigs(def *Definition) {
	for i := range def.Operators {
		if def.Operators[i].Config == nil {
			def.Operators[i].Config = map[string]any{}
			continue
		}
		def.Operators[i].Config = normalizeValue(def.Operators[i].Config).(map[string]any)
	}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeValue(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = normalizeValue(el)
		}
		return out
	default:
		return v
	}
}
