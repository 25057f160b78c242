package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripFences removes a surrounding markdown code fence, if any. Models
// asked for raw JSON still occasionally wrap it in ```json ... ```.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		// drop the language tag line ("json", "JSON", or empty)
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// DecodeObject decodes model output into a JSON object, tolerating a
// markdown fence around the payload.
func DecodeObject(content string) (map[string]any, []byte, error) {
	raw := []byte(StripFences(content))
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, raw, fmt.Errorf("decode model output: %w", err)
	}
	return m, raw, nil
}
