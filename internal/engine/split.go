package engine

import (
	"context"
	"regexp"
	"strings"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/pipeline"
	"github.com/docintel/pipeline/internal/record"
)

var paragraphBreak = regexp.MustCompile(`\r?\n[ \t]*\r?\n`)

// SplitOperator chunks string content on blank-line boundaries. Each
// kept fragment becomes one record carrying _chunk_index and
// _total_chunks; empty fragments are dropped. Records whose content is
// not a string pass through unchanged.
type SplitOperator struct{}

func (o *SplitOperator) Type() constants.OperatorType { return constants.OpSplit }

func (o *SplitOperator) Validate(_ pipeline.OperatorConfig) error {
	// content_key defaults to "content"; nothing is required
	return nil
}

func (o *SplitOperator) Apply(_ context.Context, cfg pipeline.OperatorConfig, in record.Sequence) (record.Sequence, error) {
	contentKey := cfg.GetString("content_key", "content")

	out := make(record.Sequence, 0, len(in))
	for _, rec := range in {
		content, ok := rec[contentKey].(string)
		if !ok {
			out = append(out, rec)
			continue
		}

		fragments := make([]string, 0, 4)
		for _, f := range paragraphBreak.Split(content, -1) {
			if s := strings.TrimSpace(f); s != "" {
				fragments = append(fragments, s)
			}
		}

		for i, f := range fragments {
			chunk := rec.Clone()
			chunk[contentKey] = f
			chunk["_chunk_index"] = i
			chunk["_total_chunks"] = len(fragments)
			out = append(out, chunk)
		}
	}
	return out, nil
}
