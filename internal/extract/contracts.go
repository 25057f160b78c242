package extract

import (
	"context"
	"time"
)

// TextExtractor turns a document (raw bytes + content type) into text.
// Implementations sit in front of the external OCR services; the engine
// only ever sees the extracted text as pipeline input.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (TextExtractionResult, error)
}

type TextExtractionResult struct {
	Text       string
	Pages      int
	Provider   string // which backing service produced the text
	Confidence float32
	Language   string
	Duration   time.Duration
	Warnings   []string
}
