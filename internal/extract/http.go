package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docintel/pipeline/internal/common"
)

// HTTPExtractor calls a list of OCR services in order and returns the
// first result that succeeds with acceptable confidence. Each service
// speaks the same contract: POST /ocr {base64_data, content_type} ->
// {success, text, metadata:{provider, confidence, pages, language}}.
type HTTPExtractor struct {
	urls          []string
	minConfidence float32
	client        *http.Client
	log           *slog.Logger
}

func NewHTTPExtractor(serviceURLs []string, timeout time.Duration, minConfidence float32, logger *slog.Logger) *HTTPExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPExtractor{
		urls:          serviceURLs,
		minConfidence: minConfidence,
		client:        &http.Client{Timeout: timeout},
		log:           logger,
	}
}

type ocrResponse struct {
	Success  bool   `json:"success"`
	Text     string `json:"text"`
	Error    string `json:"error"`
	Metadata struct {
		Provider   string  `json:"provider"`
		Confidence float32 `json:"confidence"`
		Pages      int     `json:"pages"`
		Language   string  `json:"language"`
	} `json:"metadata"`
}

// Extract tries each configured service in order. A low-confidence
// result is kept as a fallback and only returned when no later service
// beats the threshold.
func (e *HTTPExtractor) Extract(ctx context.Context, data []byte, contentType string) (TextExtractionResult, error) {
	if len(e.urls) == 0 {
		return TextExtractionResult{}, common.NewAppError("OCR_CONFIG", "no OCR services configured", common.ErrInvalidInput)
	}

	start := time.Now()
	payload := map[string]any{
		"base64_data":  base64.StdEncoding.EncodeToString(data),
		"content_type": contentType,
	}

	var best *TextExtractionResult
	var warnings []string
	for _, url := range e.urls {
		res, err := e.callService(ctx, url, payload)
		if err != nil {
			e.log.Warn("ocr.service.failed", "url", url, "err", err)
			warnings = append(warnings, fmt.Sprintf("%s: %v", url, err))
			continue
		}
		res.Duration = time.Since(start)
		if res.Confidence >= e.minConfidence {
			res.Warnings = warnings
			e.log.Info("ocr.extract.ok",
				"provider", res.Provider, "pages", res.Pages,
				"confidence", res.Confidence, "elapsed_ms", res.Duration.Milliseconds(),
			)
			return res, nil
		}
		e.log.Warn("ocr.service.low_confidence",
			"url", url, "confidence", res.Confidence, "threshold", e.minConfidence)
		if best == nil || res.Confidence > best.Confidence {
			best = &res
		}
	}

	if best != nil {
		best.Warnings = append(warnings, "all services below confidence threshold")
		return *best, nil
	}
	return TextExtractionResult{}, common.NewAppError("OCR_FAILED",
		"all OCR services failed: "+strings.Join(warnings, "; "), common.ErrInternal)
}

func (e *HTTPExtractor) callService(ctx context.Context, url string, payload map[string]any) (TextExtractionResult, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return TextExtractionResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(url, "/")+"/ocr", bytes.NewReader(b))
	if err != nil {
		return TextExtractionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return TextExtractionResult{}, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.log.Warn("ocr response body close error", "error", cerr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TextExtractionResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TextExtractionResult{}, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	var out ocrResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return TextExtractionResult{}, fmt.Errorf("decode ocr response: %w", err)
	}
	if !out.Success {
		return TextExtractionResult{}, fmt.Errorf("ocr service error: %s", out.Error)
	}
	return TextExtractionResult{
		Text:       out.Text,
		Pages:      out.Metadata.Pages,
		Provider:   out.Metadata.Provider,
		Confidence: out.Metadata.Confidence,
		Language:   out.Metadata.Language,
	}, nil
}
