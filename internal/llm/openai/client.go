package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docintel/pipeline/internal/llm"
)

// Client implements llm.Invoker on top of text-only chat/completions.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg.withDefaults(),
		httpClient: &http.Client{},
		log:        logger,
	}
}

// Invoke sends one prompt+data pair to the model and returns the decoded
// JSON object. When req.OutputSchema is set, the schema is passed to the
// model as a constraint and the response is validated against it locally.
func (c *Client) Invoke(ctx context.Context, req llm.InvokeRequest) (map[string]any, error) {
	rid := uuid.New().String()
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	c.log.Info("llm.invoke.start",
		"req_id", rid,
		"model", model,
		"temp", c.cfg.Temperature,
		"prompt_len", len(req.Prompt),
		"has_schema", req.OutputSchema != nil,
	)

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	dataJSON, err := json.Marshal(req.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal input data: %w", err)
	}

	messages := []map[string]any{
		{"role": "system", "content": req.Prompt + "\n\nReturn ONLY a single JSON object."},
		{"role": "user", "content": "Input data (JSON):\n" + string(dataJSON)},
	}
	if req.OutputSchema != nil {
		messages = append(messages, map[string]any{
			"role":    "system",
			"content": "JSON Schema:\n" + mustJSON(req.OutputSchema),
		})
	}

	body := map[string]any{
		"model":           model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages":        messages,
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, httpErr := c.post(ctx, endpoint, body)
	if httpErr != nil {
		c.log.Error("llm.invoke.http_error",
			"req_id", rid, "error", httpErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, httpErr
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.invoke.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm.invoke.no_choices",
			"req_id", rid, "raw", string(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("no choices in openai response")
	}

	out, content, err := llm.DecodeObject(cc.Choices[0].Message.Content)
	if err != nil {
		c.log.Error("llm.invoke.bad_json",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	if req.OutputSchema != nil {
		if err := llm.ValidateJSONAgainstSchema(req.OutputSchema, content); err != nil {
			c.log.Error("llm.invoke.schema_validation_failed",
				"req_id", rid, "error", err, "content", string(content),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return nil, fmt.Errorf("schema validation failed: %w", err)
		}
	}

	c.log.Info("llm.invoke.ok",
		"req_id", rid,
		"model", model,
		"keys", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.log.Warn("openai response body close error", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, buf.String())
	}

	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	return buf.Bytes(), nil
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
