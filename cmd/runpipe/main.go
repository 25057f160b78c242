package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/docintel/pipeline/internal/common"
	"github.com/docintel/pipeline/internal/engine"
	"github.com/docintel/pipeline/internal/export"
	"github.com/docintel/pipeline/internal/extract"
	"github.com/docintel/pipeline/internal/llm/openai"
	"github.com/docintel/pipeline/internal/pipeline"
	"github.com/docintel/pipeline/internal/repository"

	"github.com/google/uuid"
)

// runpipe executes one pipeline from a YAML directory against a JSON
// input file (or a document put through the OCR services first) and
// records the run in an embedded sqlite ledger.
func main() {
	var (
		pipelinesDir = flag.String("pipelines", "./pipelines", "directory of pipeline YAML files")
		pipelineID   = flag.String("pipeline", "", "pipeline id (required)")
		inputPath    = flag.String("input", "", "JSON input file (array or object)")
		docPath      = flag.String("from-file", "", "document to OCR into pipeline input instead of --input")
		contentType  = flag.String("content-type", "application/pdf", "content type for --from-file")
		ledgerPath   = flag.String("ledger", "runs.db", "sqlite run ledger path")
		exportPath   = flag.String("export", "", "write run results to this XLSX file")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *pipelineID == "" || (*inputPath == "" && *docPath == "") {
		logger.Error("usage", "cmd", "runpipe -pipeline <id> (-input data.json | -from-file doc.pdf)")
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	var input any
	switch {
	case *inputPath != "":
		data, err := os.ReadFile(*inputPath)
		if err != nil {
			logger.Error("read input", "path", *inputPath, "error", err)
			os.Exit(1)
		}
		if err := json.Unmarshal(data, &input); err != nil {
			logger.Error("parse input json", "path", *inputPath, "error", err)
			os.Exit(1)
		}
	case *docPath != "":
		data, err := os.ReadFile(*docPath)
		if err != nil {
			logger.Error("read document", "path", *docPath, "error", err)
			os.Exit(1)
		}
		ex := extract.NewHTTPExtractor(cfg.OCR.ServiceURLs, cfg.OCR.Timeout, cfg.OCR.MinConfidence, logger)
		res, err := ex.Extract(ctx, data, *contentType)
		if err != nil {
			logger.Error("extract text", "path", *docPath, "error", err)
			os.Exit(1)
		}
		logger.Info("document extracted",
			"provider", res.Provider, "pages", res.Pages, "confidence", res.Confidence)
		input = map[string]any{
			"content":    res.Text,
			"source":     *docPath,
			"pages":      res.Pages,
			"confidence": res.Confidence,
		}
	}

	ledger, err := repository.OpenSQLiteRunLedger(*ledgerPath, logger)
	if err != nil {
		logger.Error("open ledger", "path", *ledgerPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := ledger.Close(); cerr != nil {
			logger.Error("close ledger", "error", cerr)
		}
	}()

	invoker := openai.NewClient(openai.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	store := pipeline.NewYAMLStore(*pipelinesDir, logger)
	eng := engine.New(store, ledger, invoker, engine.Options{
		RunTimeout:     cfg.Engine.RunTimeout,
		MaxConcurrency: cfg.Engine.MaxConcurrency,
		DefaultModel:   cfg.LLM.Model,
	}, logger)

	result, err := eng.Execute(ctx, *pipelineID, input, "")
	if err != nil {
		logger.Error("run failed", "pipeline_id", *pipelineID, "error", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(map[string]any{
		"execution_id": result.RunID,
		"results":      result.Results,
		"metrics":      result.Metrics,
	}, "", "  ")
	_, _ = os.Stdout.Write(append(out, '\n'))

	if *exportPath != "" {
		runID, err := uuid.Parse(result.RunID)
		if err != nil {
			logger.Error("parse run id", "error", err)
			os.Exit(1)
		}
		svc := export.NewService(ledger, logger)
		data, err := svc.ExportRunXLSX(ctx, runID)
		if err != nil {
			logger.Error("export run", "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*exportPath, data, 0o644); err != nil {
			logger.Error("write export", "path", *exportPath, "error", err)
			os.Exit(1)
		}
		logger.Info("export written", "path", *exportPath, "bytes", len(data))
	}
}
