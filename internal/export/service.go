package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/docintel/pipeline/internal/repository"
)

// Service is a tiny façade over the run ledger that produces XLSX bytes
// for run results: one "Results" sheet with the flattened records and
// one "Metrics" sheet with the per-operator numbers.
type Service struct {
	runs   repository.RunRepository
	logger *slog.Logger
}

func NewService(runs repository.RunRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runs: runs, logger: logger}
}

// ExportRunXLSX returns an XLSX workbook (as bytes) for the given run.
func (s *Service) ExportRunXLSX(ctx context.Context, runID uuid.UUID) ([]byte, error) {
	start := time.Now()

	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	results := extractResults(run.OutputData)

	f := excelize.NewFile()
	const sheet = "Results"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	// excelize starts workbooks with "Sheet1"
	if index, _ := f.GetSheetIndex("Sheet1"); index != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := columnSet(results)
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, rec := range results {
		for col, h := range headers {
			v, ok := rec[h]
			if !ok {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, cellValue(v))
		}
		row++
	}

	if err := s.writeMetricsSheet(f, run); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	s.logger.Info("export.run.ok",
		"run_id", runID, "rows", len(results),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) writeMetricsSheet(f *excelize.File, run *repository.Run) error {
	const sheet = "Metrics"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	write := func(col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
	for i, h := range []string{"Operator", "Status", "Duration (ms)", "Input", "Output", "Error"} {
		write(i+1, 1, h)
	}

	ops := operatorMetrics(run.Metrics)
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	row := 2
	for _, name := range names {
		m := ops[name]
		write(1, row, name)
		write(2, row, str(m["status"]))
		write(3, row, num(m["duration_ms"]))
		write(4, row, num(m["input_count"]))
		write(5, row, num(m["output_count"]))
		write(6, row, str(m["error"]))
		row++
	}
	return nil
}

// extractResults digs the record list out of a run's output_data, which
// is stored as {"results": [...]} and may round-trip through JSON.
func extractResults(output any) []map[string]any {
	m, ok := output.(map[string]any)
	if !ok {
		return nil
	}
	switch results := m["results"].(type) {
	case []any:
		out := make([]map[string]any, 0, len(results))
		for _, el := range results {
			if rec, ok := el.(map[string]any); ok {
				out = append(out, rec)
			}
		}
		return out
	case []map[string]any:
		return results
	default:
		// record.Sequence survives when the ledger kept the value in
		// memory; normalize through JSON
		b, err := json.Marshal(results)
		if err != nil {
			return nil
		}
		var out []map[string]any
		if err := json.Unmarshal(b, &out); err != nil {
			return nil
		}
		return out
	}
}

func operatorMetrics(metrics any) map[string]map[string]any {
	m, ok := metrics.(map[string]any)
	if !ok {
		// normalize typed metrics through JSON
		b, err := json.Marshal(metrics)
		if err != nil {
			return nil
		}
		if err := json.Unmarshal(b, &m); err != nil {
			return nil
		}
	}
	ops, ok := m["operators"].(map[string]any)
	if !ok {
		b, err := json.Marshal(m["operators"])
		if err != nil {
			return nil
		}
		if err := json.Unmarshal(b, &ops); err != nil {
			return nil
		}
	}
	out := make(map[string]map[string]any, len(ops))
	for name, v := range ops {
		if entry, ok := v.(map[string]any); ok {
			out[name] = entry
		}
	}
	return out
}

// columnSet returns the union of record keys in a stable order:
// alphabetical, with bookkeeping (_-prefixed) columns last.
func columnSet(results []map[string]any) []string {
	seen := make(map[string]struct{})
	var plain, meta []string
	for _, rec := range results {
		for k := range rec {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			if len(k) > 0 && k[0] == '_' {
				meta = append(meta, k)
			} else {
				plain = append(plain, k)
			}
		}
	}
	sort.Strings(plain)
	sort.Strings(meta)
	return append(plain, meta...)
}

// cellValue flattens nested JSON values so excelize gets scalars.
func cellValue(v any) any {
	switch v.(type) {
	case nil:
		return ""
	case string, bool, int, int64, float64:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func num(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}
