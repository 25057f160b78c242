package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/docintel/pipeline/internal/common"
)

// MemoryRunLedger is an in-process RunRepository for tests and dry runs.
type MemoryRunLedger struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*Run
}

func NewMemoryRunLedger() *MemoryRunLedger {
	return &MemoryRunLedger{runs: make(map[uuid.UUID]*Run)}
}

func (m *MemoryRunLedger) CreateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists: %w", run.ID, common.ErrInvalidInput)
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryRunLedger) UpdateRun(_ context.Context, id uuid.UUID, patch RunPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, common.ErrNotFound)
	}
	run.Status = patch.Status
	run.OutputData = patch.OutputData
	run.Metrics = patch.Metrics
	run.ErrorMessage = patch.ErrorMessage
	run.CompletedAt = patch.CompletedAt
	return nil
}

// All returns a snapshot of every stored run; test helper.
func (m *MemoryRunLedger) All() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		cp := *run
		out = append(out, &cp)
	}
	return out
}

func (m *MemoryRunLedger) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, common.ErrNotFound)
	}
	cp := *run
	return &cp, nil
}
