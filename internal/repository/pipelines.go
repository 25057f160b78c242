package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docintel/pipeline/internal/common"
	"github.com/docintel/pipeline/internal/pipeline"
)

// pgPipelineStore serves pipeline definitions stored as JSONB rows.
type pgPipelineStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPipelineStore(pool *pgxpool.Pool, log *slog.Logger) pipeline.Store {
	if log == nil {
		log = slog.Default()
	}
	return &pgPipelineStore{pool: pool, log: log}
}

func (s *pgPipelineStore) GetPipeline(ctx context.Context, id string) (*pipeline.Definition, error) {
	var (
		name       string
		definition []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT name, definition FROM pipeline WHERE id = $1`, id,
	).Scan(&name, &definition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pipeline %q: %w", id, common.ErrNotFound)
		}
		s.log.Error("pipeline load failed", "pipeline_id", id, "err", err)
		return nil, common.WrapError(err, "get pipeline")
	}

	var def pipeline.Definition
	if err := json.Unmarshal(definition, &def); err != nil {
		return nil, fmt.Errorf("decode pipeline %q: %w", id, err)
	}
	def.ID = id
	if def.Name == "" {
		def.Name = name
	}
	for i := range def.Operators {
		if def.Operators[i].Config == nil {
			def.Operators[i].Config = map[string]any{}
		}
	}
	return &def, nil
}
