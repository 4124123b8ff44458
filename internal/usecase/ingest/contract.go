package ingest

import (
	"context"

	"github.com/kailas-cloud/patsearch/internal/domain"
)

// Processor runs texts through the processing pipeline.
type Processor interface {
	ProcessOne(ctx context.Context, text string) (domain.ProcessedRecord, error)
	ProcessBatch(ctx context.Context, texts []string) ([]domain.ProcessedRecord, error)
}

// RecordCache persists processed records across restarts.
type RecordCache interface {
	LoadOrProcess(ctx context.Context, dataPath string, process func(ctx context.Context, texts []string) ([]domain.ProcessedRecord, error)) ([]domain.ProcessedRecord, error)
	Append(records []domain.ProcessedRecord) error
}
