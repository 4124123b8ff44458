// Package ingest loads, processes and indexes patent abstracts.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/patsearch/internal/domain"
)

// Stats describes the indexed corpus.
type Stats struct {
	TotalDocuments int
	Languages      map[string]int
}

// Service coordinates the pipeline, record cache and vector store.
type Service struct {
	processor Processor
	cache     RecordCache
	store     domain.VectorStore
	logger    *zap.Logger
}

// New creates an ingest service.
func New(processor Processor, cache RecordCache, store domain.VectorStore, logger *zap.Logger) *Service {
	return &Service{processor: processor, cache: cache, store: store, logger: logger}
}

// InitializeWithData loads records from the cache or processes the raw
// data file, then indexes everything. Returns the number of indexed
// records.
func (s *Service) InitializeWithData(ctx context.Context, dataPath string) (int, error) {
	records, err := s.cache.LoadOrProcess(ctx, dataPath, s.processor.ProcessBatch)
	if err != nil {
		return 0, fmt.Errorf("load records: %w", err)
	}

	if err := s.index(ctx, records); err != nil {
		return 0, err
	}

	s.logger.Info("corpus initialized",
		zap.String("data_path", dataPath),
		zap.Int("records", len(records)))
	return len(records), nil
}

// AddTexts processes and indexes new texts at runtime. Caller metadata
// is merged over the pipeline metadata per text. Texts that fail the
// length gate are skipped; the returned count is the number actually
// indexed. Newly processed records are appended to the cache.
func (s *Service) AddTexts(ctx context.Context, texts []string, metadatas []map[string]any) (int, error) {
	records := make([]domain.ProcessedRecord, 0, len(texts))
	for i, text := range texts {
		rec, err := s.processor.ProcessOne(ctx, text)
		if err != nil {
			if errors.Is(err, domain.ErrTextTooShort) {
				s.logger.Warn("skipping short text", zap.Int("index", i))
				continue
			}
			return 0, fmt.Errorf("process text %d: %w", i, err)
		}
		if i < len(metadatas) {
			for k, v := range metadatas[i] {
				rec.Metadata[k] = v
			}
		}
		records = append(records, rec)
	}

	if err := s.index(ctx, records); err != nil {
		return 0, err
	}

	if err := s.cache.Append(records); err != nil {
		return 0, fmt.Errorf("append to cache: %w", err)
	}

	return len(records), nil
}

// Stats counts indexed documents and their language distribution.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	total, err := s.store.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count documents: %w", err)
	}

	languages := make(map[string]int)
	cursor := ""
	for {
		batch, next, err := s.store.Scroll(ctx, 256, cursor)
		if err != nil {
			return Stats{}, fmt.Errorf("scroll documents: %w", err)
		}
		for _, p := range batch {
			lang := p.Payload.Language
			if lang == "" {
				lang = domain.LanguageUnknown
			}
			languages[lang]++
		}
		if next == "" {
			break
		}
		cursor = next
	}

	return Stats{TotalDocuments: total, Languages: languages}, nil
}

func (s *Service) index(ctx context.Context, records []domain.ProcessedRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]domain.Point, len(records))
	now := time.Now().UTC().Format(time.RFC3339)
	for i, rec := range records {
		points[i] = domain.Point{
			ID:     uuid.NewString(),
			Vector: rec.Embedding,
			Payload: domain.Payload{
				Text:      rec.Text,
				Language:  rec.Language,
				Metadata:  rec.Metadata,
				Timestamp: now,
			},
		}
	}

	if err := s.store.Upsert(ctx, points); err != nil {
		return fmt.Errorf("index records: %w", err)
	}
	return nil
}
