package ingest

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/patsearch/internal/domain"
	"github.com/kailas-cloud/patsearch/internal/store/memory"
)

// fakeProcessor produces one record per text without external calls.
type fakeProcessor struct {
	minLen int
}

func (f *fakeProcessor) record(text string) domain.ProcessedRecord {
	return domain.ProcessedRecord{
		Text:      text,
		Embedding: []float32{1, 0, 0},
		Language:  "en",
		Metadata:  map[string]any{"word_count": 1},
	}
}

func (f *fakeProcessor) ProcessOne(_ context.Context, text string) (domain.ProcessedRecord, error) {
	if len(text) < f.minLen {
		return domain.ProcessedRecord{}, domain.ErrTextTooShort
	}
	return f.record(text), nil
}

func (f *fakeProcessor) ProcessBatch(_ context.Context, texts []string) ([]domain.ProcessedRecord, error) {
	records := make([]domain.ProcessedRecord, 0, len(texts))
	for _, t := range texts {
		if len(t) < f.minLen {
			continue
		}
		records = append(records, f.record(t))
	}
	return records, nil
}

// fakeCache records appends and serves canned LoadOrProcess results.
type fakeCache struct {
	records   []domain.ProcessedRecord
	appended  []domain.ProcessedRecord
	appendErr error
	processed bool
}

func (f *fakeCache) LoadOrProcess(
	ctx context.Context, _ string,
	process func(ctx context.Context, texts []string) ([]domain.ProcessedRecord, error),
) ([]domain.ProcessedRecord, error) {
	if f.records != nil {
		return f.records, nil
	}
	f.processed = true
	return process(ctx, []string{"a patent abstract about solar", "another about wind"})
}

func (f *fakeCache) Append(records []domain.ProcessedRecord) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, records...)
	return nil
}

func newService(cache *fakeCache) (*Service, *memory.Store) {
	store := memory.NewStore(memory.Config{Dimensions: 3})
	return New(&fakeProcessor{minLen: 10}, cache, store, zap.NewNop()), store
}

func TestInitializeWithData(t *testing.T) {
	cache := &fakeCache{}
	svc, store := newService(cache)

	n, err := svc.InitializeWithData(context.Background(), "data.txt")
	if err != nil {
		t.Fatalf("InitializeWithData failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("indexed %d records, want 2", n)
	}
	if !cache.processed {
		t.Error("cache miss did not trigger processing")
	}

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("store count = %d, want 2", count)
	}
}

func TestInitializeWithData_FromCache(t *testing.T) {
	cache := &fakeCache{records: []domain.ProcessedRecord{
		{Text: "cached", Embedding: []float32{1, 0, 0}, Language: "en"},
	}}
	svc, store := newService(cache)

	n, err := svc.InitializeWithData(context.Background(), "data.txt")
	if err != nil {
		t.Fatalf("InitializeWithData failed: %v", err)
	}
	if n != 1 || cache.processed {
		t.Errorf("expected 1 cached record without processing, got n=%d processed=%v", n, cache.processed)
	}
	if count, _ := store.Count(context.Background()); count != 1 {
		t.Errorf("store count = %d, want 1", count)
	}
}

func TestAddTexts(t *testing.T) {
	cache := &fakeCache{records: []domain.ProcessedRecord{}}
	svc, store := newService(cache)

	n, err := svc.AddTexts(context.Background(),
		[]string{"a long enough patent text", "tiny", "another long patent text"},
		[]map[string]any{{"patent_id": "US123"}, nil, nil},
	)
	if err != nil {
		t.Fatalf("AddTexts failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("added %d texts, want 2 (short one skipped)", n)
	}

	if len(cache.appended) != 2 {
		t.Fatalf("appended %d records to cache, want 2", len(cache.appended))
	}
	if cache.appended[0].Metadata["patent_id"] != "US123" {
		t.Errorf("caller metadata not merged: %+v", cache.appended[0].Metadata)
	}
	if count, _ := store.Count(context.Background()); count != 2 {
		t.Errorf("store count = %d, want 2", count)
	}
}

func TestAddTexts_AppendFailurePropagates(t *testing.T) {
	cache := &fakeCache{appendErr: errors.New("disk full")}
	svc, _ := newService(cache)

	_, err := svc.AddTexts(context.Background(), []string{"a long enough patent text"}, nil)
	if err == nil {
		t.Fatal("expected append error to propagate")
	}
}

func TestStats(t *testing.T) {
	cache := &fakeCache{records: []domain.ProcessedRecord{}}
	svc, store := newService(cache)

	points := []domain.Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: domain.Payload{Text: "1", Language: "en"}},
		{ID: "b", Vector: []float32{0, 1, 0}, Payload: domain.Payload{Text: "2", Language: "en"}},
		{ID: "c", Vector: []float32{0, 0, 1}, Payload: domain.Payload{Text: "3", Language: "de"}},
		{ID: "d", Vector: []float32{1, 1, 0}, Payload: domain.Payload{Text: "4"}},
	}
	if err := store.Upsert(context.Background(), points); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalDocuments != 4 {
		t.Errorf("TotalDocuments = %d, want 4", stats.TotalDocuments)
	}
	want := map[string]int{"en": 2, "de": 1, domain.LanguageUnknown: 1}
	for lang, n := range want {
		if stats.Languages[lang] != n {
			t.Errorf("Languages[%s] = %d, want %d", lang, stats.Languages[lang], n)
		}
	}
}
