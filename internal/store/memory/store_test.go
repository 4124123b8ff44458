package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kailas-cloud/patsearch/internal/domain"
)

const testDim = 4

func newTestStore() *Store {
	return NewStore(Config{Dimensions: testDim})
}

func point(id string, vec []float32, text string) domain.Point {
	return domain.Point{
		ID:     id,
		Vector: vec,
		Payload: domain.Payload{
			Text:     text,
			Language: "en",
			Metadata: map[string]any{"source": "test"},
		},
	}
}

func TestUpsertAndQuery(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	err := s.Upsert(ctx, []domain.Point{
		point("a", []float32{1, 0, 0, 0}, "solar panel"),
		point("b", []float32{0, 1, 0, 0}, "wind turbine"),
		point("c", []float32{0.9, 0.1, 0, 0}, "solar cell"),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	hits, err := s.Query(ctx, []float32{1, 0, 0, 0}, 10, 0.5)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2 (orthogonal point filtered)", len(hits))
	}
	if hits[0].Text != "solar panel" {
		t.Errorf("first hit = %q, want exact match first", hits[0].Text)
	}
	if hits[0].Score < 0.99 {
		t.Errorf("exact match score = %f, want ~1.0", hits[0].Score)
	}
	if hits[1].Score >= hits[0].Score {
		t.Error("hits not sorted by score descending")
	}
	if hits[0].Language != "en" || hits[0].Metadata["source"] != "test" {
		t.Error("payload not carried through")
	}
}

func TestQuery_TopKLimit(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		vec := []float32{1, float32(i) * 0.01, 0, 0}
		if err := s.Upsert(ctx, []domain.Point{point(fmt.Sprintf("p%d", i), vec, fmt.Sprintf("text %d", i))}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	hits, err := s.Query(ctx, []float32{1, 0, 0, 0}, 3, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("got %d hits, want topK=3", len(hits))
	}
}

func TestQuery_EmptyStore(t *testing.T) {
	hits, err := newTestStore().Query(context.Background(), []float32{1, 0, 0, 0}, 10, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits from empty store, want 0", len(hits))
	}
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	s := newTestStore()

	err := s.Upsert(context.Background(), []domain.Point{point("a", []float32{1, 0}, "short vec")})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}

	_, err = s.Query(context.Background(), []float32{1, 0}, 10, 0)
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch on query, got %v", err)
	}
}

func TestUpsert_OverwriteKeepsCount(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	if err := s.Upsert(ctx, []domain.Point{point("a", []float32{1, 0, 0, 0}, "old text")}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Upsert(ctx, []domain.Point{point("a", []float32{0, 1, 0, 0}, "new text")}); err != nil {
		t.Fatalf("overwrite Upsert failed: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1 after overwrite", n)
	}

	hits, err := s.Query(ctx, []float32{0, 1, 0, 0}, 10, 0.9)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Text != "new text" {
		t.Errorf("overwrite not effective: %+v", hits)
	}
}

func TestScroll(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		vec := []float32{1, float32(i), 0, 0}
		if err := s.Upsert(ctx, []domain.Point{point(fmt.Sprintf("p%d", i), vec, fmt.Sprintf("text %d", i))}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	var all []domain.Point
	cursor := ""
	rounds := 0
	for {
		batch, next, err := s.Scroll(ctx, 2, cursor)
		if err != nil {
			t.Fatalf("Scroll failed: %v", err)
		}
		all = append(all, batch...)
		rounds++
		if next == "" {
			break
		}
		cursor = next
	}

	if len(all) != 5 {
		t.Fatalf("scrolled %d points, want 5", len(all))
	}
	if rounds != 3 {
		t.Errorf("scrolled in %d rounds, want 3", rounds)
	}
	for i, p := range all {
		if p.ID != fmt.Sprintf("p%d", i) {
			t.Errorf("point %d = %q, want insertion order", i, p.ID)
		}
	}
}

func TestScroll_InvalidCursor(t *testing.T) {
	_, _, err := newTestStore().Scroll(context.Background(), 10, "not-a-number")
	if err == nil {
		t.Fatal("expected error for invalid cursor")
	}
}
