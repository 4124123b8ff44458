package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/patsearch/internal/domain"
	"github.com/kailas-cloud/patsearch/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterSearchMetrics()
	os.Exit(m.Run())
}

// fakeEmbedder returns a distinct vector per keyword.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if f.err != nil {
		return domain.EmbeddingResult{}, f.err
	}
	return domain.EmbeddingResult{Embedding: []float32{float32(len(text)), 1, 0}}, nil
}

// fakeQuerier returns canned hits keyed by the first vector component
// (keyword length), so each keyword gets its own result set.
type fakeQuerier struct {
	hits    map[int][]domain.Hit
	errOn   map[int]error
	delayOn map[int]time.Duration
}

func (f *fakeQuerier) Query(ctx context.Context, vector []float32, _ int, _ float64) ([]domain.Hit, error) {
	key := int(vector[0])
	if d, ok := f.delayOn[key]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.errOn[key]; ok {
		return nil, err
	}
	return f.hits[key], nil
}

func mustRequest(t *testing.T, keywords []string, threshold float64, maxResults int) domain.SearchRequest {
	t.Helper()
	req, err := domain.NewSearchRequest(keywords, threshold, maxResults, "")
	if err != nil {
		t.Fatalf("NewSearchRequest failed: %v", err)
	}
	return req
}

func TestSearch_MultiKeywordBonus(t *testing.T) {
	// "solar" (5) and "panel" (5) collide on length; use distinct keywords.
	q := &fakeQuerier{hits: map[int][]domain.Hit{
		len("solar"): {
			{Text: "solar panel assembly", Score: 0.80, Language: "en", Metadata: map[string]any{"id": "p1"}},
		},
		len("photovoltaic"): {
			{Text: "solar panel assembly", Score: 0.75, Language: "en"},
		},
	}}
	svc := New(&fakeEmbedder{}, q, zap.NewNop())

	resp, err := svc.Search(context.Background(), mustRequest(t, []string{"solar", "photovoltaic"}, 0.7, 10))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(resp.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(resp.Results))
	}
	r := resp.Results[0]
	// best 0.80 + bonus 0.6*1 = 1.40, capped at 1.0
	if r.Similarity != 1.0 {
		t.Errorf("Similarity = %f, want 1.0 (capped)", r.Similarity)
	}
	if len(r.MatchedKeywords) != 2 || r.MatchedKeywords[0] != "solar" || r.MatchedKeywords[1] != "photovoltaic" {
		t.Errorf("MatchedKeywords = %v, want request order", r.MatchedKeywords)
	}
	if !strings.Contains(r.Explanation, "Matched 2/2 keywords") {
		t.Errorf("unexpected explanation: %q", r.Explanation)
	}
	if !strings.Contains(r.Explanation, "Base similarity: 0.800") {
		t.Errorf("explanation missing base similarity: %q", r.Explanation)
	}
	if !strings.Contains(r.Explanation, "Keyword bonus: 0.600") {
		t.Errorf("explanation missing bonus: %q", r.Explanation)
	}
}

func TestSearch_SingleKeywordNoBonus(t *testing.T) {
	q := &fakeQuerier{hits: map[int][]domain.Hit{
		len("solar"): {{Text: "solar cell", Score: 0.85, Language: "en"}},
	}}
	svc := New(&fakeEmbedder{}, q, zap.NewNop())

	resp, err := svc.Search(context.Background(), mustRequest(t, []string{"solar"}, 0.7, 10))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Results[0].Similarity != 0.85 {
		t.Errorf("Similarity = %f, want 0.85 (no bonus for single keyword)", resp.Results[0].Similarity)
	}
	if !strings.Contains(resp.Results[0].Explanation, "Matched 1/1 keywords: solar") {
		t.Errorf("unexpected explanation: %q", resp.Results[0].Explanation)
	}
}

func TestSearch_RepeatedKeywordNoBonus(t *testing.T) {
	q := &fakeQuerier{hits: map[int][]domain.Hit{
		len("solar"): {{Text: "solar cell", Score: 0.5, Language: "en"}},
	}}
	svc := New(&fakeEmbedder{}, q, zap.NewNop())

	resp, err := svc.Search(context.Background(), mustRequest(t, []string{"solar", "solar"}, 0.4, 10))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	r := resp.Results[0]
	if r.Similarity != 0.5 {
		t.Errorf("Similarity = %f, want 0.5 (same keyword twice earns no bonus)", r.Similarity)
	}
	if len(r.MatchedKeywords) != 1 || r.MatchedKeywords[0] != "solar" {
		t.Errorf("MatchedKeywords = %v, want distinct [solar]", r.MatchedKeywords)
	}
	if !strings.Contains(r.Explanation, "Matched 1/2 keywords: solar.") {
		t.Errorf("unexpected explanation: %q", r.Explanation)
	}
}

func TestSearch_DuplicateHitTextNoBonus(t *testing.T) {
	// Two points sharing a text inside one keyword's hit list count as
	// one matched keyword, not two.
	q := &fakeQuerier{hits: map[int][]domain.Hit{
		len("solar"): {
			{Text: "solar cell", Score: 0.6},
			{Text: "solar cell", Score: 0.55},
		},
	}}
	svc := New(&fakeEmbedder{}, q, zap.NewNop())

	resp, err := svc.Search(context.Background(), mustRequest(t, []string{"solar"}, 0.4, 10))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d results, want 1 (deduped)", len(resp.Results))
	}
	if resp.Results[0].Similarity != 0.6 {
		t.Errorf("Similarity = %f, want best score 0.6 with no bonus", resp.Results[0].Similarity)
	}
	if len(resp.Results[0].MatchedKeywords) != 1 {
		t.Errorf("MatchedKeywords = %v, want one entry", resp.Results[0].MatchedKeywords)
	}
}

func TestSearch_LanguageMetadataFromFirstSighting(t *testing.T) {
	q := &fakeQuerier{hits: map[int][]domain.Hit{
		len("ab"): {{Text: "shared text", Score: 0.7, Language: "en", Metadata: map[string]any{"src": "first"}}},
		len("abcd"): {{Text: "shared text", Score: 0.9, Language: "de", Metadata: map[string]any{"src": "second"}}},
	}}
	svc := New(&fakeEmbedder{}, q, zap.NewNop())

	resp, err := svc.Search(context.Background(), mustRequest(t, []string{"ab", "abcd"}, 0.5, 10))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	r := resp.Results[0]
	if r.Language != "en" || r.Metadata["src"] != "first" {
		t.Errorf("language/metadata not from first sighting: lang=%q meta=%v", r.Language, r.Metadata)
	}
	// Best score still the max across keywords.
	if r.Similarity != 1.0 {
		t.Errorf("Similarity = %f, want 1.0 (0.9 + 0.6 capped)", r.Similarity)
	}
}

func TestSearch_TieBreakLexical(t *testing.T) {
	q := &fakeQuerier{hits: map[int][]domain.Hit{
		len("solar"): {
			{Text: "zebra striped panel", Score: 0.8},
			{Text: "alpha wave panel", Score: 0.8},
		},
	}}
	svc := New(&fakeEmbedder{}, q, zap.NewNop())

	resp, err := svc.Search(context.Background(), mustRequest(t, []string{"solar"}, 0.5, 10))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	if resp.Results[0].Text != "alpha wave panel" {
		t.Errorf("tie not broken lexically: first = %q", resp.Results[0].Text)
	}
}

func TestSearch_MaxResultsTruncation(t *testing.T) {
	hits := make([]domain.Hit, 5)
	for i := range hits {
		hits[i] = domain.Hit{Text: fmt.Sprintf("text %d", i), Score: 0.9 - float64(i)*0.01}
	}
	q := &fakeQuerier{hits: map[int][]domain.Hit{len("solar"): hits}}
	svc := New(&fakeEmbedder{}, q, zap.NewNop())

	resp, err := svc.Search(context.Background(), mustRequest(t, []string{"solar"}, 0.5, 3))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Errorf("got %d results, want max_results=3", len(resp.Results))
	}
	if resp.Results[0].Text != "text 0" {
		t.Errorf("truncation dropped the best result: %q", resp.Results[0].Text)
	}
}

func TestSearch_DegradedOnPartialFailure(t *testing.T) {
	q := &fakeQuerier{
		hits:  map[int][]domain.Hit{len("solar"): {{Text: "solar cell", Score: 0.8}}},
		errOn: map[int]error{len("photovoltaic"): errors.New("backend down")},
	}
	svc := New(&fakeEmbedder{}, q, zap.NewNop())

	resp, err := svc.Search(context.Background(), mustRequest(t, []string{"solar", "photovoltaic"}, 0.5, 10))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d results, want 1 from the surviving keyword", len(resp.Results))
	}
	if resp.Results[0].Similarity != 0.8 {
		t.Errorf("Similarity = %f, want 0.8 (failed keyword contributes nothing)", resp.Results[0].Similarity)
	}
}

func TestSearch_AllKeywordsFailed(t *testing.T) {
	q := &fakeQuerier{errOn: map[int]error{
		len("solar"):        errors.New("down"),
		len("photovoltaic"): errors.New("down"),
	}}
	svc := New(&fakeEmbedder{}, q, zap.NewNop())

	_, err := svc.Search(context.Background(), mustRequest(t, []string{"solar", "photovoltaic"}, 0.5, 10))
	if !errors.Is(err, domain.ErrSearchUnavailable) {
		t.Fatalf("expected ErrSearchUnavailable, got %v", err)
	}
}

func TestSearch_EmbedFailureCountsAsKeywordFailure(t *testing.T) {
	svc := New(&fakeEmbedder{err: domain.ErrEmbeddingProviderError}, &fakeQuerier{}, zap.NewNop())

	_, err := svc.Search(context.Background(), mustRequest(t, []string{"solar"}, 0.5, 10))
	if !errors.Is(err, domain.ErrSearchUnavailable) {
		t.Fatalf("expected ErrSearchUnavailable, got %v", err)
	}
}

func TestSearch_QueryTimeout(t *testing.T) {
	q := &fakeQuerier{
		hits:    map[int][]domain.Hit{len("solar"): {{Text: "solar cell", Score: 0.8}}},
		delayOn: map[int]time.Duration{len("photovoltaic"): time.Second},
	}
	svc := New(&fakeEmbedder{}, q, zap.NewNop(), WithQueryTimeout(20*time.Millisecond))

	resp, err := svc.Search(context.Background(), mustRequest(t, []string{"solar", "photovoltaic"}, 0.5, 10))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Errorf("slow keyword not timed out: %d results", len(resp.Results))
	}
}

func TestSearch_QueryInfo(t *testing.T) {
	q := &fakeQuerier{hits: map[int][]domain.Hit{len("solar"): nil}}
	svc := New(&fakeEmbedder{}, q, zap.NewNop())

	req, err := domain.NewSearchRequest([]string{"solar"}, 0.7, 10, "en")
	if err != nil {
		t.Fatalf("NewSearchRequest failed: %v", err)
	}
	resp, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if resp.QueryInfo["threshold"] != 0.7 {
		t.Errorf("query_info threshold = %v", resp.QueryInfo["threshold"])
	}
	if resp.QueryInfo["language"] != "en" {
		t.Errorf("query_info language = %v", resp.QueryInfo["language"])
	}
	if resp.QueryInfo["separate_keyword_search"] != true {
		t.Errorf("query_info separate_keyword_search = %v", resp.QueryInfo["separate_keyword_search"])
	}
	if resp.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if resp.Results == nil {
		t.Log("no results for empty hit set") // empty slice is fine too
	}
}

func TestSearch_Deterministic(t *testing.T) {
	q := &fakeQuerier{hits: map[int][]domain.Hit{
		len("ab"):   {{Text: "one", Score: 0.8}, {Text: "two", Score: 0.8}},
		len("abcd"): {{Text: "two", Score: 0.7}, {Text: "three", Score: 0.8}},
	}}
	svc := New(&fakeEmbedder{}, q, zap.NewNop())

	var first []domain.MergedResult
	for i := 0; i < 10; i++ {
		resp, err := svc.Search(context.Background(), mustRequest(t, []string{"ab", "abcd"}, 0.5, 10))
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if first == nil {
			first = resp.Results
			continue
		}
		if len(resp.Results) != len(first) {
			t.Fatalf("result count varies across runs")
		}
		for j := range first {
			if resp.Results[j].Text != first[j].Text || resp.Results[j].Similarity != first[j].Similarity {
				t.Fatalf("run %d result %d differs: %+v vs %+v", i, j, resp.Results[j], first[j])
			}
		}
	}
}
