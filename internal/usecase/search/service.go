// Package search fans a multi-keyword request out into per-keyword
// vector queries and merges them into one ranked result list.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/patsearch/internal/domain"
	"github.com/kailas-cloud/patsearch/internal/metrics"
)

// DefaultKeywordBonus is the confidence bonus per matched keyword
// beyond the first.
const DefaultKeywordBonus = 0.6

// defaultQueryTimeout bounds each per-keyword query.
const defaultQueryTimeout = 5 * time.Second

// Service is the multi-keyword search aggregator.
type Service struct {
	embedder     Embedder
	querier      Querier
	keywordBonus float64
	queryTimeout time.Duration
	logger       *zap.Logger
}

// Option configures the aggregator.
type Option func(*Service)

// WithKeywordBonus overrides the per-keyword confidence bonus.
func WithKeywordBonus(bonus float64) Option {
	return func(s *Service) { s.keywordBonus = bonus }
}

// WithQueryTimeout overrides the per-keyword query timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Service) { s.queryTimeout = d }
}

// New creates a search aggregator.
func New(embedder Embedder, querier Querier, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		embedder:     embedder,
		querier:      querier,
		keywordBonus: DefaultKeywordBonus,
		queryTimeout: defaultQueryTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs every keyword as an independent vector query, merges the
// hits per distinct text and ranks by base similarity plus a bonus for
// each extra matched keyword. Individual keyword failures degrade the
// result; only when every keyword fails is an error returned.
func (s *Service) Search(ctx context.Context, req domain.SearchRequest) (domain.SearchResponse, error) {
	start := time.Now()

	keywords := req.Keywords()
	perKeyword := make([][]domain.Hit, len(keywords))
	failures := make([]bool, len(keywords))

	g, gctx := errgroup.WithContext(ctx)
	for i, keyword := range keywords {
		g.Go(func() error {
			hits, err := s.queryKeyword(gctx, keyword, req)
			if err != nil {
				// Degraded mode: record the failure, keep the others going.
				failures[i] = true
				metrics.SearchKeywordQueriesTotal.WithLabelValues("error").Inc()
				s.logger.Warn("keyword query failed",
					zap.String("keyword", keyword),
					zap.Error(err))
				return nil
			}
			metrics.SearchKeywordQueriesTotal.WithLabelValues("ok").Inc()
			perKeyword[i] = hits
			return nil
		})
	}
	_ = g.Wait() // subquery errors never propagate

	failed := 0
	for _, f := range failures {
		if f {
			failed++
		}
	}
	if failed == len(keywords) {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return domain.SearchResponse{}, fmt.Errorf("all %d keyword queries failed: %w",
			len(keywords), domain.ErrSearchUnavailable)
	}

	results := s.merge(keywords, perKeyword)
	if len(results) > req.MaxResults() {
		results = results[:req.MaxResults()]
	}

	status := "ok"
	if failed > 0 {
		status = "degraded"
	}
	metrics.SearchRequestsTotal.WithLabelValues(status).Inc()
	metrics.SearchDuration.Observe(time.Since(start).Seconds())

	return domain.SearchResponse{
		Results: results,
		QueryInfo: map[string]any{
			"keywords":                keywords,
			"threshold":               req.Threshold(),
			"max_results":             req.MaxResults(),
			"language":                req.Language(),
			"separate_keyword_search": true,
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

func (s *Service) queryKeyword(ctx context.Context, keyword string, req domain.SearchRequest) ([]domain.Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	emb, err := s.embedder.Embed(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("embed keyword: %w", err)
	}

	hits, err := s.querier.Query(ctx, emb.Embedding, req.MaxResults(), req.Threshold())
	if err != nil {
		return nil, fmt.Errorf("query keyword: %w", err)
	}
	return hits, nil
}

// accumulator collects per-text evidence across keywords. matched is
// a set kept in first-seen order: a keyword counts once per text no
// matter how often it resurfaces.
type accumulator struct {
	best     float64
	matched  []string
	seen     map[string]struct{}
	language string
	metadata map[string]any
}

// merge folds per-keyword hits into distinct texts. Keywords are
// visited in request order, so language and metadata come from the
// first keyword that saw a text and matched-keyword lists are
// deterministic. Final score is best similarity plus
// keywordBonus*(matches-1), capped at 1.0, and the list is sorted by
// final score descending with lexical text order as tie-break.
func (s *Service) merge(keywords []string, perKeyword [][]domain.Hit) []domain.MergedResult {
	acc := make(map[string]*accumulator)
	for i, keyword := range keywords {
		for _, hit := range perKeyword[i] {
			a, ok := acc[hit.Text]
			if !ok {
				a = &accumulator{
					best:     hit.Score,
					seen:     make(map[string]struct{}),
					language: hit.Language,
					metadata: hit.Metadata,
				}
				acc[hit.Text] = a
			} else if hit.Score > a.best {
				a.best = hit.Score
			}
			if _, dup := a.seen[keyword]; !dup {
				a.seen[keyword] = struct{}{}
				a.matched = append(a.matched, keyword)
			}
		}
	}

	results := make([]domain.MergedResult, 0, len(acc))
	for text, a := range acc {
		bonus := s.keywordBonus * float64(len(a.matched)-1)
		final := a.best + bonus
		if final > 1 {
			final = 1
		}

		results = append(results, domain.MergedResult{
			Text:            text,
			Similarity:      final,
			Language:        a.language,
			Metadata:        a.metadata,
			MatchedKeywords: a.matched,
			Explanation: fmt.Sprintf(
				"Matched %d/%d keywords: %s. Base similarity: %.3f, Keyword bonus: %.3f, Final score: %.3f",
				len(a.matched), len(keywords), strings.Join(a.matched, ", "), a.best, bonus, final),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Text < results[j].Text
	})
	return results
}
