// Package patsearch provides an embedded client for multilingual
// patent abstract search: the processing pipeline, in-memory vector
// index and keyword aggregation wired together without the HTTP layer.
package patsearch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/patsearch/internal/domain"
	"github.com/kailas-cloud/patsearch/internal/langdetect"
	"github.com/kailas-cloud/patsearch/internal/pipeline"
	"github.com/kailas-cloud/patsearch/internal/store/memory"
	ingestuc "github.com/kailas-cloud/patsearch/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/patsearch/internal/usecase/search"
)

// Embedder vectorizes text. Implementations must be safe for
// concurrent use.
type Embedder = domain.Embedder

// Result is one merged search result.
type Result = domain.MergedResult

// Stats describes the indexed corpus.
type Stats = ingestuc.Stats

// Client is the embedded patsearch entry point.
type Client struct {
	store     *memory.Store
	pipeline  *pipeline.Pipeline
	ingestSvc *ingestuc.Service
	searchSvc *searchuc.Service
}

// Options configures an embedded client.
type Options struct {
	// Dimensions is the embedding dimension (default 384).
	Dimensions int
	// MinTextLength gates texts below this cleaned length (default 10).
	MinTextLength int
	// KeywordBonus is the per-extra-keyword confidence bonus (default 0.6).
	KeywordBonus float64
	// QueryTimeout bounds each per-keyword query (default 5s).
	QueryTimeout time.Duration
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// New creates an embedded client around the given embedder.
func New(embedder Embedder, opts Options) (*Client, error) {
	if opts.Dimensions <= 0 {
		opts.Dimensions = domain.DefaultVectorDim
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	store := memory.NewStore(memory.Config{
		Dimensions: opts.Dimensions,
		Logger:     opts.Logger,
	})

	proc, err := pipeline.New(embedder, langdetect.NewDetector(), pipeline.Options{
		MinTextLength: opts.MinTextLength,
	}, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	searchOpts := []searchuc.Option{}
	if opts.KeywordBonus > 0 {
		searchOpts = append(searchOpts, searchuc.WithKeywordBonus(opts.KeywordBonus))
	}
	if opts.QueryTimeout > 0 {
		searchOpts = append(searchOpts, searchuc.WithQueryTimeout(opts.QueryTimeout))
	}

	return &Client{
		store:     store,
		pipeline:  proc,
		ingestSvc: ingestuc.New(proc, noopCache{}, store, opts.Logger),
		searchSvc: searchuc.New(embedder, store, opts.Logger, searchOpts...),
	}, nil
}

// Add processes and indexes texts. Metadata entries pair with texts by
// index and may be nil. Returns the number of texts actually indexed.
func (c *Client) Add(ctx context.Context, texts []string, metadatas []map[string]any) (int, error) {
	return c.ingestSvc.AddTexts(ctx, texts, metadatas)
}

// Search runs a multi-keyword query and returns ranked merged results.
func (c *Client) Search(
	ctx context.Context, keywords []string, threshold float64, maxResults int,
) ([]Result, error) {
	req, err := domain.NewSearchRequest(keywords, threshold, maxResults, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.searchSvc.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Stats reports document count and language distribution.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	return c.ingestSvc.Stats(ctx)
}

// noopCache disables record persistence for embedded use.
type noopCache struct{}

func (noopCache) LoadOrProcess(
	ctx context.Context, _ string,
	_ func(ctx context.Context, texts []string) ([]domain.ProcessedRecord, error),
) ([]domain.ProcessedRecord, error) {
	return nil, nil
}

func (noopCache) Append([]domain.ProcessedRecord) error { return nil }
