// Package pipeline turns raw patent abstracts into cleaned, embedded,
// language-tagged records.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/patsearch/internal/domain"
	"github.com/kailas-cloud/patsearch/internal/metrics"
)

// Pipeline processes texts through clean -> length gate -> language
// detection -> embedding -> metadata assembly. Embeddings are memoized
// in a bounded LRU keyed by the cleaned text.
type Pipeline struct {
	embedder      domain.Embedder
	batchEmbedder domain.BatchEmbedder
	detector      domain.LanguageDetector
	cache         *lru.Cache[string, []float32]
	minTextLength int
	batchSize     int
	logger        *zap.Logger
}

// Options holds the pipeline settings.
type Options struct {
	// MinTextLength is the minimum cleaned length (in runes) a text
	// must have to be processed.
	MinTextLength int
	// CacheSize bounds the embedding memoization cache.
	CacheSize int
	// BatchSize is the chunk size for batch embedding calls.
	BatchSize int
}

// New creates a processing pipeline. The embedder may optionally
// implement domain.BatchEmbedder; ProcessBatch then embeds uncached
// texts in chunks instead of one call per text.
func New(embedder domain.Embedder, detector domain.LanguageDetector, opts Options, logger *zap.Logger) (*Pipeline, error) {
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = 10
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}

	cache, err := lru.New[string, []float32](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	p := &Pipeline{
		embedder:      embedder,
		detector:      detector,
		cache:         cache,
		minTextLength: opts.MinTextLength,
		batchSize:     opts.BatchSize,
		logger:        logger,
	}
	if be, ok := embedder.(domain.BatchEmbedder); ok {
		p.batchEmbedder = be
	}
	return p, nil
}

// Clean normalizes a raw text: every rune that is not a Unicode letter,
// digit or underscore becomes a space, then whitespace runs collapse to
// single spaces and the result is trimmed.
func Clean(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ProcessOne runs a single text through the full pipeline.
// Returns domain.ErrTextTooShort when the cleaned text is below the
// minimum length. Language detection failures degrade to "unknown".
func (p *Pipeline) ProcessOne(ctx context.Context, text string) (domain.ProcessedRecord, error) {
	cleaned := Clean(text)
	if utf8.RuneCountInString(cleaned) < p.minTextLength {
		return domain.ProcessedRecord{}, fmt.Errorf("cleaned text has %d chars, need %d: %w",
			utf8.RuneCountInString(cleaned), p.minTextLength, domain.ErrTextTooShort)
	}

	language := p.detectLanguage(cleaned)

	embedding, err := p.embed(ctx, cleaned)
	if err != nil {
		return domain.ProcessedRecord{}, err
	}

	return domain.ProcessedRecord{
		Text:      cleaned,
		Embedding: embedding,
		Language:  language,
		Metadata:  buildMetadata(text, cleaned),
	}, nil
}

// ProcessBatch runs many texts through the pipeline. Texts that fail
// any stage are dropped with a warning; the returned records keep the
// input order of the surviving texts.
func (p *Pipeline) ProcessBatch(ctx context.Context, texts []string) ([]domain.ProcessedRecord, error) {
	type item struct {
		original string
		cleaned  string
		language string
	}

	items := make([]item, 0, len(texts))
	for i, text := range texts {
		cleaned := Clean(text)
		if utf8.RuneCountInString(cleaned) < p.minTextLength {
			p.logger.Warn("skipping short text",
				zap.Int("index", i),
				zap.Int("length", utf8.RuneCountInString(cleaned)))
			continue
		}
		items = append(items, item{
			original: text,
			cleaned:  cleaned,
			language: p.detectLanguage(cleaned),
		})
	}

	// Resolve embeddings for texts missing from the cache, in chunks
	// when the provider supports batching.
	embeddings := make(map[string][]float32, len(items))
	uncached := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if vec, ok := p.cache.Get(it.cleaned); ok {
			metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
			embeddings[it.cleaned] = vec
			continue
		}
		metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
		if !seen[it.cleaned] {
			seen[it.cleaned] = true
			uncached = append(uncached, it.cleaned)
		}
	}

	if err := p.embedUncached(ctx, uncached, embeddings); err != nil {
		return nil, err
	}

	records := make([]domain.ProcessedRecord, 0, len(items))
	for _, it := range items {
		vec, ok := embeddings[it.cleaned]
		if !ok {
			p.logger.Warn("skipping text without embedding", zap.Int("length", len(it.cleaned)))
			continue
		}
		records = append(records, domain.ProcessedRecord{
			Text:      it.cleaned,
			Embedding: vec,
			Language:  it.language,
			Metadata:  buildMetadata(it.original, it.cleaned),
		})
	}
	return records, nil
}

// ClearCache drops all memoized embeddings.
func (p *Pipeline) ClearCache() {
	p.cache.Purge()
}

func (p *Pipeline) detectLanguage(text string) string {
	language, err := p.detector.Detect(text)
	if err != nil {
		p.logger.Debug("language detection failed", zap.Error(err))
		return domain.LanguageUnknown
	}
	return language
}

func (p *Pipeline) embed(ctx context.Context, cleaned string) ([]float32, error) {
	if vec, ok := p.cache.Get(cleaned); ok {
		metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return vec, nil
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	result, err := p.embedder.Embed(ctx, cleaned)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	p.cache.Add(cleaned, result.Embedding)
	return result.Embedding, nil
}

func (p *Pipeline) embedUncached(ctx context.Context, texts []string, out map[string][]float32) error {
	if len(texts) == 0 {
		return nil
	}

	if p.batchEmbedder == nil {
		for _, text := range texts {
			vec, err := p.embed(ctx, text)
			if err != nil {
				return err
			}
			out[text] = vec
		}
		return nil
	}

	for start := 0; start < len(texts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		result, err := p.batchEmbedder.BatchEmbed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("batch embed %d texts: %w", len(chunk), err)
		}
		for i, text := range chunk {
			p.cache.Add(text, result.Embeddings[i])
			out[text] = result.Embeddings[i]
		}
	}
	return nil
}

func buildMetadata(original, cleaned string) map[string]any {
	return map[string]any{
		"original_length":  utf8.RuneCountInString(original),
		"processed_length": utf8.RuneCountInString(cleaned),
		"word_count":       len(strings.Fields(cleaned)),
		"processed_at":     time.Now().UTC().Format(time.RFC3339),
	}
}
