package domain

import "time"

// Search request defaults, matching the public API defaults.
const (
	DefaultThreshold  = 0.7
	DefaultMaxResults = 10
)

// SearchRequest is a validated multi-keyword query. Construct via
// NewSearchRequest; a SearchRequest that exists is always valid.
type SearchRequest struct {
	keywords   []string
	threshold  float64
	maxResults int
	language   string
}

// NewSearchRequest validates and builds a search request.
func NewSearchRequest(keywords []string, threshold float64, maxResults int, language string) (SearchRequest, error) {
	if len(keywords) == 0 {
		return SearchRequest{}, ErrEmptyKeywords
	}
	if threshold < 0 || threshold > 1 {
		return SearchRequest{}, ErrThresholdOutOfRange
	}
	if maxResults < 1 {
		return SearchRequest{}, ErrInvalidMaxResults
	}

	kw := make([]string, len(keywords))
	copy(kw, keywords)

	return SearchRequest{
		keywords:   kw,
		threshold:  threshold,
		maxResults: maxResults,
		language:   language,
	}, nil
}

// Keywords returns the keywords in request order.
func (r SearchRequest) Keywords() []string { return r.keywords }

// Threshold returns the minimum per-keyword similarity score.
func (r SearchRequest) Threshold() float64 { return r.threshold }

// MaxResults returns the result list size limit.
func (r SearchRequest) MaxResults() int { return r.maxResults }

// Language returns the requested language filter ("" if none). It is
// recorded in query_info and does not affect ranking.
func (r SearchRequest) Language() string { return r.language }

// Hit is one per-keyword result returned by the vector store, already
// threshold-filtered and limited by that query.
type Hit struct {
	Text     string
	Score    float64
	Language string
	Metadata map[string]any
}

// MergedResult is one distinct matched text after merging all keywords.
type MergedResult struct {
	Text            string         `json:"text"`
	Similarity      float64        `json:"similarity"`
	Language        string         `json:"language"`
	Metadata        map[string]any `json:"metadata"`
	MatchedKeywords []string       `json:"matched_keywords"`
	Explanation     string         `json:"explanation"`
}

// SearchResponse is the final ranked answer to a SearchRequest.
type SearchResponse struct {
	Results   []MergedResult `json:"results"`
	QueryInfo map[string]any `json:"query_info"`
	Timestamp time.Time      `json:"timestamp"`
}
