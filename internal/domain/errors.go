package domain

import "errors"

var (
	// ErrEmptyKeywords signals a search request without keywords.
	ErrEmptyKeywords = errors.New("keywords list cannot be empty")
	// ErrThresholdOutOfRange signals a threshold outside [0, 1].
	ErrThresholdOutOfRange = errors.New("threshold must be between 0 and 1")
	// ErrInvalidMaxResults signals a non-positive max_results.
	ErrInvalidMaxResults = errors.New("max_results must be at least 1")

	// ErrTextTooShort signals a text below the minimum processable length.
	ErrTextTooShort = errors.New("text too short")
	// ErrLanguageUndetected signals that no language could be determined.
	ErrLanguageUndetected = errors.New("language could not be detected")

	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrSearchUnavailable signals that every keyword query failed.
	ErrSearchUnavailable = errors.New("search backend unavailable")

	// ErrCacheInvalid signals an unreadable or inconsistent cache blob.
	ErrCacheInvalid = errors.New("cache invalid")
)
