package domain

// DefaultVectorDim is the embedding dimension of the default model
// (intfloat/multilingual-e5-small).
const DefaultVectorDim = 384

// ProcessedRecord is one cleaned, embedded, language-tagged abstract.
// Records are immutable once assembled by the pipeline.
type ProcessedRecord struct {
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding"`
	Language  string         `json:"language"`
	Metadata  map[string]any `json:"metadata"`
}
