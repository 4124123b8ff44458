package domain

import "context"

// Payload is the document data stored alongside a vector.
type Payload struct {
	Text      string         `json:"text"`
	Language  string         `json:"language"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp string         `json:"timestamp"`
}

// Point is one (id, vector, payload) triple in a vector store.
type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// VectorStore holds points and answers nearest-neighbor queries under
// cosine distance. Query returns hits sorted by similarity descending,
// already filtered by threshold and limited to topK.
type VectorStore interface {
	Upsert(ctx context.Context, points []Point) error
	Query(ctx context.Context, vector []float32, topK int, threshold float64) ([]Hit, error)
	Count(ctx context.Context) (int, error)
	// Scroll enumerates all points in batches. An empty cursor starts
	// the iteration; an empty next cursor ends it.
	Scroll(ctx context.Context, batchSize int, cursor string) ([]Point, string, error)
}
