// Package memory provides an embedded vector store backed by an HNSW graph.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/coder/hnsw"
	"go.uber.org/zap"

	"github.com/kailas-cloud/patsearch/internal/domain"
)

// Store is an in-process domain.VectorStore using coder/hnsw for the
// approximate nearest-neighbor graph. Deletion on overwrite is lazy:
// the old graph node is orphaned rather than removed, which sidesteps
// graph corruption when the last node is deleted.
type Store struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	points map[uint64]domain.Point
	idKeys map[string]uint64
	order  []string // insertion order of IDs, for deterministic Scroll
	next   uint64

	dimensions int
	logger     *zap.Logger
}

// Config holds the memory store settings.
type Config struct {
	Dimensions int
	M          int
	EfSearch   int
	Logger     *zap.Logger
}

// NewStore creates an empty in-memory vector store.
func NewStore(cfg Config) *Store {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch

	return &Store{
		graph:      graph,
		points:     make(map[uint64]domain.Point),
		idKeys:     make(map[string]uint64),
		dimensions: cfg.Dimensions,
		logger:     cfg.Logger,
	}
}

// Upsert adds points to the index, replacing any existing point with
// the same ID. Replaced points keep their original Scroll position.
func (s *Store) Upsert(_ context.Context, points []domain.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if len(p.Vector) != s.dimensions {
			return fmt.Errorf("point %s has dimension %d, want %d: %w",
				p.ID, len(p.Vector), s.dimensions, domain.ErrVectorDimMismatch)
		}

		if oldKey, exists := s.idKeys[p.ID]; exists {
			// Lazy deletion: orphan the old graph node.
			delete(s.points, oldKey)
		} else {
			s.order = append(s.order, p.ID)
		}

		key := s.next
		s.next++

		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		normalize(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.points[key] = p
		s.idKeys[p.ID] = key
	}
	return nil
}

// Query returns up to topK hits with similarity >= threshold, sorted
// by similarity descending.
func (s *Store) Query(_ context.Context, vector []float32, topK int, threshold float64) ([]domain.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(vector) != s.dimensions {
		return nil, fmt.Errorf("query vector has dimension %d, want %d: %w",
			len(vector), s.dimensions, domain.ErrVectorDimMismatch)
	}
	if len(s.idKeys) == 0 {
		return nil, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalize(query)

	// Over-fetch to cover orphaned nodes left behind by lazy deletion.
	k := topK + (s.graph.Len() - len(s.idKeys))
	if k > s.graph.Len() {
		k = s.graph.Len()
	}

	nodes := s.graph.Search(query, k)

	hits := make([]domain.Hit, 0, len(nodes))
	for _, node := range nodes {
		point, live := s.points[node.Key]
		if !live {
			continue
		}

		sim := similarity(s.graph.Distance(query, node.Value))
		if sim < threshold {
			continue
		}

		hits = append(hits, domain.Hit{
			Text:     point.Payload.Text,
			Score:    sim,
			Language: point.Payload.Language,
			Metadata: point.Payload.Metadata,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Count returns the number of live points.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idKeys), nil
}

// Scroll enumerates points in insertion order. The cursor is a numeric
// offset; an empty next cursor ends the iteration.
func (s *Store) Scroll(_ context.Context, batchSize int, cursor string) ([]domain.Point, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offset := 0
	if cursor != "" {
		var err error
		if offset, err = strconv.Atoi(cursor); err != nil {
			return nil, "", fmt.Errorf("invalid scroll cursor %q: %w", cursor, err)
		}
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	points := make([]domain.Point, 0, batchSize)
	i := offset
	for ; i < len(s.order) && len(points) < batchSize; i++ {
		key, exists := s.idKeys[s.order[i]]
		if !exists {
			continue
		}
		points = append(points, s.points[key])
	}

	next := ""
	if i < len(s.order) {
		next = strconv.Itoa(i)
	}
	return points, next, nil
}

// normalize scales v to unit length in place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// similarity maps a cosine distance to a [0, 1] similarity.
func similarity(distance float32) float64 {
	sim := 1 - float64(distance)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
