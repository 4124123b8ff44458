// Package snapshot exports and restores vector store contents as JSON
// files, so an embedded index survives restarts.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kailas-cloud/patsearch/internal/domain"
)

const (
	stateFile   = "state.json"
	vectorsFile = "vectors.json"

	scrollBatchSize = 256
	upsertBatchSize = 256
)

// state is the snapshot sidecar: per-point metadata plus the index
// configuration it was written with.
type state struct {
	Metadata map[string]map[string]any `json:"metadata"`
	Config   stateConfig               `json:"config"`
}

type stateConfig struct {
	CollectionName string `json:"collection_name"`
	Dimension      int    `json:"dimension"`
}

// Manager writes and reads snapshots in a directory.
type Manager struct {
	dir        string
	collection string
	dimension  int
	logger     *zap.Logger
}

// NewManager creates a snapshot manager for dir.
func NewManager(dir, collection string, dimension int, logger *zap.Logger) *Manager {
	return &Manager{dir: dir, collection: collection, dimension: dimension, logger: logger}
}

// Save scrolls the entire store and writes vectors.json plus
// state.json atomically.
func (m *Manager) Save(ctx context.Context, store domain.VectorStore) error {
	var points []domain.Point
	cursor := ""
	for {
		batch, next, err := store.Scroll(ctx, scrollBatchSize, cursor)
		if err != nil {
			return fmt.Errorf("scroll store: %w", err)
		}
		points = append(points, batch...)
		if next == "" {
			break
		}
		cursor = next
	}

	st := state{
		Metadata: make(map[string]map[string]any, len(points)),
		Config: stateConfig{
			CollectionName: m.collection,
			Dimension:      m.dimension,
		},
	}
	for _, p := range points {
		st.Metadata[p.ID] = p.Payload.Metadata
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(m.dir, vectorsFile), points); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(m.dir, stateFile), st); err != nil {
		return err
	}

	m.logger.Info("snapshot saved",
		zap.String("dir", m.dir),
		zap.Int("points", len(points)))
	return nil
}

// Load reads a snapshot and upserts its points into the store. Points
// whose vector dimension does not match the snapshot config are
// skipped with a warning. Returns the number of restored points.
func (m *Manager) Load(ctx context.Context, store domain.VectorStore) (int, error) {
	rawState, err := os.ReadFile(filepath.Join(m.dir, stateFile))
	if err != nil {
		return 0, fmt.Errorf("read snapshot state: %w", err)
	}
	var st state
	if err := json.Unmarshal(rawState, &st); err != nil {
		return 0, fmt.Errorf("decode snapshot state: %w", err)
	}

	dimension := st.Config.Dimension
	if dimension == 0 {
		dimension = m.dimension
	}

	rawVectors, err := os.ReadFile(filepath.Join(m.dir, vectorsFile))
	if err != nil {
		return 0, fmt.Errorf("read snapshot vectors: %w", err)
	}
	var points []domain.Point
	if err := json.Unmarshal(rawVectors, &points); err != nil {
		return 0, fmt.Errorf("decode snapshot vectors: %w", err)
	}

	valid := make([]domain.Point, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != dimension {
			m.logger.Warn("skipping snapshot point with wrong dimension",
				zap.String("id", p.ID),
				zap.Int("got", len(p.Vector)),
				zap.Int("want", dimension))
			continue
		}
		if meta, ok := st.Metadata[p.ID]; ok && p.Payload.Metadata == nil {
			p.Payload.Metadata = meta
		}
		valid = append(valid, p)
	}

	for start := 0; start < len(valid); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(valid) {
			end = len(valid)
		}
		if err := store.Upsert(ctx, valid[start:end]); err != nil {
			return 0, fmt.Errorf("restore snapshot batch: %w", err)
		}
	}

	m.logger.Info("snapshot restored",
		zap.String("dir", m.dir),
		zap.Int("points", len(valid)),
		zap.Int("skipped", len(points)-len(valid)))
	return len(valid), nil
}

// Exists reports whether a complete snapshot is present.
func (m *Manager) Exists() bool {
	if _, err := os.Stat(filepath.Join(m.dir, stateFile)); err != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(m.dir, vectorsFile))
	return err == nil
}

func writeJSONAtomic(path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
