// Package cache persists processed records so restarts skip re-embedding.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/kailas-cloud/patsearch/internal/domain"
)

// cacheVersion guards against loading blobs written by incompatible builds.
const cacheVersion = 1

// cacheFile is the on-disk cache layout.
type cacheFile struct {
	Version   int                      `json:"version"`
	Dimension int                      `json:"dimension"`
	Records   []domain.ProcessedRecord `json:"records"`
}

// Manager loads and persists the processed-record cache. All writes
// are serialized with an in-process mutex plus a cross-process file
// lock, and go through a temp file rename so readers never observe a
// partial blob.
type Manager struct {
	path           string
	dimension      int
	useCache       bool
	forceReprocess bool
	mu             sync.Mutex
	flock          *flock.Flock
	logger         *zap.Logger
}

// NewManager creates a cache manager writing to path. When useCache is
// false, LoadOrProcess always reprocesses and nothing is persisted.
// forceReprocess skips the cache read only; reprocessed records are
// still persisted and Append still works.
func NewManager(path string, dimension int, useCache, forceReprocess bool, logger *zap.Logger) *Manager {
	return &Manager{
		path:           path,
		dimension:      dimension,
		useCache:       useCache,
		forceReprocess: forceReprocess,
		flock:          flock.New(path + ".lock"),
		logger:         logger,
	}
}

// LoadOrProcess returns cached records when a valid cache exists,
// otherwise reads dataPath (one abstract per line), processes it and
// persists the result. A corrupt cache is logged and reprocessed, never
// fatal.
func (m *Manager) LoadOrProcess(
	ctx context.Context, dataPath string,
	process func(ctx context.Context, texts []string) ([]domain.ProcessedRecord, error),
) ([]domain.ProcessedRecord, error) {
	if m.useCache && !m.forceReprocess {
		records, err := m.load()
		if err == nil {
			m.logger.Info("loaded processed records from cache",
				zap.String("path", m.path),
				zap.Int("records", len(records)))
			return records, nil
		}
		if !os.IsNotExist(err) {
			m.logger.Warn("cache unusable, reprocessing",
				zap.String("path", m.path),
				zap.Error(err))
		}
	}

	raw, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}

	texts := make([]string, 0, 64)
	for _, line := range strings.Split(string(raw), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			texts = append(texts, line)
		}
	}

	records, err := process(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("process data file: %w", err)
	}

	if m.useCache {
		if err := m.withLock(func() error { return m.save(records) }); err != nil {
			m.logger.Warn("failed to persist cache", zap.Error(err))
		}
	}
	return records, nil
}

// withLock runs fn holding both the in-process mutex and the
// cross-process file lock, so a reprocess-path save cannot interleave
// with an Append's read-modify-write.
func (m *Manager) withLock(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flock.Lock(); err != nil {
		return fmt.Errorf("acquire cache lock: %w", err)
	}
	defer m.flock.Unlock() //nolint:errcheck

	return fn()
}

// Append atomically adds records to the cache: load current contents,
// concatenate, write back. A missing cache starts empty; a corrupt one
// fails the append so live data is never silently dropped.
func (m *Manager) Append(records []domain.ProcessedRecord) error {
	if !m.useCache || len(records) == 0 {
		return nil
	}

	return m.withLock(func() error {
		existing, err := m.load()
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("append to cache: %w", err)
		}
		return m.save(append(existing, records...))
	})
}

// Path returns the cache file location.
func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) load() ([]domain.ProcessedRecord, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err //nolint:wrapcheck // os.IsNotExist checks need the bare error
	}

	var blob cacheFile
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("decode cache: %v: %w", err, domain.ErrCacheInvalid)
	}
	if blob.Version != cacheVersion {
		return nil, fmt.Errorf("cache version %d, want %d: %w", blob.Version, cacheVersion, domain.ErrCacheInvalid)
	}
	if blob.Dimension != m.dimension {
		return nil, fmt.Errorf("cache dimension %d, want %d: %w", blob.Dimension, m.dimension, domain.ErrCacheInvalid)
	}
	for i, rec := range blob.Records {
		if len(rec.Embedding) != m.dimension {
			return nil, fmt.Errorf("record %d has dimension %d, want %d: %w",
				i, len(rec.Embedding), m.dimension, domain.ErrCacheInvalid)
		}
	}
	return blob.Records, nil
}

func (m *Manager) save(records []domain.ProcessedRecord) error {
	blob := cacheFile{
		Version:   cacheVersion,
		Dimension: m.dimension,
		Records:   records,
	}
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp cache: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache: %w", err)
	}

	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}

	m.logger.Debug("cache saved",
		zap.String("path", m.path),
		zap.Int("records", len(records)))
	return nil
}
