package redis

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

// EnsureIndex creates the HNSW vector index when it does not exist yet.
// Existence is probed via FT.INFO; "unknown index name" means absent.
func (s *Store) EnsureIndex(ctx context.Context) error {
	probe := s.client.B().Arbitrary("FT.INFO").Args(s.cfg.Collection).Build()
	err := s.client.Do(ctx, probe).Error()
	if err == nil {
		s.logger.Debug("index already exists", zap.String("index", s.cfg.Collection))
		return nil
	}
	if !isRedisErr(err, "unknown index name") {
		return fmt.Errorf("probe index %s: %w", s.cfg.Collection, err)
	}

	vectorAttrs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(s.cfg.Dimensions),
		"DISTANCE_METRIC", "COSINE",
	}
	if s.cfg.M > 0 {
		vectorAttrs = append(vectorAttrs, "M", strconv.Itoa(s.cfg.M))
	}
	if s.cfg.EFConstruct > 0 {
		vectorAttrs = append(vectorAttrs, "EF_CONSTRUCTION", strconv.Itoa(s.cfg.EFConstruct))
	}

	args := []string{
		s.cfg.Collection,
		"ON", "HASH",
		"PREFIX", "1", s.cfg.Collection + ":",
		"SCHEMA",
		"vector", "VECTOR", "HNSW", strconv.Itoa(len(vectorAttrs)),
	}
	args = append(args, vectorAttrs...)
	args = append(args, "language", "TAG")

	create := s.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.client.Do(ctx, create).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return fmt.Errorf("create index %s: %w", s.cfg.Collection, err)
	}

	s.logger.Info("vector index created",
		zap.String("index", s.cfg.Collection),
		zap.Int("dimensions", s.cfg.Dimensions))
	return nil
}
