package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/kailas-cloud/patsearch/internal/domain"
)

// Query runs a KNN search via FT.SEARCH and returns hits with
// similarity >= threshold, sorted by similarity descending.
func (s *Store) Query(ctx context.Context, vector []float32, topK int, threshold float64) ([]domain.Hit, error) {
	if len(vector) != s.cfg.Dimensions {
		return nil, fmt.Errorf("query vector has dimension %d, want %d: %w",
			len(vector), s.cfg.Dimensions, domain.ErrVectorDimMismatch)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive")
	}

	queryStr := fmt.Sprintf("*=>[KNN %d @vector $BLOB]", topK)
	args := []string{
		s.cfg.Collection, queryStr,
		"RETURN", "5", "text", "language", "metadata", "timestamp", "__vector_score",
		"PARAMS", "2", "BLOB", vectorToBytes(vector),
		"LIMIT", "0", strconv.Itoa(topK),
		"DIALECT", "2",
	}

	cmd := s.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}

	return s.parseKNNResult(raw, threshold)
}

func (s *Store) parseKNNResult(raw []rueidis.RedisMessage, threshold float64) ([]domain.Hit, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	hits := make([]domain.Hit, 0, total)
	// 2-stride: [total, key1, fields1, key2, fields2, ...]
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}

		fieldsArr, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		fields := parseFieldPairs(fieldsArr)

		scoreStr, ok := fields["__vector_score"]
		if !ok {
			continue
		}
		distance, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			continue
		}
		sim := similarity(distance)
		if sim < threshold {
			continue
		}

		var metadata map[string]any
		if rawMeta := fields["metadata"]; rawMeta != "" {
			if err := json.Unmarshal([]byte(rawMeta), &metadata); err != nil {
				s.logger.Warn("undecodable metadata", zap.String("key", key), zap.Error(err))
			}
		}

		hits = append(hits, domain.Hit{
			Text:     fields["text"],
			Score:    sim,
			Language: fields["language"],
			Metadata: metadata,
		})
	}
	return hits, nil
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

// similarity maps a cosine distance to a [0, 1] similarity.
func similarity(distance float64) float64 {
	sim := 1 - distance
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
