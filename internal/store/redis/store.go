// Package redis provides a domain.VectorStore backed by Redis 8+ vector search.
package redis

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/kailas-cloud/patsearch/internal/domain"
)

// Compile-time check: Store implements domain.VectorStore.
var _ domain.VectorStore = (*Store)(nil)

// Config holds connection and index parameters for the Redis store.
type Config struct {
	Username string
	Password string
	DB       int

	Collection  string
	Dimensions  int
	M           int
	EFConstruct int

	Logger *zap.Logger
}

// Store implements domain.VectorStore via rueidis. Each point is a
// hash keyed "<collection>:<id>" with a FLOAT32 vector blob, and an
// FT index over the collection prefix answers KNN queries.
type Store struct {
	client rueidis.Client
	cfg    Config
	logger *zap.Logger
}

// NewStore creates a Redis store via rueidis.
func NewStore(addrs []string, cfg Config) (*Store, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH result parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Store{client: client, cfg: cfg, logger: cfg.Logger}, nil
}

// NewStoreForTest wraps an existing (mock) client.
func NewStoreForTest(client rueidis.Client, cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Store{client: client, cfg: cfg, logger: cfg.Logger}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// Upsert stores points as hashes in a single DoMulti round-trip.
func (s *Store) Upsert(ctx context.Context, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, len(points))
	for i, p := range points {
		if len(p.Vector) != s.cfg.Dimensions {
			return fmt.Errorf("point %s has dimension %d, want %d: %w",
				p.ID, len(p.Vector), s.cfg.Dimensions, domain.ErrVectorDimMismatch)
		}

		metaJSON, err := json.Marshal(p.Payload.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", p.ID, err)
		}

		cmds[i] = s.client.B().Hset().Key(s.key(p.ID)).FieldValue().
			FieldValue("vector", vectorToBytes(p.Vector)).
			FieldValue("text", p.Payload.Text).
			FieldValue("language", p.Payload.Language).
			FieldValue("metadata", string(metaJSON)).
			FieldValue("timestamp", p.Payload.Timestamp).
			Build()
	}

	results := s.client.DoMulti(ctx, cmds...)
	for i, res := range results {
		if err := res.Error(); err != nil {
			return fmt.Errorf("upsert %s: %w", points[i].ID, err)
		}
	}
	return nil
}

// Count returns document count via FT.SEARCH with LIMIT 0 0.
func (s *Store) Count(ctx context.Context) (int, error) {
	cmd := s.client.B().Arbitrary("FT.SEARCH").Args(s.cfg.Collection, "*", "LIMIT", "0", "0").Build()
	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("parse count: %w", err)
	}
	return int(total), nil
}

// Scroll enumerates points by scanning collection keys. The cursor is
// the SCAN cursor; "" starts and "" ends the iteration.
func (s *Store) Scroll(ctx context.Context, batchSize int, cursor string) ([]domain.Point, string, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	var scanCursor uint64
	if cursor != "" {
		var err error
		if scanCursor, err = strconv.ParseUint(cursor, 10, 64); err != nil {
			return nil, "", fmt.Errorf("invalid scroll cursor %q: %w", cursor, err)
		}
	}

	cmd := s.client.B().Scan().Cursor(scanCursor).
		Match(s.cfg.Collection + ":*").
		Count(int64(batchSize)).
		Build()
	entry, err := s.client.Do(ctx, cmd).AsScanEntry()
	if err != nil {
		return nil, "", fmt.Errorf("scan: %w", err)
	}

	points := make([]domain.Point, 0, len(entry.Elements))
	if len(entry.Elements) > 0 {
		cmds := make([]rueidis.Completed, len(entry.Elements))
		for i, key := range entry.Elements {
			cmds[i] = s.client.B().Hgetall().Key(key).Build()
		}

		results := s.client.DoMulti(ctx, cmds...)
		for i, res := range results {
			fields, err := res.AsStrMap()
			if err != nil {
				return nil, "", fmt.Errorf("hgetall %s: %w", entry.Elements[i], err)
			}
			if len(fields) == 0 {
				continue // key expired between SCAN and HGETALL
			}
			points = append(points, s.pointFromHash(entry.Elements[i], fields))
		}
	}

	next := ""
	if entry.Cursor != 0 {
		next = strconv.FormatUint(entry.Cursor, 10)
	}
	return points, next, nil
}

func (s *Store) key(id string) string {
	return s.cfg.Collection + ":" + id
}

func (s *Store) pointFromHash(key string, fields map[string]string) domain.Point {
	id := key
	if len(key) > len(s.cfg.Collection)+1 {
		id = key[len(s.cfg.Collection)+1:]
	}

	var metadata map[string]any
	if raw := fields["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			s.logger.Warn("undecodable metadata", zap.String("key", key), zap.Error(err))
		}
	}

	return domain.Point{
		ID:     id,
		Vector: bytesToVector(fields["vector"]),
		Payload: domain.Payload{
			Text:      fields["text"],
			Language:  fields["language"],
			Metadata:  metadata,
			Timestamp: fields["timestamp"],
		},
	}
}

// isRedisErr checks if err is a Redis server error containing substr (case-insensitive).
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return containsIgnoreCase(re.Error(), substr)
}

func containsIgnoreCase(s, substr string) bool {
	ls := len(s)
	lsub := len(substr)
	if lsub > ls {
		return false
	}
	for i := 0; i <= ls-lsub; i++ {
		match := true
		for j := 0; j < lsub; j++ {
			sc := s[i+j]
			tc := substr[j]
			if sc >= 'A' && sc <= 'Z' {
				sc += 'a' - 'A'
			}
			if tc >= 'A' && tc <= 'Z' {
				tc += 'a' - 'A'
			}
			if sc != tc {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func bytesToVector(s string) []float32 {
	if len(s) < 4 {
		return nil
	}
	v := make([]float32, len(s)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32([]byte(s[i*4 : i*4+4])))
	}
	return v
}
