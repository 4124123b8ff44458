// Package chi exposes the search and ingest usecases over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/patsearch/internal/domain"
	"github.com/kailas-cloud/patsearch/internal/usecase/ingest"
)

// Searcher runs aggregated multi-keyword searches.
type Searcher interface {
	Search(ctx context.Context, req domain.SearchRequest) (domain.SearchResponse, error)
}

// Ingestor adds texts to the index and reports corpus stats.
type Ingestor interface {
	AddTexts(ctx context.Context, texts []string, metadatas []map[string]any) (int, error)
	Stats(ctx context.Context) (ingest.Stats, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server holds the HTTP handlers for the public API.
type Server struct {
	search        Searcher
	ingest        Ingestor
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(search Searcher, ingestor Ingestor, health HealthChecker, logger *zap.Logger) *Server {
	s := &Server{
		search: search,
		ingest: ingestor,
		health: health,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrEmptyKeywords, http.StatusBadRequest, "validation_failed"),
		sentinelHandler(domain.ErrThresholdOutOfRange, http.StatusBadRequest, "validation_failed"),
		sentinelHandler(domain.ErrInvalidMaxResults, http.StatusBadRequest, "validation_failed"),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, "vector_dim_mismatch"),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, "embedding_provider_error"),
		sentinelHandler(domain.ErrSearchUnavailable, http.StatusBadGateway, "search_unavailable"),
	}
	return s
}

// Routes registers all endpoints on the router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/api/search", s.SearchPatents)
	r.Post("/api/patents/add", s.AddPatents)
	r.Get("/api/stats", s.GetStats)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// searchRequestDTO is the POST /api/search body.
type searchRequestDTO struct {
	Keywords   []string `json:"keywords"`
	Threshold  *float64 `json:"threshold"`
	MaxResults *int     `json:"max_results"`
	Language   string   `json:"language"`
}

// SearchPatents handles POST /api/search.
func (s *Server) SearchPatents(w http.ResponseWriter, r *http.Request) {
	var dto searchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	threshold := domain.DefaultThreshold
	if dto.Threshold != nil {
		threshold = *dto.Threshold
	}
	maxResults := domain.DefaultMaxResults
	if dto.MaxResults != nil {
		maxResults = *dto.MaxResults
	}

	req, err := domain.NewSearchRequest(dto.Keywords, threshold, maxResults, dto.Language)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	resp, err := s.search.Search(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	if resp.Results == nil {
		resp.Results = []domain.MergedResult{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// addPatentsDTO is the POST /api/patents/add body.
type addPatentsDTO struct {
	Patents []struct {
		Text     string         `json:"text"`
		Metadata map[string]any `json:"metadata"`
	} `json:"patents"`
}

// AddPatents handles POST /api/patents/add.
func (s *Server) AddPatents(w http.ResponseWriter, r *http.Request) {
	var dto addPatentsDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if len(dto.Patents) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "patents list cannot be empty")
		return
	}

	texts := make([]string, len(dto.Patents))
	metadatas := make([]map[string]any, len(dto.Patents))
	for i, p := range dto.Patents {
		texts[i] = p.Text
		metadatas[i] = p.Metadata
	}

	n, err := s.ingest.AddTexts(r.Context(), texts, metadatas)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"processed": n,
		"received":  len(dto.Patents),
	})
}

// GetStats handles GET /api/stats.
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ingest.Stats(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_patents": stats.TotalDocuments,
		"languages":     stats.Languages,
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK
	checks := map[string]string{"embedding_provider": "ok"}

	if s.health != nil {
		if err := s.health.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			checks["embedding_provider"] = "unavailable"
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrEmptyKeywords,
		domain.ErrThresholdOutOfRange,
		domain.ErrInvalidMaxResults,
		domain.ErrVectorDimMismatch,
		domain.ErrEmbeddingProviderError,
		domain.ErrSearchUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
