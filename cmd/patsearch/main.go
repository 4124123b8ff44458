package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/patsearch/internal/cache"
	"github.com/kailas-cloud/patsearch/internal/config"
	"github.com/kailas-cloud/patsearch/internal/domain"
	"github.com/kailas-cloud/patsearch/internal/langdetect"
	logpkg "github.com/kailas-cloud/patsearch/internal/logger"
	"github.com/kailas-cloud/patsearch/internal/metrics"
	"github.com/kailas-cloud/patsearch/internal/pipeline"
	"github.com/kailas-cloud/patsearch/internal/snapshot"
	memstore "github.com/kailas-cloud/patsearch/internal/store/memory"
	redisstore "github.com/kailas-cloud/patsearch/internal/store/redis"
	chiTransport "github.com/kailas-cloud/patsearch/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/patsearch/internal/transport/openai"
	ingestuc "github.com/kailas-cloud/patsearch/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/patsearch/internal/usecase/search"
	"github.com/kailas-cloud/patsearch/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting patsearch API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("index_driver", cfg.Index.Driver),
	)

	ctx := context.Background()

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterSearchMetrics()

	// Vector store driver
	var (
		store     domain.VectorStore
		snapshots *snapshot.Manager
	)
	switch cfg.Index.Driver {
	case "memory":
		store = memstore.NewStore(memstore.Config{
			Dimensions: cfg.Index.Dimensions,
			M:          cfg.Index.HNSWM,
			EfSearch:   cfg.Index.HNSWEFSearch,
			Logger:     logger,
		})
		if cfg.Index.SnapshotDir != "" {
			snapshots = snapshot.NewManager(cfg.Index.SnapshotDir, cfg.Index.Collection, cfg.Index.Dimensions, logger)
		}
	case "redis":
		rs, err := redisstore.NewStore(cfg.Database.Addrs, redisstore.Config{
			Username:    cfg.Database.Username,
			Password:    cfg.Database.Password,
			Collection:  cfg.Index.Collection,
			Dimensions:  cfg.Index.Dimensions,
			M:           cfg.Index.HNSWM,
			EFConstruct: cfg.Index.HNSWEFConstruct,
			Logger:      logger,
		})
		if err != nil {
			logger.Fatal("Failed to create redis store", zap.Error(err))
		}
		defer rs.Close()

		readiness := time.Duration(cfg.Database.ReadinessTimeout) * time.Second
		if err := rs.WaitForReady(ctx, readiness); err != nil {
			logger.Fatal("Database not ready", zap.Error(err))
		}
		if err := rs.EnsureIndex(ctx); err != nil {
			logger.Fatal("Failed to ensure index", zap.Error(err))
		}
		logger.Info("Connected to redis")
		store = rs
	default:
		logger.Fatal("Unknown index driver", zap.String("driver", cfg.Index.Driver))
	}

	// Embedding provider
	embedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Index.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Index.Dimensions),
	)

	// Language detection models are heavy; built once here.
	detector := langdetect.NewDetector()

	proc, err := pipeline.New(embedder, detector, pipeline.Options{
		MinTextLength: cfg.Processing.MinTextLength,
		CacheSize:     cfg.Embedding.CacheSize,
		BatchSize:     cfg.Embedding.BatchSize,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create pipeline", zap.Error(err))
	}

	records := cache.NewManager(
		cfg.Processing.CachePath,
		cfg.Index.Dimensions,
		cfg.Processing.UseCache,
		cfg.Processing.ForceReprocess,
		logger,
	)

	ingestSvc := ingestuc.New(proc, records, store, logger)
	searchSvc := searchuc.New(embedder, store, logger,
		searchuc.WithKeywordBonus(cfg.Search.KeywordBonus),
		searchuc.WithQueryTimeout(time.Duration(cfg.Search.QueryTimeoutSec)*time.Second),
	)

	// Restore the embedded index from a snapshot, else process the data file.
	restored := false
	if snapshots != nil && snapshots.Exists() {
		n, err := snapshots.Load(ctx, store)
		if err != nil {
			logger.Warn("Snapshot restore failed, falling back to data file", zap.Error(err))
		} else {
			logger.Info("Index restored from snapshot", zap.Int("points", n))
			restored = true
		}
	}
	if !restored && cfg.Processing.DataPath != "" {
		n, err := ingestSvc.InitializeWithData(ctx, cfg.Processing.DataPath)
		if err != nil {
			logger.Fatal("Failed to initialize corpus", zap.Error(err))
		}
		logger.Info("Corpus indexed", zap.Int("records", n))
		if snapshots != nil {
			if err := snapshots.Save(ctx, store); err != nil {
				logger.Warn("Snapshot save failed", zap.Error(err))
			}
		}
	}

	server := chiTransport.NewServer(searchSvc, ingestSvc, embedder, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	if snapshots != nil {
		if err := snapshots.Save(context.Background(), store); err != nil {
			logger.Error("Snapshot save on shutdown failed", zap.Error(err))
		}
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
