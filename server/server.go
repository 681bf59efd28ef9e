// Package server exposes ingestion, retrieval and extraction over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/poiesic/contractor/core"
	"github.com/poiesic/contractor/extraction"
	"github.com/poiesic/contractor/ingestion"
	"github.com/poiesic/contractor/storage"
)

const (
	maxBodyBytes    = 10 << 20
	shutdownTimeout = 15 * time.Second
)

// Ingester is the subset of *ingestion.Orchestrator the server uses.
type Ingester interface {
	Ingest(ctx context.Context, doc *core.Document) (*ingestion.Outcome, error)
	IngestBatch(ctx context.Context, docs []*core.Document, progress ingestion.ProgressFunc) (*ingestion.BatchResult, error)
	Delete(ctx context.Context, id core.DocumentID) (int, error)
	List(ctx context.Context) ([]*core.DocumentRecord, error)
	Reset(ctx context.Context) error
}

// Querier answers similarity queries. *retrieval.Retriever implements it.
type Querier interface {
	Query(ctx context.Context, q core.Query) (*core.RetrievalResult, error)
}

// Extractor pulls contract fields out of text. *extraction.Extractor implements it.
type Extractor interface {
	Extract(ctx context.Context, text string, useRAG bool) (*extraction.Result, error)
}

// IndexStatter reports vector index statistics.
type IndexStatter interface {
	Stats(ctx context.Context) (storage.IndexStats, error)
}

// SourceFunc loads the documents used by the populate endpoint.
type SourceFunc func(ctx context.Context) ([]*core.Document, error)

// Server routes HTTP requests to the service components.
type Server struct {
	ingester  Ingester
	querier   Querier
	index     IndexStatter
	extractor Extractor
	source    SourceFunc
	provider  string
	logger    *slog.Logger
	mux       *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithExtractor enables POST /extract.
func WithExtractor(e Extractor) Option {
	return func(s *Server) {
		s.extractor = e
	}
}

// WithSource enables POST /admin/populate-database.
func WithSource(fn SourceFunc) Option {
	return func(s *Server) {
		s.source = fn
	}
}

// WithProviderName sets the provider reported by /health.
func WithProviderName(name string) Option {
	return func(s *Server) {
		s.provider = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a Server.
func New(ingester Ingester, querier Querier, index IndexStatter, opts ...Option) (*Server, error) {
	if ingester == nil || querier == nil || index == nil {
		return nil, fmt.Errorf("%w: ingester, querier and index are required", core.ErrConfiguration)
	}
	s := &Server{
		ingester: ingester,
		querier:  querier,
		index:    index,
		logger:   slog.Default(),
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /ingest", s.handleIngest)
	s.mux.HandleFunc("POST /query", s.handleQuery)
	s.mux.HandleFunc("POST /extract", s.handleExtract)
	s.mux.HandleFunc("POST /admin/populate-database", s.handlePopulate)
	s.mux.HandleFunc("DELETE /documents/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /system/db-status", s.handleDBStatus)
}

type ctxKey struct{}

// ServeHTTP tags each request with an id and logs its outcome.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", id)
	logger := s.logger.With("request_id", id)
	r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, logger))

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	s.mux.ServeHTTP(rec, r)
	logger.Info("request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"elapsed", time.Since(start))
}

func (s *Server) log(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return s.logger
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
