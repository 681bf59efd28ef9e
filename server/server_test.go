package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/poiesic/contractor/ai"
	"github.com/poiesic/contractor/ai/mock"
	"github.com/poiesic/contractor/chunker"
	"github.com/poiesic/contractor/core"
	"github.com/poiesic/contractor/extraction"
	"github.com/poiesic/contractor/ingestion"
	"github.com/poiesic/contractor/retrieval"
	"github.com/poiesic/contractor/storage"
	"github.com/poiesic/contractor/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rentClause   = "The tenant shall pay rent of PHP 6,500 on the first day of each month."
	noticeClause = "Either party may terminate this lease with thirty days written notice."
)

type harness struct {
	srv       *Server
	orch      *ingestion.Orchestrator
	index     *storage.Index
	embedder  *mock.MockEmbedder
	generator *mock.MockGenerator
}

type harnessConfig struct {
	ingestOpts []ingestion.Option
	serverOpts []Option
	noExtract  bool
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	index, docs, backend, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	embedder := mock.NewMockEmbedder()
	c, err := chunker.New(chunker.WithMaxTokens(16), chunker.WithOverlapTokens(4))
	require.NoError(t, err)
	opts := append([]ingestion.Option{
		ingestion.WithChunker(c),
		ingestion.WithRetryPolicy(ai.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}),
		ingestion.WithPoolSize(2),
	}, cfg.ingestOpts...)
	orch, err := ingestion.NewOrchestrator(index, docs, embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(orch.Release)

	retriever, err := retrieval.NewRetriever(index, embedder)
	require.NoError(t, err)

	generator := &mock.MockGenerator{Reply: `{"agreement_value": "6,500", "party_one": "Maria Santos", "party_two": null}`}
	serverOpts := []Option{WithProviderName("mock")}
	if !cfg.noExtract {
		extractor, err := extraction.NewExtractor(generator, extraction.WithSearcher(retriever))
		require.NoError(t, err)
		serverOpts = append(serverOpts, WithExtractor(extractor))
	}
	srv, err := New(orch, retriever, index, append(serverOpts, cfg.serverOpts...)...)
	require.NoError(t, err)

	return &harness{srv: srv, orch: orch, index: index, embedder: embedder, generator: generator}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func (h *harness) ingest(t *testing.T, id, text string) map[string]any {
	t.Helper()
	rec, out := h.do(t, http.MethodPost, "/ingest", map[string]string{"document_id": id, "text": text, "source": id + ".txt"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return out
}

func TestNew_RequiresComponents(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	rec, out := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, "ok", out["index"])
	assert.Equal(t, "mock", out["provider"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestRequestID_Propagated(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	rec, _ := h.do(t, http.MethodGet, "/ingest", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIngestAndQuery(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	out := h.ingest(t, "lease", rentClause)
	assert.Equal(t, "lease", out["document_id"])
	assert.Equal(t, "created", out["status"])
	assert.Equal(t, float64(1), out["generation"])
	assert.Equal(t, float64(1), out["chunks"])
	h.ingest(t, "notice", noticeClause)

	out = h.ingest(t, "lease", rentClause)
	assert.Equal(t, "unchanged", out["status"])

	rec, out := h.do(t, http.MethodPost, "/query", map[string]any{"text": rentClause, "top_k": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, rentClause, out["query_echo"])
	results := out["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "lease", first["document_id"])
	assert.Equal(t, rentClause, first["text"])
	assert.Equal(t, "lease.txt", first["source"])
	assert.InDelta(t, 1.0, first["score"], 1e-4)
}

func TestIngest_DerivesID(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	_, out := h.do(t, http.MethodPost, "/ingest", map[string]string{"text": rentClause, "source": "leases/a.txt"})
	assert.Equal(t, "leases_a.txt", out["document_id"])

	_, out = h.do(t, http.MethodPost, "/ingest", map[string]string{"text": noticeClause})
	assert.Equal(t, string(core.IDFromContent(noticeClause)), out["document_id"])
}

func TestIngest_Errors(t *testing.T) {
	h := newHarness(t, harnessConfig{ingestOpts: []ingestion.Option{ingestion.WithReingestPolicy(ingestion.ReingestReject)}})

	rec, _ := h.do(t, http.MethodPost, "/ingest", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/ingest", map[string]string{"text": "x", "colour": "blue"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec, out := h.do(t, http.MethodPost, "/ingest", map[string]string{"document_id": "blank", "text": "  \n "})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, out["request_id"])

	h.ingest(t, "lease", rentClause)
	rec, _ = h.do(t, http.MethodPost, "/ingest", map[string]string{"document_id": "lease", "text": noticeClause})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIngest_ProviderFailure(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, fmt.Errorf("%w: upstream down", core.ErrEmbeddingProvider)
	}
	rec, _ := h.do(t, http.MethodPost, "/ingest", map[string]string{"document_id": "lease", "text": rentClause})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQuery_EmptyAndNoMatch(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	rec, out := h.do(t, http.MethodPost, "/query", map[string]any{"text": "rent"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "empty_index", out["reason"])
	assert.Empty(t, out["results"])
	assert.Equal(t, "rent", out["query_echo"])

	h.ingest(t, "lease", rentClause)
	rec, out = h.do(t, http.MethodPost, "/query", map[string]any{
		"text":    "rent",
		"filters": map[string]any{"document_ids": []string{"other"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no_match", out["reason"])

	rec, _ = h.do(t, http.MethodPost, "/query", map[string]any{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDelete(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.ingest(t, "lease", rentClause)

	rec, out := h.do(t, http.MethodDelete, "/documents/lease", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deleted", out["status"])
	assert.Equal(t, float64(1), out["chunks"])

	rec, _ = h.do(t, http.MethodDelete, "/documents/lease", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExtract(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.ingest(t, "lease", rentClause)

	rec, out := h.do(t, http.MethodPost, "/extract", map[string]any{"contract_text": rentClause})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, out["rag_enabled"])
	data := out["extracted_data"].(map[string]any)
	assert.Equal(t, float64(6500), data["agreement_value"])
	assert.Equal(t, "Maria Santos", data["party_one"])
	assert.Nil(t, data["party_two"])
	assert.Contains(t, h.generator.Prompts()[0], "Example 1 (Source: lease.txt")

	rec, out = h.do(t, http.MethodPost, "/extract", map[string]any{"contract_text": rentClause, "use_rag": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["rag_enabled"])

	rec, _ = h.do(t, http.MethodPost, "/extract", map[string]any{"contract_text": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtract_NotConfigured(t *testing.T) {
	h := newHarness(t, harnessConfig{noExtract: true})
	rec, _ := h.do(t, http.MethodPost, "/extract", map[string]any{"contract_text": rentClause})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPopulate(t *testing.T) {
	var loads int
	source := func(context.Context) ([]*core.Document, error) {
		loads++
		return []*core.Document{
			{ID: "doc_0_lease", Text: rentClause},
			{ID: "doc_1_notice", Text: noticeClause},
			{ID: "doc_2_blank", Text: " "},
		}, nil
	}
	h := newHarness(t, harnessConfig{serverOpts: []Option{WithSource(source)}})

	rec, out := h.do(t, http.MethodPost, "/admin/populate-database", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, float64(2), out["ingested"])
	assert.Equal(t, float64(1), out["failed"])
	assert.Equal(t, float64(2), out["total_entries"])

	_, out = h.do(t, http.MethodPost, "/admin/populate-database", map[string]any{})
	assert.Equal(t, "skipped", out["status"])
	assert.Equal(t, 1, loads)

	_, out = h.do(t, http.MethodPost, "/admin/populate-database", map[string]any{"force_repopulate": true})
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, float64(2), out["total_entries"])
	assert.Equal(t, 2, loads)
}

func TestPopulate_NoSource(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	rec, _ := h.do(t, http.MethodPost, "/admin/populate-database", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDBStatus(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.ingest(t, "lease", rentClause)
	h.do(t, http.MethodPost, "/ingest", map[string]string{"document_id": "blank", "text": " "})

	rec, out := h.do(t, http.MethodGet, "/system/db-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "badger", out["backend"])
	assert.Equal(t, "cosine", out["metric"])
	assert.Equal(t, float64(mock.DefaultDimension), out["dimension"])
	assert.Equal(t, float64(1), out["live"])
	assert.Equal(t, float64(2), out["documents"])
	states := out["states"].(map[string]any)
	assert.Equal(t, float64(1), states["indexed"])
	assert.Equal(t, float64(1), states["failed"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: eof", errBadRequest), http.StatusBadRequest},
		{core.ErrInvalidQuery, http.StatusBadRequest},
		{extraction.ErrTextTooShort, http.StatusBadRequest},
		{&core.DocumentError{ID: "x", Stage: "validate", Err: fmt.Errorf("%w: %w", core.ErrMalformedDocument, core.ErrEmptyContent)}, http.StatusUnprocessableEntity},
		{ingestion.ErrDocumentExists, http.StatusConflict},
		{ingestion.ErrIngestionInProgress, http.StatusConflict},
		{ingestion.ErrResetInProgress, http.StatusConflict},
		{storage.ErrNotFound, http.StatusNotFound},
		{core.ErrEmbeddingProvider, http.StatusServiceUnavailable},
		{core.ErrIndexUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestRun_Shutdown(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.srv.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
