package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/poiesic/contractor/core"
	"github.com/poiesic/contractor/extraction"
	"github.com/poiesic/contractor/loader"
)

type ingestRequest struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	Source     string `json:"source"`
}

type ingestResponse struct {
	DocumentID core.DocumentID `json:"document_id"`
	Status     string          `json:"status"`
	Generation int             `json:"generation"`
	Chunks     int             `json:"chunks"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	text := loader.Normalize(req.Text)
	id := core.DocumentID(strings.TrimSpace(req.DocumentID))
	switch {
	case id != "":
	case req.Source != "":
		id = core.IDFromSource(req.Source)
	default:
		id = core.IDFromContent(text)
	}

	out, err := s.ingester.Ingest(r.Context(), &core.Document{
		ID:       id,
		Text:     text,
		Metadata: core.Metadata{Source: req.Source},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		DocumentID: out.DocumentID,
		Status:     string(out.Status),
		Generation: out.Generation,
		Chunks:     len(out.ChunkIDs),
	})
}

type queryRequest struct {
	Text    string `json:"text"`
	TopK    int    `json:"top_k"`
	Filters *struct {
		DocumentIDs []core.DocumentID `json:"document_ids"`
	} `json:"filters"`
	MinScore  float32 `json:"min_score"`
	Neighbors int     `json:"neighbors"`
}

type contextChunk struct {
	ChunkID core.ChunkID `json:"chunk_id"`
	Seq     int          `json:"seq"`
	Text    string       `json:"text"`
}

type queryResult struct {
	ChunkID    core.ChunkID    `json:"chunk_id"`
	DocumentID core.DocumentID `json:"document_id"`
	Text       string          `json:"text"`
	Score      float32         `json:"score"`
	Distance   float32         `json:"distance"`
	Source     string          `json:"source,omitempty"`
	Context    []contextChunk  `json:"context,omitempty"`
}

type queryResponse struct {
	Results   []queryResult `json:"results"`
	QueryEcho string        `json:"query_echo"`
	Reason    string        `json:"reason,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	q := core.Query{
		Text:      req.Text,
		TopK:      req.TopK,
		MinScore:  req.MinScore,
		Neighbors: req.Neighbors,
	}
	if req.Filters != nil {
		q.Filter.DocumentIDs = req.Filters.DocumentIDs
	}

	res, err := s.querier.Query(r.Context(), q)
	switch {
	case errors.Is(err, core.ErrEmptyIndex):
		writeJSON(w, http.StatusOK, queryResponse{Results: []queryResult{}, QueryEcho: req.Text, Reason: "empty_index"})
		return
	case errors.Is(err, core.ErrNoMatch):
		writeJSON(w, http.StatusOK, queryResponse{Results: []queryResult{}, QueryEcho: req.Text, Reason: "no_match"})
		return
	case err != nil:
		s.writeError(w, r, err)
		return
	}

	out := queryResponse{Results: make([]queryResult, 0, len(res.Results)), QueryEcho: res.QueryEcho}
	for _, hit := range res.Results {
		qr := queryResult{
			ChunkID:    hit.Chunk.ID,
			DocumentID: hit.Chunk.DocumentID,
			Text:       hit.Chunk.Text,
			Score:      hit.Score,
			Distance:   hit.Distance,
			Source:     hit.Source,
		}
		for _, c := range hit.Context {
			qr.Context = append(qr.Context, contextChunk{ChunkID: c.ID, Seq: c.Seq, Text: c.Text})
		}
		out.Results = append(out.Results, qr)
	}
	writeJSON(w, http.StatusOK, out)
}

type extractRequest struct {
	ContractText string `json:"contract_text"`
	UseRAG       *bool  `json:"use_rag"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.extractor == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "extraction is not configured"})
		return
	}
	var req extractRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	useRAG := req.UseRAG == nil || *req.UseRAG

	res, err := s.extractor.Extract(r.Context(), req.ContractText, useRAG)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type populateRequest struct {
	ForceRepopulate bool `json:"force_repopulate"`
}

type populateFailure struct {
	DocumentID core.DocumentID `json:"document_id"`
	Error      string          `json:"error"`
}

type populateResponse struct {
	Status       string            `json:"status"`
	Ingested     int               `json:"ingested"`
	Failed       int               `json:"failed"`
	TotalEntries int               `json:"total_entries"`
	Failures     []populateFailure `json:"failures,omitempty"`
}

func (s *Server) handlePopulate(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no document source configured"})
		return
	}
	var req populateRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	logger := s.log(r)

	stats, err := s.index.Stats(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if stats.Live > 0 && !req.ForceRepopulate {
		logger.Info("index already populated, skipping", "live", stats.Live)
		writeJSON(w, http.StatusOK, populateResponse{Status: "skipped", TotalEntries: stats.Live})
		return
	}
	if req.ForceRepopulate {
		logger.Warn("force repopulate, resetting index")
		if err := s.ingester.Reset(ctx); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	docs, err := s.source(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	batch, err := s.ingester.IngestBatch(ctx, docs, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if stats, err = s.index.Stats(ctx); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := populateResponse{
		Status:       "completed",
		Ingested:     len(batch.Outcomes),
		Failed:       len(batch.Failures),
		TotalEntries: stats.Live,
	}
	for _, f := range batch.Failures {
		resp.Failures = append(resp.Failures, populateFailure{DocumentID: f.DocumentID, Error: f.Err.Error()})
	}
	logger.Info("populate complete", "ingested", resp.Ingested, "failed", resp.Failed, "live", resp.TotalEntries)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := core.DocumentID(r.PathValue("id"))
	n, err := s.ingester.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": id,
		"status":      "deleted",
		"chunks":      n,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, index := "healthy", "ok"
	code := http.StatusOK
	if _, err := s.index.Stats(r.Context()); err != nil {
		status, index = "degraded", err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":   status,
		"index":    index,
		"provider": s.provider,
	})
}

type dbStatusResponse struct {
	Status    string                     `json:"status"`
	Backend   string                     `json:"backend"`
	Metric    core.Metric                `json:"metric"`
	Mode      core.SearchMode            `json:"mode"`
	Dimension int                        `json:"dimension"`
	Count     int                        `json:"count"`
	Live      int                        `json:"live"`
	Documents int                        `json:"documents"`
	States    map[core.DocumentState]int `json:"states"`
}

func (s *Server) handleDBStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.index.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.ingester.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	states := make(map[core.DocumentState]int)
	for _, rec := range records {
		states[rec.State]++
	}
	writeJSON(w, http.StatusOK, dbStatusResponse{
		Status:    "ok",
		Backend:   stats.Backend,
		Metric:    stats.Metric,
		Mode:      stats.Mode,
		Dimension: stats.Dimension,
		Count:     stats.Entries,
		Live:      stats.Live,
		Documents: len(records),
		States:    states,
	})
}

var _ Extractor = (*extraction.Extractor)(nil)
