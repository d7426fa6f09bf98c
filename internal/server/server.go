// Package server exposes the ingestion and retrieval core over HTTP/JSON.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"document-qna/internal/extract"
	"document-qna/internal/helper"
	"document-qna/internal/ingest"
	"document-qna/internal/models"
	"document-qna/internal/rag"
	"document-qna/internal/store"
)

const maxUploadBytes = 64 << 20

type Server struct {
	store  store.VectorStore
	runner *ingest.Runner
	rag    *rag.RAG
}

func New(st store.VectorStore, runner *ingest.Runner, r *rag.RAG) *Server {
	return &Server{store: st, runner: runner, rag: r}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /documents", s.handleUpload)
	mux.HandleFunc("GET /documents/{id}/status", s.handleStatus)
	mux.HandleFunc("POST /documents/{id}/reprocess", s.handleReprocess)
	mux.HandleFunc("POST /documents/{id}/ask", s.handleAsk)
	mux.HandleFunc("POST /documents/{id}/similar", s.handleSimilar)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDelete)
	return mux
}

func (s *Server) ListenAndServe(addr string) error {
	log.Info().Str("addr", addr).Msg("http server listening")
	return http.ListenAndServe(addr, s.Handler())
}

// handleUpload extracts text from the uploaded file, creates the document, and
// kicks off background ingestion. The response does not wait for the pipeline.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file upload")
		return
	}
	defer file.Close()

	extractor, err := extract.ForFile(header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "saving upload")
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		writeError(w, http.StatusInternalServerError, "saving upload")
		return
	}
	tmp.Close()

	text, err := extractor.Extract(tmp.Name())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "text extraction failed: "+err.Error())
		return
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generating document id")
		return
	}
	doc := &models.Document{
		ID:      id,
		Name:    header.Filename,
		Content: text,
		Status:  models.StatusReceived,
	}
	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		writeError(w, http.StatusInternalServerError, "creating document")
		return
	}
	if err := s.runner.Begin(id, text, false); err != nil {
		writeIngestError(w, err)
		return
	}

	log.Info().Str("document_id", id).Str("name", header.Filename).Msg("document accepted")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"document_id": id,
		"name":        header.Filename,
		"status":      models.StatusReceived,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, cause, err := s.runner.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	resp := map[string]any{"status": status}
	if cause != "" {
		resp["cause"] = cause
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := s.store.Document(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.runner.Begin(id, doc.Content, true); err != nil {
		writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"document_id": id, "status": models.StatusReceived})
}

type questionRequest struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, retrieved, err := s.rag.Answer(r.Context(), r.PathValue("id"), req.Question)
	if err != nil {
		writeRetrievalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"answer":  answer,
		"context": matchesJSON(retrieved.Matches),
	})
}

// handleSimilar runs the same ranking as ask without the inference call.
func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	matches, err := s.rag.FindSimilar(r.Context(), r.PathValue("id"), req.Question, req.K)
	if err != nil {
		writeRetrievalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matchesJSON(matches)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func matchesJSON(matches []models.ChunkMatch) []map[string]any {
	out := make([]map[string]any, len(matches))
	for i, m := range matches {
		out[i] = map[string]any{
			"chunk_id": m.ChunkID,
			"ordinal":  m.Ordinal,
			"content":  m.Content,
			"distance": m.Distance,
		}
	}
	return out
}

// writeRetrievalError keeps the "no context" case distinguishable from store
// failures: the caller may want to fall back to an unscoped answer.
func writeRetrievalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rag.ErrEmptyContext):
		writeError(w, http.StatusNotFound, "no context available for document")
	case errors.Is(err, store.ErrEncoderVersionMismatch):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "document not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeIngestError maps Begin failures: a duplicate run is the caller's
// conflict, a saturated or stopped runner is the server's unavailability.
func writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrIngestionInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ingest.ErrQueueFull), errors.Is(err, ingest.ErrRunnerClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
