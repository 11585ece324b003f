package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fluxkit/wabot/internal/models"
	"github.com/fluxkit/wabot/internal/rag"
)

// knowledgeHandler routes /api/knowledge. The knowledge base requires
// Postgres with pgvector; on other backends every endpoint reports that
// clearly instead of failing deeper in the stack.
func (s *Server) knowledgeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if s.knowledge == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Knowledge base requires a Postgres database with pgvector"))
		return
	}
	segments := pathSegments(r, "/api/knowledge")
	if len(segments) == 0 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown knowledge endpoint"))
		return
	}

	switch segments[0] {
	case "documents":
		if len(segments) == 1 {
			switch r.Method {
			case http.MethodGet:
				limit, offset := pagination(r)
				docs, err := s.knowledge.ListDocuments(r.Context(), limit, offset)
				if err != nil {
					slog.Error("Server.knowledgeHandler: list failed", "error", err)
					writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch documents"))
					return
				}
				writeJSONResponse(w, http.StatusOK, models.Success(docs))
			case http.MethodPost:
				s.upsertKnowledgeDocumentHandler(w, r)
			default:
				methodNotAllowed(w, "GET, POST")
			}
			return
		}
		if len(segments) == 2 {
			if r.Method != http.MethodDelete {
				methodNotAllowed(w, http.MethodDelete)
				return
			}
			if err := s.knowledge.DeleteDocument(r.Context(), segments[1]); err != nil {
				slog.Warn("Server.knowledgeHandler: delete failed", "id", segments[1], "error", err)
				writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
				return
			}
			writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Document deleted", nil))
			return
		}
	case "search":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.searchKnowledgeHandler(w, r)
		return
	case "stats":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		stats, err := s.knowledge.Stats(r.Context())
		if err != nil {
			slog.Error("Server.knowledgeHandler: stats failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute knowledge stats"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(stats))
		return
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown knowledge endpoint"))
}

func (s *Server) upsertKnowledgeDocumentHandler(w http.ResponseWriter, r *http.Request) {
	var doc models.KnowledgeDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.knowledge.UpsertDocument(r.Context(), &doc); err != nil {
		if errors.Is(err, models.ErrEmptyBody) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.upsertKnowledgeDocumentHandler: upsert failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store document"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Document stored", doc))
}

func (s *Server) searchKnowledgeHandler(w http.ResponseWriter, r *http.Request) {
	var req models.KnowledgeSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if req.Limit <= 0 {
		req.Limit = rag.DefaultSearchLimit
	}
	if req.Threshold <= 0 {
		req.Threshold = rag.DefaultSimilarityThreshold
	}

	results, err := s.knowledge.Search(r.Context(), req.Query, req.Limit, req.Threshold)
	if err != nil {
		slog.Error("Server.searchKnowledgeHandler: search failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to search knowledge base"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(results))
}
