package handler

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"vectorkeep/internal/embedding"
	"vectorkeep/internal/engine"
	"vectorkeep/internal/index"
	"vectorkeep/internal/store"
)

// HandleQuery answers similarity queries over the ingested documents.
// POST /api/query with {"text": ..., "document_id": optional scope, "top_k": optional}.
func HandleQuery(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req struct {
			Text       string `json:"text"`
			DocumentID string `json:"document_id"`
			TopK       int    `json:"top_k"`
		}
		if err := ReadJSONBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			WriteError(w, http.StatusBadRequest, "missing query text")
			return
		}
		k := req.TopK
		if k <= 0 {
			k = app.configManager.Get().Search.TopK
		}

		results, err := app.store.Query(r.Context(), req.Text, engine.Scope{DocumentID: req.DocumentID}, k)
		if err != nil {
			switch {
			case errors.Is(err, engine.ErrNoResults), errors.Is(err, index.ErrEmptyIndex):
				WriteError(w, http.StatusNotFound, err.Error())
			case errors.Is(err, embedding.ErrEmbedding), errors.Is(err, embedding.ErrTimeout):
				log.Printf("[Query] embedding failure: %v", err)
				WriteError(w, http.StatusBadGateway, "embedding provider unavailable")
			case errors.Is(err, store.ErrClosed):
				WriteError(w, http.StatusServiceUnavailable, "store is shutting down")
			default:
				log.Printf("[Query] error: %v", err)
				WriteError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}

		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"results": results,
			"count":   len(results),
		})
	}
}
