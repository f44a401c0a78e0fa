package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"vectorkeep/internal/embedding"
	"vectorkeep/internal/registry"
	"vectorkeep/internal/store"
)

// HandleDocuments handles GET (list all) and POST (ingest) for documents.
func HandleDocuments(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			docs := app.store.Documents()
			if docs == nil {
				docs = []registry.DocumentRecord{}
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})

		case http.MethodPost:
			var req struct {
				Filename    string        `json:"filename"`
				Text        string        `json:"text,omitempty"`
				DocumentID  string        `json:"document_id,omitempty"`
				ContentHash string        `json:"content_hash,omitempty"`
				Chunks      []store.Chunk `json:"chunks,omitempty"`
			}
			if err := ReadJSONBody(r, &req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if req.DocumentID != "" && !IsValidDocumentID(req.DocumentID) {
				WriteError(w, http.StatusBadRequest, "invalid document_id")
				return
			}

			var (
				doc     registry.DocumentRecord
				present bool
				err     error
			)
			switch {
			case len(req.Chunks) > 0:
				doc, present, err = app.store.Ingest(r.Context(), store.IngestRequest{
					DocumentIDHint: req.DocumentID,
					Filename:       req.Filename,
					ContentHash:    req.ContentHash,
					Chunks:         req.Chunks,
				})
			case strings.TrimSpace(req.Text) != "":
				doc, present, err = app.IngestText(r.Context(), req.Filename, req.Text, req.DocumentID)
			default:
				WriteError(w, http.StatusBadRequest, "missing text or chunks")
				return
			}
			if err != nil {
				switch {
				case errors.Is(err, embedding.ErrEmbedding), errors.Is(err, embedding.ErrTimeout):
					log.Printf("[Documents] embedding failure during ingest: %v", err)
					WriteError(w, http.StatusBadGateway, "embedding provider unavailable")
				case errors.Is(err, store.ErrClosed):
					WriteError(w, http.StatusServiceUnavailable, "store is shutting down")
				default:
					WriteError(w, http.StatusBadRequest, err.Error())
				}
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{
				"document":        doc,
				"already_present": present,
			})

		default:
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// HandleDocumentByID handles a single document and its subresources:
//
//	GET    /api/documents/{id}          document record
//	DELETE /api/documents/{id}          remove document, vectors and metadata
//	GET    /api/documents/{id}/chunks   chunk metadata in chunk order
//	GET    /api/documents/{id}/similar  documents ranked by centroid similarity
func HandleDocumentByID(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/documents/")
		if rest == "" || rest == r.URL.Path {
			WriteError(w, http.StatusBadRequest, "missing document ID")
			return
		}
		docID, sub, _ := strings.Cut(rest, "/")
		if !IsValidDocumentID(docID) {
			WriteError(w, http.StatusBadRequest, "invalid document ID")
			return
		}

		switch sub {
		case "":
			switch r.Method {
			case http.MethodGet:
				doc, ok := app.store.Document(docID)
				if !ok {
					WriteError(w, http.StatusNotFound, "document not found")
					return
				}
				WriteJSON(w, http.StatusOK, doc)

			case http.MethodDelete:
				removed, err := app.store.RemoveDocument(docID)
				if err != nil {
					log.Printf("[Documents] delete error for %s: %v", docID, err)
					WriteError(w, http.StatusInternalServerError, err.Error())
					return
				}
				if !removed {
					WriteError(w, http.StatusNotFound, "document not found")
					return
				}
				WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

			default:
				WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			}

		case "chunks":
			if r.Method != http.MethodGet {
				WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			chunks, err := app.store.DocumentChunks(docID)
			if err != nil {
				if errors.Is(err, store.ErrUnknownDocument) {
					WriteError(w, http.StatusNotFound, "document not found")
					return
				}
				log.Printf("[Documents] chunks error for %s: %v", docID, err)
				WriteError(w, http.StatusInternalServerError, err.Error())
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"chunks": chunks, "count": len(chunks)})

		case "similar":
			if r.Method != http.MethodGet {
				WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			n := 0
			if v := r.URL.Query().Get("n"); v != "" {
				parsed, err := strconv.Atoi(v)
				if err != nil || parsed < 1 {
					WriteError(w, http.StatusBadRequest, "invalid n parameter")
					return
				}
				n = parsed
			}
			sims, err := app.store.SimilarDocuments(docID, n)
			if err != nil {
				if errors.Is(err, store.ErrUnknownDocument) {
					WriteError(w, http.StatusNotFound, "document not found")
					return
				}
				log.Printf("[Documents] similar error for %s: %v", docID, err)
				WriteError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if sims == nil {
				sims = []store.DocumentSimilarity{}
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"similar": sims})

		default:
			WriteError(w, http.StatusNotFound, "unknown document resource")
		}
	}
}
