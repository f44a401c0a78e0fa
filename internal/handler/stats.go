package handler

import (
	"log"
	"net/http"
	"strconv"

	"vectorkeep/internal/usage"
)

// HandleStats returns store-wide usage counters.
func HandleStats(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		WriteJSON(w, http.StatusOK, app.store.Stats())
	}
}

// HandleTopQueries returns the most frequent query texts, most popular first.
// GET /api/stats/top-queries?n=10
func HandleTopQueries(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		n := 10
		if v := r.URL.Query().Get("n"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 1 {
				WriteError(w, http.StatusBadRequest, "invalid n parameter")
				return
			}
			n = parsed
		}
		top, err := app.store.TopQueries(n)
		if err != nil {
			log.Printf("[Stats] top queries error: %v", err)
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if top == nil {
			top = []usage.QueryCount{}
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"top_queries": top})
	}
}

// HandleHealth reports liveness plus basic store counters.
func HandleHealth(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		stats := app.store.Stats()
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "ok",
			"documents":      stats.TotalDocuments,
			"vectors":        stats.TotalVectors,
			"uptime_seconds": int64(app.Uptime().Seconds()),
		})
	}
}
