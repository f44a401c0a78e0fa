package handler

import (
	"log"
	"net/http"
)

// HandleConfig handles GET (read) and PUT (update) for the runtime configuration.
// GET responses never include the embedding API key.
func HandleConfig(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			cfg := app.configManager.Get()
			if cfg.Embedding.APIKey != "" {
				cfg.Embedding.APIKey = "***"
			}
			WriteJSON(w, http.StatusOK, cfg)

		case http.MethodPut:
			var updates map[string]interface{}
			if err := ReadJSONBody(r, &updates); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if len(updates) == 0 {
				WriteError(w, http.StatusBadRequest, "no updates provided")
				return
			}
			if err := app.configManager.Update(updates); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Printf("[Config] updated %d setting(s)", len(updates))
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		default:
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}
