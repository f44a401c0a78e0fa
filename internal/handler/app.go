package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vectorkeep/internal/chunker"
	"vectorkeep/internal/config"
	"vectorkeep/internal/registry"
	"vectorkeep/internal/store"
)

// App bundles the services the HTTP handlers need.
type App struct {
	store         *store.Store
	configManager *config.ConfigManager
	chunker       *chunker.TextChunker
	startedAt     time.Time
}

// NewApp creates the handler application state.
func NewApp(st *store.Store, cm *config.ConfigManager, tc *chunker.TextChunker) *App {
	return &App{
		store:         st,
		configManager: cm,
		chunker:       tc,
		startedAt:     time.Now(),
	}
}

// Store exposes the underlying vector store, for the CLI commands that share
// an App with the HTTP surface.
func (app *App) Store() *store.Store {
	return app.store
}

// IngestText splits raw text with the configured chunker and ingests the
// resulting chunks as one document.
func (app *App) IngestText(ctx context.Context, filename, text, documentIDHint string) (registry.DocumentRecord, bool, error) {
	if strings.TrimSpace(text) == "" {
		return registry.DocumentRecord{}, false, fmt.Errorf("empty document text")
	}
	pieces := app.chunker.Split(text)
	chunks := make([]store.Chunk, 0, len(pieces))
	for _, p := range pieces {
		chunks = append(chunks, store.Chunk{
			Text:   p.Text,
			Offset: p.Offset,
		})
	}
	return app.store.Ingest(ctx, store.IngestRequest{
		DocumentIDHint: documentIDHint,
		Filename:       filename,
		Chunks:         chunks,
	})
}

// Uptime reports how long the app has been serving.
func (app *App) Uptime() time.Duration {
	return time.Since(app.startedAt)
}
