package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vectorkeep/internal/chunker"
	"vectorkeep/internal/cli"
	"vectorkeep/internal/config"
	"vectorkeep/internal/embedding"
	"vectorkeep/internal/handler"
	"vectorkeep/internal/middleware"
	"vectorkeep/internal/store"
)

func main() {
	// Ensure data directory exists
	if err := os.MkdirAll("./data", 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// 1. Initialize ConfigManager and load config
	configPath := "./data/config.json"
	cm, err := config.NewConfigManager(configPath)
	if err != nil {
		log.Fatalf("Failed to create config manager: %v", err)
	}
	if err := cm.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := cm.Get()

	// 2. Create the embedding service
	es := embedding.NewOpenAIService(embedding.Config{
		Endpoint:   cfg.Embedding.Endpoint,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Embedding.MaxRetries,
		CacheSize:  cfg.Embedding.CacheSize,
		CacheTTL:   time.Duration(cfg.Embedding.CacheTTLMinutes) * time.Minute,
	})

	// 3. Open the vector store
	st, err := store.Open(store.Options{
		SnapshotPath: cfg.Store.SnapshotPath,
		UsageDBPath:  cfg.Store.UsageDBPath,
		Dimension:    cfg.Store.Dimension,
		SaveDebounce: time.Duration(cfg.Store.SaveDebounceSeconds) * time.Second,
		MinScore:     cfg.Search.MinScore,
		Embedder:     es,
		BatchSize:    cfg.Embedding.BatchSize,
	})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	tc := &chunker.TextChunker{ChunkSize: cfg.Chunker.ChunkSize, Overlap: cfg.Chunker.Overlap}

	// 4. CLI mode: run the subcommand, flush the store, and exit
	if len(os.Args) > 1 {
		runCommand(os.Args[1], os.Args[2:], st, tc)
		if err := st.Close(); err != nil {
			log.Fatalf("Failed to close store: %v", err)
		}
		return
	}

	// 5. Create App and register HTTP API handlers
	app := handler.NewApp(st, cm, tc)
	rl := middleware.NewRateLimiter(cfg.Server.RateLimitPerMin, time.Minute)
	defer rl.Stop()

	mux := http.NewServeMux()
	registerAPIHandlers(mux, app, rl)

	// 6. Start the HTTP server; SIGINT/SIGTERM drain requests and flush the store
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("[Main] serving on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[Main] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] server shutdown: %v", err)
	}
	if err := st.Close(); err != nil {
		log.Printf("[Main] store close: %v", err)
	}
}

func registerAPIHandlers(mux *http.ServeMux, app *handler.App, rl *middleware.RateLimiter) {
	chain := middleware.Chain(
		middleware.RequestID(),
		middleware.SecurityHeaders(),
		middleware.CORS(),
		rl.Limit(),
	)

	// Query
	mux.HandleFunc("/api/query", chain(handler.HandleQuery(app)))

	// Documents
	mux.HandleFunc("/api/documents", chain(handler.HandleDocuments(app)))
	// GET/DELETE /api/documents/{id} plus /chunks and /similar - handled by prefix match
	mux.HandleFunc("/api/documents/", chain(handler.HandleDocumentByID(app)))

	// Stats & health
	mux.HandleFunc("/api/stats", chain(handler.HandleStats(app)))
	mux.HandleFunc("/api/stats/top-queries", chain(handler.HandleTopQueries(app)))
	mux.HandleFunc("/api/health", chain(handler.HandleHealth(app)))

	// Config
	mux.HandleFunc("/api/config", chain(handler.HandleConfig(app)))
}

func runCommand(command string, args []string, st *store.Store, tc *chunker.TextChunker) {
	switch command {
	case "ingest":
		cli.RunIngest(args, st, tc)
	case "query":
		cli.RunQuery(args, st)
	case "documents":
		cli.RunDocuments(st)
	case "stats":
		cli.RunStats(st)
	case "export":
		cli.RunExport(args, st)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("usage: vectorkeep [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  ingest <path> [...]                      ingest text files or directories")
	fmt.Println("  query [--doc <id>] [--k <n>] <text>      search the ingested documents")
	fmt.Println("  documents                                list ingested documents")
	fmt.Println("  stats                                    print usage counters")
	fmt.Println("  export [--output <file>] <document_id>   write a document's chunks to Markdown")
	fmt.Println()
	fmt.Println("Without a command, vectorkeep starts the HTTP API server.")
}
