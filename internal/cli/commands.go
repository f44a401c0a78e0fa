// Package cli implements the vectorkeep subcommands: batch ingestion,
// ad-hoc queries, usage stats, and Markdown export.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vectorkeep/internal/chunker"
	"vectorkeep/internal/engine"
	"vectorkeep/internal/store"
)

// supportedExtensions lists the plain-text formats the ingest command accepts.
var supportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// RunIngest scans files and directories and ingests every supported text file.
func RunIngest(args []string, st *store.Store, tc *chunker.TextChunker) {
	if len(args) == 0 {
		fmt.Println("error: at least one file or directory path is required")
		fmt.Println("usage: vectorkeep ingest <path> [...]")
		os.Exit(1)
	}

	// Collect all files to ingest
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			fmt.Printf("warning: cannot access %s: %v\n", arg, err)
			continue
		}
		if !info.IsDir() {
			// Single file
			if supportedExtensions[strings.ToLower(filepath.Ext(arg))] {
				files = append(files, arg)
			} else {
				fmt.Printf("skipping unsupported file format: %s\n", arg)
			}
			continue
		}
		// Walk directory
		filepath.Walk(arg, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				fmt.Printf("warning: cannot access %s: %v\n", path, err)
				return nil
			}
			if fi.IsDir() {
				return nil
			}
			if supportedExtensions[strings.ToLower(filepath.Ext(fi.Name()))] {
				files = append(files, path)
			}
			return nil
		})
	}

	if len(files) == 0 {
		fmt.Println("no supported files found")
		return
	}

	fmt.Printf("found %d file(s), starting ingestion...\n\n", len(files))

	type failedFile struct {
		Path   string
		Reason string
	}
	var ingested, duplicates, failed int
	var failedFiles []failedFile
	ctx := context.Background()

	for i, filePath := range files {
		fmt.Printf("[%d/%d] %s ... ", i+1, len(files), filePath)

		data, err := os.ReadFile(filePath)
		if err != nil {
			reason := fmt.Sprintf("read failed: %v", err)
			fmt.Println(reason)
			failed++
			failedFiles = append(failedFiles, failedFile{Path: filePath, Reason: reason})
			continue
		}

		pieces := tc.Split(string(data))
		chunks := make([]store.Chunk, 0, len(pieces))
		for _, p := range pieces {
			chunks = append(chunks, store.Chunk{Text: p.Text, Offset: p.Offset})
		}

		doc, alreadyPresent, err := st.Ingest(ctx, store.IngestRequest{
			Filename: filepath.Base(filePath),
			Chunks:   chunks,
		})
		if err != nil {
			reason := fmt.Sprintf("ingest failed: %v", err)
			fmt.Println(reason)
			failed++
			failedFiles = append(failedFiles, failedFile{Path: filePath, Reason: reason})
			continue
		}
		if alreadyPresent {
			fmt.Printf("already present (ID: %s)\n", doc.DocumentID)
			duplicates++
			continue
		}

		fmt.Printf("ok (ID: %s, %d chunks)\n", doc.DocumentID, doc.ChunkCount)
		ingested++
	}

	fmt.Println("\n========== Ingestion report ==========")
	fmt.Printf("Total files: %d\n", len(files))
	fmt.Printf("Ingested:    %d\n", ingested)
	fmt.Printf("Duplicates:  %d\n", duplicates)
	fmt.Printf("Failed:      %d\n", failed)
	if len(failedFiles) > 0 {
		fmt.Println("\nFailed files:")
		for _, f := range failedFiles {
			absPath, err := filepath.Abs(f.Path)
			if err != nil {
				absPath = f.Path
			}
			fmt.Printf("  %s\n    reason: %s\n", absPath, f.Reason)
		}
	}
	fmt.Println("======================================")
}

// RunQuery embeds the query text and prints the most similar chunks.
func RunQuery(args []string, st *store.Store) {
	var documentID string
	topK := store.DefaultTopK
	var words []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--doc":
			if i+1 >= len(args) {
				fmt.Println("error: --doc requires a document ID")
				os.Exit(1)
			}
			documentID = args[i+1]
			i++
		case "--k":
			if i+1 >= len(args) {
				fmt.Println("error: --k requires a number")
				os.Exit(1)
			}
			k := 0
			if _, err := fmt.Sscanf(args[i+1], "%d", &k); err != nil || k < 1 {
				fmt.Printf("error: invalid --k value %q\n", args[i+1])
				os.Exit(1)
			}
			topK = k
			i++
		default:
			words = append(words, args[i])
		}
	}

	text := strings.TrimSpace(strings.Join(words, " "))
	if text == "" {
		fmt.Println("error: query text is required")
		fmt.Println("usage: vectorkeep query [--doc <document_id>] [--k <n>] <text>")
		os.Exit(1)
	}

	results, err := st.Query(context.Background(), text, engine.Scope{DocumentID: documentID}, topK)
	if err != nil {
		fmt.Printf("query failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Results for %q:\n", text)
	for i, res := range results {
		location := res.DocumentID
		if res.Page > 0 {
			location = fmt.Sprintf("%s p.%d", res.DocumentID, res.Page)
		}
		fmt.Printf("  %d. [%.4f] %s chunk %d\n", i+1, res.Score, location, res.ChunkIndex)
		fmt.Printf("     %s\n", firstLine(res.ChunkText, 120))
	}
}

// RunDocuments lists all ingested documents with their IDs.
func RunDocuments(st *store.Store) {
	docs := st.Documents()
	if len(docs) == 0 {
		fmt.Println("no documents ingested")
		return
	}
	fmt.Printf("%-38s  %-24s  %6s  %8s\n", "Document ID", "Filename", "Chunks", "Accesses")
	fmt.Println(strings.Repeat("-", 84))
	for _, doc := range docs {
		name := doc.Filename
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Printf("%-38s  %-24s  %6d  %8d\n", doc.DocumentID, name, doc.ChunkCount, doc.AccessCount)
	}
	fmt.Printf("\n%d document(s)\n", len(docs))
}

// RunStats prints store counters and the most frequent queries.
func RunStats(st *store.Store) {
	stats := st.Stats()
	fmt.Println("========== Store stats ==========")
	fmt.Printf("Documents:     %d\n", stats.TotalDocuments)
	fmt.Printf("Vectors:       %d\n", stats.TotalVectors)
	fmt.Printf("Total queries: %d\n", stats.TotalQueries)
	fmt.Println("=================================")

	top, err := st.TopQueries(10)
	if err != nil {
		fmt.Printf("top queries unavailable: %v\n", err)
		return
	}
	if len(top) == 0 {
		return
	}
	fmt.Println("\nTop queries:")
	for i, q := range top {
		fmt.Printf("  %d. (%dx) %s\n", i+1, q.Count, firstLine(q.Text, 80))
	}
}

// RunExport writes a document's chunks to a Markdown file.
func RunExport(args []string, st *store.Store) {
	var documentID, outputPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--output", "-o":
			if i+1 >= len(args) {
				fmt.Println("error: --output requires a file path")
				os.Exit(1)
			}
			outputPath = args[i+1]
			i++
		default:
			if documentID != "" {
				fmt.Printf("unknown argument: %s\n", args[i])
				os.Exit(1)
			}
			documentID = args[i]
		}
	}

	if documentID == "" {
		fmt.Println("error: a document ID is required")
		fmt.Println("usage: vectorkeep export [--output <file>] <document_id>")
		os.Exit(1)
	}

	doc, ok := st.Document(documentID)
	if !ok {
		fmt.Printf("error: document not found (ID: %s)\n", documentID)
		os.Exit(1)
	}
	chunks, err := st.DocumentChunks(documentID)
	if err != nil {
		fmt.Printf("export failed: %v\n", err)
		os.Exit(1)
	}

	if outputPath == "" {
		outputPath = documentID + ".md"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Filename)
	fmt.Fprintf(&b, "- Document ID: %s\n", doc.DocumentID)
	fmt.Fprintf(&b, "- Chunks: %d\n", doc.ChunkCount)
	fmt.Fprintf(&b, "- Ingested: %s\n\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	for _, c := range chunks {
		fmt.Fprintf(&b, "## Chunk %d\n\n", c.ChunkIndex)
		fmt.Fprintf(&b, "%s\n\n", c.ChunkText)
	}

	if err := os.WriteFile(outputPath, []byte(b.String()), 0644); err != nil {
		fmt.Printf("write failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("exported %d chunk(s) to %s\n", len(chunks), outputPath)
}

// firstLine truncates text to its first line, capped at max bytes.
func firstLine(text string, max int) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > max {
		text = text[:max] + "..."
	}
	return text
}
