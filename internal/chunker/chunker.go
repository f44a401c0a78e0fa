// Package chunker provides text splitting for document ingestion.
// It splits text into fixed-size chunks with configurable overlap,
// preferring to cut at whitespace so words stay intact.
package chunker

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultOverlap is the default number of overlapping characters between adjacent chunks.
const DefaultOverlap = 200

// TextChunker splits text into fixed-size chunks with configurable overlap.
type TextChunker struct {
	ChunkSize int // default 1000
	Overlap   int // default 200
}

// Chunk represents a segment of text from a document.
type Chunk struct {
	Text   string `json:"text"`
	Index  int    `json:"index"`
	Offset int    `json:"offset"` // byte offset of the chunk within the source text
}

// NewTextChunker creates a TextChunker with default settings.
func NewTextChunker() *TextChunker {
	return &TextChunker{
		ChunkSize: DefaultChunkSize,
		Overlap:   DefaultOverlap,
	}
}

// Split divides text into chunks of up to ChunkSize characters with Overlap
// characters repeated between adjacent chunks. A cut that would land inside
// a word moves back to the nearest whitespace when one exists near the end
// of the chunk. Each chunk carries an incrementing index and its byte
// offset in the source text.
//
// Returns an empty slice for empty text.
// Returns a single chunk if text fits within ChunkSize.
// The last chunk may be shorter than ChunkSize.
func (tc *TextChunker) Split(text string) []Chunk {
	if len(text) == 0 {
		return []Chunk{}
	}

	chunkSize := tc.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	overlap := tc.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}

	var chunks []Chunk
	index := 0

	for start := 0; start < len(text); {
		end := start + chunkSize
		if end >= len(text) {
			end = len(text)
		} else if cut := lastBoundary(text, start, end); cut > start {
			end = cut
		}

		chunks = append(chunks, Chunk{
			Text:   text[start:end],
			Index:  index,
			Offset: start,
		})
		index++

		if end == len(text) {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// lastBoundary returns the cut position just after the last whitespace in
// the final fifth of the window, or end when that stretch has none.
func lastBoundary(text string, start, end int) int {
	window := (end - start) / 5
	if window == 0 {
		return end
	}
	limit := end - window
	for i := end - 1; i >= limit && i > start; i-- {
		switch text[i] {
		case ' ', '\n', '\t':
			return i + 1
		}
	}
	return end
}
