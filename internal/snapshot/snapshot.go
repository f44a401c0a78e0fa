// Package snapshot persists the store's complete state (document registry,
// vectors, and per-vector metadata) as a single versioned, checksummed file,
// and loads it back on startup. Writes go to a temporary file that atomically
// replaces the previous snapshot, so a crash mid-write never damages the last
// good copy.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"vectorkeep/internal/metadata"
	"vectorkeep/internal/registry"
)

// ErrCorrupt is returned by Load when the snapshot fails validation:
// bad magic, unsupported version, checksum mismatch, or truncated data.
var ErrCorrupt = errors.New("corrupt snapshot")

// FormatVersion is the current on-disk format. Snapshots written by a
// different version are rejected rather than misread.
const FormatVersion = 1

var magic = [4]byte{'V', 'K', 'S', '1'}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// VectorEntry is one persisted vector together with its metadata.
type VectorEntry struct {
	ID        string
	Meta      metadata.Metadata
	Embedding []float32
}

// Snapshot is the complete serializable state of a store at one instant.
type Snapshot struct {
	Dimension int
	Documents []registry.DocumentRecord
	Vectors   []VectorEntry
}

// Manager owns the snapshot file path and performs atomic save and load.
type Manager struct {
	path string
}

// NewManager creates a Manager writing to and reading from path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the snapshot file location.
func (m *Manager) Path() string { return m.path }

// Save serializes the snapshot, writes it to a temporary file in the same
// directory, syncs it, and atomically renames it over the previous snapshot.
func (m *Manager) Save(snap *Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp := m.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads and decodes the snapshot file. A missing file surfaces the
// underlying fs.ErrNotExist so callers can start empty; any malformed content
// surfaces ErrCorrupt.
func (m *Manager) Load() (*Snapshot, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", m.path, err)
	}
	return snap, nil
}

// Encode serializes a snapshot into the versioned binary format:
// magic, format version, vector dimension, record counts, document records,
// vector records, and a trailing CRC-32 (Castagnoli) over everything before
// the checksum. All integers are little-endian.
func Encode(snap *Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	if snap.Dimension < 0 {
		return nil, fmt.Errorf("negative dimension %d", snap.Dimension)
	}

	w := newWriter()
	w.raw(magic[:])
	w.u16(FormatVersion)
	w.u32(uint32(snap.Dimension))
	w.u32(uint32(len(snap.Documents)))
	w.u32(uint32(len(snap.Vectors)))

	for _, doc := range snap.Documents {
		w.str(doc.DocumentID)
		w.str(doc.Filename)
		w.str(doc.ContentHash)
		w.u32(uint32(doc.ChunkCount))
		w.i64(doc.CreatedAt.UnixNano())
		w.i64(doc.LastAccessedAt.UnixNano())
		w.i64(doc.AccessCount)
	}

	for _, v := range snap.Vectors {
		if snap.Dimension > 0 && len(v.Embedding) != snap.Dimension {
			return nil, fmt.Errorf("vector %s: dimension %d differs from snapshot dimension %d",
				v.ID, len(v.Embedding), snap.Dimension)
		}
		w.str(v.ID)
		w.str(v.Meta.DocumentID)
		w.u32(uint32(v.Meta.ChunkIndex))
		w.i64(v.Meta.CreatedAt.UnixNano())
		w.str(v.Meta.ChunkText)
		w.u32(uint32(v.Meta.Page))
		w.u32(uint32(v.Meta.Offset))

		// Attribute keys are sorted so identical state encodes identically.
		keys := make([]string, 0, len(v.Meta.Attributes))
		for k := range v.Meta.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.u16(uint16(len(keys)))
		for _, k := range keys {
			w.str(k)
			w.str(v.Meta.Attributes[k])
		}

		for _, x := range v.Embedding {
			w.u32(math.Float32bits(x))
		}
	}

	body := w.bytes()
	sum := crc32.Checksum(body, crcTable)
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], sum)
	return append(body, footer[:]...), nil
}

// Decode parses a snapshot produced by Encode, verifying magic, version, and
// checksum before touching the payload.
func Decode(data []byte) (*Snapshot, error) {
	if len(data) < len(magic)+2+4+4+4+4 {
		return nil, fmt.Errorf("%w: truncated header (%d bytes)", ErrCorrupt, len(data))
	}

	body, footer := data[:len(data)-4], data[len(data)-4:]
	want := binary.LittleEndian.Uint32(footer)
	if got := crc32.Checksum(body, crcTable); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch (got %08x, want %08x)", ErrCorrupt, got, want)
	}

	r := &reader{data: body}
	head, err := r.bytes(len(magic))
	if err != nil {
		return nil, err
	}
	if [4]byte(head) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, head)
	}
	version, err := r.u16()
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d (supported: %d)", ErrCorrupt, version, FormatVersion)
	}

	dim, err := r.u32()
	if err != nil {
		return nil, err
	}
	docCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	vecCount, err := r.u32()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Dimension: int(dim)}

	snap.Documents = make([]registry.DocumentRecord, 0, docCount)
	for i := uint32(0); i < docCount; i++ {
		var doc registry.DocumentRecord
		if doc.DocumentID, err = r.str(); err != nil {
			return nil, err
		}
		if doc.Filename, err = r.str(); err != nil {
			return nil, err
		}
		if doc.ContentHash, err = r.str(); err != nil {
			return nil, err
		}
		chunks, err := r.u32()
		if err != nil {
			return nil, err
		}
		doc.ChunkCount = int(chunks)
		created, err := r.i64()
		if err != nil {
			return nil, err
		}
		doc.CreatedAt = time.Unix(0, created).UTC()
		accessed, err := r.i64()
		if err != nil {
			return nil, err
		}
		doc.LastAccessedAt = time.Unix(0, accessed).UTC()
		if doc.AccessCount, err = r.i64(); err != nil {
			return nil, err
		}
		snap.Documents = append(snap.Documents, doc)
	}

	snap.Vectors = make([]VectorEntry, 0, vecCount)
	for i := uint32(0); i < vecCount; i++ {
		var v VectorEntry
		if v.ID, err = r.str(); err != nil {
			return nil, err
		}
		if v.Meta.DocumentID, err = r.str(); err != nil {
			return nil, err
		}
		chunkIndex, err := r.u32()
		if err != nil {
			return nil, err
		}
		v.Meta.ChunkIndex = int(chunkIndex)
		created, err := r.i64()
		if err != nil {
			return nil, err
		}
		v.Meta.CreatedAt = time.Unix(0, created).UTC()
		if v.Meta.ChunkText, err = r.str(); err != nil {
			return nil, err
		}
		page, err := r.u32()
		if err != nil {
			return nil, err
		}
		v.Meta.Page = int(page)
		offset, err := r.u32()
		if err != nil {
			return nil, err
		}
		v.Meta.Offset = int(offset)

		attrCount, err := r.u16()
		if err != nil {
			return nil, err
		}
		if attrCount > 0 {
			v.Meta.Attributes = make(map[string]string, attrCount)
			for a := uint16(0); a < attrCount; a++ {
				k, err := r.str()
				if err != nil {
					return nil, err
				}
				val, err := r.str()
				if err != nil {
					return nil, err
				}
				v.Meta.Attributes[k] = val
			}
		}

		v.Embedding = make([]float32, dim)
		for d := uint32(0); d < dim; d++ {
			bits, err := r.u32()
			if err != nil {
				return nil, err
			}
			v.Embedding[d] = math.Float32frombits(bits)
		}
		snap.Vectors = append(snap.Vectors, v)
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after payload", ErrCorrupt, r.remaining())
	}
	return snap, nil
}
