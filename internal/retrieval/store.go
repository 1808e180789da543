package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements ChunkStore.
var _ ChunkStore = (*SQLiteStore)(nil)

// SQLiteStore provides chunk storage and brute-force cosine similarity
// search backed by SQLite. Fine well past tens of thousands of chunks per
// profile; if a deployment outgrows that, swap in an ANN-indexed backend
// behind the same interface.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for chunk operations.
// The document_chunks table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Replace swaps all chunks of a data source for the given set in one
// transaction. Either every new chunk lands and the old ones are gone, or
// the previous state survives untouched.
func (s *SQLiteStore) Replace(ctx context.Context, sourceID string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrStoreWrite, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM document_chunks WHERE data_source_id = ?", sourceID); err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: clearing source %s: %v", ErrStoreWrite, sourceID, err)
	}

	if len(chunks) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO document_chunks (id, industry_profile_id, data_source_id, source_name, source_url, source_type, chunk_index, content, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: preparing insert: %v", ErrStoreWrite, err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			createdAt := c.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			blob := encodeFloat32s(c.Embedding)
			if _, err := stmt.ExecContext(ctx, c.ID, c.ProfileID, c.SourceID, c.SourceName, c.SourceURL, c.SourceType, c.Index, c.Content, blob, createdAt.Format(time.RFC3339)); err != nil {
				tx.Rollback()
				return fmt.Errorf("%w: inserting chunk %s: %v", ErrStoreWrite, c.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing: %v", ErrStoreWrite, err)
	}
	return nil
}

// candidate holds the fields needed to rank a chunk during the scan phase.
// Ties on score break toward the lower chunk index, then the older row, so
// repeated searches over the same data return the same order.
type candidate struct {
	id         string
	score      float32
	chunkIndex int
	rowid      int64
}

// worse reports whether a ranks below b.
func (a candidate) worse(b candidate) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	if a.chunkIndex != b.chunkIndex {
		return a.chunkIndex > b.chunkIndex
	}
	return a.rowid > b.rowid
}

// Search performs brute-force cosine similarity search over a profile's
// chunks, returning the top-K most similar, highest score first.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, profileID string, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding (plus tie-break keys) to find the
	// top-K candidates.
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chunk_index, rowid, embedding FROM document_chunks WHERE industry_profile_id = ?", profileID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	h := &candidateHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var c candidate
		var blob []byte
		if err := rows.Scan(&c.id, &c.chunkIndex, &c.rowid, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", c.id, err)
		}
		c.score = cosine(vector, buf, queryNorm)

		if h.Len() < topK {
			heap.Push(h, c)
		} else if (*h)[0].worse(c) {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Pop the heap into rank order, best last off the heap.
	ranked := make([]candidate, h.Len())
	for i := len(ranked) - 1; i >= 0; i-- {
		ranked[i] = heap.Pop(h).(candidate)
	}

	// Phase 2: fetch full chunk rows only for the winners.
	args := make([]any, len(ranked))
	for i, c := range ranked {
		args[i] = c.id
	}
	query := `SELECT id, industry_profile_id, data_source_id, source_name, source_url, source_type, chunk_index, content, embedding, created_at
		FROM document_chunks WHERE id IN (?` + strings.Repeat(",?", len(ranked)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K chunks: %w", err)
	}
	defer fullRows.Close()

	byID := make(map[string]Chunk, len(ranked))
	for fullRows.Next() {
		var c Chunk
		var blob []byte
		var createdAt string
		if err := fullRows.Scan(&c.ID, &c.ProfileID, &c.SourceID, &c.SourceName, &c.SourceURL, &c.SourceType, &c.Index, &c.Content, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if c.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		byID[c.ID] = c
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	// Reassemble in rank order (IN query doesn't preserve it).
	results := make([]ScoredChunk, 0, len(ranked))
	for _, c := range ranked {
		chunk, ok := byID[c.id]
		if !ok {
			continue
		}
		results = append(results, ScoredChunk{Chunk: chunk, Score: c.score})
	}
	return results, nil
}

// DeleteBySource removes every chunk belonging to a data source.
func (s *SQLiteStore) DeleteBySource(ctx context.Context, sourceID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM document_chunks WHERE data_source_id = ?", sourceID); err != nil {
		return fmt.Errorf("%w: deleting chunks of source %s: %v", ErrStoreWrite, sourceID, err)
	}
	return nil
}

// CountByProfile reports how many chunks a profile currently holds.
func (s *SQLiteStore) CountByProfile(ctx context.Context, profileID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM document_chunks WHERE industry_profile_id = ?", profileID).Scan(&count)
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a. Mismatched dimensions and
// zero vectors score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// candidateHeap is a min-heap keeping the worst candidate at the root so the
// scan phase can evict it in O(log k).
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[i].worse(h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
