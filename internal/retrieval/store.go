package retrieval

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ibarra/escucha/internal/lesson"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// scoreEpsilon bounds how close two similarity scores must be to count as a
// tie for deterministic ordering purposes.
const scoreEpsilon = 1e-9

// SQLiteStore provides vector storage and brute-force cosine similarity
// search backed by SQLite. Lesson corpora are small (tens of chunks per
// video), so a full scan per query is well within budget.
//
// Concurrent readers are safe once ingestion for a video completes; writers
// for the same video must be serialized by the caller.
type SQLiteStore struct {
	db        *sql.DB
	dimension int
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations. The
// chunk_vectors table must already exist (created via migrations). All
// stored vectors must have the given dimension.
func NewSQLiteStore(db *sql.DB, dimension int) *SQLiteStore {
	return &SQLiteStore{db: db, dimension: dimension}
}

// Dimension returns the configured embedding dimension.
func (s *SQLiteStore) Dimension() int {
	return s.dimension
}

// checkDimensions validates every record before anything is written, so a
// failed insert leaves the store unchanged.
func (s *SQLiteStore) checkDimensions(records []Record) error {
	for _, r := range records {
		if len(r.Embedding) != s.dimension {
			return fmt.Errorf("%w: chunk %s has dimension %d, store is configured for %d",
				ErrDimensionMismatch, r.ChunkID, len(r.Embedding), s.dimension)
		}
	}
	return nil
}

// Upsert adds records, overwriting existing records with the same chunk ID.
func (s *SQLiteStore) Upsert(records []Record) error {
	if err := s.checkDimensions(records); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertInTx(tx, records); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertInTx(tx *sql.Tx, records []Record) error {
	stmt, err := tx.Prepare(`
		INSERT INTO chunk_vectors (chunk_id, video_id, section, position, language, text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			video_id = excluded.video_id,
			section = excluded.section,
			position = excluded.position,
			language = excluded.language,
			text = excluded.text,
			embedding = excluded.embedding,
			created_at = excluded.created_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		blob := encodeFloat32s(r.Embedding)
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(r.ChunkID, r.VideoID, string(r.Section), r.Position, r.Language,
			r.Text, blob, createdAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("upserting record %s: %w", r.ChunkID, err)
		}
	}
	return nil
}

// ReplaceVideo atomically replaces all records for a video.
func (s *SQLiteStore) ReplaceVideo(videoID string, records []Record) error {
	if err := s.checkDimensions(records); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunk_vectors WHERE video_id = ?", videoID); err != nil {
		return fmt.Errorf("deleting records for %s: %w", videoID, err)
	}
	if err := upsertInTx(tx, records); err != nil {
		return err
	}
	return tx.Commit()
}

// idScore holds only the ranking fields during the scan phase of Search.
// Full record details are fetched only for top-K winners.
type idScore struct {
	ChunkID  string
	Position int
	Score    float32
}

// rankedLess orders candidates by descending score; scores within
// scoreEpsilon tie-break by ascending position, then ascending chunk ID.
func rankedLess(a, b idScore) bool {
	if float64(a.Score)-float64(b.Score) > scoreEpsilon {
		return true
	}
	if float64(b.Score)-float64(a.Score) > scoreEpsilon {
		return false
	}
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.ChunkID < b.ChunkID
}

// Search performs brute-force cosine similarity search over all vectors
// matching the filter, returning the top-K records in deterministic order.
func (s *SQLiteStore) Search(vector []float32, topK int, filter Filter) ([]ScoredRecord, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, store is configured for %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	query := `SELECT chunk_id, position, embedding FROM chunk_vectors`
	where, args := filterClause(filter)
	query += where

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32
	var candidates []idScore

	for rows.Next() {
		var c idScore
		var blob []byte
		if err := rows.Scan(&c.ChunkID, &c.Position, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", c.ChunkID, err)
		}

		c.Score = cosine(vector, buf, queryNorm)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return rankedLess(candidates[i], candidates[j]) })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	// Phase 2: fetch full records only for the winners.
	records, err := s.fetchRecords(candidates)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredRecord, 0, len(candidates))
	for _, c := range candidates {
		r, ok := records[c.ChunkID]
		if !ok {
			return nil, fmt.Errorf("record %s vanished between scan and fetch", c.ChunkID)
		}
		results = append(results, ScoredRecord{Record: r, Score: c.Score})
	}
	return results, nil
}

func filterClause(filter Filter) (string, []any) {
	var conds []string
	var args []any
	if filter.VideoID != "" {
		conds = append(conds, "video_id = ?")
		args = append(args, filter.VideoID)
	}
	if filter.Section != "" {
		conds = append(conds, "section = ?")
		args = append(args, string(filter.Section))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLiteStore) fetchRecords(candidates []idScore) (map[string]Record, error) {
	args := make([]any, len(candidates))
	for i, c := range candidates {
		args[i] = c.ChunkID
	}
	query := `SELECT chunk_id, video_id, section, position, language, text, embedding, created_at
		FROM chunk_vectors WHERE chunk_id IN (?` + strings.Repeat(",?", len(candidates)-1) + `)`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]Record, len(candidates))
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records[r.ChunkID] = r
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var r Record
	var section string
	var blob []byte
	var createdAt string
	if err := rows.Scan(&r.ChunkID, &r.VideoID, &section, &r.Position, &r.Language, &r.Text, &blob, &createdAt); err != nil {
		return Record{}, fmt.Errorf("scanning record: %w", err)
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Record{}, fmt.Errorf("decoding embedding for %s: %w", r.ChunkID, err)
	}
	r.Embedding = embedding
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing created_at for %s: %w", r.ChunkID, err)
	}
	r.CreatedAt = t
	r.Section = lesson.SectionKind(section)
	return r, nil
}

// DeleteVideo removes all records for a source video. Deleting a video with
// no records is a no-op, not an error.
func (s *SQLiteStore) DeleteVideo(videoID string) error {
	if _, err := s.db.Exec("DELETE FROM chunk_vectors WHERE video_id = ?", videoID); err != nil {
		return fmt.Errorf("deleting records for %s: %w", videoID, err)
	}
	return nil
}

// Count returns the number of stored records for a video, or all records
// when videoID is empty.
func (s *SQLiteStore) Count(videoID string) (int, error) {
	var count int
	var err error
	if videoID == "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM chunk_vectors").Scan(&count)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM chunk_vectors WHERE video_id = ?", videoID).Scan(&count)
	}
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
// Returns an error if the byte slice length is not a multiple of 4
// (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
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

// cosine computes dot(a,b) / (aNorm * bNorm). With pre-normalized vectors
// this reduces to the dot product, but both norms are honored so vectors
// written by other tools still compare correctly.
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
