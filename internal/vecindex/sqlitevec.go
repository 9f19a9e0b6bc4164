package vecindex

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/nickcecere/framegrep/internal/errdefs"
)

func init() {
	// Register sqlite-vec extension
	sqlite_vec.Auto()
}

// MaxSQLiteVecK is the largest k the vec0 module accepts in a KNN query.
const MaxSQLiteVecK = 4096

// SQLiteVec stores vectors in a sqlite-vec vec0 virtual table, usually inside
// the metadata database so ingestion can write both in one place.
type SQLiteVec struct {
	db     *sql.DB
	dim    int
	metric Metric
}

// OpenSQLiteVec ensures the asset_vectors table exists with the given dimension.
func OpenSQLiteVec(db *sql.DB, dim int, metric Metric) (*SQLiteVec, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", errdefs.ErrInvalidArgument, dim)
	}
	m, err := ParseMetric(string(metric))
	if err != nil {
		return nil, err
	}
	if err := ensureVectorTable(db, dim); err != nil {
		return nil, fmt.Errorf("failed to ensure vector table: %w", err)
	}
	return &SQLiteVec{db: db, dim: dim, metric: m}, nil
}

// ensureVectorTable creates the vec0 table, or checks the dimension of an
// existing one.
func ensureVectorTable(db *sql.DB, dim int) error {
	var name string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='asset_vectors'
	`).Scan(&name)

	if err == sql.ErrNoRows {
		log.Debug("Creating vector table", "dimensions", dim)
		_, err := db.Exec(fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS asset_vectors USING vec0(
				asset_id INTEGER PRIMARY KEY,
				embedding float[%d] distance_metric=l2
			);
		`, dim))
		return err
	} else if err != nil {
		return fmt.Errorf("failed to check vector table: %w", err)
	}

	var blob []byte
	err = db.QueryRow("SELECT embedding FROM asset_vectors LIMIT 1").Scan(&blob)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check vector table: %w", err)
	}
	if got := len(blob) / 4; got != dim {
		return fmt.Errorf("%w: vector table has dimension %d, want %d", errdefs.ErrDimensionMismatch, got, dim)
	}
	return nil
}

func (s *SQLiteVec) Dimension() int { return s.dim }

func (s *SQLiteVec) Metric() Metric { return s.metric }

// Len returns the number of stored vectors, or 0 if the count query fails.
func (s *SQLiteVec) Len() int {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM asset_vectors").Scan(&n); err != nil {
		log.Warn("Failed to count vectors", "error", err)
		return 0
	}
	return n
}

// Add stores embedding under id.
func (s *SQLiteVec) Add(id int64, embedding []float32) error {
	if err := checkDimension(s.dim, embedding); err != nil {
		return err
	}
	if err := checkFinite(embedding); err != nil {
		return err
	}

	var exists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM asset_vectors WHERE asset_id = ?", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check vector: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: duplicate id %d", errdefs.ErrInvalidArgument, id)
	}

	blob := serializeEmbedding(prepare(s.metric, embedding))
	if _, err := s.db.Exec("INSERT INTO asset_vectors (asset_id, embedding) VALUES (?, ?)", id, blob); err != nil {
		return fmt.Errorf("failed to insert vector %d: %w", id, err)
	}
	return nil
}

// Vector returns the stored embedding for id.
func (s *SQLiteVec) Vector(id int64) ([]float32, bool) {
	var blob []byte
	err := s.db.QueryRow("SELECT embedding FROM asset_vectors WHERE asset_id = ?", id).Scan(&blob)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Warn("Failed to read vector", "id", id, "error", err)
		}
		return nil, false
	}
	return deserializeEmbedding(blob), true
}

// Search performs a KNN query through vec0. Ties resolve by ascending asset ID.
func (s *SQLiteVec) Search(query []float32, k int) ([]Hit, error) {
	if err := checkDimension(s.dim, query); err != nil {
		return nil, err
	}
	if err := checkK(k); err != nil {
		return nil, err
	}
	if n := s.Len(); k > n {
		k = n
	}
	if k == 0 {
		return []Hit{}, nil
	}
	if k > MaxSQLiteVecK {
		return nil, fmt.Errorf("%w: k %d exceeds the sqlite-vec limit of %d", errdefs.ErrInvalidArgument, k, MaxSQLiteVecK)
	}

	rows, err := s.db.Query(`
		SELECT asset_id, distance
		FROM asset_vectors
		WHERE embedding MATCH ?
			AND k = ?
		ORDER BY distance
	`, serializeEmbedding(prepare(s.metric, query)), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, k)
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}

// Each calls fn for every stored vector in ascending ID order.
func (s *SQLiteVec) Each(fn func(id int64, embedding []float32) error) error {
	rows, err := s.db.Query("SELECT asset_id, embedding FROM asset_vectors ORDER BY asset_id")
	if err != nil {
		return fmt.Errorf("failed to list vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("failed to scan vector: %w", err)
		}
		if err := fn(id, deserializeEmbedding(blob)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// serializeEmbedding converts a float32 slice to bytes for sqlite-vec.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeEmbedding(blob []byte) []float32 {
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}
