package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	vec.Auto()
}

// ScoredID is one nearest-neighbor hit, ranked by cosine similarity
// (1.0 is identical direction, -1.0 is opposite).
type ScoredID struct {
	ID    string
	Score float64
}

// vecTableName is the single vec0 virtual table backing every embedded
// entity family; the family's own id is carried in the content column so
// one ANN index serves semantic units, episodes, and patterns alike.
const vecTableName = "engine_vec_index"

// EnsureVectorIndex creates the dimension-sized vec0 virtual table once the
// embedding dimension is known. Safe to call repeatedly with the same
// dimension; a dimension change requires a fresh store.
func (s *Store) EnsureVectorIndex(ctx context.Context, dim int) error {
	if !s.vectorExt {
		return nil
	}
	_, err := s.pool.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(id TEXT PRIMARY KEY, embedding float[%d])`,
		vecTableName, dim,
	))
	return err
}

// IndexEmbedding registers or replaces an entity's embedding vector.
func (s *Store) IndexEmbedding(ctx context.Context, id string, embedding []float32) error {
	if !s.vectorExt {
		return s.indexEmbeddingFallback(ctx, id, embedding)
	}
	if err := s.EnsureVectorIndex(ctx, len(embedding)); err != nil {
		return fmt.Errorf("storage: ensure vector index: %w", err)
	}
	blob, err := vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("storage: serialize embedding %s: %w", id, err)
	}
	_, err = s.pool.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s(id, embedding) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding`, vecTableName),
		id, blob,
	)
	return err
}

// SearchNearest returns the topK entities whose embedding is closest to
// query by cosine similarity. Uses the sqlite-vec ANN index when available,
// falling back to a brute-force scan over embedding_fallback otherwise
// (spec.md §4.4.3: "semantic search must degrade gracefully without the
// vector extension").
func (s *Store) SearchNearest(ctx context.Context, query []float32, topK int) ([]ScoredID, error) {
	if topK <= 0 {
		topK = 10
	}
	if s.vectorExt {
		return s.searchNearestVec(ctx, query, topK)
	}
	return s.searchNearestFallback(ctx, query, topK)
}

func (s *Store) searchNearestVec(ctx context.Context, query []float32, topK int) ([]ScoredID, error) {
	blob, err := vec.SerializeFloat32(query)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, distance FROM %s WHERE embedding MATCH ? AND k = ? ORDER BY distance`, vecTableName,
	), blob, topK)
	if err != nil {
		return nil, fmt.Errorf("storage: search nearest: %w", err)
	}
	defer rows.Close()

	var out []ScoredID
	for rows.Next() {
		var id string
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			return nil, err
		}
		// sqlite-vec's vec0 reports L2 distance over normalized vectors,
		// which relates to cosine similarity as sim = 1 - dist^2/2.
		out = append(out, ScoredID{ID: id, Score: 1 - (dist*dist)/2})
	}
	return out, rows.Err()
}

// indexEmbeddingFallback and searchNearestFallback implement the same
// contract without the vec0 extension, by storing raw float32 blobs and
// scoring every row in process (O(n), acceptable at the working-set sizes
// this engine targets without the extension installed).

func (s *Store) indexEmbeddingFallback(ctx context.Context, id string, embedding []float32) error {
	blob := encodeFloat32(embedding)
	return s.Upsert(ctx, "embedding_fallback", Record{ID: id, Content: blob})
}

func (s *Store) searchNearestFallback(ctx context.Context, query []float32, topK int) ([]ScoredID, error) {
	recs, err := s.SelectWhere(ctx, "embedding_fallback", nil)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredID, 0, len(recs))
	for _, r := range recs {
		v := decodeFloat32(r.Content)
		scored = append(scored, ScoredID{ID: r.ID, Score: cosineSimilarity(query, v)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func encodeFloat32(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
