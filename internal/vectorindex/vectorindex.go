// Package vectorindex implements the VectorIndex contract: a local SQLite
// blob mirror of float32 vectors with an optional remote Qdrant backend
// mirrored alongside it. Grounded on
// original_source/classifier/embeddings_store.py (local sqlite shape,
// cosine topk) and original_source/backend/app/vector_search.py (query-side
// cosine/topk usage).
package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Match is one scored candidate returned by Topk.
type Match struct {
	ID    string
	Score float64
}

// Index is the VectorIndex contract used by the rest of the service:
// Classifier, HybridSearch, and the reindex maintenance consumer.
type Index interface {
	Upsert(ctx context.Context, kind, id string, vector []float32) error
	Delete(ctx context.Context, kind, id string) error
	DeleteBatch(ctx context.Context, kind string, ids []string) error
	Topk(ctx context.Context, kindExact, kindPrefix string, query []float32, limit int) ([]Match, error)
	// ExistingKeys returns every (kind,id) pair currently in the local
	// mirror, for the reindex maintenance pass's stale-entry diff.
	ExistingKeys(ctx context.Context) (map[[2]string]bool, error)
	Close() error
}

// qdrantNamespaceID is the fixed namespace UUID under which every Qdrant
// point id is derived: uuid.NewSHA1(qdrantNamespaceID, []byte("clawboard:<kind>:<id>")).
var qdrantNamespaceID = uuid.Must(uuid.Parse("7b3b6f2e-7e3c-4b1a-9f7a-5f7f6f9d9c0b"))

// StablePointID derives the stable UUIDv5-equivalent point id Qdrant uses
// for a given (kind,id) pair, so repeated upserts of the same logical
// document always land on the same point.
func StablePointID(kind, id string) uuid.UUID {
	name := fmt.Sprintf("clawboard:%s:%s", kind, id)
	return uuid.NewSHA1(qdrantNamespaceID, []byte(name))
}

// localMirror is the SQLite-backed blob store shared by both the
// remote-less Index and the qdrant-backed Index (as a read-through
// fallback).
type localMirror struct {
	mu sync.Mutex
	db *sql.DB
}

func openMirror(db *sql.DB) (*localMirror, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS embeddings (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		vector BLOB NOT NULL,
		dim INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY(kind, id)
	)`)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: create embeddings table: %w", err)
	}
	return &localMirror{db: db}, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func (m *localMirror) upsert(ctx context.Context, kind, id string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO embeddings (kind, id, vector, dim, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET vector = excluded.vector, dim = excluded.dim, updated_at = excluded.updated_at
	`, kind, id, encodeVector(vector), len(vector), time.Now().Unix())
	return err
}

func (m *localMirror) delete(ctx context.Context, kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.db.ExecContext(ctx, `DELETE FROM embeddings WHERE kind = ? AND id = ?`, kind, id)
	return err
}

func (m *localMirror) deleteBatch(ctx context.Context, kind string, ids []string) error {
	for _, id := range ids {
		if err := m.delete(ctx, kind, id); err != nil {
			return err
		}
	}
	return nil
}

func (m *localMirror) load(ctx context.Context, kindExact, kindPrefix string) ([]struct {
	id  string
	vec []float32
}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows *sql.Rows
	var err error
	switch {
	case kindExact != "":
		rows, err = m.db.QueryContext(ctx, `SELECT id, vector FROM embeddings WHERE kind = ?`, kindExact)
	case kindPrefix != "":
		rows, err = m.db.QueryContext(ctx, `SELECT id, vector FROM embeddings WHERE kind LIKE ?`, kindPrefix+"%")
	default:
		rows, err = m.db.QueryContext(ctx, `SELECT id, vector FROM embeddings`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []struct {
		id  string
		vec []float32
	}
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		out = append(out, struct {
			id  string
			vec []float32
		}{id, decodeVector(blob)})
	}
	return out, rows.Err()
}

func (m *localMirror) existingKeys(ctx context.Context) (map[[2]string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.db.QueryContext(ctx, `SELECT kind, id FROM embeddings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[[2]string]bool)
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, err
		}
		out[[2]string{kind, id}] = true
	}
	return out, rows.Err()
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func topkFromMirror(ctx context.Context, m *localMirror, kindExact, kindPrefix string, query []float32, limit int) ([]Match, error) {
	candidates, err := m.load(ctx, kindExact, kindPrefix)
	if err != nil {
		return nil, err
	}
	scored := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, Match{ID: c.id, Score: cosine(query, c.vec)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// localIndex is the embedded-only Index implementation (no remote backend
// configured).
type localIndex struct {
	mirror *localMirror
	closer func() error
}

// NewLocal opens (or creates) the local SQLite blob mirror at dbPath and
// returns an Index with no remote backend.
func NewLocal(db *sql.DB) (Index, error) {
	m, err := openMirror(db)
	if err != nil {
		return nil, err
	}
	return &localIndex{mirror: m, closer: func() error { return nil }}, nil
}

func (l *localIndex) Upsert(ctx context.Context, kind, id string, vector []float32) error {
	return l.mirror.upsert(ctx, kind, id, vector)
}
func (l *localIndex) Delete(ctx context.Context, kind, id string) error {
	return l.mirror.delete(ctx, kind, id)
}
func (l *localIndex) DeleteBatch(ctx context.Context, kind string, ids []string) error {
	return l.mirror.deleteBatch(ctx, kind, ids)
}
func (l *localIndex) Topk(ctx context.Context, kindExact, kindPrefix string, query []float32, limit int) ([]Match, error) {
	return topkFromMirror(ctx, l.mirror, kindExact, kindPrefix, query, limit)
}
func (l *localIndex) ExistingKeys(ctx context.Context) (map[[2]string]bool, error) {
	return l.mirror.existingKeys(ctx)
}
func (l *localIndex) Close() error { return l.closer() }

// logUnavailable logs a degraded-mode warning exactly once per call site;
// the caller is expected to continue with the local-mirror answer.
func logUnavailable(op string, err error) {
	slog.Warn("vectorindex: remote backend unavailable, falling back to local mirror", "op", op, "error", err)
}
