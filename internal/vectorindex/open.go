package vectorindex

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Options configures which backend Open constructs.
type Options struct {
	DBPath           string
	QdrantURL        string
	QdrantCollection string
	QdrantAPIKey     string
	QdrantDim        int
	QdrantTimeoutSec int
}

// Open opens the local SQLite mirror at opts.DBPath and, when opts.QdrantURL
// is set, wraps it with the remote Qdrant backend. The returned Index always
// degrades to the local mirror on remote faults.
func Open(opts Options) (Index, error) {
	path := opts.DBPath
	if path == "" {
		path = "./data/classifier_embeddings.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("vectorindex: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("vectorindex: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if opts.QdrantURL == "" {
		return NewLocal(db)
	}

	timeout := time.Duration(opts.QdrantTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	dim := opts.QdrantDim
	if dim <= 0 {
		dim = 384
	}
	collection := opts.QdrantCollection
	if collection == "" {
		collection = "clawboard"
	}
	return NewQdrant(db, opts.QdrantURL, opts.QdrantAPIKey, collection, dim, timeout)
}
