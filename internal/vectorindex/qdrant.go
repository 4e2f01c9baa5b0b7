package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// qdrantIndex mirrors every write to a remote Qdrant collection while
// keeping the local SQLite mirror as the read-through fallback: Topk tries
// the remote collection first and falls back to the local cosine scan on
// any remote error, per SPEC_FULL §4.6 ("dependency.embedding_unavailable
// downgrades search mode... not when only the remote mirror is
// unreachable").
type qdrantIndex struct {
	mirror     *localMirror
	client     *qdrant.Client
	collection string
	timeout    time.Duration
}

// NewQdrant wraps db's local mirror with a remote Qdrant backend at
// rawURL (e.g. "http://localhost:6334"), using collection (created with
// the given vector dimension if absent). db is the same embedded sqlite
// handle the Store backend uses; the local mirror lives in its own table
// there so the remote backend always has a same-process fallback.
func NewQdrant(db *sql.DB, rawURL, apiKey, collection string, dim int, timeout time.Duration) (Index, error) {
	mirror, err := openMirror(db)
	if err != nil {
		return nil, err
	}
	host, port, err := parseQdrantAddr(rawURL)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: parse QDRANT_URL: %w", err)
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: apiKey != "",
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: qdrant client: %w", err)
	}

	idx := &qdrantIndex{mirror: mirror, client: client, collection: collection, timeout: timeout}
	idx.ensureCollection(dim)
	return idx, nil
}

func parseQdrantAddr(rawURL string) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, err
	}
	host := u.Hostname()
	if host == "" {
		host = rawURL
	}
	portStr := u.Port()
	if portStr == "" {
		return host, 6334, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func (q *qdrantIndex) ensureCollection(dim int) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		logUnavailable("ensure_collection", err)
		return
	}
	if exists {
		return
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		logUnavailable("create_collection", err)
	}
}

func (q *qdrantIndex) Upsert(ctx context.Context, kind, id string, vector []float32) error {
	if err := q.mirror.upsert(ctx, kind, id, vector); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	pointID := StablePointID(kind, id)
	_, err := q.client.Upsert(cctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(pointID.String()),
				Vectors: qdrant.NewVectors(vector...),
				Payload: qdrant.NewValueMap(map[string]any{"kind": kind, "id": id}),
			},
		},
	})
	if err != nil {
		logUnavailable("upsert", err)
	}
	return nil
}

func (q *qdrantIndex) Delete(ctx context.Context, kind, id string) error {
	return q.DeleteBatch(ctx, kind, []string{id})
}

func (q *qdrantIndex) DeleteBatch(ctx context.Context, kind string, ids []string) error {
	if err := q.mirror.deleteBatch(ctx, kind, ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(StablePointID(kind, id).String()))
	}
	// Batch deletes in chunks of 256 to bound request size on large
	// reconciliation passes.
	const batchSize = 256
	for start := 0; start < len(pointIDs); start += batchSize {
		end := start + batchSize
		if end > len(pointIDs) {
			end = len(pointIDs)
		}
		_, err := q.client.Delete(cctx, &qdrant.DeletePoints{
			CollectionName: q.collection,
			Points:         qdrant.NewPointsSelector(pointIDs[start:end]...),
		})
		if err != nil {
			logUnavailable("delete", err)
			break
		}
	}
	return nil
}

func (q *qdrantIndex) Topk(ctx context.Context, kindExact, kindPrefix string, query []float32, limit int) ([]Match, error) {
	cctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	if limit <= 0 {
		limit = 40
	}
	result, err := q.client.Query(cctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(limit * 2)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		logUnavailable("topk", err)
		slog.Debug("vectorindex: falling back to local mirror topk", "kindExact", kindExact, "kindPrefix", kindPrefix)
		return topkFromMirror(ctx, q.mirror, kindExact, kindPrefix, query, limit)
	}

	out := make([]Match, 0, len(result))
	for _, pt := range result {
		id := ""
		if v, ok := pt.Payload["id"]; ok {
			id = v.GetStringValue()
		}
		kind := ""
		if v, ok := pt.Payload["kind"]; ok {
			kind = v.GetStringValue()
		}
		if kindExact != "" && kind != kindExact {
			continue
		}
		if kindPrefix != "" && len(kind) >= len(kindPrefix) && kind[:len(kindPrefix)] != kindPrefix {
			continue
		}
		out = append(out, Match{ID: id, Score: float64(pt.Score)})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (q *qdrantIndex) ExistingKeys(ctx context.Context) (map[[2]string]bool, error) {
	return q.mirror.existingKeys(ctx)
}

func (q *qdrantIndex) Close() error { return nil }
