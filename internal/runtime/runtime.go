// Package runtime composes the whole service process: Store, EventHub,
// IngestService, HybridSearch, VectorIndex, Classifier, SnoozeWorker, the
// ingest queue worker, the reindex consumer, and the Gateway Dispatch/
// orchestration workers, then supervises every background worker together
// behind one context. Grounded on the teacher's single-process composition
// (cmd/gateway wiring one Hub/Store/set of workers), generalized to
// Clawboard's worker roster and switched to golang.org/x/sync/errgroup for
// supervised shutdown.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/sirouk/clawboard/internal/bus"
	"github.com/sirouk/clawboard/internal/classifier"
	"github.com/sirouk/clawboard/internal/config"
	"github.com/sirouk/clawboard/internal/gatewaydispatch"
	"github.com/sirouk/clawboard/internal/httpapi"
	"github.com/sirouk/clawboard/internal/ingest"
	"github.com/sirouk/clawboard/internal/ingest/queueworker"
	"github.com/sirouk/clawboard/internal/orchestration"
	"github.com/sirouk/clawboard/internal/providers"
	"github.com/sirouk/clawboard/internal/reindex"
	"github.com/sirouk/clawboard/internal/search"
	"github.com/sirouk/clawboard/internal/snooze"
	"github.com/sirouk/clawboard/internal/store"
	"github.com/sirouk/clawboard/internal/store/sqlite"
	"github.com/sirouk/clawboard/internal/telemetry"
	"github.com/sirouk/clawboard/internal/vectorindex"
)

// Runtime holds every composed component, so cmd/serve.go and tests can
// reach into it without re-deriving wiring.
type Runtime struct {
	Config    *config.Config
	Store     store.Store
	Hub       *bus.Hub
	Ingest    *ingest.Service
	Vectors   vectorindex.Index
	Search    *search.HybridSearch
	Classify  *classifier.Worker
	ReindexQ  *reindex.Queue
	Server    *httpapi.Server
	Telemetry *telemetry.Provider

	Orchestration *orchestration.Tracker

	snoozeWorker   *snooze.Worker
	queueWorker    *queueworker.Worker
	reindexConsume *reindex.Consumer
	dispatchWorker *gatewaydispatch.Worker
	historySync    *gatewaydispatch.HistorySyncWorker
	orchWorker     *orchestration.Worker
}

// New wires every component from cfg. The returned Runtime is ready for
// Run, which starts the HTTP server and every background worker.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	st, err := openStore(cfg.Store.URL)
	if err != nil {
		return nil, fmt.Errorf("runtime: open store: %w", err)
	}

	tp, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("runtime: init telemetry: %w", err)
	}

	hub := bus.New(orDefault(cfg.Event.Buffer, 500), orDefault(cfg.Event.SubscriberQueue, 500))
	reindexQ := reindex.New(cfg.ReindexQueuePath)
	ingestSvc := ingest.New(st, hub, reindexQ, ingest.Options{})

	vectors, err := openVectorIndex(cfg)
	if err != nil {
		return nil, fmt.Errorf("runtime: open vector index: %w", err)
	}

	var embedder search.Embedder
	if cfg.Classifier.LLMBaseURL != "" {
		embedder = classifier.NewHTTPEmbedder(cfg.Classifier.LLMBaseURL, cfg.Classifier.LLMToken, cfg.Classifier.EmbedModel)
	}

	hybrid := search.New(search.Config{
		BM25K1:              cfg.Search.BM25K1,
		BM25B:               cfg.Search.BM25B,
		RRFK:                cfg.Search.RRFK,
		RerankVectorWeight:  cfg.Search.RerankVectorWeight,
		RerankLexicalWeight: cfg.Search.RerankLexicalWeight,
	}, vectors, embedder, nil)

	var provider providers.Provider
	if cfg.Classifier.LLMBaseURL != "" && cfg.Classifier.LLMToken != "" {
		provider = providers.NewOpenAIProvider("classifier", cfg.Classifier.LLMToken, cfg.Classifier.LLMBaseURL, cfg.Classifier.LLMModel)
	}

	classify := classifier.New(st, ingestSvc, hybrid, provider, cfg.Classifier.LLMModel, classifier.Config{
		IntervalSeconds:        cfg.Classifier.IntervalSeconds,
		MaxAttempts:            cfg.Classifier.MaxAttempts,
		WindowSize:             cfg.Classifier.WindowSize,
		LookbackLogs:           cfg.Classifier.LookbackLogs,
		TopicSimThreshold:      cfg.Classifier.TopicSimThreshold,
		TaskSimThreshold:       cfg.Classifier.TaskSimThreshold,
		LockPath:               cfg.Classifier.LockPath,
		SessionRoutingMaxItems: cfg.Classifier.SessionRoutingMaxItems,
	})

	snoozeW := snooze.New(st, hub, time.Duration(orDefault(cfg.Snooze.PollSeconds, 30))*time.Second)

	var queueW *queueworker.Worker
	if cfg.Ingest.QueueMode {
		queueW = queueworker.New(st, ingestSvc, time.Duration(orDefault(cfg.Ingest.PollSeconds, 2))*time.Second, orDefault(cfg.Ingest.Batch, 50))
	}

	reindexConsumer := reindex.NewConsumer(reindexQ, vectors, embedder, 10*time.Second, 200)

	orchTracker := orchestration.New(st)
	ingestSvc.SetOrchestrationTracker(orchTracker)
	orchWorker := orchestration.NewWorker(orchTracker, 30*time.Second)
	dispatchWorker := gatewaydispatch.New(st, ingestSvc, cfg.GatewayDispatch, 3*time.Second, 10)
	historySync := gatewaydispatch.NewHistorySync(st, ingestSvc, cfg.GatewayDispatch, 5*time.Minute)

	srv := httpapi.New(st, cfg, hub, ingestSvc, hybrid, vectors, reindexQ, classify)
	srv.SetOrchestrationTracker(orchTracker)

	return &Runtime{
		Config:         cfg,
		Store:          st,
		Hub:            hub,
		Ingest:         ingestSvc,
		Vectors:        vectors,
		Search:         hybrid,
		Classify:       classify,
		ReindexQ:       reindexQ,
		Server:         srv,
		Telemetry:      tp,
		Orchestration:  orchTracker,
		snoozeWorker:   snoozeW,
		queueWorker:    queueW,
		reindexConsume: reindexConsumer,
		dispatchWorker: dispatchWorker,
		historySync:    historySync,
		orchWorker:     orchWorker,
	}, nil
}

// Run starts the HTTP server and every background worker, blocking until
// ctx is cancelled or one of them returns a fatal error. Grounded on the
// teacher's errgroup-supervised multi-worker shutdown shape.
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", r.Config.HTTP.Host, r.Config.HTTP.Port),
		Handler: r.Server.Handler(),
	}

	g.Go(func() error {
		slog.Info("http server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error { r.snoozeWorker.Run(gctx); return nil })
	g.Go(func() error { r.Classify.Run(gctx); return nil })
	g.Go(func() error { r.reindexConsume.Run(gctx); return nil })
	g.Go(func() error { r.dispatchWorker.Run(gctx); return nil })
	g.Go(func() error { r.historySync.Run(gctx); return nil })
	g.Go(func() error { r.orchWorker.Run(gctx); return nil })
	if r.queueWorker != nil {
		g.Go(func() error { r.queueWorker.Run(gctx); return nil })
	}

	err := g.Wait()
	if r.Telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Telemetry.Shutdown(shutdownCtx)
	}
	if cerr := r.Store.Close(); cerr != nil {
		slog.Warn("runtime: store close failed", "error", cerr)
	}
	return err
}

func openStore(url string) (store.Store, error) {
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("runtime: mkdir store dir: %w", err)
		}
		return sqlite.Open(path)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return nil, fmt.Errorf("runtime: postgres store not built in this milestone, use a sqlite:// URL (see DESIGN.md)")
	default:
		return nil, fmt.Errorf("runtime: unrecognized store URL scheme %q", url)
	}
}

// openVectorIndex opens the vector mirror's own sqlite file at
// cfg.Vector.DBPath, separate from the main store's database, matching the
// original Python service's split between clawboard.db and embeddings.db.
// sqlite.Store.DB() exists for the narrower case of deployments that want
// to collapse both onto one file by pointing Vector.DBPath at Store.URL's
// path directly; it is not used by this default wiring.
func openVectorIndex(cfg *config.Config) (vectorindex.Index, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Vector.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("runtime: mkdir vector db dir: %w", err)
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", cfg.Vector.DBPath))
	if err != nil {
		return nil, fmt.Errorf("runtime: open vector db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if cfg.Vector.QdrantURL == "" {
		return vectorindex.NewLocal(db)
	}
	timeout := time.Duration(orDefault(cfg.Vector.QdrantTimeoutSec, 10)) * time.Second
	return vectorindex.NewQdrant(db, cfg.Vector.QdrantURL, cfg.Vector.QdrantAPIKey, cfg.Vector.QdrantCollection, cfg.Vector.QdrantDim, timeout)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
