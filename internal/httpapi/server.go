// Package httpapi implements Clawboard's HTTP surface: Topic/Task/Log CRUD,
// ingest, hybrid search, the graph builder, incremental sync, SSE event
// streaming, spaces, Gateway Dispatch chat routing, reindex, metrics, and
// the supplemental attachment/draft endpoints. Grounded on SPEC_FULL §6;
// handlers never write the response directly on an error path, they pass
// the error to writeErr, which goes through writeResult and translates
// apierr.Error via errors.As, the same "typed error, one translation point"
// shape the teacher's gateway handlers use for their own JSON-RPC envelope.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sirouk/clawboard/internal/apierr"
	"github.com/sirouk/clawboard/internal/bus"
	"github.com/sirouk/clawboard/internal/classifier"
	"github.com/sirouk/clawboard/internal/config"
	"github.com/sirouk/clawboard/internal/ingest"
	"github.com/sirouk/clawboard/internal/orchestration"
	"github.com/sirouk/clawboard/internal/reindex"
	"github.com/sirouk/clawboard/internal/search"
	"github.com/sirouk/clawboard/internal/store"
	"github.com/sirouk/clawboard/internal/vectorindex"
)

var (
	errUnauthorized    = apierr.New(apierr.KindUnauthorized, "missing or invalid token")
	errAuthUnavailable = apierr.New(apierr.KindAuthUnavailable, "no token configured for this deployment")
)

// Server holds every dependency the handlers close over.
type Server struct {
	store    store.Store
	cfg      *config.Config
	hub      *bus.Hub
	ingest   *ingest.Service
	search   *search.HybridSearch
	vectors  vectorindex.Index
	reindexQ *reindex.Queue
	classify *classifier.Worker
	orch     *orchestration.Tracker
	mux      *http.ServeMux
}

// New constructs a Server with every background component already built by
// cmd/serve.go; New itself only registers routes.
func New(st store.Store, cfg *config.Config, hub *bus.Hub, ingestSvc *ingest.Service, hybrid *search.HybridSearch, vectors vectorindex.Index, reindexQ *reindex.Queue, classify *classifier.Worker) *Server {
	s := &Server{store: st, cfg: cfg, hub: hub, ingest: ingestSvc, search: hybrid, vectors: vectors, reindexQ: reindexQ, classify: classify, mux: http.NewServeMux()}
	s.routes()
	return s
}

// SetOrchestrationTracker wires Gateway Dispatch run tracking into the chat
// handlers. Optional: left nil, handleOpenclawChat/Cancel skip orchestration
// bookkeeping entirely (e.g. in tests that don't need it).
func (s *Server) SetOrchestrationTracker(t *orchestration.Tracker) {
	s.orch = t
}

func (s *Server) Handler() http.Handler {
	return s.withCORS(s.mux)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.cfg.RLock()
		origins := []string(s.cfg.HTTP.CORSOrigins)
		s.cfg.RUnlock()
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origin, origins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Idempotency-Key, X-Token")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// writeJSON writes v as a 200 JSON body.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: encode response failed", "error", err)
	}
}

// writeResult is the single error-to-envelope translation point every
// handler funnels through: a non-nil error is classified via errors.As into
// an apierr.Error and rendered as {"detail": ...}; anything else is a 500.
func writeResult(w http.ResponseWriter, v any, err error) {
	if err == nil {
		writeJSON(w, v)
		return
	}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.Status())
		_ = json.NewEncoder(w).Encode(map[string]any{"detail": apiErr.Detail, "kind": string(apiErr.Kind)})
		return
	}
	slog.Error("httpapi: unhandled error", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]any{"detail": "internal error"})
}

func writeErr(w http.ResponseWriter, err error) {
	writeResult(w, nil, err)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apierr.Wrap(apierr.KindBadRequest, "invalid JSON body", err)
	}
	return nil
}
