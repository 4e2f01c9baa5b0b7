package httpapi

import (
	"net/http"
	"strconv"

	"github.com/sirouk/clawboard/internal/apierr"
	"github.com/sirouk/clawboard/internal/model"
)

func (s *Server) handleClassifierPending(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	lookback := 80
	if v := r.URL.Query().Get("lookback"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lookback = n
		}
	}
	count, err := s.store.CountPendingClassification(r.Context())
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to count pending logs", err))
		return
	}
	sessions, err := s.store.ListPendingClassificationSessions(r.Context(), lookback)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to list pending sessions", err))
		return
	}
	writeJSON(w, map[string]any{"pendingCount": count, "pendingSessions": sessions})
}

func (s *Server) handleGetSessionRouting(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	key := r.URL.Query().Get("sessionKey")
	if key == "" {
		writeErr(w, apierr.New(apierr.KindBadRequest, "sessionKey is required"))
		return
	}
	mem, err := s.store.GetSessionRoutingMemory(r.Context(), key)
	if err != nil {
		writeErr(w, mapStoreErr(err, "sessionRoutingMemory", key))
		return
	}
	writeJSON(w, mem)
}

func (s *Server) handlePostSessionRouting(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		SessionKey string               `json:"sessionKey"`
		Decision   model.RoutingDecision `json:"decision"`
		MaxItems   int                  `json:"maxItems,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.SessionKey == "" {
		writeErr(w, apierr.New(apierr.KindBadRequest, "sessionKey is required"))
		return
	}
	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = 8
	}
	if req.Decision.Ts == "" {
		req.Decision.Ts = nowISO()
	}
	if err := s.store.AppendSessionRoutingDecision(r.Context(), req.SessionKey, req.Decision, maxItems); err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to append routing decision", err))
		return
	}
	mem, err := s.store.GetSessionRoutingMemory(r.Context(), req.SessionKey)
	writeResult(w, mem, err)
}

// handleClassifierReplay sets one or more logs back to pending classification
// (outside the classifier's own terminal-status rule, per §8's "a log never
// returns to pending except via admin.replay").
func (s *Server) handleClassifierReplay(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		LogIDs []string `json:"logIds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if len(req.LogIDs) == 0 {
		writeErr(w, apierr.New(apierr.KindBadRequest, "logIds is required"))
		return
	}
	var replayed []string
	for _, id := range req.LogIDs {
		patch := map[string]any{
			"classificationStatus":   string(model.ClassificationPending),
			"classificationError":    nil,
			"classificationAttempts": 0,
		}
		if _, err := s.ingest.Patch(r.Context(), id, patch); err == nil {
			replayed = append(replayed, id)
		}
	}
	writeJSON(w, map[string]any{"replayed": replayed})
}
