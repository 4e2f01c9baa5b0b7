package httpapi

import (
	"net/http"

	"github.com/sirouk/clawboard/internal/apierr"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/reindex"
)

func (s *Server) enqueueReindexUpsert(kind, id, topicID, text string) error {
	return s.reindexQ.Enqueue(reindex.Request{
		Op: reindex.OpUpsert, Kind: kind, ID: id, TopicID: topicID, Text: text, RequestedAt: nowISO(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	instance, err := s.store.GetInstanceConfig(r.Context())
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to load instance config", err))
		return
	}
	writeJSON(w, map[string]any{
		"instance":        instance,
		"tokenConfigured": s.isTokenConfigured(),
		"tokenRequired":   true,
	})
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req model.InstanceConfig
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	req.UpdatedAt = nowISO()
	if err := s.store.SetInstanceConfig(r.Context(), &req); err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to save instance config", err))
		return
	}
	writeJSON(w, req)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	pending, err := s.store.CountPendingClassification(r.Context())
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to count pending logs", err))
		return
	}
	vectorCount := -1
	if s.vectors != nil {
		if keys, err := s.vectors.ExistingKeys(r.Context()); err == nil {
			vectorCount = len(keys)
		}
	}
	writeJSON(w, map[string]any{
		"pendingClassification": pending,
		"oldestRetainedEventId": s.hub.OldestID(),
		"vectorEntryCount":      vectorCount,
	})
}

// handleStartFreshReplay clears derived routing state and marks every log in
// the space pending again, without deleting the logs themselves.
func (s *Server) handleStartFreshReplay(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		SpaceID string `json:"spaceId"`
	}
	_ = decodeJSON(r, &req)
	count, err := s.store.MarkLogsReplayPending(r.Context(), spaceIDOrDefault(req.SpaceID))
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to reset logs for replay", err))
		return
	}
	writeJSON(w, map[string]any{"markedPending": count})
}

// handleRunClassifierNow lets an operator force one classification pass
// instead of waiting out the configured poll interval, e.g. right after
// clearing a stuck session via /api/classifier/replay.
func (s *Server) handleRunClassifierNow(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	if s.classify == nil {
		writeErr(w, apierr.New(apierr.KindBadRequest, "classifier not configured"))
		return
	}
	s.classify.TriggerCycle(r.Context())
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleReindexEnqueue(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		Kind    string `json:"kind"`
		ID      string `json:"id"`
		TopicID string `json:"topicId,omitempty"`
		Text    string `json:"text,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Kind == "" || req.ID == "" {
		writeErr(w, apierr.New(apierr.KindBadRequest, "kind and id are required"))
		return
	}
	if s.reindexQ == nil {
		writeErr(w, apierr.New(apierr.KindBadRequest, "reindex queue not configured"))
		return
	}
	if err := s.enqueueReindexUpsert(req.Kind, req.ID, req.TopicID, req.Text); err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to enqueue reindex request", err))
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}
