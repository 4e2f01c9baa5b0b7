package httpapi

import (
	"net/http"
	"strconv"

	"github.com/sirouk/clawboard/internal/apierr"
	"github.com/sirouk/clawboard/internal/ingest"
	"github.com/sirouk/clawboard/internal/ingest/queueworker"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
)

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	q := r.URL.Query()
	f := store.LogFilter{
		SpaceID:    spaceIDOrDefault(q.Get("spaceId")),
		SessionKey: q.Get("sessionKey"),
		Since:      q.Get("since"),
	}
	if v := q.Get("topicId"); v != "" {
		f.TopicID = &v
	}
	if v := q.Get("taskId"); v != "" {
		f.TaskID = &v
	}
	if v := q.Get("type"); v != "" {
		lt := model.LogType(v)
		f.Type = &lt
	}
	if v := q.Get("classificationStatus"); v != "" {
		cs := model.ClassificationStatus(v)
		f.ClassificationStatus = &cs
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}
	rows, err := s.store.ListLogs(r.Context(), f)
	writeResult(w, rows, err)
}

type appendLogRequest struct {
	SpaceID        string                `json:"spaceId"`
	TopicID        *string               `json:"topicId,omitempty"`
	TaskID         *string               `json:"taskId,omitempty"`
	RelatedLogID   *string               `json:"relatedLogId,omitempty"`
	Type           model.LogType         `json:"type"`
	Content        string                `json:"content"`
	Summary        *string               `json:"summary,omitempty"`
	Raw            *string               `json:"raw,omitempty"`
	AgentID        *string               `json:"agentId,omitempty"`
	AgentLabel     *string               `json:"agentLabel,omitempty"`
	Source         *model.LogSource      `json:"source,omitempty"`
	Attachments    []model.AttachmentRef `json:"attachments,omitempty"`
	IdempotencyKey *string               `json:"idempotencyKey,omitempty"`
}

func (req appendLogRequest) toPayload() ingest.AppendPayload {
	return ingest.AppendPayload{
		SpaceID: spaceIDOrDefault(req.SpaceID), TopicID: req.TopicID, TaskID: req.TaskID,
		RelatedLogID: req.RelatedLogID, Type: req.Type, Content: req.Content, Summary: req.Summary,
		Raw: req.Raw, AgentID: req.AgentID, AgentLabel: req.AgentLabel, Source: req.Source,
		Attachments: req.Attachments, IdempotencyKey: req.IdempotencyKey,
	}
}

func (s *Server) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req appendLogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Type == "" || req.Content == "" {
		writeErr(w, apierr.New(apierr.KindBadRequest, "type and content are required"))
		return
	}
	entry, err := s.ingest.Append(r.Context(), req.toPayload(), r.Header.Get("X-Idempotency-Key"))
	writeResult(w, entry, err)
}

// handleIngest is the out-of-band ingestion endpoint: when IngestConfig's
// queue mode is enabled the payload is durably enqueued and replayed by
// IngestQueueWorker; otherwise it behaves exactly like POST /api/log.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req appendLogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Type == "" || req.Content == "" {
		writeErr(w, apierr.New(apierr.KindBadRequest, "type and content are required"))
		return
	}
	header := r.Header.Get("X-Idempotency-Key")

	s.cfg.RLock()
	queueMode := s.cfg.Ingest.QueueMode
	s.cfg.RUnlock()

	if queueMode {
		if err := queueworker.Enqueue(r.Context(), s.store, req.toPayload(), header); err != nil {
			writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to enqueue ingest request", err))
			return
		}
		writeJSON(w, map[string]string{"status": "queued"})
		return
	}
	entry, err := s.ingest.Append(r.Context(), req.toPayload(), header)
	writeResult(w, entry, err)
}

func (s *Server) handlePatchLog(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	var patch map[string]any
	if err := decodeJSON(r, &patch); err != nil {
		writeErr(w, err)
		return
	}
	entry, err := s.ingest.Patch(r.Context(), id, patch)
	if err != nil {
		writeErr(w, mapStoreErr(err, "log", id))
		return
	}
	writeJSON(w, entry)
}

func (s *Server) handleDeleteLog(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	if _, err := s.ingest.Delete(r.Context(), id); err != nil {
		writeErr(w, mapStoreErr(err, "log", id))
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}
