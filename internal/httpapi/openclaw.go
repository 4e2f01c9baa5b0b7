package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/sirouk/clawboard/internal/apierr"
	"github.com/sirouk/clawboard/internal/ingest"
	"github.com/sirouk/clawboard/internal/model"
)

type openclawChatRequest struct {
	SessionKey    string   `json:"sessionKey"`
	AgentID       string   `json:"agentId"`
	Message       string   `json:"message"`
	SpaceID       string   `json:"spaceId,omitempty"`
	TopicID       *string  `json:"topicId,omitempty"`
	TaskID        *string  `json:"taskId,omitempty"`
	AttachmentIDs []string `json:"attachmentIds,omitempty"`
}

// handleOpenclawChat persists the user's message as a LogEntry first -- per
// §6/§9, a dispatch that can't be journaled must never reach the gateway --
// then enqueues a durable ChatDispatch envelope for gatewaydispatch's worker
// to relay over the connect/chat RPC protocol.
func (s *Server) handleOpenclawChat(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req openclawChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.SessionKey == "" || req.Message == "" {
		writeErr(w, apierr.New(apierr.KindBadRequest, "sessionKey and message are required"))
		return
	}

	entry, err := s.ingest.Append(r.Context(), ingest.AppendPayload{
		SpaceID: spaceIDOrDefault(req.SpaceID), TopicID: req.TopicID, TaskID: req.TaskID,
		Type: model.LogConversation, Content: req.Message, AgentLabel: strPtr("user"),
		Source: &model.LogSource{SessionKey: req.SessionKey},
	}, "")
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to persist chat message", err))
		return
	}

	requestID := uuid.NewString()
	now := nowISO()
	dispatch := &model.ChatDispatch{
		ID: 0, RequestID: requestID, SessionKey: req.SessionKey, AgentID: req.AgentID,
		SentAt: now, Message: req.Message, AttachmentIDs: req.AttachmentIDs,
		Status: model.DispatchPending, NextAttemptAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.store.EnqueueChatDispatch(r.Context(), dispatch); err != nil {
		// The user's message is already journaled; surface a system log so
		// the UI shows the fault instead of silently losing the dispatch.
		failMsg := "failed to enqueue chat dispatch: " + err.Error()
		_, _ = s.ingest.Append(r.Context(), ingest.AppendPayload{
			SpaceID: entry.SpaceID, TopicID: entry.TopicID, TaskID: entry.TaskID,
			Type: model.LogSystem, Content: failMsg, Source: &model.LogSource{SessionKey: req.SessionKey},
		}, "")
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to enqueue chat dispatch", err))
		return
	}

	if s.orch != nil {
		if err := s.orch.StartRun(r.Context(), requestID, req.SessionKey); err != nil {
			slog.Warn("openclaw: orchestration start run failed", "requestId", requestID, "error", err)
		}
	}

	writeJSON(w, map[string]any{"requestId": requestID, "logId": entry.ID})
}

func (s *Server) handleOpenclawChatCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		RequestID string `json:"requestId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.RequestID == "" {
		writeErr(w, apierr.New(apierr.KindBadRequest, "requestId is required"))
		return
	}
	dispatch, err := s.store.GetChatDispatchByRequestID(r.Context(), req.RequestID)
	if err != nil {
		writeErr(w, mapStoreErr(err, "chatDispatch", req.RequestID))
		return
	}
	reason := "cancelled by user"
	if err := s.store.UpdateChatDispatchStatus(r.Context(), dispatch.ID, model.DispatchFailed, nowISO(), &reason); err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to cancel dispatch", err))
		return
	}
	if s.orch != nil {
		if err := s.orch.Cancel(r.Context(), req.RequestID); err != nil {
			slog.Warn("openclaw: orchestration cancel failed", "requestId", req.RequestID, "error", err)
		}
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func strPtr(s string) *string { return &s }
