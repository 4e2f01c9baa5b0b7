package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/sirouk/clawboard/internal/apierr"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
	"github.com/sirouk/clawboard/pkg/protocol"
)

func spaceIDOrDefault(v string) string {
	if v == "" {
		return model.DefaultSpaceID
	}
	return v
}

func nowISO() string { return model.NowISO() }

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	rows, err := s.store.ListTopics(r.Context(), spaceIDOrDefault(r.URL.Query().Get("spaceId")))
	writeResult(w, rows, err)
}

type createTopicRequest struct {
	SpaceID     string   `json:"spaceId"`
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ParentID    *string  `json:"parentId,omitempty"`
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req createTopicRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Name == "" {
		writeErr(w, apierr.New(apierr.KindBadRequest, "name is required"))
		return
	}
	priority := model.PriorityMedium
	if req.Priority != "" {
		priority = model.Priority(req.Priority)
	}
	now := nowISO()
	t := &model.Topic{
		ID: uuid.NewString(), SpaceID: spaceIDOrDefault(req.SpaceID), Name: req.Name,
		CreatedBy: model.CreatedByUser, Status: model.TopicActive, Priority: priority,
		Description: req.Description, Tags: req.Tags, ParentID: req.ParentID,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.store.CreateTopic(r.Context(), t); err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to create topic", err))
		return
	}
	s.hub.Publish(protocol.EventTopicUpserted, t, t.UpdatedAt)
	writeJSON(w, t)
}

func (s *Server) handlePatchTopic(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	t, err := s.store.GetTopic(r.Context(), id)
	if err != nil {
		writeErr(w, mapStoreErr(err, "topic", id))
		return
	}
	var patch struct {
		Name         *string   `json:"name"`
		Description  *string   `json:"description"`
		Priority     *string   `json:"priority"`
		Status       *string   `json:"status"`
		Tags         *[]string `json:"tags"`
		Pinned       *bool     `json:"pinned"`
		SnoozedUntil *string   `json:"snoozedUntil"`
		Color        *string   `json:"color"`
	}
	if err := decodeJSON(r, &patch); err != nil {
		writeErr(w, err)
		return
	}
	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.Description != nil {
		t.Description = patch.Description
	}
	if patch.Priority != nil {
		t.Priority = model.Priority(*patch.Priority)
	}
	if patch.Status != nil {
		t.Status = model.TopicStatus(*patch.Status)
	}
	if patch.Tags != nil {
		t.Tags = *patch.Tags
	}
	if patch.Pinned != nil {
		t.Pinned = *patch.Pinned
	}
	if patch.SnoozedUntil != nil {
		t.SnoozedUntil = patch.SnoozedUntil
	}
	if patch.Color != nil {
		t.Color = patch.Color
	}
	t.UpdatedAt = nowISO()
	if err := s.store.UpdateTopic(r.Context(), t); err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to update topic", err))
		return
	}
	s.hub.Publish(protocol.EventTopicUpserted, t, t.UpdatedAt)
	writeJSON(w, t)
}

func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	if err := s.store.DeleteTopic(r.Context(), id); err != nil {
		writeErr(w, mapStoreErr(err, "topic", id))
		return
	}
	s.hub.Publish(protocol.EventTopicDeleted, map[string]string{"id": id}, nowISO())
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleReorderTopics(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		SpaceID    string   `json:"spaceId"`
		OrderedIDs []string `json:"orderedIds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.store.ReorderTopics(r.Context(), spaceIDOrDefault(req.SpaceID), req.OrderedIDs); err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to reorder topics", err))
		return
	}
	s.hub.Publish(protocol.EventTopicsReordered, req, nowISO())
	writeJSON(w, map[string]bool{"ok": true})
}

func mapStoreErr(err error, resource, id string) error {
	if err == store.ErrNotFound {
		return apierr.NotFound(resource, id)
	}
	return apierr.Wrap(apierr.KindBadRequest, "store error", err)
}
