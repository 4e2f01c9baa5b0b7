package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/sirouk/clawboard/internal/apierr"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/pkg/protocol"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var topicID *string
	if v := r.URL.Query().Get("topicId"); v != "" {
		topicID = &v
	}
	rows, err := s.store.ListTasks(r.Context(), spaceIDOrDefault(r.URL.Query().Get("spaceId")), topicID)
	writeResult(w, rows, err)
}

type createTaskRequest struct {
	SpaceID  string  `json:"spaceId"`
	TopicID  *string `json:"topicId,omitempty"`
	Title    string  `json:"title"`
	Priority string  `json:"priority,omitempty"`
	DueDate  *string `json:"dueDate,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Title == "" {
		writeErr(w, apierr.New(apierr.KindBadRequest, "title is required"))
		return
	}
	priority := model.PriorityMedium
	if req.Priority != "" {
		priority = model.Priority(req.Priority)
	}
	now := nowISO()
	t := &model.Task{
		ID: uuid.NewString(), SpaceID: spaceIDOrDefault(req.SpaceID), TopicID: req.TopicID,
		Title: req.Title, Status: model.TaskTodo, Priority: priority, DueDate: req.DueDate,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.store.CreateTask(r.Context(), t); err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to create task", err))
		return
	}
	s.hub.Publish(protocol.EventTaskUpserted, t, t.UpdatedAt)
	writeJSON(w, t)
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeErr(w, mapStoreErr(err, "task", id))
		return
	}
	var patch struct {
		Title        *string `json:"title"`
		TopicID      *string `json:"topicId"`
		Status       *string `json:"status"`
		Priority     *string `json:"priority"`
		Pinned       *bool   `json:"pinned"`
		DueDate      *string `json:"dueDate"`
		SnoozedUntil *string `json:"snoozedUntil"`
		Color        *string `json:"color"`
	}
	if err := decodeJSON(r, &patch); err != nil {
		writeErr(w, err)
		return
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.TopicID != nil {
		t.TopicID = patch.TopicID
	}
	if patch.Status != nil {
		t.Status = model.TaskStatus(*patch.Status)
	}
	if patch.Priority != nil {
		t.Priority = model.Priority(*patch.Priority)
	}
	if patch.Pinned != nil {
		t.Pinned = *patch.Pinned
	}
	if patch.DueDate != nil {
		t.DueDate = patch.DueDate
	}
	if patch.SnoozedUntil != nil {
		t.SnoozedUntil = patch.SnoozedUntil
	}
	if patch.Color != nil {
		t.Color = patch.Color
	}
	t.UpdatedAt = nowISO()
	if err := s.store.UpdateTask(r.Context(), t); err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to update task", err))
		return
	}
	s.hub.Publish(protocol.EventTaskUpserted, t, t.UpdatedAt)
	writeJSON(w, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	if err := s.store.DeleteTask(r.Context(), id); err != nil {
		writeErr(w, mapStoreErr(err, "task", id))
		return
	}
	s.hub.Publish(protocol.EventTaskDeleted, map[string]string{"id": id}, nowISO())
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleReorderTasks(w http.ResponseWriter, r *http.Request) {
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
	if err := s.store.ReorderTasks(r.Context(), spaceIDOrDefault(req.SpaceID), req.OrderedIDs); err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to reorder tasks", err))
		return
	}
	s.hub.Publish(protocol.EventTasksReordered, req, nowISO())
	writeJSON(w, map[string]bool{"ok": true})
}
