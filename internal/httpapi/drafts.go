package httpapi

import (
	"net/http"

	"github.com/sirouk/clawboard/internal/apierr"
	"github.com/sirouk/clawboard/internal/model"
)

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	key := r.PathValue("key")
	d, err := s.store.GetDraft(r.Context(), key)
	if err != nil {
		writeErr(w, mapStoreErr(err, "draft", key))
		return
	}
	writeJSON(w, d)
}

func (s *Server) handlePutDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	key := r.PathValue("key")
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	now := nowISO()
	d := &model.Draft{Key: key, Value: req.Value, CreatedAt: now, UpdatedAt: now}
	if err := s.store.PutDraft(r.Context(), d); err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to save draft", err))
		return
	}
	writeJSON(w, d)
}
