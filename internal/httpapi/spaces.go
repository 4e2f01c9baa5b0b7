package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/sirouk/clawboard/internal/apierr"
	"github.com/sirouk/clawboard/internal/model"
)

func (s *Server) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	rows, err := s.store.ListSpaces(r.Context())
	writeResult(w, rows, err)
}

func (s *Server) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		Name           string  `json:"name"`
		Color          *string `json:"color,omitempty"`
		DefaultVisible bool    `json:"defaultVisible"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Name == "" {
		writeErr(w, apierr.New(apierr.KindBadRequest, "name is required"))
		return
	}
	now := nowISO()
	sp := &model.Space{
		ID: uuid.NewString(), Name: req.Name, Color: req.Color, DefaultVisible: req.DefaultVisible,
		Connectivity: map[string]bool{}, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.store.UpsertSpace(r.Context(), sp); err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to create space", err))
		return
	}
	writeJSON(w, sp)
}

func (s *Server) handleSpaceConnectivity(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	var req struct {
		Connectivity map[string]bool `json:"connectivity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.store.SetSpaceConnectivity(r.Context(), id, req.Connectivity); err != nil {
		writeErr(w, mapStoreErr(err, "space", id))
		return
	}
	sp, err := s.store.GetSpace(r.Context(), id)
	writeResult(w, sp, err)
}

// handleSpacesAllowed resolves the set of spaces visible from spaceId's
// connectivity graph: spaceId itself plus every space it lists as reachable.
func (s *Server) handleSpacesAllowed(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	spaceID := r.URL.Query().Get("spaceId")
	if spaceID == "" {
		writeErr(w, apierr.New(apierr.KindBadRequest, "spaceId is required"))
		return
	}
	sp, err := s.store.GetSpace(r.Context(), spaceID)
	if err != nil {
		writeErr(w, mapStoreErr(err, "space", spaceID))
		return
	}
	allowed := []string{sp.ID}
	for other, ok := range sp.Connectivity {
		if ok {
			allowed = append(allowed, other)
		}
	}
	writeJSON(w, map[string]any{"allowed": allowed})
}
