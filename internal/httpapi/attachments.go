package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/sirouk/clawboard/internal/apierr"
	"github.com/sirouk/clawboard/internal/model"
)

// handleGetAttachment returns attachment metadata only; the blob bytes
// themselves are out of scope (§1 Non-goals), so no body streaming here.
func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	a, err := s.store.GetAttachment(r.Context(), id)
	if err != nil {
		writeErr(w, mapStoreErr(err, "attachment", id))
		return
	}
	writeJSON(w, a)
}

func (s *Server) handleCreateAttachment(w http.ResponseWriter, r *http.Request) {
	if err := s.requireWriteAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		LogID       *string `json:"logId,omitempty"`
		FileName    string  `json:"fileName"`
		MimeType    string  `json:"mimeType"`
		SizeBytes   int64   `json:"sizeBytes"`
		SHA256      string  `json:"sha256"`
		StoragePath string  `json:"storagePath"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.FileName == "" || req.SHA256 == "" {
		writeErr(w, apierr.New(apierr.KindBadRequest, "fileName and sha256 are required"))
		return
	}
	s.cfg.RLock()
	maxBytes := s.cfg.Attachments.MaxBytes
	s.cfg.RUnlock()
	if maxBytes > 0 && req.SizeBytes > maxBytes {
		writeErr(w, apierr.New(apierr.KindBadRequest, "sizeBytes exceeds ATTACHMENT_MAX_BYTES"))
		return
	}
	now := nowISO()
	a := &model.Attachment{
		ID: uuid.NewString(), LogID: req.LogID, FileName: req.FileName, MimeType: req.MimeType,
		SizeBytes: req.SizeBytes, SHA256: req.SHA256, StoragePath: req.StoragePath,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.store.CreateAttachment(r.Context(), a); err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to register attachment", err))
		return
	}
	writeJSON(w, a)
}
