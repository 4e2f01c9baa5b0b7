package httpapi

import (
	"net/http"
	"strconv"

	"github.com/sirouk/clawboard/internal/apierr"
)

const defaultChangesLimit = 500
const maxChangesLimit = 2000

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	q := r.URL.Query()
	limit := defaultChangesLimit
	if v := q.Get("limitLogs"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxChangesLimit {
		limit = maxChangesLimit
	}
	includeRaw := q.Get("includeRaw") == "true" || q.Get("includeRaw") == "1"

	changes, err := s.store.Changes(r.Context(), q.Get("since"), limit, includeRaw)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to compute changes", err))
		return
	}
	writeJSON(w, changes)
}
