package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirouk/clawboard/internal/bus"
)

const pingInterval = 25 * time.Second

// handleStream serves the live event SSE feed. A query-string ?token= is
// accepted here only (never for any other read endpoint) because EventSource
// cannot set an Authorization header; every other bypass rule in auth.go
// still applies -- loopback reads need no token at all.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if err := s.streamAccess(r); err != nil {
		writeErr(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.hub.Subscribe()
	defer sub.Unsubscribe()

	fmt.Fprint(w, "event: ready\ndata: {}\n\n")
	flusher.Flush()

	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		if cursor, err := strconv.ParseInt(lastID, 10, 64); err == nil {
			events, ok := s.hub.Replay(cursor)
			if !ok {
				frame, _ := bus.Encode(nil, bus.ResetEventType, map[string]any{"type": bus.ResetEventType})
				fmt.Fprint(w, frame)
				flusher.Flush()
			} else {
				for _, ev := range events {
					id := ev.EventID
					frame, _ := bus.Encode(&id, "", ev)
					fmt.Fprint(w, frame)
				}
				flusher.Flush()
			}
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			id := ev.EventID
			frame, err := bus.Encode(&id, "", ev)
			if err != nil {
				continue
			}
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
	}
}

func (s *Server) streamAccess(r *http.Request) error {
	if clientIsLocal(r, s.trustProxy()) {
		return nil
	}
	if !s.isTokenConfigured() {
		return nil
	}
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if !s.validateToken(token) {
		return errUnauthorized
	}
	return nil
}
