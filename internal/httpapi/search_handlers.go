package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sirouk/clawboard/internal/apierr"
	"github.com/sirouk/clawboard/internal/clawgraph"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/search"
	"github.com/sirouk/clawboard/internal/store"
)

// buildCorpus loads a bounded window of Topics/Tasks/Logs for spaceID and
// shapes them into search.Row, the candidate representation HybridSearch and
// the classifier both rank over.
func (s *Server) buildCorpus(ctx context.Context, spaceID string) (search.Corpus, error) {
	topics, err := s.store.ListTopics(ctx, spaceID)
	if err != nil {
		return search.Corpus{}, err
	}
	tasks, err := s.store.ListTasks(ctx, spaceID, nil)
	if err != nil {
		return search.Corpus{}, err
	}
	logs, err := s.store.ListLogs(ctx, store.LogFilter{SpaceID: spaceID, Limit: 2000})
	if err != nil {
		return search.Corpus{}, err
	}

	noteCounts := map[string]int{}
	for _, l := range logs {
		if l.Type == model.LogNote && l.RelatedLogID != nil {
			noteCounts[*l.RelatedLogID]++
		}
	}

	corpus := search.Corpus{}
	for _, t := range topics {
		corpus.Topics = append(corpus.Topics, search.Row{Kind: "topic", ID: t.ID, SpaceID: t.SpaceID, Text: t.Name})
	}
	for _, t := range tasks {
		row := search.Row{Kind: "task", ID: t.ID, SpaceID: t.SpaceID, Text: t.Title}
		if t.TopicID != nil {
			row.TopicID = *t.TopicID
		}
		corpus.Tasks = append(corpus.Tasks, row)
	}
	for _, l := range logs {
		sessionKey := ""
		if l.Source != nil {
			sessionKey = l.Source.SessionKey
		}
		row := search.Row{
			Kind: "log", ID: l.ID, SpaceID: l.SpaceID, SessionKey: sessionKey,
			Text: firstNonEmptyStr(derefOrEmpty(l.Summary), l.Content),
			NoteCount: noteCounts[l.ID],
		}
		if l.TopicID != nil {
			row.TopicID = *l.TopicID
		}
		if l.TaskID != nil {
			row.TaskID = *l.TaskID
		}
		if l.RelatedLogID != nil {
			row.RelatedLogID = *l.RelatedLogID
		}
		corpus.Logs = append(corpus.Logs, row)
	}
	return corpus, nil
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmptyStr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	q := r.URL.Query()
	query := q.Get("q")
	spaceID := spaceIDOrDefault(q.Get("spaceId"))

	corpus, err := s.buildCorpus(r.Context(), spaceID)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to load search corpus", err))
		return
	}

	req := search.Request{Query: query, SessionKey: q.Get("sessionKey")}
	if v := q.Get("topicLimit"); v != "" {
		req.TopicLimit, _ = strconv.Atoi(v)
	}
	if v := q.Get("taskLimit"); v != "" {
		req.TaskLimit, _ = strconv.Atoi(v)
	}
	if v := q.Get("logLimit"); v != "" {
		req.LogLimit, _ = strconv.Atoi(v)
	}

	resp := s.search.Search(r.Context(), req, corpus)
	writeJSON(w, resp)
}

func (s *Server) handleClawgraph(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	spaceID := spaceIDOrDefault(r.URL.Query().Get("spaceId"))
	topics, err := s.store.ListTopics(r.Context(), spaceID)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to load topics", err))
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), spaceID, nil)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to load tasks", err))
		return
	}
	logs, err := s.store.ListLogs(r.Context(), store.LogFilter{SpaceID: spaceID, Limit: 2000})
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to load logs", err))
		return
	}
	opts := clawgraph.Options{}
	if v := r.URL.Query().Get("maxNodes"); v != "" {
		opts.MaxNodes, _ = strconv.Atoi(v)
	}
	writeJSON(w, clawgraph.Build(topics, tasks, logs, opts))
}

// handleContext composes the agent-priming block: recent session logs,
// routing memory, and owning topic/task, plus an optional search pass.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if err := s.requireReadAccess(r); err != nil {
		writeErr(w, err)
		return
	}
	q := r.URL.Query()
	sessionKey := q.Get("sessionKey")
	if sessionKey == "" {
		writeErr(w, apierr.New(apierr.KindBadRequest, "sessionKey is required"))
		return
	}
	spaceID := spaceIDOrDefault(q.Get("spaceId"))
	limit := 40
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	recent, err := s.store.ListLogsBySessionKey(r.Context(), sessionKey, limit)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to load session logs", err))
		return
	}
	memory, err := s.store.GetSessionRoutingMemory(r.Context(), sessionKey)
	if err != nil && err != store.ErrNotFound {
		writeErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to load routing memory", err))
		return
	}

	out := map[string]any{
		"sessionKey":    sessionKey,
		"recentLogs":    recent,
		"routingMemory": memory,
	}

	if s.orch != nil {
		if snap, err := s.orch.SnapshotForSession(r.Context(), sessionKey); err == nil {
			out["orchestration"] = snap
		} else if err != store.ErrNotFound {
			slog.Warn("context: orchestration snapshot failed", "sessionKey", sessionKey, "error", err)
		}
	}

	if query := q.Get("q"); query != "" {
		corpus, err := s.buildCorpus(r.Context(), spaceID)
		if err == nil {
			out["semantic"] = s.search.Search(r.Context(), search.Request{Query: query, SessionKey: sessionKey}, corpus)
		}
	}
	writeJSON(w, out)
}
