package httpapi

import "net/http"

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/config", s.handleGetConfig)
	s.mux.HandleFunc("POST /api/config", s.handleUpdateConfig)

	s.mux.HandleFunc("GET /api/topics", s.handleListTopics)
	s.mux.HandleFunc("POST /api/topics", s.handleCreateTopic)
	s.mux.HandleFunc("PATCH /api/topics/{id}", s.handlePatchTopic)
	s.mux.HandleFunc("DELETE /api/topics/{id}", s.handleDeleteTopic)
	s.mux.HandleFunc("POST /api/topics/reorder", s.handleReorderTopics)

	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.handlePatchTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	s.mux.HandleFunc("POST /api/tasks/reorder", s.handleReorderTasks)

	s.mux.HandleFunc("GET /api/log", s.handleListLogs)
	s.mux.HandleFunc("POST /api/log", s.handleAppendLog)
	s.mux.HandleFunc("PATCH /api/log/{id}", s.handlePatchLog)
	s.mux.HandleFunc("DELETE /api/log/{id}", s.handleDeleteLog)
	s.mux.HandleFunc("POST /api/ingest", s.handleIngest)

	s.mux.HandleFunc("GET /api/classifier/pending", s.handleClassifierPending)
	s.mux.HandleFunc("GET /api/classifier/session-routing", s.handleGetSessionRouting)
	s.mux.HandleFunc("POST /api/classifier/session-routing", s.handlePostSessionRouting)
	s.mux.HandleFunc("POST /api/classifier/replay", s.handleClassifierReplay)

	s.mux.HandleFunc("GET /api/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/clawgraph", s.handleClawgraph)
	s.mux.HandleFunc("GET /api/context", s.handleContext)
	s.mux.HandleFunc("GET /api/changes", s.handleChanges)
	s.mux.HandleFunc("GET /api/stream", s.handleStream)

	s.mux.HandleFunc("GET /api/spaces", s.handleListSpaces)
	s.mux.HandleFunc("POST /api/spaces", s.handleCreateSpace)
	s.mux.HandleFunc("PATCH /api/spaces/{id}/connectivity", s.handleSpaceConnectivity)
	s.mux.HandleFunc("GET /api/spaces/allowed", s.handleSpacesAllowed)

	s.mux.HandleFunc("POST /api/openclaw/chat", s.handleOpenclawChat)
	s.mux.HandleFunc("POST /api/openclaw/chat/cancel", s.handleOpenclawChatCancel)

	s.mux.HandleFunc("POST /api/reindex", s.handleReindexEnqueue)
	s.mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	s.mux.HandleFunc("POST /api/admin/start-fresh-replay", s.handleStartFreshReplay)
	s.mux.HandleFunc("POST /api/admin/run-classifier-now", s.handleRunClassifierNow)

	s.mux.HandleFunc("GET /api/attachments/{id}", s.handleGetAttachment)
	s.mux.HandleFunc("POST /api/attachments", s.handleCreateAttachment)

	s.mux.HandleFunc("GET /api/drafts/{key}", s.handleGetDraft)
	s.mux.HandleFunc("PUT /api/drafts/{key}", s.handlePutDraft)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok"})
}
