// Package classifier implements the async session classifier: ticker-driven
// bundling of pending conversation logs, hybrid-search candidate retrieval,
// an LLM (or heuristic) classification call with a strict-schema repair
// ladder, anti-duplicate guardrails, and routing-memory append. Grounded on
// original_source/classifier/classifier.py, restructured around the Go
// Store/IngestService/HybridSearch contracts instead of an HTTP round-trip
// to the board's own API.
package classifier

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirouk/clawboard/internal/ingest"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/providers"
	"github.com/sirouk/clawboard/internal/search"
	"github.com/sirouk/clawboard/internal/store"
)

const smallTalkTopicName = "Small Talk"

// Config tunes one classifier instance; field names match
// config.ClassifierConfig where both have the field. MaxSessionsPerCycle has
// no config.ClassifierConfig counterpart.
type Config struct {
	IntervalSeconds        int
	MaxAttempts            int
	WindowSize             int
	LookbackLogs           int
	TopicSimThreshold      float64
	TaskSimThreshold       float64
	LockPath               string
	SessionRoutingMaxItems int
	MaxSessionsPerCycle    int
}

func (c Config) withDefaults() Config {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 24
	}
	if c.LookbackLogs <= 0 {
		c.LookbackLogs = 80
	}
	if c.TopicSimThreshold <= 0 {
		c.TopicSimThreshold = 0.78
	}
	if c.TaskSimThreshold <= 0 {
		c.TaskSimThreshold = 0.80
	}
	if c.LockPath == "" {
		c.LockPath = "./data/classifier.lock"
	}
	if c.SessionRoutingMaxItems <= 0 {
		c.SessionRoutingMaxItems = 8
	}
	if c.MaxSessionsPerCycle <= 0 {
		c.MaxSessionsPerCycle = 50
	}
	return c
}

// Worker runs the classifier cycle on a ticker.
type Worker struct {
	store    store.Store
	ingest   *ingest.Service
	search   *search.HybridSearch
	provider providers.Provider
	model    string
	gate     CreationGate
	cfg      Config
	auditLog *os.File
}

// New constructs a Worker. provider may be nil, in which case every
// classification falls back to the deterministic heuristic path.
func New(st store.Store, ingestSvc *ingest.Service, hybrid *search.HybridSearch, provider providers.Provider, llmModel string, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	w := &Worker{store: st, ingest: ingestSvc, search: hybrid, provider: provider, model: llmModel, cfg: cfg}
	if provider != nil {
		w.gate = LLMCreationGate{Provider: provider, Model: llmModel, Audit: w.auditGate}
	} else {
		w.gate = HeuristicCreationGate{}
	}
	return w
}

func (w *Worker) auditGate(kind, label string, allowed bool, reason string) {
	line := model.NowISO() + " kind=" + kind + " label=" + strconv.Quote(label) +
		" allowed=" + strconv.FormatBool(allowed) + " reason=" + reason + "\n"
	if w.auditLog == nil {
		path := w.cfg.LockPath + ".gate-audit.log"
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			slog.Warn("classifier: gate audit log unavailable", "error", err)
			return
		}
		w.auditLog = f
	}
	_, _ = w.auditLog.WriteString(line)
}

// Run blocks until ctx is cancelled, ticking at the configured interval.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(w.cfg.IntervalSeconds) * time.Second)
	defer ticker.Stop()
	slog.Info("classifier starting", "intervalSeconds", w.cfg.IntervalSeconds)
	for {
		select {
		case <-ctx.Done():
			slog.Info("classifier stopping")
			return
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

// TriggerCycle runs one classification pass immediately, outside the
// ticker-driven schedule. Used by the admin "run classifier now" endpoint
// so an operator doesn't have to wait out IntervalSeconds after clearing a
// backlog of pending sessions.
func (w *Worker) TriggerCycle(ctx context.Context) {
	w.cycle(ctx)
}

func (w *Worker) cycle(ctx context.Context) {
	if !w.acquireLock() {
		return
	}
	defer w.releaseLock()

	sessionKeys, err := w.store.ListPendingClassificationSessions(ctx, w.cfg.LookbackLogs*4)
	if err != nil {
		slog.Warn("classifier: list pending sessions failed", "error", err)
		return
	}
	if len(sessionKeys) > w.cfg.MaxSessionsPerCycle {
		sessionKeys = sessionKeys[:w.cfg.MaxSessionsPerCycle]
	}
	for _, sk := range sessionKeys {
		if err := w.classifySession(ctx, sk); err != nil {
			slog.Warn("classifier: classify session failed", "sessionKey", sk, "error", err)
		}
	}
}

// acquireLock implements the single-flight file lock with stale-lock
// recovery described in §4.8 step 1.
func (w *Worker) acquireLock() bool {
	if info, err := os.Stat(w.cfg.LockPath); err == nil {
		age := time.Since(info.ModTime())
		staleAfter := time.Duration(w.cfg.IntervalSeconds*3) * time.Second
		if staleAfter < 60*time.Second {
			staleAfter = 60 * time.Second
		}
		if age > staleAfter {
			_ = os.Remove(w.cfg.LockPath)
		}
	}
	f, err := os.OpenFile(w.cfg.LockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
	_ = f.Close()
	return true
}

func (w *Worker) releaseLock() {
	_ = os.Remove(w.cfg.LockPath)
}

var (
	topicScopeRe = regexp.MustCompile(`^clawboard:topic:(.+)$`)
	taskScopeRe  = regexp.MustCompile(`^clawboard:task:([^:]+):(.+)$`)
)

// classifySession runs §4.8 step 3-6 for one session key. Per-session
// failures are isolated by the caller.
func (w *Worker) classifySession(ctx context.Context, sessionKey string) error {
	ctxLogs, err := w.store.ListLogsBySessionKey(ctx, sessionKey, w.cfg.LookbackLogs)
	if err != nil {
		return err
	}
	var conversations []model.LogEntry
	for _, l := range ctxLogs {
		if l.Type == model.LogConversation {
			conversations = append(conversations, l)
		}
	}
	if len(conversations) == 0 {
		return nil
	}
	window := conversations
	if len(window) > w.cfg.WindowSize {
		window = window[len(window)-w.cfg.WindowSize:]
	}

	oldestPendingIdx := -1
	for i, e := range window {
		if e.ClassificationStatus == model.ClassificationPending {
			oldestPendingIdx = i
			break
		}
	}
	if oldestPendingIdx == -1 {
		return nil
	}

	start, end := bundleRange(window, oldestPendingIdx)
	bundle := window[start:end]
	exhausted := true
	for _, e := range bundle {
		if e.ClassificationStatus == model.ClassificationPending && e.ClassificationAttempts < w.cfg.MaxAttempts {
			exhausted = false
			break
		}
	}
	if exhausted {
		return nil
	}
	text := bundleText(bundle)

	var forcedTopic, forcedTask *string
	if m := topicScopeRe.FindStringSubmatch(sessionKey); m != nil {
		forcedTopic = &m[1]
	} else if m := taskScopeRe.FindStringSubmatch(sessionKey); m != nil {
		forcedTopic, forcedTask = &m[1], &m[2]
	}

	anchor := bundle[0].Content
	if anchor == "" {
		anchor = derefOr2(bundle[0].Summary, "")
	}

	var topicID, taskID string
	var topicName, taskTitle string
	fallbackReason := ""

	switch {
	case forcedTask != nil:
		topicID, taskID = *forcedTopic, *forcedTask
	case forcedTopic != nil:
		topicID = *forcedTopic
		tid, title, reason := w.resolveTaskOnly(ctx, topicID, text)
		taskID, taskTitle, fallbackReason = tid, title, reason
	case isLowSignal(text) || isSmallTalk(text):
		if isSmallTalk(text) && !isLowSignal(text) {
			topic, err := w.ensureSmallTalkTopic(ctx, bundle[0].SpaceID)
			if err != nil {
				return err
			}
			topicID, topicName = topic.ID, topic.Name
			break
		}
		mem, err := w.store.GetSessionRoutingMemory(ctx, sessionKey)
		if err == nil && len(mem.Items) > 0 {
			last := mem.Items[len(mem.Items)-1]
			topicID, topicName = last.TopicID, last.TopicName
			if last.TaskID != nil {
				taskID = *last.TaskID
			}
		} else {
			topicID, topicName, taskID, taskTitle, fallbackReason = w.classifyWithModel(ctx, bundle, text)
		}
	default:
		topicID, topicName, taskID, taskTitle, fallbackReason = w.classifyWithModel(ctx, bundle, text)
	}

	if topicID == "" && topicName == "" {
		topicName = "General"
	}
	topic, err := w.ingest.UpsertTopic(ctx, topicID, bundle[0].SpaceID, topicName)
	if err != nil {
		return err
	}
	topicID = topic.ID

	if taskID == "" && taskTitle != "" {
		t, err := w.ingest.UpsertTask(ctx, "", bundle[0].SpaceID, topicID, taskTitle)
		if err != nil {
			return err
		}
		taskID = t.ID
	}

	now := model.NowISO()
	for _, e := range ctxLogs {
		if e.ClassificationStatus != model.ClassificationPending {
			continue
		}
		if e.ClassificationAttempts >= w.cfg.MaxAttempts {
			continue
		}
		patch := map[string]any{
			"topicId":                topicID,
			"classificationStatus":   string(model.ClassificationClassified),
			"classificationAttempts": e.ClassificationAttempts + 1,
			"classificationError":    nil,
		}
		if taskID != "" {
			patch["taskId"] = taskID
		}
		if fallbackReason != "" {
			patch["classificationError"] = fallbackReason
		}
		if _, err := w.ingest.Patch(ctx, e.ID, patch); err != nil {
			slog.Warn("classifier: patch log failed", "logId", e.ID, "error", err)
		}
	}

	decision := model.RoutingDecision{Ts: now, TopicID: topicID, TopicName: topic.Name, Anchor: clip56(anchor)}
	if taskID != "" {
		tid := taskID
		decision.TaskID = &tid
		if taskTitle != "" {
			title := taskTitle
			decision.TaskTitle = &title
		}
	}
	if err := w.store.AppendSessionRoutingDecision(ctx, sessionKey, decision, w.cfg.SessionRoutingMaxItems); err != nil {
		slog.Warn("classifier: append routing memory failed", "sessionKey", sessionKey, "error", err)
	}
	return nil
}

func (w *Worker) ensureSmallTalkTopic(ctx context.Context, spaceID string) (*model.Topic, error) {
	topics, err := w.store.ListTopics(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	for _, t := range topics {
		if t.Name == smallTalkTopicName {
			return &t, nil
		}
	}
	return w.ingest.UpsertTopic(ctx, "", spaceID, smallTalkTopicName)
}

// candidateTopics/candidateTasks retrieve ranked candidates via HybridSearch
// restricted to the topic/task namespaces (the corpus holds no logs, so no
// log is scored).
func (w *Worker) candidateTopics(ctx context.Context, spaceID, text string) []search.Result {
	if w.search == nil {
		return nil
	}
	topics, err := w.store.ListTopics(ctx, spaceID)
	if err != nil {
		return nil
	}
	rows := make([]search.Row, 0, len(topics))
	for _, t := range topics {
		rows = append(rows, search.Row{Kind: "topic", ID: t.ID, SpaceID: t.SpaceID, Text: t.Name})
	}
	resp := w.search.Search(ctx, search.Request{Query: text, TopicLimit: 8}, search.Corpus{Topics: rows})
	return resp.Topics
}

func (w *Worker) candidateTasks(ctx context.Context, spaceID, topicID, text string) []search.Result {
	if w.search == nil {
		return nil
	}
	tid := topicID
	tasks, err := w.store.ListTasks(ctx, spaceID, &tid)
	if err != nil {
		return nil
	}
	rows := make([]search.Row, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, search.Row{Kind: "task", ID: t.ID, SpaceID: t.SpaceID, Text: t.Title, TopicID: topicID})
	}
	resp := w.search.Search(ctx, search.Request{Query: text, TaskLimit: 8, TaskTopicID: topicID}, search.Corpus{Tasks: rows})
	return resp.Tasks
}

// resolveTaskOnly handles the `clawboard:topic:<id>` scope: topic is forced,
// but the classifier may still promote to a Task within it.
func (w *Worker) resolveTaskOnly(ctx context.Context, topicID, text string) (taskID, taskTitle, fallback string) {
	cands := w.candidateTasks(ctx, model.DefaultSpaceID, topicID, text)
	if len(cands) > 0 && cands[0].Score >= w.cfg.TaskSimThreshold {
		return cands[0].ID, "", ""
	}
	return "", "", ""
}

// classifyWithModel implements §4.8 step 3's retrieval + LLM call +
// schema-validation-with-repair + timeout fallback, and step 4's guardrails.
func (w *Worker) classifyWithModel(ctx context.Context, bundle []model.LogEntry, text string) (topicID, topicName, taskID, taskTitle, fallback string) {
	spaceID := bundle[0].SpaceID
	topicCands := w.candidateTopics(ctx, spaceID, text)

	var taskCands []search.Result
	if len(topicCands) > 0 && topicCands[0].Score >= w.cfg.TopicSimThreshold {
		taskCands = w.candidateTasks(ctx, spaceID, topicCands[0].ID, text)
	}

	decision, err := w.callLLM(ctx, bundle, text, topicCands, taskCands)
	if err != nil {
		topicID, topicName = heuristicTopic(topicCands, text)
		return topicID, topicName, "", "", "fallback:llm_timeout"
	}

	chosenTopicID := decision.Topic.ID
	chosenTopicName := decision.Topic.Name
	createTopic := decision.Topic.Create

	if len(topicCands) > 0 && topicCands[0].Score >= w.cfg.TopicSimThreshold {
		chosenTopicID = topicCands[0].ID
		createTopic = false
		if chosenTopicName == "" {
			if t, err := w.store.GetTopic(ctx, chosenTopicID); err == nil {
				chosenTopicName = t.Name
			}
		}
	}
	if chosenTopicName == "" {
		chosenTopicName = "General"
	}

	if createTopic {
		cands := toCandidates(topicCands)
		if ok, reason := w.gate.AllowTopic(ctx, chosenTopicName, cands); !ok {
			slog.Info("classifier: topic creation gated", "name", chosenTopicName, "reason", reason)
			createTopic = false
			if len(topicCands) > 0 {
				chosenTopicID = topicCands[0].ID
			}
		}
	}
	if createTopic {
		chosenTopicID = ""
	}

	taskID, taskTitle = "", ""
	if decision.Task != nil {
		taskTitleProposed := decision.Task.Title
		createTask := decision.Task.Create
		proposedTaskID := decision.Task.ID

		if len(taskCands) > 0 && taskCands[0].Score >= w.cfg.TaskSimThreshold {
			taskID = taskCands[0].ID
		} else if proposedTaskID != "" && !createTask {
			// Guardrail: reject task ids belonging to a different topic.
			if t, err := w.store.GetTask(ctx, proposedTaskID); err == nil && t.TopicID != nil && *t.TopicID == chosenTopicID {
				taskID = proposedTaskID
			}
		} else if createTask && taskTitleProposed != "" {
			if ok, reason := w.gate.AllowTask(ctx, taskTitleProposed, toCandidates(taskCands)); ok {
				taskTitle = taskTitleProposed
			} else {
				slog.Info("classifier: task creation gated", "title", taskTitleProposed, "reason", reason)
			}
		}
	}

	return chosenTopicID, chosenTopicName, taskID, taskTitle, ""
}

func toCandidates(results []search.Result) []Candidate {
	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		out = append(out, Candidate{ID: r.ID, Score: r.Score})
	}
	return out
}

// heuristicTopic is the deterministic fallback used on LLM timeout: reuse
// the top candidate if present, otherwise propose a name from the text.
func heuristicTopic(cands []search.Result, text string) (string, string) {
	if len(cands) > 0 {
		return cands[0].ID, ""
	}
	words := strings.Fields(text)
	if len(words) > 6 {
		words = words[:6]
	}
	for i, w := range words {
		words[i] = titleCaseWord(w)
	}
	return "", strings.Join(words, " ")
}

func titleCaseWord(w string) string {
	w = strings.ToLower(w)
	if w == "" {
		return w
	}
	r := []rune(w)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

func clip56(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= 56 {
		return s
	}
	return string(r[:55]) + "…"
}

var errSchemaInvalid = errors.New("classifier: LLM response did not match the required shape")

// callLLM sends the bundle to the configured Provider as a forced tool call
// against the ClassifyDecision schema, with one repair attempt on schema
// failure. Returns an error (triggering the deterministic fallback) on
// provider error or exhausted repair.
func (w *Worker) callLLM(ctx context.Context, bundle []model.LogEntry, text string, topicCands, taskCands []search.Result) (*ClassifyDecision, error) {
	if w.provider == nil {
		return nil, errors.New("classifier: no LLM provider configured")
	}
	llmCtx, cancel := context.WithTimeout(ctx, 75*time.Second)
	defer cancel()

	tool := providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        "classify",
			Description: "Resolve this conversation bundle to a topic and optional task.",
			Parameters:  classifyParameters(),
		},
	}
	messages := []providers.Message{
		{Role: "system", Content: "You are a high-precision classifier for an ops dashboard. Always respond by calling the classify tool."},
		{Role: "user", Content: classifyPrompt(bundle, text, topicCands, taskCands)},
	}

	resp, err := w.provider.Chat(llmCtx, providers.ChatRequest{Model: w.model, Messages: messages, Tools: []providers.ToolDefinition{tool}})
	if err != nil {
		return nil, err
	}
	decision, verr := decodeDecision(resp)
	if verr == nil {
		return decision, nil
	}

	// One repair attempt: tell the model its response was rejected and ask
	// again, still via the forced tool call.
	messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content}, providers.Message{
		Role:    "user",
		Content: "Your previous response did not match the required schema. Call classify again with valid arguments.",
	})
	resp2, err := w.provider.Chat(llmCtx, providers.ChatRequest{Model: w.model, Messages: messages, Tools: []providers.ToolDefinition{tool}})
	if err != nil {
		return nil, err
	}
	decision2, verr2 := decodeDecision(resp2)
	if verr2 != nil {
		return nil, verr2
	}
	return decision2, nil
}

func decodeDecision(resp *providers.ChatResponse) (*ClassifyDecision, error) {
	if resp == nil || len(resp.ToolCalls) == 0 {
		return nil, errSchemaInvalid
	}
	args := resp.ToolCalls[0].Arguments
	d := &ClassifyDecision{}
	if v, ok := args["topic"].(map[string]interface{}); ok {
		if id, ok := v["id"].(string); ok {
			d.Topic.ID = id
		}
		if name, ok := v["name"].(string); ok {
			d.Topic.Name = name
		}
		if create, ok := v["create"].(bool); ok {
			d.Topic.Create = create
		}
	} else {
		return nil, errSchemaInvalid
	}
	if v, ok := args["task"].(map[string]interface{}); ok {
		td := &TaskDecision{}
		if id, ok := v["id"].(string); ok {
			td.ID = id
		}
		if title, ok := v["title"].(string); ok {
			td.Title = title
		}
		if create, ok := v["create"].(bool); ok {
			td.Create = create
		}
		d.Task = td
	}
	if v, ok := args["summaries"].([]interface{}); ok {
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			id, _ := m["id"].(string)
			summary, _ := m["summary"].(string)
			if id != "" {
				d.Summaries = append(d.Summaries, LogSummary{ID: id, Summary: clip56(summary)})
			}
		}
	}
	if d.Topic.Name == "" && d.Topic.ID == "" {
		return nil, errSchemaInvalid
	}
	return d, nil
}

func classifyPrompt(bundle []model.LogEntry, text string, topicCands, taskCands []search.Result) string {
	var b strings.Builder
	b.WriteString("Conversation bundle (oldest first):\n")
	b.WriteString(text)
	b.WriteString("\n\nCandidate topics (id:score):\n")
	for _, c := range topicCands {
		b.WriteString(c.ID)
		b.WriteString(":")
		b.WriteString(strconv.FormatFloat(c.Score, 'f', 2, 64))
		b.WriteString("\n")
	}
	b.WriteString("\nCandidate tasks (id:score):\n")
	for _, c := range taskCands {
		b.WriteString(c.ID)
		b.WriteString(":")
		b.WriteString(strconv.FormatFloat(c.Score, 'f', 2, 64))
		b.WriteString("\n")
	}
	b.WriteString("\nPer-log summary targets (id list): ")
	ids := make([]string, 0, len(bundle))
	for _, e := range bundle {
		ids = append(ids, e.ID)
	}
	sort.Strings(ids)
	b.WriteString(strings.Join(ids, ", "))
	return b.String()
}
