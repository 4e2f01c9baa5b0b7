// Package search implements HybridSearch: BM25 + lexical Jaccard + vector
// cosine fused by Reciprocal Rank Fusion, with optional reranking,
// parent/child score propagation, note weighting, session-continuity boost,
// and space scoping. Grounded on original_source/backend/app/vector_search.py
// (lexical+cosine baseline), generalized per SPEC_FULL §4.7/§9's redesign
// (BM25, RRF, rerank blend, propagation all added on top).
package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/textutil"
	"github.com/sirouk/clawboard/internal/vectorindex"
)

// Config tunes BM25, RRF, and rerank blend coefficients. Defaults are the
// Open-Question decisions recorded in SPEC_FULL §9 / DESIGN.md, each kept as
// an overridable struct field rather than an inline literal.
type Config struct {
	BM25K1              float64
	BM25B               float64
	RRFK                float64
	RerankVectorWeight  float64
	RerankLexicalWeight float64
}

func DefaultConfig() Config {
	return Config{BM25K1: 1.2, BM25B: 0.75, RRFK: 60, RerankVectorWeight: 0.72, RerankLexicalWeight: 0.28}
}

// Embedder produces a query vector for hybrid search and the classifier.
// A nil Embedder degrades search to lexical+BM25 only.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reranker optionally rescales the top fused candidates of a namespace. A
// nil Reranker skips step 5 of §4.7 entirely.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]float64, error)
}

// Row is the minimal candidate shape HybridSearch operates over, populated
// from Topic/Task/LogEntry rows by the caller (internal/httpapi).
type Row struct {
	Kind         string // "topic" | "task" | "log"
	ID           string
	SpaceID      string
	SessionKey   string // LogEntry.Source.SessionKey, or "" for topics/tasks
	Text         string // searchable text: name/title, or sanitized log content
	TopicID      string // for tasks/logs: owning topic id
	TaskID       string // for logs: owning task id, if any
	NoteCount    int    // curated notes referencing this row (logs only)
	RelatedLogID string // for note-type logs
}

// Result is one scored, explainable hit.
type Result struct {
	Kind               string  `json:"kind"`
	ID                 string  `json:"id"`
	Score              float64 `json:"score"`
	VectorScore        float64 `json:"vectorScore,omitempty"`
	BM25Score          float64 `json:"bm25Score,omitempty"`
	LexicalScore       float64 `json:"lexicalScore,omitempty"`
	RRFScore           float64 `json:"rrfScore,omitempty"`
	RerankScore        float64 `json:"rerankScore,omitempty"`
	NoteWeight         float64 `json:"noteWeight,omitempty"`
	SessionBoosted     bool    `json:"sessionBoosted,omitempty"`
	LogPropagationW    float64 `json:"logPropagationWeight,omitempty"`
	TaskPropagationW   float64 `json:"taskPropagationWeight,omitempty"`
	BestChunk          string  `json:"bestChunk,omitempty"`
}

// Request is one hybrid-search invocation.
type Request struct {
	Query           string
	SessionKey      string
	AllowedSpaceIDs map[string]bool // nil means unrestricted
	TopicLimit      int
	TaskLimit       int
	LogLimit        int
	// TaskTopicID scopes task vector matching to one topic's "task:<id>"
	// namespace (the Classifier's candidateTasks already scopes its corpus
	// to one topic's rows; without this the vector half of scoring still
	// ranks against every topic's task vectors). Empty means the general
	// cross-topic "/api/search" case: any "task"/"task:<id>" namespace.
	TaskTopicID string
}

// Response is the composed hybrid-search output.
type Response struct {
	Query      string   `json:"query"`
	Mode       string   `json:"mode"`
	Topics     []Result `json:"topics"`
	Tasks      []Result `json:"tasks"`
	Logs       []Result `json:"logs"`
	DurationMs int64    `json:"durationMs"`
	GateWaitMs int64    `json:"gateWaitMs"`
	Degraded   bool     `json:"degraded"`
	QueryTokens int     `json:"queryTokenCount"`
}

// Corpus is the candidate universe HybridSearch ranks over for one request;
// the caller (httpapi) is responsible for fetching a reasonably-bounded
// window of rows from the Store before calling Search.
type Corpus struct {
	Topics []Row
	Tasks  []Row
	Logs   []Row
}

// HybridSearch is process-wide; its admission gate is a single binary
// singleflight lease shared across concurrent requests.
type HybridSearch struct {
	cfg      Config
	vectors  vectorindex.Index
	embedder Embedder
	reranker Reranker
	gate     singleflight.Group
}

func New(cfg Config, vectors vectorindex.Index, embedder Embedder, reranker Reranker) *HybridSearch {
	return &HybridSearch{cfg: cfg, vectors: vectors, embedder: embedder, reranker: reranker}
}

const (
	defaultTopicLimit = 24
	defaultTaskLimit  = 48
	defaultLogLimit   = 360
	gateWaitBudget    = 150 * time.Millisecond
)

// Search runs the full pipeline described in SPEC_FULL §4.7, gated by a
// single admission lease: if the lease can't be acquired within a short
// wait, a degraded pass runs instead with reduced limits.
func (h *HybridSearch) Search(ctx context.Context, req Request, corpus Corpus) Response {
	start := time.Now()

	degraded := false
	gateStart := time.Now()
	done := make(chan struct{})
	var resp Response
	go func() {
		_, _, _ = h.gate.Do("search", func() (any, error) {
			resp = h.run(ctx, req, corpus, false)
			return nil, nil
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(gateWaitBudget):
		degraded = true
		resp = h.run(ctx, req, corpus, true)
	}
	resp.GateWaitMs = time.Since(gateStart).Milliseconds()
	resp.DurationMs = time.Since(start).Milliseconds()
	resp.Degraded = degraded
	if degraded {
		resp.Mode = resp.Mode + "+busy-fallback"
	}
	return resp
}

func (h *HybridSearch) run(ctx context.Context, req Request, corpus Corpus, degraded bool) Response {
	q := textutil.Sanitize(req.Query)
	tokens := textutil.Tokenize(q)
	resp := Response{Query: q, QueryTokens: len(tokens)}
	if len([]rune(q)) < 2 {
		resp.Mode = "empty"
		return resp
	}

	topicLimit := orDefault(req.TopicLimit, defaultTopicLimit)
	taskLimit := orDefault(req.TaskLimit, defaultTaskLimit)
	logLimit := orDefault(req.LogLimit, defaultLogLimit)
	if degraded {
		topicLimit, taskLimit, logLimit = topicLimit/2+1, taskLimit/2+1, logLimit/4+1
	}

	var queryVec []float32
	mode := "lexical"
	if h.embedder != nil {
		v, err := h.embedder.Embed(ctx, q)
		if err == nil && len(v) > 0 {
			queryVec = v
			mode = "hybrid"
		}
	}

	taskKindExact, taskKindPrefix := "", "task"
	if req.TaskTopicID != "" {
		taskKindExact, taskKindPrefix = "task:"+req.TaskTopicID, ""
	}

	logResults := h.scoreNamespace(ctx, q, tokens, queryVec, "log", "", corpus.Logs, req, logLimit)
	taskResults := h.scoreNamespace(ctx, q, tokens, queryVec, taskKindExact, taskKindPrefix, corpus.Tasks, req, taskLimit)
	topicResults := h.scoreNamespace(ctx, q, tokens, queryVec, "topic", "", corpus.Topics, req, topicLimit)

	h.propagate(corpus, logResults, taskResults, topicResults, tokens)

	filterSpace := func(rs []Result, rows []Row) []Result {
		if req.AllowedSpaceIDs == nil {
			return rs
		}
		bySpace := make(map[string]string, len(rows))
		for _, r := range rows {
			bySpace[r.ID] = r.SpaceID
		}
		out := rs[:0]
		for _, r := range rs {
			if req.AllowedSpaceIDs[bySpace[r.ID]] {
				out = append(out, r)
			}
		}
		return out
	}
	topicResults = filterSpace(topicResults, corpus.Topics)
	taskResults = filterSpace(taskResults, corpus.Tasks)
	logResults = filterSpace(logResults, corpus.Logs)

	sortByScore(topicResults)
	sortByScore(taskResults)
	sortByScore(logResults)

	resp.Mode = mode
	resp.Topics = cap2(topicResults, topicLimit)
	resp.Tasks = cap2(taskResults, taskLimit)
	resp.Logs = cap2(logResults, logLimit)
	return resp
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// scoreNamespace computes lexical, BM25, and (when available) vector scores
// for one namespace's candidates, then RRF-fuses and optionally reranks.
func (h *HybridSearch) scoreNamespace(ctx context.Context, q string, qTokens []string, queryVec []float32, kind, kindPrefix string, rows []Row, req Request, limit int) []Result {
	if len(rows) == 0 {
		return nil
	}

	lexical := make(map[string]float64, len(rows))
	texts := make(map[string]string, len(rows))
	docLens := make(map[string]int, len(rows))
	avgLen := 0.0
	termFreqs := make(map[string]map[string]int, len(rows))

	for _, r := range rows {
		lexical[r.ID] = textutil.Jaccard(q, r.Text)
		texts[r.ID] = r.Text
		toks := textutil.Tokenize(r.Text)
		docLens[r.ID] = len(toks)
		avgLen += float64(len(toks))
		tf := make(map[string]int, len(toks))
		for _, t := range toks {
			tf[t]++
		}
		termFreqs[r.ID] = tf
	}
	if len(rows) > 0 {
		avgLen /= float64(len(rows))
	}

	docFreq := make(map[string]int)
	for _, tf := range termFreqs {
		seen := make(map[string]bool)
		for t := range tf {
			if !seen[t] {
				docFreq[t]++
				seen[t] = true
			}
		}
	}

	bm25 := make(map[string]float64, len(rows))
	for _, r := range rows {
		bm25[r.ID] = h.bm25Score(qTokens, termFreqs[r.ID], docLens[r.ID], avgLen, docFreq, len(rows))
	}

	vectorScores := map[string]float64{}
	if queryVec != nil && h.vectors != nil {
		matches, err := h.vectors.Topk(ctx, kind, kindPrefix, queryVec, limit*2+20)
		if err == nil {
			for _, m := range matches {
				vectorScores[m.ID] = m.Score
			}
		}
	}

	fused := rrfFuse(h.cfg.RRFK, lexical, bm25, vectorScores)

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return fused[ids[i]] > fused[ids[j]] })

	if h.reranker != nil && len(ids) > 0 {
		rerankN := limit * 2
		if rerankN > len(ids) {
			rerankN = len(ids)
		}
		top := ids[:rerankN]
		rerankTexts := make([]string, len(top))
		for i, id := range top {
			rerankTexts[i] = texts[id]
		}
		scores, err := h.reranker.Rerank(ctx, q, rerankTexts)
		if err == nil && len(scores) == len(top) {
			for i, id := range top {
				fused[id] = h.cfg.RerankVectorWeight*vectorScores[id] + h.cfg.RerankLexicalWeight*lexical[id] + scores[i]
			}
		}
	}

	bySession := make(map[string]bool)
	if req.SessionKey != "" {
		for _, r := range rows {
			if r.SessionKey != "" && (r.SessionKey == req.SessionKey || baseSessionKey(r.SessionKey) == baseSessionKey(req.SessionKey)) {
				bySession[r.ID] = true
			}
		}
	}

	byID := make(map[string]Row, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	out := make([]Result, 0, len(rows))
	for _, id := range ids {
		row := byID[id]
		score := fused[id]
		sessionBoosted := false
		if bySession[id] {
			sessionBoosted = true
			score += sessionBoost(kind)
		}
		noteWeight := 0.0
		if row.NoteCount > 0 {
			noteWeight = math.Min(0.24, 0.06*float64(row.NoteCount))
			score += noteWeight
		}
		out = append(out, Result{
			Kind:           kind,
			ID:             id,
			Score:          score,
			VectorScore:    vectorScores[id],
			BM25Score:      bm25[id],
			LexicalScore:   lexical[id],
			RRFScore:       fused[id],
			NoteWeight:     noteWeight,
			SessionBoosted: sessionBoosted,
			BestChunk:      bestChunk(q, row.Text),
		})
	}
	return out
}

func sessionBoost(kind string) float64 {
	switch kind {
	case "topic":
		return 0.12
	case "task":
		return 0.10
	default:
		return 0.08
	}
}

func baseSessionKey(sk string) string {
	if i := strings.LastIndex(sk, ":"); i >= 0 {
		return sk[:i]
	}
	return sk
}

// propagate implements §4.7 step 6: a matched log contributes a capped
// fraction of its score to its owning topic and task; a matched task
// contributes to its topic only when the query carries lexical/BM25 signal
// (multi-token queries require an explicit non-vector hit before
// propagating, to avoid broad vector drift pulling in unrelated topics).
func (h *HybridSearch) propagate(corpus Corpus, logResults, taskResults, topicResults []Result, qTokens []string) {
	topicByID := indexResults(topicResults)
	taskByID := indexResults(taskResults)

	taskTopic := make(map[string]string, len(corpus.Tasks))
	for _, t := range corpus.Tasks {
		taskTopic[t.ID] = t.TopicID
	}
	logTopic := make(map[string]string, len(corpus.Logs))
	logTask := make(map[string]string, len(corpus.Logs))
	for _, l := range corpus.Logs {
		logTopic[l.ID] = l.TopicID
		logTask[l.ID] = l.TaskID
	}

	for i := range logResults {
		lr := &logResults[i]
		contribution := math.Min(0.18, lr.Score*0.22)
		if topicID := logTopic[lr.ID]; topicID != "" {
			if idx, ok := topicByID[topicID]; ok {
				topicResults[idx].LogPropagationW += contribution
				topicResults[idx].Score += contribution
			}
		}
		taskContribution := math.Min(0.20, lr.Score*0.25)
		if taskID := logTask[lr.ID]; taskID != "" {
			if idx, ok := taskByID[taskID]; ok {
				taskResults[idx].LogPropagationW += taskContribution
				taskResults[idx].Score += taskContribution
			}
		}
	}

	hasLexicalSignal := len(qTokens) <= 1
	for _, tr := range taskResults {
		if !hasLexicalSignal && tr.BM25Score <= 0 && tr.LexicalScore <= 0 {
			continue
		}
		topicID := taskTopic[tr.ID]
		if topicID == "" {
			continue
		}
		idx, ok := topicByID[topicID]
		if !ok {
			continue
		}
		contribution := math.Min(0.15, tr.Score*0.2)
		topicResults[idx].TaskPropagationW += contribution
		topicResults[idx].Score += contribution
	}
}

func indexResults(rs []Result) map[string]int {
	out := make(map[string]int, len(rs))
	for i, r := range rs {
		out[r.ID] = i
	}
	return out
}

// bm25Score computes the classic Okapi BM25 score of a query against one
// document given its term frequencies, length, the corpus's average length,
// and per-term document frequency.
func (h *HybridSearch) bm25Score(queryTokens []string, tf map[string]int, docLen int, avgLen float64, docFreq map[string]int, n int) float64 {
	if len(queryTokens) == 0 || docLen == 0 || n == 0 {
		return 0
	}
	k1, b := h.cfg.BM25K1, h.cfg.BM25B
	if k1 == 0 {
		k1 = 1.2
	}
	if b == 0 {
		b = 0.75
	}
	var score float64
	seen := make(map[string]bool)
	for _, term := range queryTokens {
		if seen[term] {
			continue
		}
		seen[term] = true
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		df := float64(docFreq[term])
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
		denom := f + k1*(1-b+b*float64(docLen)/avgLen)
		score += idf * (f * (k1 + 1) / denom)
	}
	return score
}

// rrfFuse implements Reciprocal Rank Fusion across up to three rankings,
// then min-max normalizes the fused scores into [0,1].
func rrfFuse(k float64, rankings ...map[string]float64) map[string]float64 {
	if k <= 0 {
		k = 60
	}
	fused := make(map[string]float64)
	for _, ranking := range rankings {
		ranked := rankOf(ranking)
		for id, rank := range ranked {
			fused[id] += 1.0 / (k + float64(rank))
		}
	}
	return minMaxNormalize(fused)
}

func rankOf(scores map[string]float64) map[string]int {
	type kv struct {
		id    string
		score float64
	}
	kvs := make([]kv, 0, len(scores))
	for id, s := range scores {
		if s <= 0 {
			continue
		}
		kvs = append(kvs, kv{id, s})
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].score > kvs[j].score })
	out := make(map[string]int, len(kvs))
	for i, e := range kvs {
		out[e.id] = i + 1
	}
	return out
}

func minMaxNormalize(m map[string]float64) map[string]float64 {
	if len(m) == 0 {
		return m
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range m {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		return m
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = (v - min) / (max - min)
	}
	return out
}

func sortByScore(rs []Result) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Score > rs[j].Score })
}

func cap2(rs []Result, limit int) []Result {
	if limit > 0 && len(rs) > limit {
		return rs[:limit]
	}
	return rs
}

// bestChunk returns the sentence-ish span of text most overlapping with the
// query's tokens, used as the search result's explain highlight.
func bestChunk(query, text string) string {
	if text == "" {
		return ""
	}
	qTokens := textutil.TokenSet(query)
	if len(qTokens) == 0 {
		return textutil.Clip(text, 180)
	}
	segments := splitSentences(text)
	best, bestScore := "", -1.0
	for _, seg := range segments {
		score := textutil.Jaccard(query, seg)
		if score > bestScore {
			best, bestScore = seg, score
		}
	}
	if best == "" {
		best = text
	}
	return textutil.Clip(strings.TrimSpace(best), 220)
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if seg := strings.TrimSpace(text[start : i+1]); seg != "" {
				out = append(out, seg)
			}
			start = i + 1
		}
	}
	if seg := strings.TrimSpace(text[start:]); seg != "" {
		out = append(out, seg)
	}
	if len(out) == 0 {
		out = append(out, text)
	}
	return out
}
