// Package clawgraph is a pure function building a {nodes, edges, stats}
// relationship document over a recent window of Topics, Tasks, and
// LogEntries -- entity extraction, co-occurrence edges, and topic/task
// relatedness scoring. Grounded on
// original_source/backend/app/clawgraph.py, translated idiomatically: Go
// maps replace Python defaultdicts, textutil.Jaccard/NormalizeForGraph
// replace the original's private _jaccard/_normalize_text.
package clawgraph

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/textutil"
)

const (
	topicColor  = "#ff8a4a"
	taskColor   = "#4ea1ff"
	entityColor = "#45c4a0"
	agentColor  = "#f2c84b"
)

var entityBlocklist = map[string]bool{
	"EST": true, "UTC": true, "Fri": true, "Mon": true, "Tue": true, "Wed": true,
	"Thu": true, "Sat": true, "Sun": true, "January": true, "February": true,
	"March": true, "April": true, "May": true, "June": true, "July": true,
	"August": true, "September": true, "October": true, "November": true, "December": true,
}

// Node is one rendered graph node.
type Node struct {
	ID    string         `json:"id"`
	Label string         `json:"label"`
	Type  string         `json:"type"`
	Score float64        `json:"score"`
	Size  float64        `json:"size"`
	Color string         `json:"color"`
	Meta  map[string]any `json:"meta"`
}

// Edge is one rendered graph edge between two node ids.
type Edge struct {
	ID       string  `json:"id"`
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Type     string  `json:"type"`
	Weight   float64 `json:"weight"`
	Evidence int     `json:"evidence"`
}

// Stats summarizes the built graph's composition.
type Stats struct {
	NodeCount   int     `json:"nodeCount"`
	EdgeCount   int     `json:"edgeCount"`
	TopicCount  int     `json:"topicCount"`
	TaskCount   int     `json:"taskCount"`
	EntityCount int     `json:"entityCount"`
	AgentCount  int     `json:"agentCount"`
	Density     float64 `json:"density"`
}

// Graph is the full response document.
type Graph struct {
	Stats Stats  `json:"stats"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Options bounds the graph's size.
type Options struct {
	MaxEntities   int
	MaxNodes      int
	MinEdgeWeight float64
}

func (o Options) withDefaults() Options {
	if o.MaxEntities <= 0 {
		o.MaxEntities = 120
	}
	if o.MaxNodes <= 0 {
		o.MaxNodes = 260
	}
	if o.MinEdgeWeight <= 0 {
		o.MinEdgeWeight = 0.16
	}
	return o
}

type nodeBuild struct {
	id    string
	label string
	kind  string
	score float64
	meta  map[string]any
}

type edgeKey struct {
	source, target, kind string
}

func edgeKeyOf(source, target, kind string, undirected bool) edgeKey {
	if undirected && source > target {
		source, target = target, source
	}
	return edgeKey{source, target, kind}
}

// Build runs the full pipeline over the supplied window.
func Build(topics []model.Topic, tasks []model.Task, logs []model.LogEntry, opts Options) Graph {
	opts = opts.withDefaults()

	nodes := map[string]*nodeBuild{}
	edgeWeights := map[edgeKey]float64{}
	edgeEvidence := map[edgeKey]int{}

	notesByRelated := map[string][]string{}
	for _, l := range logs {
		if l.Type != model.LogNote {
			continue
		}
		related := derefStr(l.RelatedLogID)
		if related == "" {
			continue
		}
		content := strings.TrimSpace(firstNonEmpty(l.Content, derefStr(l.Summary)))
		if content == "" {
			continue
		}
		if len(notesByRelated[related]) < 4 {
			notesByRelated[related] = append(notesByRelated[related], clip(textutil.NormalizeForGraph(content), 800))
		}
	}

	for _, topic := range topics {
		if topic.ID == "" {
			continue
		}
		nodeID := "topic:" + topic.ID
		score := 1.6
		if topic.Pinned {
			score += 0.65
		}
		nodes[nodeID] = &nodeBuild{
			id: nodeID, label: firstNonEmpty(topic.Name, topic.ID), kind: "topic", score: score,
			meta: map[string]any{"topicId": topic.ID, "description": derefAny(topic.Description), "pinned": topic.Pinned},
		}
	}

	statusBoost := map[model.TaskStatus]float64{
		model.TaskDoing: 0.9, model.TaskBlocked: 0.7, model.TaskTodo: 0.45, model.TaskDone: 0.1,
	}
	for _, task := range tasks {
		if task.ID == "" {
			continue
		}
		topicID := derefStr(task.TopicID)
		nodeID := "task:" + task.ID
		boost, ok := statusBoost[task.Status]
		if !ok {
			boost = 0.3
		}
		score := 1.1 + boost
		if task.Pinned {
			score += 0.45
		}
		nodes[nodeID] = &nodeBuild{
			id: nodeID, label: firstNonEmpty(task.Title, task.ID), kind: "task", score: score,
			meta: map[string]any{"taskId": task.ID, "topicId": orNilStr(topicID), "status": string(task.Status), "pinned": task.Pinned},
		}
		if topicID != "" {
			if _, ok := nodes["topic:"+topicID]; ok {
				key := edgeKeyOf("topic:"+topicID, nodeID, "has_task", false)
				edgeWeights[key] += 1.0 + boost*0.25
				edgeEvidence[key]++
			}
		}
	}

	entityScore := map[string]float64{}
	entityLabel := map[string]string{}
	topicEntities := map[string]map[string]float64{}
	taskEntities := map[string]map[string]float64{}
	agentEntities := map[string]map[string]float64{}

	baseWeight := map[model.LogType]float64{
		model.LogConversation: 1.0, model.LogAction: 0.72, model.LogSystem: 0.55, model.LogImport: 0.45,
	}

	for _, row := range logs {
		if row.Type == model.LogNote {
			continue
		}
		attached := notesByRelated[row.ID]
		combined := strings.TrimSpace(strings.Join(append([]string{derefStr(row.Summary), row.Content, clip(derefStr(row.Raw), 900)}, attached...), "\n"))
		entities := extractEntities(combined)
		if len(entities) == 0 {
			continue
		}

		topicID := derefStr(row.TopicID)
		taskID := derefStr(row.TaskID)
		agentLabel := strings.TrimSpace(firstNonEmpty(derefStr(row.AgentLabel), derefStr(row.AgentID)))
		if agentLabel != "" {
			agentNode := "agent:" + slug(agentLabel)
			if _, ok := nodes[agentNode]; !ok {
				nodes[agentNode] = &nodeBuild{id: agentNode, label: clipRunes(agentLabel, 38), kind: "agent", score: 0.9, meta: map[string]any{"agentLabel": agentLabel}}
			}
			nodes[agentNode].score += 0.1
		}

		bw, ok := baseWeight[row.Type]
		if !ok {
			bw = 0.66
		}
		noteBoost := 1.0 + math.Min(0.8, float64(len(attached))*0.2)
		weight := bw * noteBoost

		var entityIDs []string
		for _, ent := range entities {
			key := strings.ToLower(ent)
			entityScore[key] += weight
			if existing, ok := entityLabel[key]; !ok || len(ent) > len(existing) {
				entityLabel[key] = ent
			}
			entityID := "entity:" + slug(key)
			entityIDs = append(entityIDs, entityID)
			if topicID != "" {
				addWeighted(topicEntities, topicID, entityID, weight)
			}
			if taskID != "" {
				addWeighted(taskEntities, taskID, entityID, weight)
			}
			if agentLabel != "" {
				addWeighted(agentEntities, agentLabel, entityID, weight*0.85)
			}
		}

		uniq := uniqueSorted(entityIDs)
		for i := 0; i < len(uniq); i++ {
			for j := i + 1; j < len(uniq); j++ {
				key := edgeKeyOf(uniq[i], uniq[j], "co_occurs", true)
				edgeWeights[key] += math.Max(0.12, weight*0.38)
				edgeEvidence[key]++
			}
		}
	}

	type scored struct {
		key   string
		score float64
	}
	ranked := make([]scored, 0, len(entityScore))
	for k, v := range entityScore {
		ranked = append(ranked, scored{k, v})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	maxEnt := opts.MaxEntities
	if maxEnt < 12 {
		maxEnt = 12
	}
	if len(ranked) > maxEnt {
		ranked = ranked[:maxEnt]
	}
	selectedEntityIDs := map[string]bool{}
	for _, r := range ranked {
		nodeID := "entity:" + slug(r.key)
		selectedEntityIDs[nodeID] = true
		nodes[nodeID] = &nodeBuild{
			id: nodeID, label: entityLabel[r.key], kind: "entity", score: 0.9 + r.score,
			meta: map[string]any{"entityKey": r.key, "mentions": round4(r.score)},
		}
	}

	mentionEdges := func(prefix string, m map[string]map[string]float64, boost float64) {
		for ownerID, entMap := range m {
			source := prefix + ownerID
			n, ok := nodes[source]
			if !ok {
				continue
			}
			for entID, weight := range entMap {
				if !selectedEntityIDs[entID] {
					continue
				}
				key := edgeKeyOf(source, entID, "mentions", false)
				edgeWeights[key] += weight
				edgeEvidence[key]++
				n.score += weight * boost
			}
		}
	}
	mentionEdges("topic:", topicEntities, 0.05)
	mentionEdges("task:", taskEntities, 0.035)
	for agentLabel, entMap := range agentEntities {
		source := "agent:" + slug(agentLabel)
		if _, ok := nodes[source]; !ok {
			continue
		}
		for entID, weight := range entMap {
			if !selectedEntityIDs[entID] {
				continue
			}
			key := edgeKeyOf(source, entID, "agent_focus", false)
			edgeWeights[key] += weight
			edgeEvidence[key]++
		}
	}

	topicNameByID := map[string]string{}
	var topicIDs []string
	for _, t := range topics {
		if t.ID == "" {
			continue
		}
		topicIDs = append(topicIDs, t.ID)
		topicNameByID[t.ID] = t.Name
	}
	for i := 0; i < len(topicIDs); i++ {
		for j := i + 1; j < len(topicIDs); j++ {
			left, right := topicIDs[i], topicIDs[j]
			sharedWeight := 0.0
			for entID, lw := range topicEntities[left] {
				if selectedEntityIDs[entID] {
					if rw, ok := topicEntities[right][entID]; ok {
						sharedWeight += math.Min(lw, rw)
					}
				}
			}
			lexical := textutil.Jaccard(topicNameByID[left], topicNameByID[right])
			score := sharedWeight*0.12 + lexical
			if score < 0.28 {
				continue
			}
			key := edgeKeyOf("topic:"+left, "topic:"+right, "related_topic", true)
			edgeWeights[key] += score
			edgeEvidence[key]++
		}
	}

	tasksByTopic := map[string][]string{}
	for _, t := range tasks {
		topicID := derefStr(t.TopicID)
		if t.ID != "" && topicID != "" {
			tasksByTopic[topicID] = append(tasksByTopic[topicID], t.ID)
		}
	}
	for _, taskIDs := range tasksByTopic {
		for i := 0; i < len(taskIDs); i++ {
			for j := i + 1; j < len(taskIDs); j++ {
				left, right := taskIDs[i], taskIDs[j]
				shared := 0.0
				for entID, lw := range taskEntities[left] {
					if selectedEntityIDs[entID] {
						if rw, ok := taskEntities[right][entID]; ok {
							shared += math.Min(lw, rw)
						}
					}
				}
				if shared < 0.95 {
					continue
				}
				key := edgeKeyOf("task:"+left, "task:"+right, "related_task", true)
				edgeWeights[key] += shared * 0.11
				edgeEvidence[key]++
			}
		}
	}

	structural := map[string]bool{}
	var entityNodeIDs []string
	for id, n := range nodes {
		if n.kind == "topic" || n.kind == "task" || n.kind == "agent" {
			structural[id] = true
		}
		if n.kind == "entity" {
			entityNodeIDs = append(entityNodeIDs, id)
		}
	}
	sort.Slice(entityNodeIDs, func(i, j int) bool { return nodes[entityNodeIDs[i]].score > nodes[entityNodeIDs[j]].score })
	keepEntities := opts.MaxNodes - len(structural)
	if keepEntities < 0 {
		keepEntities = 0
	}
	if keepEntities > opts.MaxEntities {
		keepEntities = opts.MaxEntities
	}
	kept := map[string]bool{}
	for id := range structural {
		kept[id] = true
	}
	for i, id := range entityNodeIDs {
		if i >= keepEntities {
			break
		}
		kept[id] = true
	}

	type edgeRow struct {
		key    edgeKey
		weight float64
	}
	var edgeRows []edgeRow
	for k, w := range edgeWeights {
		edgeRows = append(edgeRows, edgeRow{k, w})
	}
	sort.Slice(edgeRows, func(i, j int) bool { return edgeRows[i].weight > edgeRows[j].weight })

	var edges []Edge
	for _, er := range edgeRows {
		if !kept[er.key.source] || !kept[er.key.target] {
			continue
		}
		if er.weight < opts.MinEdgeWeight && er.key.kind != "has_task" {
			continue
		}
		ev := edgeEvidence[er.key]
		if ev == 0 {
			ev = 1
		}
		edges = append(edges, Edge{Source: er.key.source, Target: er.key.target, Type: er.key.kind, Weight: round4(er.weight), Evidence: ev})
	}
	if len(edges) > 1200 {
		edges = edges[:1200]
	}

	usedNodes := map[string]bool{}
	for _, e := range edges {
		usedNodes[e.Source] = true
		usedNodes[e.Target] = true
	}
	for id := range kept {
		if strings.HasPrefix(id, "topic:") || strings.HasPrefix(id, "task:") {
			usedNodes[id] = true
		}
	}

	var ids []string
	for id := range nodes {
		if usedNodes[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := nodes[ids[i]], nodes[ids[j]]
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		if a.score != b.score {
			return a.score > b.score
		}
		return a.label < b.label
	})

	nodeList := make([]Node, 0, len(ids))
	for _, id := range ids {
		n := nodes[id]
		nodeList = append(nodeList, Node{
			ID: n.id, Label: n.label, Type: n.kind, Score: round4(n.score),
			Size: nodeSize(n.kind, n.score), Color: nodeColor(n.kind), Meta: n.meta,
		})
	}
	for i := range edges {
		edges[i].ID = "edge-" + itoa(i+1)
	}

	var topicCount, taskCount, entityCount, agentCount int
	for _, n := range nodeList {
		switch n.Type {
		case "topic":
			topicCount++
		case "task":
			taskCount++
		case "entity":
			entityCount++
		case "agent":
			agentCount++
		}
	}
	densityBase := math.Max(1.0, float64(len(nodeList)*(len(nodeList)-1))/2)
	density := math.Min(1.0, float64(len(edges))/densityBase)

	return Graph{
		Stats: Stats{
			NodeCount: len(nodeList), EdgeCount: len(edges), TopicCount: topicCount,
			TaskCount: taskCount, EntityCount: entityCount, AgentCount: agentCount, Density: round4(density),
		},
		Nodes: nodeList,
		Edges: edges,
	}
}

func addWeighted(m map[string]map[string]float64, owner, entID string, weight float64) {
	inner, ok := m[owner]
	if !ok {
		inner = map[string]float64{}
		m[owner] = inner
	}
	inner[entID] += weight
}

func nodeSize(kind string, score float64) float64 {
	base := map[string]float64{"topic": 20.0, "task": 15.0, "entity": 10.5, "agent": 11.5}[kind]
	if base == 0 {
		base = 10.0
	}
	boost := math.Max(0.0, math.Min(22.0, math.Sqrt(math.Max(score, 0.0))*2.4))
	return round4(base + boost)
}

func nodeColor(kind string) string {
	switch kind {
	case "topic":
		return topicColor
	case "task":
		return taskColor
	case "entity":
		return entityColor
	case "agent":
		return agentColor
	}
	return "#aab7c4"
}

var (
	acronymRe    = regexp.MustCompile(`\b[A-Z][A-Z0-9_-]{2,}\b`)
	camelCaseRe  = regexp.MustCompile(`\b[A-Z][a-z]+(?:[A-Z][a-z0-9]+)+\b`)
	titleCaseRe  = regexp.MustCompile(`\b[A-Z][a-z0-9]{2,}\b`)
	multiWordRe  = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:\s+[A-Z][a-z0-9]+){1,2}\b`)
	entityTrimRe = regexp.MustCompile("^[`*\\[\\](){}:;,.!?'\"]+|[`*\\[\\](){}:;,.!?'\"]+$")
)

// extractEntities ports clawgraph.py's _extract_entities: acronyms,
// CamelCase/TitleCase words, and multi-word named entities, filtered
// against the shared blocklist and stopword set.
func extractEntities(text string) []string {
	source := textutil.NormalizeForGraph(text)
	if source == "" {
		return nil
	}
	set := map[string]bool{}
	add := func(token string, checkBlocklist bool) {
		token = strings.TrimSpace(token)
		if token == "" {
			return
		}
		if checkBlocklist && entityBlocklist[token] {
			return
		}
		set[token] = true
	}
	for _, m := range acronymRe.FindAllString(source, -1) {
		add(m, true)
	}
	for _, m := range camelCaseRe.FindAllString(source, -1) {
		if len(m) >= 3 {
			add(m, false)
		}
	}
	for _, m := range titleCaseRe.FindAllString(source, -1) {
		add(m, true)
	}
	for _, m := range multiWordRe.FindAllString(source, -1) {
		if len(m) >= 4 {
			add(m, true)
		}
	}

	var out []string
	for ent := range set {
		ent = entityTrimRe.ReplaceAllString(ent, "")
		if ent == "" {
			continue
		}
		// Drop entities whose every word is a stop word / too short once
		// tokenized (Tokenize already strips those), since a bare acronym or
		// TitleCase match with no substantive token carries no signal.
		if len(textutil.Tokenize(ent)) == 0 {
			continue
		}
		out = append(out, clipRunes(ent, 48))
	}
	return out
}

var slugNonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

func slug(value string) string {
	cleaned := slugNonAlnumRe.ReplaceAllString(strings.ToLower(value), "-")
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		return "node"
	}
	return cleaned
}

func uniqueSorted(ids []string) []string {
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// clipRunes truncates a node label to at most limit terminal columns, so
// wide (CJK/emoji) labels don't blow out the graph UI's layout budget the
// way a plain rune-count clip would.
func clipRunes(s string, limit int) string {
	if runewidth.StringWidth(s) <= limit {
		return s
	}
	return runewidth.Truncate(s, limit, "")
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefAny(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func orNilStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func firstNonEmpty(parts ...string) string {
	for _, p := range parts {
		if p != "" {
			return p
		}
	}
	return ""
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
