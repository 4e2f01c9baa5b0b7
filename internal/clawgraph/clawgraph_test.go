package clawgraph

import (
	"testing"

	"github.com/sirouk/clawboard/internal/model"
)

func strp(s string) *string { return &s }

func TestBuild_TopicsAndTasksProduceHasTaskEdges(t *testing.T) {
	topics := []model.Topic{{ID: "t1", Name: "Billing Migration", Pinned: true}}
	tasks := []model.Task{{ID: "k1", TopicID: strp("t1"), Title: "Write invoice job", Status: model.TaskDoing}}

	g := Build(topics, tasks, nil, Options{})

	if g.Stats.TopicCount != 1 || g.Stats.TaskCount != 1 {
		t.Fatalf("stats = %+v, want 1 topic, 1 task", g.Stats)
	}
	var found bool
	for _, e := range g.Edges {
		if e.Type == "has_task" && e.Source == "topic:t1" && e.Target == "task:k1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected has_task edge between topic:t1 and task:k1, edges=%+v", g.Edges)
	}
}

func TestBuild_EntityCoOccurrenceCreatesEdge(t *testing.T) {
	topics := []model.Topic{{ID: "t1", Name: "Kubernetes Rollout"}}
	logs := []model.LogEntry{
		{ID: "l1", Type: model.LogConversation, TopicID: strp("t1"), Content: "PagerDuty fired after the Kubernetes deploy failed health checks."},
		{ID: "l2", Type: model.LogConversation, TopicID: strp("t1"), Content: "Kubernetes rollback resolved the PagerDuty alert."},
	}

	g := Build(topics, nil, logs, Options{})

	var sawEntity bool
	for _, n := range g.Nodes {
		if n.Type == "entity" {
			sawEntity = true
		}
	}
	if !sawEntity {
		t.Fatalf("expected at least one entity node, nodes=%+v", g.Nodes)
	}

	var coOccurs bool
	for _, e := range g.Edges {
		if e.Type == "co_occurs" {
			coOccurs = true
		}
	}
	if !coOccurs {
		t.Errorf("expected a co_occurs edge between co-mentioned entities, edges=%+v", g.Edges)
	}
}

func TestBuild_NotesBoostRelatedLogEntities(t *testing.T) {
	topics := []model.Topic{{ID: "t1", Name: "Release Notes"}}
	logs := []model.LogEntry{
		{ID: "l1", Type: model.LogConversation, TopicID: strp("t1"), Content: "Stripe webhook failed during Release."},
		{ID: "n1", Type: model.LogNote, RelatedLogID: strp("l1"), Content: "Stripe support confirmed a transient outage."},
	}

	g := Build(topics, nil, logs, Options{})

	if g.Stats.EntityCount == 0 {
		t.Fatalf("expected entities extracted from conversation+note text, stats=%+v", g.Stats)
	}
}

func TestBuild_EntityBlocklistExcludesWeekdaysAndTimezones(t *testing.T) {
	entities := extractEntities("Meeting moved to Fri at 3pm EST, confirmed by Avery.")
	for _, e := range entities {
		if e == "Fri" || e == "EST" {
			t.Errorf("blocklisted token %q leaked into extracted entities: %v", e, entities)
		}
	}
}

func TestBuild_RespectsMaxNodesAndMinEdgeWeight(t *testing.T) {
	var topics []model.Topic
	var logs []model.LogEntry
	for i := 0; i < 13; i++ {
		id := "t" + string(rune('a'+i))
		topics = append(topics, model.Topic{ID: id, Name: "Topic " + id})
		logs = append(logs, model.LogEntry{
			ID: "log-" + id, Type: model.LogConversation, TopicID: strp(id),
			Content: "EntityAlpha EntityBeta EntityGamma discussion for " + id,
		})
	}

	g := Build(topics, nil, logs, Options{MaxNodes: 15, MaxEntities: 5, MinEdgeWeight: 0.5})

	if len(g.Nodes) > 15 {
		t.Errorf("len(nodes) = %d, want <= 15", len(g.Nodes))
	}
	for _, e := range g.Edges {
		if e.Type != "has_task" && e.Weight < 0.5 {
			t.Errorf("edge %+v has weight below MinEdgeWeight", e)
		}
	}
}

func TestBuild_DeterministicEdgeIDs(t *testing.T) {
	topics := []model.Topic{{ID: "t1", Name: "Onboarding"}, {ID: "t2", Name: "Onboarding Flow"}}
	logs := []model.LogEntry{
		{ID: "l1", Type: model.LogConversation, TopicID: strp("t1"), Content: "Auth0 integration for onboarding."},
		{ID: "l2", Type: model.LogConversation, TopicID: strp("t2"), Content: "Auth0 integration for onboarding flow."},
	}

	g := Build(topics, nil, logs, Options{})

	for i, e := range g.Edges {
		want := "edge-" + itoa(i+1)
		if e.ID != want {
			t.Errorf("edge[%d].ID = %q, want %q", i, e.ID, want)
		}
	}
}

func TestBuild_EmptyInputProducesEmptyGraph(t *testing.T) {
	g := Build(nil, nil, nil, Options{})
	if g.Stats.NodeCount != 0 || g.Stats.EdgeCount != 0 {
		t.Errorf("stats = %+v, want zero graph", g.Stats)
	}
	if len(g.Nodes) != 0 || len(g.Edges) != 0 {
		t.Errorf("nodes/edges should be empty, got %d/%d", len(g.Nodes), len(g.Edges))
	}
}
