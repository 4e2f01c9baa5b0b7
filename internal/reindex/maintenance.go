package reindex

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirouk/clawboard/internal/store"
	"github.com/sirouk/clawboard/internal/textutil"
	"github.com/sirouk/clawboard/internal/vectorindex"
)

// pairKey is a (kind,id) key, matching vectorindex.Index.ExistingKeys' shape
// so the two can be diffed directly without an adapter type.
type pairKey = [2]string

// Plan is the result of comparing the desired embedding set (derived from
// every indexable Topic/Task/LogEntry across all spaces) against the
// VectorIndex's managed-existing keys. Grounded on
// original_source/backend/app/vector_maintenance.py's build_cleanup_plan.
type Plan struct {
	DesiredCount         int
	ManagedExistingCount int
	DeletePairs          []pairKey
	UpsertRequests       []Request
}

// managedKind reports whether a vectorindex kind belongs to the cleanup
// sweep. Tasks are namespaced "task:<topicId>" (falling back to bare "task"
// for a task with no topic) to keep per-topic candidate search scoped, so
// the task case is a prefix match rather than equality.
func managedKind(kind string) bool {
	return kind == "topic" || kind == "log" || strings.HasPrefix(kind, "task")
}

// BuildCleanupPlan walks every space's topics, tasks, and logs to build the
// desired (kind,id)->Request set, then diffs it against existingKeys (as
// reported by vectorindex.Index.ExistingKeys) to find stale entries to
// delete and missing entries to (re-)enqueue for upsert.
func BuildCleanupPlan(ctx context.Context, st store.Store, includeToolCallLogs bool, existingKeys map[pairKey]bool) (Plan, error) {
	desired, err := loadDesired(ctx, st, includeToolCallLogs)
	if err != nil {
		return Plan{}, fmt.Errorf("reindex: load desired set: %w", err)
	}

	managedExisting := make(map[pairKey]bool, len(existingKeys))
	for k, ok := range existingKeys {
		if ok && managedKind(k[0]) {
			managedExisting[k] = true
		}
	}

	var deletePairs []pairKey
	for k := range managedExisting {
		if _, ok := desired[k]; !ok {
			deletePairs = append(deletePairs, k)
		}
	}
	sort.Slice(deletePairs, func(i, j int) bool {
		if deletePairs[i][0] != deletePairs[j][0] {
			return deletePairs[i][0] < deletePairs[j][0]
		}
		return deletePairs[i][1] < deletePairs[j][1]
	})

	var upserts []Request
	for k, req := range desired {
		if !managedExisting[k] {
			upserts = append(upserts, req)
		}
	}
	sort.Slice(upserts, func(i, j int) bool {
		if upserts[i].Kind != upserts[j].Kind {
			return upserts[i].Kind < upserts[j].Kind
		}
		return upserts[i].ID < upserts[j].ID
	})

	return Plan{
		DesiredCount:         len(desired),
		ManagedExistingCount: len(managedExisting),
		DeletePairs:          deletePairs,
		UpsertRequests:       upserts,
	}, nil
}

func loadDesired(ctx context.Context, st store.Store, includeToolCallLogs bool) (map[pairKey]Request, error) {
	desired := make(map[pairKey]Request)

	spaces, err := st.ListSpaces(ctx)
	if err != nil {
		return nil, err
	}
	for _, sp := range spaces {
		topics, err := st.ListTopics(ctx, sp.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range topics {
			if t.Name == "" {
				continue
			}
			desired[pairKey{"topic", t.ID}] = Request{Op: OpUpsert, Kind: "topic", ID: t.ID, Text: t.Name}
		}

		tasks, err := st.ListTasks(ctx, sp.ID, nil)
		if err != nil {
			return nil, err
		}
		for _, tk := range tasks {
			if tk.Title == "" {
				continue
			}
			kind := "task"
			if tk.TopicID != nil {
				kind = "task:" + *tk.TopicID
			}
			req := Request{Op: OpUpsert, Kind: kind, ID: tk.ID, Text: tk.Title}
			if tk.TopicID != nil {
				req.TopicID = *tk.TopicID
			}
			desired[pairKey{kind, tk.ID}] = req
		}

		logs, err := st.ListLogs(ctx, store.LogFilter{SpaceID: sp.ID})
		if err != nil {
			return nil, err
		}
		for _, l := range logs {
			text := textutil.IndexableText(string(l.Type), derefOr(l.Summary), l.Content, derefOr(l.Raw), includeToolCallLogs)
			if text == "" {
				continue
			}
			req := Request{Op: OpUpsert, Kind: "log", ID: l.ID, Text: text}
			if l.TopicID != nil {
				req.TopicID = *l.TopicID
			}
			desired[pairKey{"log", l.ID}] = req
		}
	}
	return desired, nil
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Report summarizes a cleanup pass for the CLI and the admin HTTP caller.
type Report struct {
	DryRun               bool
	DesiredCount         int
	ManagedExistingCount int
	DeleteCount          int
	MissingCount         int
	Deleted              int
	Enqueued             int
}

// PlanToReport renders a Plan into a Report without executing anything,
// used for --dry-run.
func PlanToReport(p Plan, dryRun bool) Report {
	return Report{
		DryRun:               dryRun,
		DesiredCount:         p.DesiredCount,
		ManagedExistingCount: p.ManagedExistingCount,
		DeleteCount:          len(p.DeletePairs),
		MissingCount:         len(p.UpsertRequests),
	}
}

// Apply executes a Plan: stale pairs are deleted immediately from vectors,
// missing pairs are appended to the queue file for the Consumer to embed
// and upsert on its next drain. Mirrors run_one_time_vector_cleanup's
// split between "delete now" and "enqueue for later" since deletes need no
// embedding call but upserts do.
func Apply(ctx context.Context, vectors vectorindex.Index, q *Queue, p Plan) (Report, error) {
	report := PlanToReport(p, false)
	if vectors != nil && len(p.DeletePairs) > 0 {
		byKind := make(map[string][]string)
		for _, pair := range p.DeletePairs {
			byKind[pair[0]] = append(byKind[pair[0]], pair[1])
		}
		for kind, ids := range byKind {
			if err := vectors.DeleteBatch(ctx, kind, ids); err != nil {
				return report, fmt.Errorf("reindex: delete batch (%s): %w", kind, err)
			}
		}
		report.Deleted = len(p.DeletePairs)
	}
	if len(p.UpsertRequests) > 0 {
		if err := q.EnqueueAll(p.UpsertRequests); err != nil {
			return report, fmt.Errorf("reindex: enqueue missing: %w", err)
		}
		report.Enqueued = len(p.UpsertRequests)
	}
	return report, nil
}
