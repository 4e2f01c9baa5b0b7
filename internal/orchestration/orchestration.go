// Package orchestration tracks the OrchestrationRun/OrchestrationItem
// bookkeeping for one chat dispatch: a main.response item plus one item per
// subagent discovered through sessions_spawn tool-result logs, converging
// when every item reaches a terminal status. Grounded on SPEC_FULL §4.11 and
// original_source/backend/tests/test_orchestration_runtime.py (read for
// behavior shape: stable item keys prevent duplicate-spawn fan-out, a
// completed subagent does not by itself close main.response).
package orchestration

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
)

// StallAfter is how long an item may go without activity before Tick marks
// it stalled.
const StallAfter = 1 * time.Hour

// CheckInEvery bounds how often Tick revisits a still-running item.
const CheckInEvery = 5 * time.Minute

// Tracker wires orchestration bookkeeping into the ingest path.
type Tracker struct {
	store store.Store
}

func New(st store.Store) *Tracker {
	return &Tracker{store: st}
}

// StartRun creates the OrchestrationRun and its main.response item for a
// freshly-dispatched chat request. Safe to call more than once for the same
// requestId; CreateOrchestrationRun and UpsertOrchestrationItem are both
// idempotent on their natural keys.
func (t *Tracker) StartRun(ctx context.Context, requestID, sessionKey string) error {
	if err := t.store.CreateOrchestrationRun(ctx, &model.OrchestrationRun{RequestID: requestID, SessionKey: sessionKey}); err != nil {
		return err
	}
	now := model.NowISO()
	_, err := t.store.UpsertOrchestrationItem(ctx, &model.OrchestrationItem{
		RequestID:      requestID,
		ItemKey:        "main.response",
		Status:         model.OrchestrationRunning,
		NextCheckAt:    now,
		LastActivityAt: now,
		Meta:           map[string]string{"sessionKey": sessionKey, "kind": "main"},
	})
	return err
}

var spawnToolRe = regexp.MustCompile(`(?i)sessions_spawn`)

// spawnResult mirrors the subset of the tool-result JSON this package reads;
// the field is present at either the top level or nested under details.
type spawnResult struct {
	ToolName string `json:"toolName"`
	IsError  bool   `json:"isError"`
	Result   struct {
		ChildSessionKey string `json:"childSessionKey"`
		Error           string `json:"error"`
		Details         struct {
			Status          string `json:"status"`
			Error           string `json:"error"`
			ChildSessionKey string `json:"childSessionKey"`
		} `json:"details"`
	} `json:"result"`
}

// detectSpawn extracts a child session key from a sessions_spawn action
// log's raw tool-result JSON, returning ok=false for error results (a failed
// spawn never created a subagent, so it gets no item).
func detectSpawn(entry *model.LogEntry) (childSessionKey string, ok bool) {
	if entry.Type != model.LogAction || entry.Raw == nil {
		return "", false
	}
	if !spawnToolRe.MatchString(entry.Content) && !spawnToolRe.MatchString(*entry.Raw) {
		return "", false
	}
	var parsed spawnResult
	if err := json.Unmarshal([]byte(*entry.Raw), &parsed); err != nil {
		return "", false
	}
	if parsed.IsError || parsed.Result.Error != "" || parsed.Result.Details.Error != "" {
		return "", false
	}
	if parsed.Result.Details.Status != "" && parsed.Result.Details.Status != "ok" && parsed.Result.Details.Status != "success" {
		return "", false
	}
	child := parsed.Result.ChildSessionKey
	if child == "" {
		child = parsed.Result.Details.ChildSessionKey
	}
	if child == "" {
		return "", false
	}
	return child, true
}

// agentIDFromSessionKey extracts the "coding" out of
// "agent:coding:subagent:...", matching the convention the spec's session
// key glossary documents for agent-scoped session keys.
func agentIDFromSessionKey(sessionKey string) string {
	parts := strings.SplitN(sessionKey, ":", 3)
	if len(parts) >= 2 && parts[0] == "agent" {
		return parts[1]
	}
	return ""
}

// OnLogAppended is the ingest-path hook: action logs matching sessions_spawn
// grow a run with a new subagent item; conversation logs matching a
// known item's sessionKey mark that item done.
func (t *Tracker) OnLogAppended(ctx context.Context, entry *model.LogEntry) {
	if entry.Source == nil || entry.Source.SessionKey == "" {
		return
	}

	if child, ok := detectSpawn(entry); ok {
		t.onSpawn(ctx, entry.Source.SessionKey, child)
		return
	}

	if entry.Type == model.LogConversation {
		t.onActivity(ctx, entry.Source.SessionKey)
	}
}

func (t *Tracker) onSpawn(ctx context.Context, parentSessionKey, childSessionKey string) {
	run, err := t.store.FindOrchestrationRunBySessionKey(ctx, parentSessionKey)
	if err != nil {
		if err != store.ErrNotFound {
			slog.Warn("orchestration: find run for spawn failed", "sessionKey", parentSessionKey, "error", err)
		}
		return
	}
	now := model.NowISO()
	created, err := t.store.UpsertOrchestrationItem(ctx, &model.OrchestrationItem{
		RequestID:      run.RequestID,
		ItemKey:        "subagent:" + childSessionKey,
		Status:         model.OrchestrationRunning,
		NextCheckAt:    now,
		LastActivityAt: now,
		Meta:           map[string]string{"sessionKey": childSessionKey, "kind": "subagent", "agentId": agentIDFromSessionKey(childSessionKey)},
	})
	if err != nil {
		slog.Warn("orchestration: upsert subagent item failed", "requestId", run.RequestID, "childSessionKey", childSessionKey, "error", err)
		return
	}
	if created {
		slog.Info("orchestration: subagent item created", "requestId", run.RequestID, "childSessionKey", childSessionKey)
	}
}

// onActivity marks the item owning sessionKey done -- a conversation
// (assistant reply) in that session is treated as its terminal response.
func (t *Tracker) onActivity(ctx context.Context, sessionKey string) {
	run, err := t.store.FindOrchestrationRunBySessionKey(ctx, sessionKey)
	if err != nil {
		if err != store.ErrNotFound {
			slog.Warn("orchestration: find run for activity failed", "sessionKey", sessionKey, "error", err)
		}
		return
	}
	items, err := t.store.ListOrchestrationItems(ctx, run.RequestID)
	if err != nil {
		slog.Warn("orchestration: list items failed", "requestId", run.RequestID, "error", err)
		return
	}
	for _, it := range items {
		if it.Meta["sessionKey"] != sessionKey || it.Status != model.OrchestrationRunning {
			continue
		}
		if err := t.store.UpdateOrchestrationItemStatus(ctx, it.ID, model.OrchestrationDone); err != nil {
			slog.Warn("orchestration: mark item done failed", "itemId", it.ID, "error", err)
		}
		return
	}
}

// Cancel transitions every non-terminal item of a run to cancelled.
func (t *Tracker) Cancel(ctx context.Context, requestID string) error {
	items, err := t.store.ListOrchestrationItems(ctx, requestID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.Status == model.OrchestrationDone || it.Status == model.OrchestrationCancelled {
			continue
		}
		if err := t.store.UpdateOrchestrationItemStatus(ctx, it.ID, model.OrchestrationCancelled); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot is the per-run view surfaced by /api/context per SPEC_FULL §12.1.
type Snapshot struct {
	RequestID   string                    `json:"requestId"`
	SessionKey  string                    `json:"sessionKey"`
	Items       []model.OrchestrationItem `json:"items"`
	Convergence Convergence               `json:"convergence"`
}

// Convergence reports whether a run's items have all reached a terminal
// status, and why not when they haven't.
type Convergence struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason"`
}

// RunSnapshot loads a run and computes its convergence state.
func (t *Tracker) RunSnapshot(ctx context.Context, requestID string) (*Snapshot, error) {
	run, err := t.store.GetOrchestrationRun(ctx, requestID)
	if err != nil {
		return nil, err
	}
	items, err := t.store.ListOrchestrationItems(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{RequestID: run.RequestID, SessionKey: run.SessionKey, Items: items, Convergence: convergence(items)}, nil
}

// SnapshotForSession resolves the run owning sessionKey (as its base session
// or a subagent item's session) and returns its snapshot, for /api/context's
// orchestration block.
func (t *Tracker) SnapshotForSession(ctx context.Context, sessionKey string) (*Snapshot, error) {
	run, err := t.store.FindOrchestrationRunBySessionKey(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	return t.RunSnapshot(ctx, run.RequestID)
}

func convergence(items []model.OrchestrationItem) Convergence {
	if len(items) == 0 {
		return Convergence{Ready: false, Reason: "awaiting_run"}
	}
	for _, it := range items {
		if it.Status == model.OrchestrationCancelled {
			return Convergence{Ready: true, Reason: "cancelled"}
		}
	}
	for _, it := range items {
		if it.Status != model.OrchestrationDone {
			return Convergence{Ready: false, Reason: "awaiting_items"}
		}
	}
	return Convergence{Ready: true, Reason: "converged"}
}
