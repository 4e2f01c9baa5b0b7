// Package ingest implements IngestService: the idempotent log-append path,
// patch/delete, terminal-filter classification, snooze revival on activity,
// and event/reindex fan-out. Grounded on the teacher's append/patch handler
// shape generalized per SPEC_FULL §4.3, with the terminal-filter and
// indexable-text rules grounded on
// original_source/backend/app/vector_maintenance.py via internal/textutil.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/sirouk/clawboard/internal/apierr"
	"github.com/sirouk/clawboard/internal/bus"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/reindex"
	"github.com/sirouk/clawboard/internal/store"
	"github.com/sirouk/clawboard/internal/textutil"
	"github.com/sirouk/clawboard/pkg/protocol"
)

// FilterReason is a terminal ingest-time classification reason, surfaced as
// the LogEntry's classificationError when a filter fires.
type FilterReason string

const (
	FilterCronEvent              FilterReason = "filtered_cron_event"
	FilterControlPlane           FilterReason = "filtered_control_plane"
	FilterSubagentScaffold       FilterReason = "filtered_subagent_scaffold"
	FilterToolActivity           FilterReason = "filtered_tool_activity"
	FilterUnanchoredToolActivity FilterReason = "filtered_unanchored_tool_activity"
)

// AppendPayload is the caller-supplied shape for IngestService.Append.
type AppendPayload struct {
	SpaceID        string
	TopicID        *string
	TaskID         *string
	RelatedLogID   *string
	Type           model.LogType
	Content        string
	Summary        *string
	Raw            *string
	AgentID        *string
	AgentLabel     *string
	Source         *model.LogSource
	Attachments    []model.AttachmentRef
	IdempotencyKey *string // payload-field key, lowest priority after header
	CreatedAt      string  // caller-normalized; defaults to now()
}

// IncludeToolCallLogs: when false (default), tool-call action logs never
// contribute indexable text. No environment variable or config field sets it.
type Options struct {
	IncludeToolCallLogs bool
}

// Service implements append/patch/delete plus the ingest-time filters and
// snooze-revival rule.
type Service struct {
	store store.Store
	hub   *bus.Hub
	queue *reindex.Queue
	opts  Options
	orch  orchestrationTracker
}

// orchestrationTracker is the subset of orchestration.Tracker this package
// needs, kept as an interface so ingest never imports gatewaydispatch's
// dependency chain transitively through orchestration.
type orchestrationTracker interface {
	OnLogAppended(ctx context.Context, entry *model.LogEntry)
}

func New(st store.Store, hub *bus.Hub, queue *reindex.Queue, opts Options) *Service {
	return &Service{store: st, hub: hub, queue: queue, opts: opts}
}

// SetOrchestrationTracker wires orchestration bookkeeping into the append
// path. Optional: a nil tracker (the zero value before this is called) means
// appends never touch orchestration state.
func (s *Service) SetOrchestrationTracker(t orchestrationTracker) {
	s.orch = t
}

var (
	cronChannelRe      = regexp.MustCompile(`(?i)^(cron|scheduler|synthetic):`)
	heartbeatRe        = regexp.MustCompile(`(?i)\bheartbeat\b|\bcontrol[-_ ]plane\b`)
	subagentPreambleRe = regexp.MustCompile(`(?i)^\s*(you are a subagent|subagent scaffold|spawned subagent)\b`)
)

// Append resolves idempotency, validates routing, applies terminal filters,
// inserts the row, revives snooze on the affected Topic/Task, and publishes
// log.appended plus a reindex request. Per SPEC_FULL §4.3 this never fails
// the write for snooze/reindex/publish errors -- only the insert itself is
// a hard failure.
func (s *Service) Append(ctx context.Context, p AppendPayload, idempotencyKeyHeader string) (*model.LogEntry, error) {
	key := s.resolveIdempotencyKey(p, idempotencyKeyHeader)
	if key != "" {
		if existing, err := s.store.GetLogByIdempotencyKey(ctx, key); err == nil {
			return existing, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	now := model.NowISO()
	entry := &model.LogEntry{
		ID:                   uuid.NewString(),
		SpaceID:              orDefaultSpace(p.SpaceID),
		TopicID:              p.TopicID,
		TaskID:               p.TaskID,
		RelatedLogID:         p.RelatedLogID,
		Type:                 p.Type,
		Content:              p.Content,
		Summary:              p.Summary,
		Raw:                  p.Raw,
		ClassificationStatus: model.ClassificationPending,
		AgentID:              p.AgentID,
		AgentLabel:           p.AgentLabel,
		Source:               p.Source,
		Attachments:          p.Attachments,
		CreatedAt:            p.CreatedAt,
	}
	if entry.CreatedAt == "" {
		entry.CreatedAt = now
	}
	if entry.Type == model.LogNote && (entry.RelatedLogID == nil || *entry.RelatedLogID == "") {
		return nil, apierr.New(apierr.KindBadRequest, "note logs require relatedLogId")
	}
	if key != "" {
		entry.IdempotencyKey = &key
	}

	if err := s.resolveRouting(ctx, entry); err != nil {
		return nil, err
	}

	if reason, detached := s.applyFilters(entry); reason != "" {
		entry.ClassificationStatus = classificationForFilter(reason)
		entry.ClassificationError = (*string)(&reason)
		if detached {
			entry.TopicID = nil
			entry.TaskID = nil
		}
	}

	if err := s.store.AppendLog(ctx, entry); err != nil {
		if errors.Is(err, store.ErrIdempotentReturn) {
			if key == "" {
				return nil, apierr.Wrap(apierr.KindBadRequest, "idempotency conflict without a resolvable key", err)
			}
			existing, gerr := s.store.GetLogByIdempotencyKey(ctx, key)
			if gerr != nil {
				return nil, gerr
			}
			return existing, nil
		}
		return nil, err
	}

	s.reviveSnooze(ctx, entry)
	s.publishAppended(entry)
	s.enqueueReindex(entry)
	if s.orch != nil {
		s.orch.OnLogAppended(ctx, entry)
	}

	return entry, nil
}

// resolveIdempotencyKey applies the priority order: header > payload field >
// synthesized from source.messageId+channel+actor+type.
func (s *Service) resolveIdempotencyKey(p AppendPayload, header string) string {
	if header != "" {
		return header
	}
	if p.IdempotencyKey != nil && *p.IdempotencyKey != "" {
		return *p.IdempotencyKey
	}
	if p.Source != nil && p.Source.MessageID != "" {
		actor := ""
		if p.AgentID != nil {
			actor = *p.AgentID
		}
		raw := fmt.Sprintf("%s|%s|%s|%s", p.Source.MessageID, p.Source.Channel, actor, p.Type)
		sum := sha1.Sum([]byte(raw))
		return "synth-" + hex.EncodeToString(sum[:])
	}
	return ""
}

// resolveRouting enforces Task-implies-Topic: a referenced Task's topicId
// always wins over an explicitly-supplied topicId, and a topicId referencing
// no Topic is dropped.
func (s *Service) resolveRouting(ctx context.Context, entry *model.LogEntry) error {
	if entry.TaskID != nil && *entry.TaskID != "" {
		task, err := s.store.GetTask(ctx, *entry.TaskID)
		if errors.Is(err, store.ErrNotFound) {
			entry.TaskID = nil
		} else if err != nil {
			return err
		} else {
			entry.TopicID = task.TopicID
			return nil
		}
	}
	if entry.TopicID != nil && *entry.TopicID != "" {
		if _, err := s.store.GetTopic(ctx, *entry.TopicID); errors.Is(err, store.ErrNotFound) {
			entry.TopicID = nil
		} else if err != nil {
			return err
		}
	}
	return nil
}

// applyFilters implements §4.3 step 4's terminal classifications. detached
// reports whether topicId/taskId should be cleared.
func (s *Service) applyFilters(entry *model.LogEntry) (FilterReason, bool) {
	text := textutil.Sanitize(firstNonEmpty(entry.Content, derefOr(entry.Summary, ""), derefOr(entry.Raw, "")))
	channel := ""
	sessionKey := ""
	boardScope := ""
	if entry.Source != nil {
		channel = entry.Source.Channel
		sessionKey = entry.Source.SessionKey
		boardScope = entry.Source.BoardScope
	}

	if cronChannelRe.MatchString(channel) {
		return FilterCronEvent, true
	}
	if strings.Contains(strings.ToLower(sessionKey), "main-agent") && heartbeatRe.MatchString(text) {
		return FilterControlPlane, true
	}
	if entry.Type == model.LogConversation && subagentPreambleRe.MatchString(text) {
		return FilterSubagentScaffold, true
	}
	if textutil.IsToolCallLog(string(entry.Type), derefOr(entry.Summary, ""), entry.Content, derefOr(entry.Raw, "")) {
		hasScope := boardScope != "" || (entry.TopicID != nil && *entry.TopicID != "") || (entry.TaskID != nil && *entry.TaskID != "")
		if hasScope {
			return FilterToolActivity, false
		}
		if sessionKey == "" {
			return FilterUnanchoredToolActivity, true
		}
		// Channel-session tool trace with no anchor yet: stays pending so a
		// later bundle-scoping classifier pass can label it.
		return "", false
	}
	return "", false
}

func classificationForFilter(reason FilterReason) model.ClassificationStatus {
	if reason == FilterToolActivity {
		return model.ClassificationClassified
	}
	return model.ClassificationFailed
}

// reviveSnooze clears snoozedUntil on the affected Topic/Task if set, per
// SPEC_FULL §4.3 step 6. Best-effort: errors are logged, never surfaced.
func (s *Service) reviveSnooze(ctx context.Context, entry *model.LogEntry) {
	if entry.TopicID != nil {
		topic, err := s.store.GetTopic(ctx, *entry.TopicID)
		if err == nil && topic.SnoozedUntil != nil {
			topic.SnoozedUntil = nil
			topic.Status = model.TopicActive
			if err := s.store.UpdateTopic(ctx, topic); err != nil {
				slog.Warn("ingest: unsnooze topic failed", "topicId", topic.ID, "error", err)
			} else {
				s.hub.Publish(protocol.EventTopicUpserted, topic, topic.UpdatedAt)
			}
		}
	}
	if entry.TaskID != nil {
		task, err := s.store.GetTask(ctx, *entry.TaskID)
		if err == nil && task.SnoozedUntil != nil {
			task.SnoozedUntil = nil
			if err := s.store.UpdateTask(ctx, task); err != nil {
				slog.Warn("ingest: unsnooze task failed", "taskId", task.ID, "error", err)
			} else {
				s.hub.Publish(protocol.EventTaskUpserted, task, task.UpdatedAt)
			}
		}
	}
}

func (s *Service) publishAppended(entry *model.LogEntry) {
	light := *entry
	light.Raw = nil
	s.hub.Publish(protocol.EventLogAppended, light, entry.UpdatedAt)
}

func (s *Service) enqueueReindex(entry *model.LogEntry) {
	if s.queue == nil {
		return
	}
	text := textutil.IndexableText(string(entry.Type), derefOr(entry.Summary, ""), entry.Content, derefOr(entry.Raw, ""), s.opts.IncludeToolCallLogs)
	req := reindex.Request{Kind: "log", ID: entry.ID, RequestedAt: model.NowISO()}
	if entry.TopicID != nil {
		req.TopicID = *entry.TopicID
	}
	if text == "" {
		req.Op = reindex.OpDelete
	} else {
		req.Op = reindex.OpUpsert
		req.Text = text
	}
	if err := s.queue.Enqueue(req); err != nil {
		slog.Warn("ingest: enqueue reindex failed", "logId", entry.ID, "error", err)
	}
}

// Patch applies a partial update, enforcing Task-implies-Topic alignment and
// the topicId-change-clears-taskId rule from §8's round-trip law.
func (s *Service) Patch(ctx context.Context, id string, patch map[string]any) (*model.LogEntry, error) {
	existing, err := s.store.GetLog(ctx, id)
	if err != nil {
		return nil, err
	}

	newTopicID, hasTopic := patch["topicId"].(string)
	newTaskID, hasTask := patch["taskId"].(string)

	if hasTask && newTaskID != "" {
		task, err := s.store.GetTask(ctx, newTaskID)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindBadRequest, "taskId does not exist", err)
		}
		if task.TopicID != nil {
			patch["topicId"] = *task.TopicID
		}
	} else if hasTopic && !hasTask {
		if existing.TaskID != nil {
			task, err := s.store.GetTask(ctx, *existing.TaskID)
			if err != nil || task.TopicID == nil || *task.TopicID != newTopicID {
				patch["taskId"] = nil
			}
		}
	}

	updated, err := s.store.PatchLog(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	s.hub.Publish(protocol.EventLogPatched, withoutRaw(updated), updated.UpdatedAt)
	s.enqueueReindex(updated)
	return updated, nil
}

// Delete removes the root log and any note children that reference it,
// writing one DeletedLog tombstone and publishing one log.deleted per
// removed id, per §4.3.
func (s *Service) Delete(ctx context.Context, id string) ([]string, error) {
	removed := []string{id}
	notes, err := s.store.ListLogsByRelatedID(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		removed = append(removed, n.ID)
	}

	for _, rid := range removed {
		if err := s.store.DeleteLog(ctx, rid); err != nil {
			return nil, err
		}
		s.hub.Publish(protocol.EventLogDeleted, map[string]string{"id": rid}, model.NowISO())
		if s.queue != nil {
			_ = s.queue.Enqueue(reindex.Request{Op: reindex.OpDelete, Kind: "log", ID: rid, RequestedAt: model.NowISO()})
		}
	}
	return removed, nil
}

// UpsertTopic creates a new Topic (id == "") or renames an existing one,
// per the ownership rule that IngestService is the sole writer of Topic rows
// outside direct user edits. Used by the classifier when it resolves a
// session bundle to a topic.
func (s *Service) UpsertTopic(ctx context.Context, id, spaceID, name string) (*model.Topic, error) {
	if id != "" {
		t, err := s.store.GetTopic(ctx, id)
		if err != nil {
			return nil, err
		}
		if name != "" && name != t.Name {
			t.Name = name
			if err := s.store.UpdateTopic(ctx, t); err != nil {
				return nil, err
			}
			s.hub.Publish(protocol.EventTopicUpserted, t, t.UpdatedAt)
		}
		return t, nil
	}
	t := &model.Topic{
		ID:        uuid.NewString(),
		SpaceID:   orDefaultSpace(spaceID),
		Name:      name,
		CreatedBy: model.CreatedByClassifier,
		Status:    model.TopicActive,
		Priority:  model.PriorityMedium,
		Tags:      []string{"classified"},
	}
	if err := s.store.CreateTopic(ctx, t); err != nil {
		return nil, err
	}
	s.hub.Publish(protocol.EventTopicUpserted, t, t.UpdatedAt)
	return t, nil
}

// UpsertTask creates a new Task within topicID (id == "") or returns the
// existing one, matching the classifier's task-candidate resolution path.
func (s *Service) UpsertTask(ctx context.Context, id, spaceID, topicID, title string) (*model.Task, error) {
	if id != "" {
		return s.store.GetTask(ctx, id)
	}
	tid := topicID
	t := &model.Task{
		ID:       uuid.NewString(),
		SpaceID:  orDefaultSpace(spaceID),
		TopicID:  &tid,
		Title:    title,
		Status:   model.TaskTodo,
		Priority: model.PriorityMedium,
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	s.hub.Publish(protocol.EventTaskUpserted, t, t.UpdatedAt)
	return t, nil
}

func withoutRaw(l *model.LogEntry) model.LogEntry {
	light := *l
	light.Raw = nil
	return light
}

func orDefaultSpace(id string) string {
	if id == "" {
		return model.DefaultSpaceID
	}
	return id
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func firstNonEmpty(parts ...string) string {
	for _, p := range parts {
		if p != "" {
			return p
		}
	}
	return ""
}
