package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clawboard.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_BootstrapsDefaultSpace(t *testing.T) {
	s := openTestStore(t)
	spaces, err := s.ListSpaces(context.Background())
	if err != nil {
		t.Fatalf("ListSpaces() error = %v", err)
	}
	if len(spaces) == 0 {
		t.Fatalf("expected at least a default space, got none")
	}
}

func TestTopics_CreateGetUpdateDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	topic := &model.Topic{
		ID:        uuid.NewString(),
		SpaceID:   model.DefaultSpaceID,
		Name:      "Investigate flaky deploy",
		CreatedBy: model.CreatedByUser,
		Priority:  model.PriorityMedium,
		Status:    model.TopicActive,
		Tags:      []string{"infra", "urgent"},
	}
	if err := s.CreateTopic(ctx, topic); err != nil {
		t.Fatalf("CreateTopic() error = %v", err)
	}
	if topic.CreatedAt == "" {
		t.Fatalf("expected CreatedAt to be stamped")
	}

	got, err := s.GetTopic(ctx, topic.ID)
	if err != nil {
		t.Fatalf("GetTopic() error = %v", err)
	}
	if got.Name != topic.Name || len(got.Tags) != 2 {
		t.Fatalf("GetTopic() = %+v, want name %q with 2 tags", got, topic.Name)
	}

	got.Name = "Investigate flaky deploy pipeline"
	if err := s.UpdateTopic(ctx, got); err != nil {
		t.Fatalf("UpdateTopic() error = %v", err)
	}
	updated, err := s.GetTopic(ctx, topic.ID)
	if err != nil {
		t.Fatalf("GetTopic() after update error = %v", err)
	}
	if updated.Name != got.Name {
		t.Fatalf("UpdateTopic() did not persist, got name %q", updated.Name)
	}

	if err := s.DeleteTopic(ctx, topic.ID); err != nil {
		t.Fatalf("DeleteTopic() error = %v", err)
	}
	if _, err := s.GetTopic(ctx, topic.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetTopic() after delete error = %v, want ErrNotFound", err)
	}
}

func TestUpdateTopic_MissingRowReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	ghost := &model.Topic{ID: uuid.NewString(), SpaceID: model.DefaultSpaceID, Name: "ghost"}
	if err := s.UpdateTopic(context.Background(), ghost); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("UpdateTopic() on missing row error = %v, want ErrNotFound", err)
	}
}

func TestReorderTopics_AssignsSortIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		topic := &model.Topic{ID: uuid.NewString(), SpaceID: model.DefaultSpaceID, Name: "t", Status: model.TopicActive}
		if err := s.CreateTopic(ctx, topic); err != nil {
			t.Fatalf("CreateTopic() error = %v", err)
		}
		ids = append(ids, topic.ID)
	}

	reversed := []string{ids[2], ids[1], ids[0]}
	if err := s.ReorderTopics(ctx, model.DefaultSpaceID, reversed); err != nil {
		t.Fatalf("ReorderTopics() error = %v", err)
	}

	list, err := s.ListTopics(ctx, model.DefaultSpaceID)
	if err != nil {
		t.Fatalf("ListTopics() error = %v", err)
	}
	var gotOrder []string
	for _, t := range list {
		gotOrder = append(gotOrder, t.ID)
	}
	if len(gotOrder) != 3 || gotOrder[0] != ids[2] || gotOrder[2] != ids[0] {
		t.Fatalf("ListTopics() order = %v, want %v", gotOrder, reversed)
	}
}

func TestAppendLog_IdempotencyKeyCollisionReturnsIdempotentReturn(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := "session-abc:msg-1"

	first := &model.LogEntry{ID: uuid.NewString(), SpaceID: model.DefaultSpaceID, Type: model.LogConversation,
		Content: "hello", IdempotencyKey: &key}
	if err := s.AppendLog(ctx, first); err != nil {
		t.Fatalf("AppendLog() first insert error = %v", err)
	}

	second := &model.LogEntry{ID: uuid.NewString(), SpaceID: model.DefaultSpaceID, Type: model.LogConversation,
		Content: "hello again", IdempotencyKey: &key}
	if err := s.AppendLog(ctx, second); !errors.Is(err, store.ErrIdempotentReturn) {
		t.Fatalf("AppendLog() duplicate key error = %v, want ErrIdempotentReturn", err)
	}

	existing, err := s.GetLogByIdempotencyKey(ctx, key)
	if err != nil {
		t.Fatalf("GetLogByIdempotencyKey() error = %v", err)
	}
	if existing.ID != first.ID {
		t.Fatalf("GetLogByIdempotencyKey() = %q, want %q", existing.ID, first.ID)
	}
}

func TestPatchLog_OnlyAppliesWhitelistedFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	l := &model.LogEntry{ID: uuid.NewString(), SpaceID: model.DefaultSpaceID, Type: model.LogNote, Content: "draft note"}
	if err := s.AppendLog(ctx, l); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}

	patched, err := s.PatchLog(ctx, l.ID, map[string]any{
		"summary":  "a concise summary",
		"bogus":    "should be ignored",
		"spaceId":  "should-not-change", // not in allowlist
	})
	if err != nil {
		t.Fatalf("PatchLog() error = %v", err)
	}
	if patched.Summary == nil || *patched.Summary != "a concise summary" {
		t.Fatalf("PatchLog() summary = %v, want %q", patched.Summary, "a concise summary")
	}
	if patched.SpaceID != model.DefaultSpaceID {
		t.Fatalf("PatchLog() spaceId = %q, want unchanged %q", patched.SpaceID, model.DefaultSpaceID)
	}
}

func TestDeleteLog_RecordsTombstone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	l := &model.LogEntry{ID: uuid.NewString(), SpaceID: model.DefaultSpaceID, Type: model.LogAction, Content: "ran a command"}
	if err := s.AppendLog(ctx, l); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}
	if err := s.DeleteLog(ctx, l.ID); err != nil {
		t.Fatalf("DeleteLog() error = %v", err)
	}
	if _, err := s.GetLog(ctx, l.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetLog() after delete error = %v, want ErrNotFound", err)
	}

	cs, err := s.Changes(ctx, "1970-01-01T00:00:00Z", 100, false)
	if err != nil {
		t.Fatalf("Changes() error = %v", err)
	}
	found := false
	for _, d := range cs.DeletedLogs {
		if d.ID == l.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("Changes() DeletedLogs = %+v, want tombstone for %q", cs.DeletedLogs, l.ID)
	}
}

func TestListLogs_FiltersBySessionKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	matching := &model.LogEntry{ID: uuid.NewString(), SpaceID: model.DefaultSpaceID, Type: model.LogConversation,
		Content: "in session", Source: &model.LogSource{SessionKey: "sess-1"}}
	other := &model.LogEntry{ID: uuid.NewString(), SpaceID: model.DefaultSpaceID, Type: model.LogConversation,
		Content: "other session", Source: &model.LogSource{SessionKey: "sess-2"}}
	if err := s.AppendLog(ctx, matching); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}
	if err := s.AppendLog(ctx, other); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}

	logs, err := s.ListLogs(ctx, store.LogFilter{SpaceID: model.DefaultSpaceID, SessionKey: "sess-1"})
	if err != nil {
		t.Fatalf("ListLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].ID != matching.ID {
		t.Fatalf("ListLogs() = %+v, want only %q", logs, matching.ID)
	}
}

func TestIngestQueue_ClaimBatchAvoidsDoubleClaim(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		item := &model.IngestQueueItem{Payload: "{}"}
		if err := s.EnqueueIngest(ctx, item); err != nil {
			t.Fatalf("EnqueueIngest() error = %v", err)
		}
	}

	batch, err := s.ClaimIngestBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimIngestBatch() error = %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("ClaimIngestBatch() claimed %d items, want 3", len(batch))
	}

	again, err := s.ClaimIngestBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimIngestBatch() second call error = %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("ClaimIngestBatch() second call claimed %d items, want 0 (already processing)", len(again))
	}

	if err := s.CompleteIngest(ctx, batch[0].ID); err != nil {
		t.Fatalf("CompleteIngest() error = %v", err)
	}
	if err := s.FailIngest(ctx, batch[1].ID, "boom"); err != nil {
		t.Fatalf("FailIngest() error = %v", err)
	}
}

func TestSessionRoutingMemory_AppendTrimsToMaxItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sessionKey := "sess-routing-1"

	for i := 0; i < 5; i++ {
		d := model.RoutingDecision{Ts: "2026-07-31T00:00:00Z", TopicID: uuid.NewString(), TopicName: "t", Anchor: "recent"}
		if err := s.AppendSessionRoutingDecision(ctx, sessionKey, d, 3); err != nil {
			t.Fatalf("AppendSessionRoutingDecision() error = %v", err)
		}
	}

	mem, err := s.GetSessionRoutingMemory(ctx, sessionKey)
	if err != nil {
		t.Fatalf("GetSessionRoutingMemory() error = %v", err)
	}
	if len(mem.Items) != 3 {
		t.Fatalf("GetSessionRoutingMemory() items = %d, want 3 (trimmed)", len(mem.Items))
	}
}

func TestChatDispatch_EnqueueClaimUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d := &model.ChatDispatch{RequestID: uuid.NewString(), SessionKey: "sess-1", AgentID: "agent-1",
		SentAt: "2026-07-31T00:00:00Z", Message: "hi", AttachmentIDs: []string{"att-1"}}
	if err := s.EnqueueChatDispatch(ctx, d); err != nil {
		t.Fatalf("EnqueueChatDispatch() error = %v", err)
	}

	claimed, err := s.ClaimChatDispatchBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimChatDispatchBatch() error = %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != d.ID {
		t.Fatalf("ClaimChatDispatchBatch() = %+v, want one row with id %d", claimed, d.ID)
	}
	if claimed[0].Status != model.DispatchProcessing {
		t.Fatalf("ClaimChatDispatchBatch() status = %q, want processing", claimed[0].Status)
	}

	if err := s.UpdateChatDispatchStatus(ctx, d.ID, model.DispatchSent, "", nil); err != nil {
		t.Fatalf("UpdateChatDispatchStatus() error = %v", err)
	}

	got, err := s.GetChatDispatchByRequestID(ctx, d.RequestID)
	if err != nil {
		t.Fatalf("GetChatDispatchByRequestID() error = %v", err)
	}
	if got.Status != model.DispatchSent {
		t.Fatalf("GetChatDispatchByRequestID() status = %q, want sent", got.Status)
	}
	if len(got.AttachmentIDs) != 1 || got.AttachmentIDs[0] != "att-1" {
		t.Fatalf("GetChatDispatchByRequestID() attachmentIds = %v, want [att-1]", got.AttachmentIDs)
	}
}

func TestGatewayHistoryCursor_SetAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := &model.GatewayHistoryCursor{SessionKey: "sess-1", LastTimestampMs: 12345}
	if err := s.SetGatewayHistoryCursor(ctx, c); err != nil {
		t.Fatalf("SetGatewayHistoryCursor() error = %v", err)
	}
	got, err := s.GetGatewayHistoryCursor(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetGatewayHistoryCursor() error = %v", err)
	}
	if got.LastTimestampMs != 12345 {
		t.Fatalf("GetGatewayHistoryCursor() lastTimestampMs = %d, want 12345", got.LastTimestampMs)
	}
}

func TestGatewayHistorySyncState_DefaultsWhenAbsent(t *testing.T) {
	s := openTestStore(t)
	st, err := s.GetGatewayHistorySyncState(context.Background())
	if err != nil {
		t.Fatalf("GetGatewayHistorySyncState() error = %v", err)
	}
	if st.Status != "idle" {
		t.Fatalf("GetGatewayHistorySyncState() status = %q, want idle", st.Status)
	}
}

func TestInstanceConfig_DefaultsThenRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	def, err := s.GetInstanceConfig(ctx)
	if err != nil {
		t.Fatalf("GetInstanceConfig() error = %v", err)
	}
	if def.Title == "" {
		t.Fatalf("GetInstanceConfig() default title is empty")
	}

	def.Title = "My Board"
	if err := s.SetInstanceConfig(ctx, def); err != nil {
		t.Fatalf("SetInstanceConfig() error = %v", err)
	}
	got, err := s.GetInstanceConfig(ctx)
	if err != nil {
		t.Fatalf("GetInstanceConfig() after set error = %v", err)
	}
	if got.Title != "My Board" {
		t.Fatalf("GetInstanceConfig() title = %q, want %q", got.Title, "My Board")
	}
}

func TestDrafts_PutAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d := &model.Draft{Key: "space-default:topic-new", Value: `{"content":"wip"}`}
	if err := s.PutDraft(ctx, d); err != nil {
		t.Fatalf("PutDraft() error = %v", err)
	}
	got, err := s.GetDraft(ctx, d.Key)
	if err != nil {
		t.Fatalf("GetDraft() error = %v", err)
	}
	if got.Value != d.Value {
		t.Fatalf("GetDraft() value = %q, want %q", got.Value, d.Value)
	}
}
