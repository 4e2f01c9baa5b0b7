// Package store defines the persistence contract every backend
// (sqlite, pg) implements identically so the rest of the service is
// backend-agnostic.
package store

import (
	"context"
	"errors"

	"github.com/sirouk/clawboard/internal/model"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// ErrIdempotentReturn signals that an insert matched an existing
// idempotencyKey; the caller should return the existing row rather than
// treat this as a failure.
var ErrIdempotentReturn = errors.New("store: idempotent return")

// ChangeSet is the incremental-sync payload for GET /api/changes.
type ChangeSet struct {
	Logs        []model.LogEntry
	DeletedLogs []model.DeletedLog
	Topics      []model.Topic
	Tasks       []model.Task
	Spaces      []model.Space
}

// LogFilter narrows GET /api/log and the classifier's pending scan.
type LogFilter struct {
	SpaceID              string
	TopicID              *string
	TaskID               *string
	Type                 *model.LogType
	ClassificationStatus *model.ClassificationStatus
	SessionKey           string
	Since                string
	Limit                int
	Offset               int
}

// Store is the full persistence surface Clawboard operates against. Every
// backend (sqlite, pg) implements this identically.
type Store interface {
	// Spaces
	ListSpaces(ctx context.Context) ([]model.Space, error)
	GetSpace(ctx context.Context, id string) (*model.Space, error)
	UpsertSpace(ctx context.Context, s *model.Space) error
	SetSpaceConnectivity(ctx context.Context, id string, connectivity map[string]bool) error

	// Topics
	ListTopics(ctx context.Context, spaceID string) ([]model.Topic, error)
	GetTopic(ctx context.Context, id string) (*model.Topic, error)
	CreateTopic(ctx context.Context, t *model.Topic) error
	UpdateTopic(ctx context.Context, t *model.Topic) error
	DeleteTopic(ctx context.Context, id string) error
	ReorderTopics(ctx context.Context, spaceID string, orderedIDs []string) error
	FindTopicsSnoozedBefore(ctx context.Context, cutoff string) ([]model.Topic, error)
	// UpdateTopicDigest is a system-managed digest write that does not bump
	// UpdatedAt, so it never reorders the board.
	UpdateTopicDigest(ctx context.Context, id, digest, digestUpdatedAt string) error

	// Tasks
	ListTasks(ctx context.Context, spaceID string, topicID *string) ([]model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	CreateTask(ctx context.Context, t *model.Task) error
	UpdateTask(ctx context.Context, t *model.Task) error
	DeleteTask(ctx context.Context, id string) error
	ReorderTasks(ctx context.Context, spaceID string, orderedIDs []string) error
	FindTasksSnoozedBefore(ctx context.Context, cutoff string) ([]model.Task, error)

	// Logs
	ListLogs(ctx context.Context, f LogFilter) ([]model.LogEntry, error)
	GetLog(ctx context.Context, id string) (*model.LogEntry, error)
	GetLogByIdempotencyKey(ctx context.Context, key string) (*model.LogEntry, error)
	AppendLog(ctx context.Context, l *model.LogEntry) error
	PatchLog(ctx context.Context, id string, patch map[string]any) (*model.LogEntry, error)
	DeleteLog(ctx context.Context, id string) error
	CountPendingClassification(ctx context.Context) (int, error)
	ListPendingClassificationSessions(ctx context.Context, lookback int) ([]string, error)
	ListLogsBySessionKey(ctx context.Context, sessionKey string, limit int) ([]model.LogEntry, error)
	ListLogsByRelatedID(ctx context.Context, relatedLogID string) ([]model.LogEntry, error)
	MarkLogsReplayPending(ctx context.Context, spaceID string) (int, error)
	ListRecentConversationSessions(ctx context.Context, lookback int) ([]string, error)

	// Change feed
	Changes(ctx context.Context, since string, limitLogs int, includeRaw bool) (*ChangeSet, error)

	// Session routing memory
	GetSessionRoutingMemory(ctx context.Context, sessionKey string) (*model.SessionRoutingMemory, error)
	AppendSessionRoutingDecision(ctx context.Context, sessionKey string, d model.RoutingDecision, maxItems int) error

	// Ingest queue
	EnqueueIngest(ctx context.Context, item *model.IngestQueueItem) error
	ClaimIngestBatch(ctx context.Context, batch int) ([]model.IngestQueueItem, error)
	CompleteIngest(ctx context.Context, id int64) error
	FailIngest(ctx context.Context, id int64, errMsg string) error

	// Attachments
	CreateAttachment(ctx context.Context, a *model.Attachment) error
	GetAttachment(ctx context.Context, id string) (*model.Attachment, error)

	// Drafts
	GetDraft(ctx context.Context, key string) (*model.Draft, error)
	PutDraft(ctx context.Context, d *model.Draft) error

	// Instance config
	GetInstanceConfig(ctx context.Context) (*model.InstanceConfig, error)
	SetInstanceConfig(ctx context.Context, c *model.InstanceConfig) error

	// Chat dispatch (Gateway Dispatch)
	EnqueueChatDispatch(ctx context.Context, d *model.ChatDispatch) error
	ClaimChatDispatchBatch(ctx context.Context, limit int) ([]model.ChatDispatch, error)
	UpdateChatDispatchStatus(ctx context.Context, id int64, status model.DispatchStatus, nextAttemptAt string, lastError *string) error
	GetChatDispatchByRequestID(ctx context.Context, requestID string) (*model.ChatDispatch, error)

	// Gateway history-sync fallback
	GetGatewayHistoryCursor(ctx context.Context, sessionKey string) (*model.GatewayHistoryCursor, error)
	SetGatewayHistoryCursor(ctx context.Context, c *model.GatewayHistoryCursor) error
	GetGatewayHistorySyncState(ctx context.Context) (*model.GatewayHistorySyncState, error)
	SetGatewayHistorySyncState(ctx context.Context, s *model.GatewayHistorySyncState) error

	// Orchestration runtime
	CreateOrchestrationRun(ctx context.Context, r *model.OrchestrationRun) error
	GetOrchestrationRun(ctx context.Context, requestID string) (*model.OrchestrationRun, error)
	FindOrchestrationRunBySessionKey(ctx context.Context, sessionKey string) (*model.OrchestrationRun, error)
	UpsertOrchestrationItem(ctx context.Context, it *model.OrchestrationItem) (created bool, err error)
	GetOrchestrationItem(ctx context.Context, requestID, itemKey string) (*model.OrchestrationItem, error)
	ListOrchestrationItems(ctx context.Context, requestID string) ([]model.OrchestrationItem, error)
	UpdateOrchestrationItemStatus(ctx context.Context, id string, status model.OrchestrationItemStatus) error
	CheckInOrchestrationItem(ctx context.Context, id string, nextCheckAt string) error
	ListOrchestrationItemsDue(ctx context.Context, before string) ([]model.OrchestrationItem, error)

	// Lifecycle
	Close() error
}
