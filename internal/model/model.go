// Package model defines the persisted entities Clawboard operates on.
package model

// ClassificationStatus is the lifecycle state of a LogEntry's routing.
type ClassificationStatus string

const (
	ClassificationPending    ClassificationStatus = "pending"
	ClassificationClassified ClassificationStatus = "classified"
	ClassificationFailed     ClassificationStatus = "failed"
)

// LogType discriminates the kind of timeline atom a LogEntry represents.
type LogType string

const (
	LogConversation LogType = "conversation"
	LogAction       LogType = "action"
	LogNote         LogType = "note"
	LogSystem       LogType = "system"
	LogImport       LogType = "import"
)

// TopicStatus is the lifecycle state of a Topic.
type TopicStatus string

const (
	TopicActive   TopicStatus = "active"
	TopicSnoozed  TopicStatus = "snoozed"
	TopicArchived TopicStatus = "archived"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskTodo    TaskStatus = "todo"
	TaskDoing   TaskStatus = "doing"
	TaskBlocked TaskStatus = "blocked"
	TaskDone    TaskStatus = "done"
)

// Priority is a shared priority enum for Topic and Task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// CreatedBy identifies who introduced a Topic.
type CreatedBy string

const (
	CreatedByUser       CreatedBy = "user"
	CreatedByClassifier CreatedBy = "classifier"
	CreatedByImport     CreatedBy = "import"
)

// DefaultSpaceID is the space that always exists.
const DefaultSpaceID = "space-default"

// Space is a tenancy/visibility root.
type Space struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Color          *string         `json:"color,omitempty"`
	DefaultVisible bool            `json:"defaultVisible"`
	Connectivity   map[string]bool `json:"connectivity"`
	CreatedAt      string          `json:"createdAt"`
	UpdatedAt      string          `json:"updatedAt"`
}

// Topic is a durable workstream.
type Topic struct {
	ID              string    `json:"id"`
	SpaceID         string    `json:"spaceId"`
	Name            string    `json:"name"`
	CreatedBy       CreatedBy `json:"createdBy"`
	SortIndex       int       `json:"sortIndex"`
	Color           *string   `json:"color,omitempty"`
	Description     *string   `json:"description,omitempty"`
	Priority        Priority  `json:"priority"`
	Status          TopicStatus `json:"status"`
	SnoozedUntil    *string   `json:"snoozedUntil,omitempty"`
	Tags            []string  `json:"tags"`
	ParentID        *string   `json:"parentId,omitempty"`
	Pinned          bool      `json:"pinned"`
	Digest          *string   `json:"digest,omitempty"`
	DigestUpdatedAt *string   `json:"digestUpdatedAt,omitempty"`
	CreatedAt       string    `json:"createdAt"`
	UpdatedAt       string    `json:"updatedAt"`
}

// Task is an optional sub-workstream of a Topic.
type Task struct {
	ID              string     `json:"id"`
	SpaceID         string     `json:"spaceId"`
	TopicID         *string    `json:"topicId,omitempty"`
	Title           string     `json:"title"`
	SortIndex       int        `json:"sortIndex"`
	Color           *string    `json:"color,omitempty"`
	Status          TaskStatus `json:"status"`
	Tags            []string   `json:"tags"`
	SnoozedUntil    *string    `json:"snoozedUntil,omitempty"`
	Pinned          bool       `json:"pinned"`
	Priority        Priority   `json:"priority"`
	DueDate         *string    `json:"dueDate,omitempty"`
	Digest          *string    `json:"digest,omitempty"`
	DigestUpdatedAt *string    `json:"digestUpdatedAt,omitempty"`
	CreatedAt       string     `json:"createdAt"`
	UpdatedAt       string     `json:"updatedAt"`
}

// LogSource carries producer identity for a LogEntry.
type LogSource struct {
	Channel    string `json:"channel,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	BoardScope string `json:"boardScope,omitempty"`
}

// AttachmentRef is the attachment metadata embedded on a LogEntry.
type AttachmentRef struct {
	ID        string `json:"id"`
	FileName  string `json:"fileName"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

// LogEntry is the timeline atom.
type LogEntry struct {
	ID                     string               `json:"id"`
	SpaceID                string               `json:"spaceId"`
	TopicID                *string              `json:"topicId,omitempty"`
	TaskID                 *string              `json:"taskId,omitempty"`
	RelatedLogID           *string              `json:"relatedLogId,omitempty"`
	IdempotencyKey         *string              `json:"idempotencyKey,omitempty"`
	Type                   LogType              `json:"type"`
	Content                string               `json:"content"`
	Summary                *string              `json:"summary,omitempty"`
	Raw                    *string              `json:"raw,omitempty"`
	ClassificationStatus   ClassificationStatus `json:"classificationStatus"`
	ClassificationAttempts int                  `json:"classificationAttempts"`
	ClassificationError    *string              `json:"classificationError,omitempty"`
	CreatedAt              string               `json:"createdAt"`
	UpdatedAt              string               `json:"updatedAt"`
	AgentID                *string              `json:"agentId,omitempty"`
	AgentLabel             *string              `json:"agentLabel,omitempty"`
	Source                 *LogSource           `json:"source,omitempty"`
	Attachments            []AttachmentRef      `json:"attachments,omitempty"`
}

// DeletedLog is a tombstone so /api/changes can report deletions durably.
type DeletedLog struct {
	ID        string `json:"id"`
	DeletedAt string `json:"deletedAt"`
}

// RoutingDecision is one entry in a SessionRoutingMemory's bounded list.
type RoutingDecision struct {
	Ts        string  `json:"ts"`
	TopicID   string  `json:"topicId"`
	TopicName string  `json:"topicName"`
	TaskID    *string `json:"taskId,omitempty"`
	TaskTitle *string `json:"taskTitle,omitempty"`
	Anchor    string  `json:"anchor"`
}

// SessionRoutingMemory is a per-session bounded history of classifier decisions.
type SessionRoutingMemory struct {
	SessionKey string            `json:"sessionKey"`
	Items      []RoutingDecision `json:"items"`
	CreatedAt  string            `json:"createdAt"`
	UpdatedAt  string            `json:"updatedAt"`
}

// IngestQueueStatus is the lifecycle of a durable ingest envelope.
type IngestQueueStatus string

const (
	IngestQueuePending    IngestQueueStatus = "pending"
	IngestQueueProcessing IngestQueueStatus = "processing"
	IngestQueueDone       IngestQueueStatus = "done"
	IngestQueueFailed     IngestQueueStatus = "failed"
)

// IngestQueueItem is a durable envelope for out-of-band ingestion.
type IngestQueueItem struct {
	ID        int64             `json:"id"`
	Payload   []byte            `json:"payload"`
	Status    IngestQueueStatus `json:"status"`
	Attempts  int               `json:"attempts"`
	LastError *string           `json:"lastError,omitempty"`
	CreatedAt string            `json:"createdAt"`
}

// OrchestrationItemStatus is the lifecycle of one orchestration item.
type OrchestrationItemStatus string

const (
	OrchestrationRunning   OrchestrationItemStatus = "running"
	OrchestrationDone      OrchestrationItemStatus = "done"
	OrchestrationStalled   OrchestrationItemStatus = "stalled"
	OrchestrationCancelled OrchestrationItemStatus = "cancelled"
)

// OrchestrationRun tracks one multi-agent chat dispatch.
type OrchestrationRun struct {
	RequestID string `json:"requestId"`
	SessionKey string `json:"sessionKey"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// OrchestrationItem is one item (main response or subagent) within a run.
type OrchestrationItem struct {
	ID             string                  `json:"id"`
	RequestID      string                  `json:"requestId"`
	ItemKey        string                  `json:"itemKey"`
	Status         OrchestrationItemStatus `json:"status"`
	Attempts       int                     `json:"attempts"`
	NextCheckAt    string                  `json:"nextCheckAt"`
	LastActivityAt string                  `json:"lastActivityAt"`
	Meta           map[string]string       `json:"meta,omitempty"`
	CreatedAt      string                  `json:"createdAt"`
	UpdatedAt      string                  `json:"updatedAt"`
}

// Attachment is binary-file metadata; bytes live on disk under ATTACHMENTS_DIR.
type Attachment struct {
	ID          string  `json:"id"`
	LogID       *string `json:"logId,omitempty"`
	FileName    string  `json:"fileName"`
	MimeType    string  `json:"mimeType"`
	SizeBytes   int64   `json:"sizeBytes"`
	SHA256      string  `json:"sha256"`
	StoragePath string  `json:"storagePath"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

// Draft is an ephemeral UI composer value keyed by a stable string.
type Draft struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// InstanceConfig is the singleton instance-level configuration row.
type InstanceConfig struct {
	Title             string `json:"title"`
	IntegrationLevel  string `json:"integrationLevel"`
	UpdatedAt         string `json:"updatedAt"`
}

// DispatchStatus is the lifecycle of an outbound gateway-dispatch envelope.
type DispatchStatus string

const (
	DispatchPending    DispatchStatus = "pending"
	DispatchRetry      DispatchStatus = "retry"
	DispatchProcessing DispatchStatus = "processing"
	DispatchSent       DispatchStatus = "sent"
	DispatchFailed     DispatchStatus = "failed"
)

// ChatDispatch is a durable outbound envelope for the Clawboard -> external
// chat gateway relay.
type ChatDispatch struct {
	ID            int64          `json:"id"`
	RequestID     string         `json:"requestId"`
	SessionKey    string         `json:"sessionKey"`
	AgentID       string         `json:"agentId"`
	SentAt        string         `json:"sentAt"`
	Message       string         `json:"message"`
	AttachmentIDs []string       `json:"attachmentIds"`
	Status        DispatchStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	NextAttemptAt string         `json:"nextAttemptAt"`
	ClaimedAt     *string        `json:"claimedAt,omitempty"`
	CompletedAt   *string        `json:"completedAt,omitempty"`
	LastError     *string        `json:"lastError,omitempty"`
	CreatedAt     string         `json:"createdAt"`
	UpdatedAt     string         `json:"updatedAt"`
}

// GatewayHistoryCursor is a per-session watermark for the history-sync fallback.
type GatewayHistoryCursor struct {
	SessionKey      string `json:"sessionKey"`
	LastTimestampMs int64  `json:"lastTimestampMs"`
	UpdatedAt       string `json:"updatedAt"`
}

// GatewayHistorySyncState is a singleton health snapshot for the history-sync worker.
type GatewayHistorySyncState struct {
	Status                string  `json:"status"`
	LastRunAt             *string `json:"lastRunAt,omitempty"`
	LastSuccessAt         *string `json:"lastSuccessAt,omitempty"`
	LastErrorAt           *string `json:"lastErrorAt,omitempty"`
	LastError             *string `json:"lastError,omitempty"`
	ConsecutiveFailures   int     `json:"consecutiveFailures"`
	LastIngestedCount     int     `json:"lastIngestedCount"`
	LastSessionCount      int     `json:"lastSessionCount"`
	LastCursorUpdateCount int     `json:"lastCursorUpdateCount"`
	LastDeferredCount     int     `json:"lastDeferredCount"`
	UpdatedAt             string  `json:"updatedAt"`
}
