package protocol

// SSE/EventHub event type names pushed from server to client.
const (
	EventLogAppended     = "log.appended"
	EventLogPatched      = "log.patched"
	EventLogDeleted      = "log.deleted"
	EventTopicUpserted   = "topic.upserted"
	EventTopicDeleted    = "topic.deleted"
	EventTaskUpserted    = "task.upserted"
	EventTaskDeleted     = "task.deleted"
	EventSpaceUpserted   = "space.upserted"
	EventTopicsReordered = "topics.reordered"
	EventTasksReordered  = "tasks.reordered"
	EventStreamReset     = "stream.reset"
	EventReady           = "ready"
)
