package sqlite

import (
	"context"
	"fmt"
)

// columnDef is one desired column for additive migration.
type columnDef struct {
	name string
	ddl  string // e.g. "TEXT NOT NULL DEFAULT ''"
}

// tableDef is a table's baseline CREATE statement plus the full set of
// columns it should have today. New columns are added via ALTER TABLE ADD
// COLUMN when table_info diffing finds them missing; existing rows keep
// their values for already-present columns (SQLite has no ADD COLUMN IF
// NOT EXISTS, so the diff is driven from Go).
type tableDef struct {
	name    string
	create  string
	columns []columnDef
	indexes []string
}

var tables = []tableDef{
	{
		name: "spaces",
		create: `CREATE TABLE IF NOT EXISTS spaces (
			id TEXT PRIMARY KEY
		)`,
		columns: []columnDef{
			{"name", "TEXT NOT NULL DEFAULT ''"},
			{"color", "TEXT"},
			{"default_visible", "INTEGER NOT NULL DEFAULT 1"},
			{"connectivity", "TEXT NOT NULL DEFAULT '{}'"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
	},
	{
		name: "topics",
		create: `CREATE TABLE IF NOT EXISTS topics (
			id TEXT PRIMARY KEY
		)`,
		columns: []columnDef{
			{"space_id", "TEXT NOT NULL DEFAULT ''"},
			{"name", "TEXT NOT NULL DEFAULT ''"},
			{"created_by", "TEXT NOT NULL DEFAULT 'user'"},
			{"sort_index", "INTEGER NOT NULL DEFAULT 0"},
			{"color", "TEXT"},
			{"description", "TEXT"},
			{"priority", "TEXT NOT NULL DEFAULT 'medium'"},
			{"status", "TEXT NOT NULL DEFAULT 'active'"},
			{"snoozed_until", "TEXT"},
			{"tags", "TEXT NOT NULL DEFAULT '[]'"},
			{"parent_id", "TEXT"},
			{"pinned", "INTEGER NOT NULL DEFAULT 0"},
			{"digest", "TEXT"},
			{"digest_updated_at", "TEXT"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_topics_space_updated ON topics(space_id, updated_at)",
			"CREATE INDEX IF NOT EXISTS idx_topics_snoozed_until ON topics(snoozed_until)",
		},
	},
	{
		name: "tasks",
		create: `CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY
		)`,
		columns: []columnDef{
			{"space_id", "TEXT NOT NULL DEFAULT ''"},
			{"topic_id", "TEXT"},
			{"title", "TEXT NOT NULL DEFAULT ''"},
			{"sort_index", "INTEGER NOT NULL DEFAULT 0"},
			{"color", "TEXT"},
			{"status", "TEXT NOT NULL DEFAULT 'todo'"},
			{"tags", "TEXT NOT NULL DEFAULT '[]'"},
			{"snoozed_until", "TEXT"},
			{"pinned", "INTEGER NOT NULL DEFAULT 0"},
			{"priority", "TEXT NOT NULL DEFAULT 'medium'"},
			{"due_date", "TEXT"},
			{"digest", "TEXT"},
			{"digest_updated_at", "TEXT"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_tasks_space_updated ON tasks(space_id, updated_at)",
			"CREATE INDEX IF NOT EXISTS idx_tasks_topic ON tasks(topic_id, created_at)",
			"CREATE INDEX IF NOT EXISTS idx_tasks_snoozed_until ON tasks(snoozed_until)",
		},
	},
	{
		name: "logs",
		create: `CREATE TABLE IF NOT EXISTS logs (
			id TEXT PRIMARY KEY
		)`,
		columns: []columnDef{
			{"space_id", "TEXT NOT NULL DEFAULT ''"},
			{"topic_id", "TEXT"},
			{"task_id", "TEXT"},
			{"related_log_id", "TEXT"},
			{"idempotency_key", "TEXT"},
			{"type", "TEXT NOT NULL DEFAULT 'conversation'"},
			{"content", "TEXT NOT NULL DEFAULT ''"},
			{"summary", "TEXT"},
			{"raw", "TEXT"},
			{"classification_status", "TEXT NOT NULL DEFAULT 'pending'"},
			{"classification_attempts", "INTEGER NOT NULL DEFAULT 0"},
			{"classification_error", "TEXT"},
			{"agent_id", "TEXT"},
			{"agent_label", "TEXT"},
			{"source", "TEXT"},
			{"attachments", "TEXT"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_logs_pending_scan ON logs(classification_status, type, created_at)",
			"CREATE INDEX IF NOT EXISTS idx_logs_topic_created ON logs(topic_id, created_at)",
			"CREATE INDEX IF NOT EXISTS idx_logs_task_created ON logs(task_id, created_at)",
			"CREATE INDEX IF NOT EXISTS idx_logs_related_created ON logs(related_log_id, created_at)",
			"CREATE INDEX IF NOT EXISTS idx_logs_updated ON logs(updated_at)",
			"CREATE INDEX IF NOT EXISTS idx_logs_session_key ON logs(json_extract(source,'$.sessionKey'))",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_logs_idempotency ON logs(idempotency_key) WHERE idempotency_key IS NOT NULL",
		},
	},
	{
		name: "deleted_logs",
		create: `CREATE TABLE IF NOT EXISTS deleted_logs (
			id TEXT PRIMARY KEY
		)`,
		columns: []columnDef{
			{"deleted_at", "TEXT NOT NULL DEFAULT ''"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_deleted_logs_deleted_at ON deleted_logs(deleted_at)",
		},
	},
	{
		name: "session_routing_memory",
		create: `CREATE TABLE IF NOT EXISTS session_routing_memory (
			session_key TEXT PRIMARY KEY
		)`,
		columns: []columnDef{
			{"items", "TEXT NOT NULL DEFAULT '[]'"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
	},
	{
		name: "ingest_queue",
		create: `CREATE TABLE IF NOT EXISTS ingest_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT
		)`,
		columns: []columnDef{
			{"payload", "BLOB NOT NULL DEFAULT (x'')"},
			{"status", "TEXT NOT NULL DEFAULT 'pending'"},
			{"attempts", "INTEGER NOT NULL DEFAULT 0"},
			{"last_error", "TEXT"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_ingest_queue_status ON ingest_queue(status, created_at)",
		},
	},
	{
		name: "attachments",
		create: `CREATE TABLE IF NOT EXISTS attachments (
			id TEXT PRIMARY KEY
		)`,
		columns: []columnDef{
			{"log_id", "TEXT"},
			{"file_name", "TEXT NOT NULL DEFAULT ''"},
			{"mime_type", "TEXT NOT NULL DEFAULT ''"},
			{"size_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"sha256", "TEXT NOT NULL DEFAULT ''"},
			{"storage_path", "TEXT NOT NULL DEFAULT ''"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_attachments_log ON attachments(log_id)",
		},
	},
	{
		name: "drafts",
		create: `CREATE TABLE IF NOT EXISTS drafts (
			key TEXT PRIMARY KEY
		)`,
		columns: []columnDef{
			{"value", "TEXT NOT NULL DEFAULT ''"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
	},
	{
		name: "instance_config",
		create: `CREATE TABLE IF NOT EXISTS instance_config (
			singleton INTEGER PRIMARY KEY CHECK (singleton = 1)
		)`,
		columns: []columnDef{
			{"title", "TEXT NOT NULL DEFAULT 'Clawboard'"},
			{"integration_level", "TEXT NOT NULL DEFAULT 'standard'"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
	},
	{
		name: "chat_dispatch",
		create: `CREATE TABLE IF NOT EXISTS chat_dispatch (
			id INTEGER PRIMARY KEY AUTOINCREMENT
		)`,
		columns: []columnDef{
			{"request_id", "TEXT NOT NULL DEFAULT ''"},
			{"session_key", "TEXT NOT NULL DEFAULT ''"},
			{"agent_id", "TEXT NOT NULL DEFAULT ''"},
			{"sent_at", "TEXT NOT NULL DEFAULT ''"},
			{"message", "TEXT NOT NULL DEFAULT ''"},
			{"attachment_ids", "TEXT NOT NULL DEFAULT '[]'"},
			{"status", "TEXT NOT NULL DEFAULT 'pending'"},
			{"attempts", "INTEGER NOT NULL DEFAULT 0"},
			{"next_attempt_at", "TEXT NOT NULL DEFAULT ''"},
			{"claimed_at", "TEXT"},
			{"completed_at", "TEXT"},
			{"last_error", "TEXT"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_chat_dispatch_status ON chat_dispatch(status, next_attempt_at)",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_dispatch_request ON chat_dispatch(request_id)",
		},
	},
	{
		name: "gateway_history_cursor",
		create: `CREATE TABLE IF NOT EXISTS gateway_history_cursor (
			session_key TEXT PRIMARY KEY
		)`,
		columns: []columnDef{
			{"last_timestamp_ms", "INTEGER NOT NULL DEFAULT 0"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
	},
	{
		name: "orchestration_runs",
		create: `CREATE TABLE IF NOT EXISTS orchestration_runs (
			request_id TEXT PRIMARY KEY
		)`,
		columns: []columnDef{
			{"session_key", "TEXT NOT NULL DEFAULT ''"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
	},
	{
		name: "orchestration_items",
		create: `CREATE TABLE IF NOT EXISTS orchestration_items (
			id TEXT PRIMARY KEY
		)`,
		columns: []columnDef{
			{"request_id", "TEXT NOT NULL DEFAULT ''"},
			{"item_key", "TEXT NOT NULL DEFAULT ''"},
			{"status", "TEXT NOT NULL DEFAULT 'running'"},
			{"attempts", "INTEGER NOT NULL DEFAULT 0"},
			{"next_check_at", "TEXT NOT NULL DEFAULT ''"},
			{"last_activity_at", "TEXT NOT NULL DEFAULT ''"},
			{"meta", "TEXT NOT NULL DEFAULT '{}'"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
		indexes: []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_orch_items_request_key ON orchestration_items(request_id, item_key)",
			"CREATE INDEX IF NOT EXISTS idx_orch_items_next_check ON orchestration_items(next_check_at)",
		},
	},
	{
		name: "gateway_history_sync_state",
		create: `CREATE TABLE IF NOT EXISTS gateway_history_sync_state (
			singleton INTEGER PRIMARY KEY CHECK (singleton = 1)
		)`,
		columns: []columnDef{
			{"status", "TEXT NOT NULL DEFAULT 'idle'"},
			{"last_run_at", "TEXT"},
			{"last_success_at", "TEXT"},
			{"last_error_at", "TEXT"},
			{"last_error", "TEXT"},
			{"consecutive_failures", "INTEGER NOT NULL DEFAULT 0"},
			{"last_ingested_count", "INTEGER NOT NULL DEFAULT 0"},
			{"last_session_count", "INTEGER NOT NULL DEFAULT 0"},
			{"last_cursor_update_count", "INTEGER NOT NULL DEFAULT 0"},
			{"last_deferred_count", "INTEGER NOT NULL DEFAULT 0"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
	},
}

// migrate creates any missing tables and additively migrates existing ones
// by diffing PRAGMA table_info against the desired column set. Existing
// rows keep their values; new columns backfill via each column's DEFAULT.
func (s *Store) migrate(ctx context.Context) error {
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, t.create); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}

		existing, err := s.existingColumns(ctx, t.name)
		if err != nil {
			return fmt.Errorf("table_info %s: %w", t.name, err)
		}

		for _, col := range t.columns {
			if existing[col.name] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", t.name, col.name, col.ddl)
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("add column %s.%s: %w", t.name, col.name, err)
			}
		}

		for _, idx := range t.indexes {
			if _, err := s.db.ExecContext(ctx, idx); err != nil {
				return fmt.Errorf("create index on %s: %w", t.name, err)
			}
		}
	}

	if err := s.backfillTopicSortIndex(ctx); err != nil {
		return err
	}
	return s.backfillTaskSortIndex(ctx)
}

func (s *Store) existingColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// backfillTopicSortIndex assigns sort_index by existing pinned+updated_at
// ordering the first time sort_index is introduced, so upgrading does not
// reshuffle the board: rows that already carry a non-zero sort_index are
// left untouched.
func (s *Store) backfillTopicSortIndex(ctx context.Context) error {
	var needsBackfill int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM topics WHERE sort_index = 0`)
	if err := row.Scan(&needsBackfill); err != nil || needsBackfill == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM topics ORDER BY pinned DESC, updated_at DESC`)
	if err != nil {
		return err
	}
	defer rows.Close()
	idx := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE topics SET sort_index = ? WHERE id = ? AND sort_index = 0`, idx, id); err != nil {
			return err
		}
		idx++
	}
	return rows.Err()
}

func (s *Store) backfillTaskSortIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks WHERE sort_index = 0 ORDER BY pinned DESC, updated_at DESC`)
	if err != nil {
		return err
	}
	defer rows.Close()
	idx := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE tasks SET sort_index = ? WHERE id = ? AND sort_index = 0`, idx, id); err != nil {
			return err
		}
		idx++
	}
	return rows.Err()
}
