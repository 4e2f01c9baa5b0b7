package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
)

const logColumns = `id, space_id, topic_id, task_id, related_log_id, idempotency_key, type, content, summary,
	raw, classification_status, classification_attempts, classification_error, agent_id, agent_label,
	source, attachments, created_at, updated_at`

func (s *Store) ListLogs(ctx context.Context, f store.LogFilter) ([]model.LogEntry, error) {
	defer logSlowQuery(time.Now(), "ListLogs")
	query := `SELECT ` + logColumns + ` FROM logs WHERE space_id = ?`
	args := []any{f.SpaceID}

	if f.TopicID != nil {
		query += ` AND topic_id = ?`
		args = append(args, *f.TopicID)
	}
	if f.TaskID != nil {
		query += ` AND task_id = ?`
		args = append(args, *f.TaskID)
	}
	if f.Type != nil {
		query += ` AND type = ?`
		args = append(args, string(*f.Type))
	}
	if f.ClassificationStatus != nil {
		query += ` AND classification_status = ?`
		args = append(args, string(*f.ClassificationStatus))
	}
	if f.SessionKey != "" {
		query += ` AND json_extract(source, '$.sessionKey') = ?`
		args = append(args, f.SessionKey)
	}
	if f.Since != "" {
		query += ` AND updated_at > ?`
		args = append(args, f.Since)
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) GetLog(ctx context.Context, id string) (*model.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+logColumns+` FROM logs WHERE id = ?`, id)
	l, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) GetLogByIdempotencyKey(ctx context.Context, key string) (*model.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+logColumns+` FROM logs WHERE idempotency_key = ?`, key)
	l, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// AppendLog inserts a new log entry. If l.IdempotencyKey collides with an
// existing row, ErrIdempotentReturn is returned without retry (a unique
// violation is not a transient "busy" failure) and the caller should look
// the existing row up via GetLogByIdempotencyKey.
func (s *Store) AppendLog(ctx context.Context, l *model.LogEntry) error {
	now := model.NowISO()
	l.CreatedAt, l.UpdatedAt = now, now
	if l.ClassificationStatus == "" {
		l.ClassificationStatus = model.ClassificationPending
	}

	source, err := json.Marshal(l.Source)
	if err != nil {
		return err
	}
	attachments, err := json.Marshal(l.Attachments)
	if err != nil {
		return err
	}

	err = withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO logs (`+logColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, l.ID, l.SpaceID, l.TopicID, l.TaskID, l.RelatedLogID, l.IdempotencyKey, string(l.Type), l.Content,
			l.Summary, l.Raw, string(l.ClassificationStatus), l.ClassificationAttempts, l.ClassificationError,
			l.AgentID, l.AgentLabel, string(source), string(attachments), l.CreatedAt, l.UpdatedAt)
		return err
	})
	if isUniqueErr(err) {
		return store.ErrIdempotentReturn
	}
	return err
}

// PatchLog applies a partial update described by patch (JSON-tag keyed) and
// returns the resulting row.
func (s *Store) PatchLog(ctx context.Context, id string, patch map[string]any) (*model.LogEntry, error) {
	allowed := map[string]string{
		"topicId":                "topic_id",
		"taskId":                 "task_id",
		"relatedLogId":           "related_log_id",
		"content":                "content",
		"summary":                "summary",
		"classificationStatus":   "classification_status",
		"classificationAttempts": "classification_attempts",
		"classificationError":    "classification_error",
		"agentId":                "agent_id",
		"agentLabel":             "agent_label",
	}

	var sets []string
	var args []any
	for k, v := range patch {
		col, ok := allowed[k]
		if !ok {
			continue
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if len(sets) == 0 {
		return s.GetLog(ctx, id)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, model.NowISO())
	args = append(args, id)

	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE logs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetLog(ctx, id)
}

func (s *Store) DeleteLog(ctx context.Context, id string) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM logs WHERE id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO deleted_logs (id, deleted_at) VALUES (?, ?)`,
			id, model.NowISO()); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) CountPendingClassification(ctx context.Context) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs WHERE classification_status = 'pending'`)
	return n, row.Scan(&n)
}

// ListPendingClassificationSessions returns distinct session keys with
// pending logs within the most recent lookback rows, ordered by most recent
// activity first so the classifier processes hot sessions first.
func (s *Store) ListPendingClassificationSessions(ctx context.Context, lookback int) ([]string, error) {
	if lookback <= 0 {
		lookback = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT json_extract(source, '$.sessionKey') AS sk
		FROM (SELECT * FROM logs WHERE classification_status = 'pending' ORDER BY created_at DESC LIMIT ?)
		WHERE sk IS NOT NULL AND sk != ''
	`, lookback)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sk string
		if err := rows.Scan(&sk); err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// ListRecentConversationSessions returns distinct session keys with a
// conversation-type log within the most recent lookback rows -- candidates
// the gateway history-sync fallback should reconcile. Grounded on
// ListPendingClassificationSessions's distinct-sessionKey-over-window shape.
func (s *Store) ListRecentConversationSessions(ctx context.Context, lookback int) ([]string, error) {
	if lookback <= 0 {
		lookback = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT json_extract(source, '$.sessionKey') AS sk
		FROM (SELECT * FROM logs WHERE type = 'conversation' ORDER BY created_at DESC LIMIT ?)
		WHERE sk IS NOT NULL AND sk != ''
	`, lookback)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sk string
		if err := rows.Scan(&sk); err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

func (s *Store) ListLogsBySessionKey(ctx context.Context, sessionKey string, limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+logColumns+` FROM logs WHERE json_extract(source, '$.sessionKey') = ? ORDER BY created_at ASC LIMIT ?`, sessionKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListLogsByRelatedID returns every log (typically notes) whose
// relatedLogId points at the given root log id, for cascade delete.
func (s *Store) ListLogsByRelatedID(ctx context.Context, relatedLogID string) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+logColumns+` FROM logs WHERE related_log_id = ? ORDER BY created_at ASC`, relatedLogID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkLogsReplayPending resets classification state for every log in a
// space back to pending, for POST /api/admin/start-fresh-replay. Logs
// themselves are untouched; only routing state is cleared.
func (s *Store) MarkLogsReplayPending(ctx context.Context, spaceID string) (int, error) {
	var n int64
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE logs SET classification_status = 'pending', classification_attempts = 0,
				classification_error = NULL, topic_id = NULL, task_id = NULL, updated_at = ?
			WHERE space_id = ?
		`, model.NowISO(), spaceID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func (s *Store) Changes(ctx context.Context, since string, limitLogs int, includeRaw bool) (*store.ChangeSet, error) {
	defer logSlowQuery(time.Now(), "Changes")
	if limitLogs <= 0 {
		limitLogs = 500
	}
	cs := &store.ChangeSet{}

	logRows, err := s.db.QueryContext(ctx, `SELECT `+logColumns+` FROM logs WHERE updated_at > ? ORDER BY updated_at ASC LIMIT ?`, since, limitLogs)
	if err != nil {
		return nil, err
	}
	for logRows.Next() {
		l, err := scanLog(logRows)
		if err != nil {
			logRows.Close()
			return nil, err
		}
		if !includeRaw {
			l.Raw = nil
		}
		cs.Logs = append(cs.Logs, l)
	}
	if err := logRows.Err(); err != nil {
		logRows.Close()
		return nil, err
	}
	logRows.Close()

	delRows, err := s.db.QueryContext(ctx, `SELECT id, deleted_at FROM deleted_logs WHERE deleted_at > ? ORDER BY deleted_at ASC LIMIT ?`, since, limitLogs)
	if err != nil {
		return nil, err
	}
	for delRows.Next() {
		var d model.DeletedLog
		if err := delRows.Scan(&d.ID, &d.DeletedAt); err != nil {
			delRows.Close()
			return nil, err
		}
		cs.DeletedLogs = append(cs.DeletedLogs, d)
	}
	if err := delRows.Err(); err != nil {
		delRows.Close()
		return nil, err
	}
	delRows.Close()

	topicRows, err := s.db.QueryContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE updated_at > ? ORDER BY updated_at ASC`, since)
	if err != nil {
		return nil, err
	}
	for topicRows.Next() {
		t, err := scanTopic(topicRows)
		if err != nil {
			topicRows.Close()
			return nil, err
		}
		cs.Topics = append(cs.Topics, t)
	}
	if err := topicRows.Err(); err != nil {
		topicRows.Close()
		return nil, err
	}
	topicRows.Close()

	taskRows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE updated_at > ? ORDER BY updated_at ASC`, since)
	if err != nil {
		return nil, err
	}
	for taskRows.Next() {
		t, err := scanTask(taskRows)
		if err != nil {
			taskRows.Close()
			return nil, err
		}
		cs.Tasks = append(cs.Tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		taskRows.Close()
		return nil, err
	}
	taskRows.Close()

	spaceRows, err := s.db.QueryContext(ctx, `SELECT id, name, color, default_visible, connectivity, created_at, updated_at FROM spaces WHERE updated_at > ? ORDER BY updated_at ASC`, since)
	if err != nil {
		return nil, err
	}
	defer spaceRows.Close()
	for spaceRows.Next() {
		sp, err := scanSpace(spaceRows)
		if err != nil {
			return nil, err
		}
		cs.Spaces = append(cs.Spaces, sp)
	}
	return cs, spaceRows.Err()
}

func scanLog(r rowScanner) (model.LogEntry, error) {
	var l model.LogEntry
	var topicID, taskID, relatedLogID, idempotencyKey, summary, raw, classificationError, agentID, agentLabel sql.NullString
	var source, attachments sql.NullString
	var logType, classificationStatus string

	if err := r.Scan(&l.ID, &l.SpaceID, &topicID, &taskID, &relatedLogID, &idempotencyKey, &logType, &l.Content,
		&summary, &raw, &classificationStatus, &l.ClassificationAttempts, &classificationError, &agentID,
		&agentLabel, &source, &attachments, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return l, err
	}

	l.Type = model.LogType(logType)
	l.ClassificationStatus = model.ClassificationStatus(classificationStatus)
	if topicID.Valid {
		l.TopicID = &topicID.String
	}
	if taskID.Valid {
		l.TaskID = &taskID.String
	}
	if relatedLogID.Valid {
		l.RelatedLogID = &relatedLogID.String
	}
	if idempotencyKey.Valid {
		l.IdempotencyKey = &idempotencyKey.String
	}
	if summary.Valid {
		l.Summary = &summary.String
	}
	if raw.Valid {
		l.Raw = &raw.String
	}
	if classificationError.Valid {
		l.ClassificationError = &classificationError.String
	}
	if agentID.Valid {
		l.AgentID = &agentID.String
	}
	if agentLabel.Valid {
		l.AgentLabel = &agentLabel.String
	}
	if source.Valid && source.String != "" {
		var src model.LogSource
		if err := json.Unmarshal([]byte(source.String), &src); err == nil {
			l.Source = &src
		}
	}
	if attachments.Valid && attachments.String != "" {
		_ = json.Unmarshal([]byte(attachments.String), &l.Attachments)
	}
	return l, nil
}
