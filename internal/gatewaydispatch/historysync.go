package gatewaydispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirouk/clawboard/internal/config"
	"github.com/sirouk/clawboard/internal/ingest"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
	"github.com/sirouk/clawboard/pkg/protocol"
)

// historyMessage is the shape expected back from the gateway's chat.history
// RPC, one entry per message newer than the session's watermark.
type historyMessage struct {
	ID          string   `json:"id"`
	TimestampMs int64    `json:"timestampMs"`
	AgentID     string   `json:"agentId"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachmentIds"`
}

// HistorySyncWorker reconciles any gateway-side messages Clawboard might
// have missed (e.g. after downtime), per SPEC_FULL §12.2. It runs at a much
// lower frequency than Worker since it is a fallback, not the live path.
type HistorySyncWorker struct {
	store    store.Store
	ingest   *ingest.Service
	cfg      config.GatewayDispatchConfig
	interval time.Duration
}

func NewHistorySync(st store.Store, ingestSvc *ingest.Service, cfg config.GatewayDispatchConfig, interval time.Duration) *HistorySyncWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &HistorySyncWorker{store: st, ingest: ingestSvc, cfg: cfg, interval: interval}
}

func (w *HistorySyncWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("gateway history-sync worker starting", "intervalSeconds", w.interval.Seconds())
	for {
		select {
		case <-ctx.Done():
			slog.Info("gateway history-sync worker stopping")
			return
		case <-ticker.C:
			if w.cfg.Token == "" {
				continue
			}
			w.tick(ctx)
		}
	}
}

func (w *HistorySyncWorker) tick(ctx context.Context) {
	state, err := w.store.GetGatewayHistorySyncState(ctx)
	if err != nil {
		slog.Warn("history-sync: load state failed", "error", err)
		return
	}

	now := model.NowISO()
	state.LastRunAt = &now
	state.Status = "running"

	sessions, err := w.candidateSessions(ctx)
	if err != nil {
		w.fail(ctx, state, err)
		return
	}

	var ingested, cursorUpdates, deferred int
	for _, sessionKey := range sessions {
		n, updated, err := w.syncSession(ctx, sessionKey)
		if err != nil {
			slog.Warn("history-sync: session sync failed", "sessionKey", sessionKey, "error", err)
			deferred++
			continue
		}
		ingested += n
		if updated {
			cursorUpdates++
		}
	}

	state.Status = "idle"
	state.LastSuccessAt = &now
	state.LastError = nil
	state.ConsecutiveFailures = 0
	state.LastIngestedCount = ingested
	state.LastSessionCount = len(sessions)
	state.LastCursorUpdateCount = cursorUpdates
	state.LastDeferredCount = deferred
	if err := w.store.SetGatewayHistorySyncState(ctx, state); err != nil {
		slog.Warn("history-sync: save state failed", "error", err)
	}
}

func (w *HistorySyncWorker) fail(ctx context.Context, state *model.GatewayHistorySyncState, cause error) {
	now := model.NowISO()
	msg := cause.Error()
	state.Status = "error"
	state.LastErrorAt = &now
	state.LastError = &msg
	state.ConsecutiveFailures++
	if err := w.store.SetGatewayHistorySyncState(ctx, state); err != nil {
		slog.Warn("history-sync: save error state failed", "error", err)
	}
}

// candidateSessions lists sessions with recent conversation activity --
// those are the ones the gateway might hold new replies for.
func (w *HistorySyncWorker) candidateSessions(ctx context.Context) ([]string, error) {
	return w.store.ListRecentConversationSessions(ctx, 200)
}

func (w *HistorySyncWorker) syncSession(ctx context.Context, sessionKey string) (ingestedCount int, cursorUpdated bool, err error) {
	cursor, err := w.store.GetGatewayHistoryCursor(ctx, sessionKey)
	if err != nil && err != store.ErrNotFound {
		return 0, false, err
	}
	var sinceMs int64
	if cursor != nil {
		sinceMs = cursor.LastTimestampMs
	}

	client, err := DialWithTimeout(ctx, w.cfg, []string{"operator.read"})
	if err != nil {
		return 0, false, err
	}
	defer client.Close()

	payload, err := client.Call(ctx, protocol.MethodChatHistory, map[string]any{
		"sessionKey": sessionKey,
		"sinceMs":    sinceMs,
	})
	if err != nil {
		return 0, false, err
	}

	var messages []historyMessage
	if err := json.Unmarshal(payload, &messages); err != nil {
		return 0, false, fmt.Errorf("history-sync: decode payload: %w", err)
	}

	maxMs := sinceMs
	for _, m := range messages {
		key := "gateway-history-" + sessionKey + "-" + m.ID
		_, aerr := w.ingest.Append(ctx, ingest.AppendPayload{
			Type:           model.LogConversation,
			Content:        m.Content,
			AgentID:        strPtrOrNil(m.AgentID),
			Source:         &model.LogSource{SessionKey: sessionKey},
			IdempotencyKey: &key,
			CreatedAt:      model.FormatISO(time.UnixMilli(m.TimestampMs)),
		}, "")
		if aerr != nil {
			slog.Warn("history-sync: ingest message failed", "sessionKey", sessionKey, "messageId", m.ID, "error", aerr)
			continue
		}
		ingestedCount++
		if m.TimestampMs > maxMs {
			maxMs = m.TimestampMs
		}
	}

	if maxMs > sinceMs {
		if err := w.store.SetGatewayHistoryCursor(ctx, &model.GatewayHistoryCursor{SessionKey: sessionKey, LastTimestampMs: maxMs}); err != nil {
			return ingestedCount, false, err
		}
		cursorUpdated = true
	}
	return ingestedCount, cursorUpdated, nil
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
