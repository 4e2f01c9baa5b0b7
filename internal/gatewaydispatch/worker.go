package gatewaydispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/sirouk/clawboard/internal/config"
	"github.com/sirouk/clawboard/internal/ingest"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/store"
	"github.com/sirouk/clawboard/pkg/protocol"
)

// maxAttempts bounds retries before a dispatch is marked permanently failed.
const maxAttempts = 6

// backoffBase is the exponential-backoff unit applied per failed attempt,
// capped at backoffMax.
const backoffBase = 5 * time.Second
const backoffMax = 10 * time.Minute

// Worker is the always-on outbound relay: it polls pending/retry
// ChatDispatch rows, claims a batch, and plays each through the gateway's
// connect/chat RPC protocol. Shaped on snooze.Worker's ticker loop.
type Worker struct {
	store    store.Store
	ingest   *ingest.Service
	cfg      config.GatewayDispatchConfig
	interval time.Duration
	batch    int
	limiter  *rate.Limiter
}

func New(st store.Store, ingestSvc *ingest.Service, cfg config.GatewayDispatchConfig, interval time.Duration, batch int) *Worker {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if batch <= 0 {
		batch = 10
	}
	return &Worker{
		store:    st,
		ingest:   ingestSvc,
		cfg:      cfg,
		interval: interval,
		batch:    batch,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 4),
	}
}

// Run blocks until ctx is cancelled. If cfg.Token is empty the worker is a
// no-op loop: Clawboard can run with gateway dispatch disabled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("gateway dispatch worker starting", "intervalSeconds", w.interval.Seconds(), "enabled", w.cfg.Token != "")
	for {
		select {
		case <-ctx.Done():
			slog.Info("gateway dispatch worker stopping")
			return
		case <-ticker.C:
			if w.cfg.Token == "" {
				continue
			}
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	rows, err := w.store.ClaimChatDispatchBatch(ctx, w.batch)
	if err != nil {
		slog.Warn("gateway dispatch: claim batch failed", "error", err)
		return
	}
	for _, d := range rows {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		w.process(ctx, d)
	}
}

func (w *Worker) process(ctx context.Context, d model.ChatDispatch) {
	err := w.send(ctx, d)
	if err == nil {
		if uerr := w.store.UpdateChatDispatchStatus(ctx, d.ID, model.DispatchSent, "", nil); uerr != nil {
			slog.Warn("gateway dispatch: mark sent failed", "requestId", d.RequestID, "error", uerr)
		}
		return
	}

	errMsg := err.Error()
	if d.Attempts+1 >= maxAttempts {
		slog.Warn("gateway dispatch: giving up", "requestId", d.RequestID, "attempts", d.Attempts+1, "error", err)
		if uerr := w.store.UpdateChatDispatchStatus(ctx, d.ID, model.DispatchFailed, "", &errMsg); uerr != nil {
			slog.Warn("gateway dispatch: mark failed failed", "requestId", d.RequestID, "error", uerr)
		}
		w.announceFailure(ctx, d, errMsg)
		return
	}

	next := model.FormatISO(time.Now().Add(backoff(d.Attempts + 1)))
	if uerr := w.store.UpdateChatDispatchStatus(ctx, d.ID, model.DispatchRetry, next, &errMsg); uerr != nil {
		slog.Warn("gateway dispatch: mark retry failed", "requestId", d.RequestID, "error", uerr)
	}
}

func backoff(attempt int) time.Duration {
	d := backoffBase * time.Duration(1<<uint(attempt-1))
	if d > backoffMax || d <= 0 {
		return backoffMax
	}
	return d
}

// send dials a fresh connection per dispatch -- the gateway protocol has no
// multiplexing and dispatch volume is low relative to an always-open
// connection's idle-timeout/reconnect complexity.
func (w *Worker) send(ctx context.Context, d model.ChatDispatch) error {
	client, err := DialWithTimeout(ctx, w.cfg, []string{"operator.read", "operator.chat"})
	if err != nil {
		return err
	}
	defer client.Close()

	// The gateway's own response payload isn't persisted here; the resulting
	// conversation arrives back through ordinary ingest or history-sync.
	_, err = client.Call(ctx, protocol.MethodChatSend, map[string]any{
		"sessionKey":    d.SessionKey,
		"agentId":       d.AgentID,
		"message":       d.Message,
		"attachmentIds": d.AttachmentIDs,
	})
	return err
}

// announceFailure writes a system log into the originating session so the
// user sees the dispatch gave up instead of the request silently vanishing.
func (w *Worker) announceFailure(ctx context.Context, d model.ChatDispatch, reason string) {
	content := fmt.Sprintf("chat dispatch failed after %d attempts: %s", maxAttempts, reason)
	_, err := w.ingest.Append(ctx, ingest.AppendPayload{
		Type:    model.LogSystem,
		Content: content,
		Source:  &model.LogSource{SessionKey: d.SessionKey},
	}, "")
	if err != nil {
		slog.Warn("gateway dispatch: failed to journal failure", "requestId", d.RequestID, "error", err)
	}
}
