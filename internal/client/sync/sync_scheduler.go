package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openmined/vaultsync/internal/client/vault"
)

// loop is the engine's only background goroutine. Local events, the debounce
// flush and every timer are handled here one at a time.
func (e *SyncEngine) loop(ctx context.Context, events <-chan vault.Event) {
	syncTicker := e.clock.NewTicker(e.SyncInterval())
	defer syncTicker.Stop()

	remoteTicker := e.clock.NewTicker(remoteCheckInterval)
	defer remoteTicker.Stop()

	reconcileTicker := e.clock.NewTicker(reconcileInterval)
	defer reconcileTicker.Stop()

	initialReconcile := e.clock.NewTimer(initialReconcileDelay)
	defer initialReconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.enqueue(ev)

		case <-e.flushCh:
			e.flushPending(ctx)

		case d := <-e.intervalCh:
			syncTicker.Reset(d)
			slog.Info("sync interval changed", "interval", d)

		case <-syncTicker.Chan():
			e.runAutoSync(ctx)

		case <-remoteTicker.Chan():
			// a full pass also refreshes the remote view; the slack keeps a pass
			// that ended shortly after the previous tick from skipping this one
			if e.index.NeedsRemoteCheck(e.clock.Now(), remoteCheckInterval-remoteCheckSlack) {
				e.runRemoteCheck(ctx)
			}

		case <-reconcileTicker.Chan():
			e.runReconcile(ctx)

		case <-initialReconcile.Chan():
			e.runReconcile(ctx)
		}
	}
}

func (e *SyncEngine) runAutoSync(ctx context.Context) {
	summary, err := e.trySyncVault(ctx)
	if err != nil {
		if isBusy(err) {
			slog.Debug("auto sync skipped", "reason", err)
		}
		return
	}
	if !summary.Success && !errors.Is(ctx.Err(), context.Canceled) {
		slog.Warn("auto sync incomplete", "errors", summary.Errors)
	}
}

func (e *SyncEngine) runRemoteCheck(ctx context.Context) {
	if _, err := e.tryCheckRemote(ctx); err != nil {
		switch {
		case isBusy(err):
			slog.Debug("remote check skipped", "reason", err)
		case !errors.Is(err, context.Canceled):
			slog.Error("remote check", "error", err)
		}
	}
}

func (e *SyncEngine) runReconcile(ctx context.Context) {
	if _, err := e.tryReconcile(ctx); err != nil {
		switch {
		case isBusy(err):
			slog.Debug("reconcile skipped", "reason", err)
		case !errors.Is(err, context.Canceled):
			slog.Error("reconcile", "error", err)
		}
	}
}
