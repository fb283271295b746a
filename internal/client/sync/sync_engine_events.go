package sync

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/openmined/vaultsync/internal/client/index"
	"github.com/openmined/vaultsync/internal/client/vault"
	"github.com/openmined/vaultsync/internal/utils"
)

// HandleEvent applies one local change right away and persists the index.
func (e *SyncEngine) HandleEvent(ctx context.Context, ev vault.Event) error {
	e.muSync.Lock()
	defer e.muSync.Unlock()

	err := e.safeHandle(ctx, normalizeEvent(ev))
	e.persistLogged()
	return err
}

func normalizeEvent(ev vault.Event) vault.Event {
	ev.Path = utils.NormPath(ev.Path)
	ev.OldPath = utils.NormPath(ev.OldPath)
	return ev
}

// enqueue adds ev to the pending set and restarts the debounce timer.
// A modify of a path that is already waiting to be created or modified adds
// nothing new.
func (e *SyncEngine) enqueue(ev vault.Event) {
	ev = normalizeEvent(ev)

	e.muPending.Lock()
	defer e.muPending.Unlock()

	if !e.coalesces(ev) {
		e.pending = append(e.pending, ev)
		e.pendingPaths.Add(ev.Path)
		if ev.OldPath != "" {
			e.pendingPaths.Add(ev.OldPath)
		}
	}

	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounce = e.clock.AfterFunc(debounceDelay, e.signalFlush)
}

func (e *SyncEngine) coalesces(ev vault.Event) bool {
	if ev.Op != vault.OpModified || !e.pendingPaths.Contains(ev.Path) {
		return false
	}
	for i := len(e.pending) - 1; i >= 0; i-- {
		prev := e.pending[i]
		if prev.Path != ev.Path && prev.OldPath != ev.Path {
			continue
		}
		return prev.Path == ev.Path && prev.Kind == ev.Kind &&
			(prev.Op == vault.OpCreated || prev.Op == vault.OpModified)
	}
	return false
}

func (e *SyncEngine) signalFlush() {
	select {
	case e.flushCh <- struct{}{}:
	default:
	}
}

func (e *SyncEngine) stopDebounce() {
	e.muPending.Lock()
	defer e.muPending.Unlock()
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
}

func (e *SyncEngine) isPending(path string) bool {
	return e.pendingPaths.Contains(path)
}

func (e *SyncEngine) takePending() []vault.Event {
	e.muPending.Lock()
	defer e.muPending.Unlock()
	events := e.pending
	e.pending = nil
	e.pendingPaths.Clear()
	return events
}

// flushPending handles every pending event in order as one batch.
func (e *SyncEngine) flushPending(ctx context.Context) int {
	events := e.takePending()
	if len(events) == 0 {
		return 0
	}

	e.muSync.Lock()
	defer e.muSync.Unlock()

	failed := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		if err := e.safeHandle(ctx, ev); err != nil {
			slog.Warn("handle event", "op", ev.Op, "kind", ev.Kind, "path", ev.Path, "error", err)
			failed++
		}
	}
	e.persistLogged()

	slog.Debug("flushed local changes", "events", len(events), "failed", failed)
	return len(events)
}

// safeHandle turns a panic in an event handler into an error for that event.
func (e *SyncEngine) safeHandle(ctx context.Context, ev vault.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panic", "op", ev.Op, "path", ev.Path, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handle %s %s: panic: %v", ev.Op, ev.Path, r)
		}
	}()
	return e.handleEvent(ctx, ev)
}

func (e *SyncEngine) handleEvent(ctx context.Context, ev vault.Event) error {
	if ev.Path == "" {
		return nil
	}
	if ev.Path == IgnoreFileName && ev.Kind == vault.KindFile {
		e.filter.Load(e.local)
		return nil
	}

	if ev.Kind == vault.KindFolder {
		switch {
		case ev.Op == vault.OpRenamed, ev.Op == vault.OpCreated && ev.OldPath != "":
			return e.handleFolderRenamed(ctx, ev.OldPath, ev.Path)
		case ev.Op == vault.OpCreated:
			if e.filter.TrackFolder(ev.Path) && e.index.TrackFolder(ev.Path) {
				slog.Debug("track folder", "path", ev.Path)
			}
		case ev.Op == vault.OpDeleted:
			e.handleFolderDeleted(ev.Path)
		}
		return nil
	}

	switch ev.Op {
	case vault.OpCreated:
		return e.handleFileCreated(ctx, ev.Path)
	case vault.OpModified:
		return e.handleFileModified(ctx, ev.Path)
	case vault.OpDeleted:
		e.handleFileDeleted(ev.Path)
		return nil
	case vault.OpRenamed:
		return e.handleFileRenamed(ctx, ev.OldPath, ev.Path)
	default:
		return fmt.Errorf("unknown event op %d", ev.Op)
	}
}

func (e *SyncEngine) handleFileCreated(ctx context.Context, p string) error {
	if !e.filter.TrackFile(p) || !e.local.Exists(p) {
		return nil
	}
	entry, err := e.local.Stat(p)
	if err != nil {
		return fmt.Errorf("stat %s: %w", p, err)
	}
	if !e.index.TrackFile(p, index.Millis(entry.CreatedTime)) && !e.localChanged(p) {
		return nil
	}
	if e.conflicts.HasPath(p) {
		return nil
	}
	return e.uploadFile(ctx, p)
}

func (e *SyncEngine) handleFileModified(ctx context.Context, p string) error {
	if !e.filter.TrackFile(p) || !e.local.Exists(p) {
		return nil
	}
	hash, entry, err := e.hasher.Fingerprint(p)
	if err != nil {
		return fmt.Errorf("fingerprint %s: %w", p, err)
	}
	if !e.index.NeedsSync(p, hash, index.Millis(entry.ModTime), entry.Size) {
		return nil
	}
	if e.conflicts.HasPath(p) {
		slog.Debug("change held back by pending conflict", "path", p)
		return nil
	}
	return e.uploadFile(ctx, p)
}

// handleFileDeleted forgets p. The remote copy is kept.
func (e *SyncEngine) handleFileDeleted(p string) {
	e.hasher.Forget(p)
	if _, ok := e.index.RemoveFile(p); ok {
		slog.Info("untrack file", "path", p)
	}
}

// handleFileRenamed treats a rename as a move: the new path is uploaded and
// only then is the object of the old path removed from the remote.
func (e *SyncEngine) handleFileRenamed(ctx context.Context, oldPath, newPath string) error {
	if oldPath == "" {
		return e.handleFileCreated(ctx, newPath)
	}

	e.hasher.Forget(oldPath)
	old, existed := e.index.RemoveFile(oldPath)

	if !e.filter.TrackFile(newPath) || !e.local.Exists(newPath) {
		return nil
	}

	entry, err := e.local.Stat(newPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", newPath, err)
	}
	e.index.TrackFile(newPath, index.Millis(entry.CreatedTime))
	if err := e.uploadFile(ctx, newPath); err != nil {
		return err
	}

	if existed && old.RemoteFileID != "" {
		if rec, ok := e.index.GetFile(newPath); !ok || rec.RemoteFileID != old.RemoteFileID {
			return e.deleteRemote(ctx, oldPath, old.RemoteFileID)
		}
	}
	return nil
}

func (e *SyncEngine) handleFolderRenamed(ctx context.Context, oldPath, newPath string) error {
	if !e.filter.TrackFolder(newPath) {
		e.handleFolderDeleted(oldPath)
		return nil
	}
	if oldPath == "" {
		e.index.TrackFolder(newPath)
		return nil
	}

	moved := e.index.RenameFolder(oldPath, newPath)
	slog.Info("rename folder", "from", oldPath, "to", newPath, "files", moved)
	if moved == 0 {
		return nil
	}

	// the remote objects still sit below the old folder
	var errs []error
	for _, p := range e.index.FilePaths() {
		if !utils.HasPathPrefix(p, newPath) {
			continue
		}
		rec, _ := e.index.GetFile(p)
		e.hasher.Forget(p)
		if !e.filter.TrackFile(p) || !e.local.Exists(p) {
			continue
		}
		if err := e.uploadFile(ctx, p); err != nil {
			errs = append(errs, err)
			continue
		}
		if rec.RemoteFileID == "" {
			continue
		}
		oldFile := oldPath + p[len(newPath):]
		if err := e.deleteRemote(ctx, oldFile, rec.RemoteFileID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("rename folder %s: %d of %d files failed: %w", newPath, len(errs), moved, errs[0])
	}
	return nil
}

func (e *SyncEngine) handleFolderDeleted(p string) {
	for _, f := range e.index.FilePaths() {
		if utils.HasPathPrefix(f, p) {
			e.hasher.Forget(f)
		}
	}
	removed := e.index.RemoveFolderTree(p)
	slog.Info("untrack folder", "path", p, "files", removed)
}
