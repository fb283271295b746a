package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/openmined/vaultsync/internal/client/index"
	"github.com/openmined/vaultsync/internal/client/remote"
	"github.com/openmined/vaultsync/internal/client/vault"
	"github.com/openmined/vaultsync/internal/utils"
)

func (e *SyncEngine) syncDownload(ctx context.Context, item DeltaItem, summary *SyncSummary) {
	p := item.Path
	r := item.Remote

	if e.conflicts.HasPath(p) || e.isPending(p) {
		summary.SkippedFiles++
		return
	}

	decision, err := e.decideDownload(p, *r)
	if err != nil {
		e.index.MarkSyncError(p, err, index.OpDownload)
		summary.addError(p, err)
		return
	}

	switch decision {
	case index.DecisionSkip:
		e.index.RecordRemoteObservation(p, r.ID, index.Millis(r.ModifiedTime), r.Hash)
		summary.SkippedFiles++
	case index.DecisionConflict:
		conflicted, err := e.registerConflict(ctx, p, *r)
		switch {
		case err != nil:
			summary.addError(p, err)
		case conflicted:
			summary.Conflicts++
		default:
			summary.SkippedFiles++
		}
	default:
		if err := e.downloadFile(ctx, p, *r); err != nil {
			summary.addError(p, err)
			return
		}
		summary.DownloadedFiles++
		slog.Debug("sync download", "path", p, "reason", item.Reason)
	}
}

// decideDownload guards a download against overwriting local edits.
func (e *SyncEngine) decideDownload(p string, r remote.FileInfo) (index.Decision, error) {
	if !e.local.Exists(p) {
		return index.DecisionDownload, nil
	}
	hash, entry, err := e.hasher.Fingerprint(p)
	if err != nil {
		if errors.Is(err, vault.ErrIsFolder) {
			return index.DecisionSkip, fmt.Errorf("download %s: %w", p, err)
		}
		return index.DecisionSkip, fmt.Errorf("fingerprint %s: %w", p, err)
	}
	if entry.Size == 0 {
		hash = ""
	}
	return e.index.ShouldDownloadRemoteFile(p, r.ID, index.Millis(r.ModifiedTime), true, index.Millis(entry.ModTime), hash), nil
}

// downloadFile replaces the local content of p with the remote object r.
func (e *SyncEngine) downloadFile(ctx context.Context, p string, r remote.FileInfo) error {
	data, err := withRetry(ctx, "download", e.retryBackoff, func(ctx context.Context) ([]byte, error) {
		return e.remote.DownloadFile(ctx, r.ID)
	})
	if err != nil {
		e.index.MarkSyncError(p, err, index.OpDownload)
		slog.Error("sync", "op", index.OpDownload, "path", p, "id", r.ID, "error", err)
		return fmt.Errorf("download %s: %w", p, err)
	}
	if err := e.writeSynced(p, data, r); err != nil {
		e.index.MarkSyncError(p, err, index.OpDownload)
		return err
	}
	slog.Info("sync", "op", index.OpDownload, "path", p, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

// writeSynced stores data as the local content of p and records it as the
// synced state of the remote object r.
func (e *SyncEngine) writeSynced(p string, data []byte, r remote.FileInfo) error {
	if err := e.local.Write(p, data); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return e.markDownloaded(p, data, r)
}

func (e *SyncEngine) markDownloaded(p string, data []byte, r remote.FileInfo) error {
	mtime := r.ModifiedTime
	if mtime.IsZero() {
		mtime = e.clock.Now()
	}
	if err := e.local.SetModTime(p, mtime); err != nil {
		return fmt.Errorf("set modify time %s: %w", p, err)
	}
	e.hasher.Forget(p)

	var created int64
	if !e.index.HasFile(p) {
		created = index.Millis(e.clock.Now())
	}

	e.index.MarkSynced(p, utils.Fingerprint(data), index.Millis(mtime), int64(len(data)), r.ID, index.MarkOptions{
		Operation:   index.OpDownload,
		RemoteMtime: index.Millis(r.ModifiedTime),
		RemoteHash:  r.Hash,
		CreatedTime: created,
	})
	e.trackParents(p)
	return nil
}
