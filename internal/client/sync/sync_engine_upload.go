package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/openmined/vaultsync/internal/client/index"
	"github.com/openmined/vaultsync/internal/client/remote"
	"github.com/openmined/vaultsync/internal/utils"
)

func (e *SyncEngine) syncUpload(ctx context.Context, item DeltaItem, summary *SyncSummary) {
	p := item.Path

	if e.conflicts.HasPath(p) {
		summary.SkippedFiles++
		return
	}

	if !e.local.Exists(p) {
		// synced once, now gone on both sides
		if item.Reason == ReasonMissingRemote {
			e.index.RemoveFile(p)
			slog.Info("sync drop", "path", p, "reason", item.Reason)
		}
		summary.SkippedFiles++
		return
	}

	if err := e.uploadFile(ctx, p); err != nil {
		summary.addError(p, err)
		return
	}
	summary.UploadedFiles++
	slog.Debug("sync upload", "path", p, "reason", item.Reason)
}

// uploadFile sends the local content of p to the remote container and marks
// it synced. The local modify time is aligned with the remote one so both
// sides agree on the synced time.
func (e *SyncEngine) uploadFile(ctx context.Context, p string) error {
	p = utils.NormPath(p)

	data, err := e.local.Read(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", p, err)
		}
		e.index.MarkSyncError(p, err, index.OpUpload)
		return fmt.Errorf("read %s: %w", p, err)
	}
	entry, err := e.local.Stat(p)
	if err != nil {
		e.index.MarkSyncError(p, err, index.OpUpload)
		return fmt.Errorf("stat %s: %w", p, err)
	}

	folderID, err := e.remoteFolder(ctx, utils.ParentPath(p))
	if err != nil {
		e.index.MarkSyncError(p, err, index.OpUpload)
		return err
	}

	info, err := withRetry(ctx, "upload", e.retryBackoff, func(ctx context.Context) (*remote.FileInfo, error) {
		return e.remote.UploadFile(ctx, path.Base(p), data, utils.DetectContentType(p), folderID)
	})
	if err != nil {
		e.index.MarkSyncError(p, err, index.OpUpload)
		slog.Error("sync", "op", index.OpUpload, "path", p, "error", err)
		return fmt.Errorf("upload %s: %w", p, err)
	}

	mtime := entry.ModTime
	if !info.ModifiedTime.IsZero() {
		if err := e.local.SetModTime(p, info.ModifiedTime); err != nil {
			slog.Warn("align modify time", "path", p, "error", err)
		} else {
			mtime = info.ModifiedTime
		}
	}
	e.hasher.Forget(p)

	var created int64
	if !e.index.HasFile(p) {
		created = index.Millis(entry.CreatedTime)
	}
	e.index.MarkSynced(p, utils.Fingerprint(data), index.Millis(mtime), int64(len(data)), info.ID, index.MarkOptions{
		Operation:   index.OpUpload,
		RemoteMtime: index.Millis(info.ModifiedTime),
		RemoteHash:  info.Hash,
		CreatedTime: created,
	})
	e.trackParents(p)

	slog.Info("sync", "op", index.OpUpload, "path", p, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

// remoteFolder returns the id of the remote folder for the vault folder dir.
func (e *SyncEngine) remoteFolder(ctx context.Context, dir string) (string, error) {
	containerID, err := e.ensureContainer(ctx)
	if err != nil {
		return "", err
	}
	if dir == "" {
		return containerID, nil
	}

	folderID, err := withRetry(ctx, "folder", e.retryBackoff, func(ctx context.Context) (string, error) {
		return e.remote.EnsureFolderPath(ctx, dir, containerID)
	})
	if err != nil {
		return "", fmt.Errorf("ensure remote folder %s: %w", dir, err)
	}
	if e.filter.TrackFolder(dir) {
		e.index.SetFolderRemoteID(dir, folderID)
	}
	return folderID, nil
}

// deleteRemote removes a remote object that no longer has a local path.
// An object that is already gone counts as deleted.
func (e *SyncEngine) deleteRemote(ctx context.Context, p, remoteID string) error {
	_, err := withRetry(ctx, "delete", e.retryBackoff, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.remote.DeleteFile(ctx, remoteID)
	})
	if err != nil && !errors.Is(err, remote.ErrFileNotFound) {
		slog.Error("sync", "op", index.OpDelete, "path", p, "id", remoteID, "error", err)
		return fmt.Errorf("delete remote %s: %w", p, err)
	}
	slog.Info("sync", "op", index.OpDelete, "path", p, "id", remoteID)
	return nil
}
