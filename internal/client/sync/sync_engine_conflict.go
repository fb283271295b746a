package sync

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/openmined/vaultsync/internal/client/index"
	"github.com/openmined/vaultsync/internal/client/remote"
)

// registerConflict records that both sides of p changed and applies the
// configured conflict mode. Identical content on both sides is not a
// conflict; p is marked synced instead. Reports whether a conflict was
// registered.
func (e *SyncEngine) registerConflict(ctx context.Context, p string, r remote.FileInfo) (bool, error) {
	if e.conflicts.HasPath(p) {
		return true, nil
	}

	localData, err := e.local.Read(p)
	if err != nil {
		e.index.MarkSyncError(p, err, index.OpConflict)
		return false, fmt.Errorf("read %s: %w", p, err)
	}
	entry, err := e.local.Stat(p)
	if err != nil {
		e.index.MarkSyncError(p, err, index.OpConflict)
		return false, fmt.Errorf("stat %s: %w", p, err)
	}

	remoteData, err := withRetry(ctx, "download", e.retryBackoff, func(ctx context.Context) ([]byte, error) {
		return e.remote.DownloadFile(ctx, r.ID)
	})
	if err != nil {
		e.index.MarkSyncError(p, err, index.OpDownload)
		return false, fmt.Errorf("download %s: %w", p, err)
	}

	if bytes.Equal(localData, remoteData) {
		if err := e.markDownloaded(p, remoteData, r); err != nil {
			return false, err
		}
		slog.Debug("conflict skipped, same content", "path", p)
		return false, nil
	}

	e.index.TrackFile(p, index.Millis(entry.CreatedTime))
	e.index.MarkConflict(p)

	c := PendingConflict{
		FilePath:     p,
		RemoteFileID: r.ID,
		Local: VersionInfo{
			Size:         int64(len(localData)),
			LastModified: entry.ModTime,
			Content:      localData,
		},
		Remote: VersionInfo{
			Size:         int64(len(remoteData)),
			LastModified: r.ModifiedTime,
			Content:      remoteData,
		},
		DetectedAt: e.clock.Now(),
	}
	id := e.conflicts.Add(c)

	var res Resolution
	switch e.ConflictMode() {
	case ConflictLocal:
		res = Resolution{Kind: ResolveLocal}
	case ConflictRemote:
		res = Resolution{Kind: ResolveRemote}
	case ConflictManual:
		return true, nil
	default:
		res = AutoResolveConflict(c.Local, c.Remote)
		if res.Kind == ResolveManual && res.Content == nil {
			slog.Info("conflict needs manual resolution", "id", id, "path", p)
			return true, nil
		}
	}

	res.ConflictID = id
	if err := e.conflicts.Resolve(ctx, res); err != nil {
		return true, fmt.Errorf("resolve conflict %s: %w", p, err)
	}
	return true, nil
}

// applyResolution materialises a resolved conflict. It runs as a
// ConflictManager callback with muSync held by the caller.
func (e *SyncEngine) applyResolution(ctx context.Context, c PendingConflict, r Resolution) error {
	switch r.Kind {
	case ResolveLocal:
		return e.uploadFile(ctx, c.FilePath)

	case ResolveRemote:
		info := remote.FileInfo{
			ID:           c.RemoteFileID,
			Path:         c.FilePath,
			Size:         c.Remote.Size,
			ModifiedTime: c.Remote.LastModified,
		}
		if c.Remote.Content == nil {
			return e.downloadFile(ctx, c.FilePath, info)
		}
		if err := e.writeSynced(c.FilePath, c.Remote.Content, info); err != nil {
			e.index.MarkSyncError(c.FilePath, err, index.OpDownload)
			return err
		}
		slog.Info("sync", "op", index.OpDownload, "path", c.FilePath, "conflict", c.ID)
		return nil

	case ResolveManual:
		if err := e.local.Write(c.FilePath, r.Content); err != nil {
			e.index.MarkSyncError(c.FilePath, err, index.OpConflict)
			return fmt.Errorf("write merged %s: %w", c.FilePath, err)
		}
		e.hasher.Forget(c.FilePath)
		return e.uploadFile(ctx, c.FilePath)

	default:
		return fmt.Errorf("%w: %q", ErrInvalidResolution, r.Kind)
	}
}
