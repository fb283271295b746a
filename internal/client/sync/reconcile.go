package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/vaultsync/internal/client/index"
	"github.com/openmined/vaultsync/internal/client/vault"
)

// Reconcile repairs drift between the local tree and the index: untracked
// folders are added, untracked files are uploaded, and records of vanished
// files that never reached the remote are dropped along with records of
// folders that no longer exist locally.
//
// A second run without local or remote changes uploads nothing.
func (e *SyncEngine) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	e.muSync.Lock()
	defer e.muSync.Unlock()
	return e.reconcileLocked(ctx)
}

func (e *SyncEngine) tryReconcile(ctx context.Context) (*ReconcileResult, error) {
	if !e.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()
	return e.reconcileLocked(ctx)
}

func (e *SyncEngine) reconcileLocked(ctx context.Context) (*ReconcileResult, error) {
	if e.vaultID == "" {
		return nil, ErrNoVaultID
	}

	result := &ReconcileResult{}
	scanned := mapset.NewThreadUnsafeSet[string]()
	scannedFolders := mapset.NewThreadUnsafeSet[string]()
	var discovered []string

	err := e.local.Walk(func(entry vault.Entry) error {
		if entry.IsFolder() {
			if !e.filter.TrackFolder(entry.Path) {
				return filepath.SkipDir
			}
			scannedFolders.Add(entry.Path)
			if e.index.TrackFolder(entry.Path) {
				result.FoldersAdded++
			}
			return nil
		}
		if !e.filter.TrackFile(entry.Path) {
			return nil
		}
		scanned.Add(entry.Path)
		if e.needsDiscovery(entry.Path) {
			e.index.TrackFile(entry.Path, index.Millis(entry.CreatedTime))
			discovered = append(discovered, entry.Path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan vault: %w", err)
	}

	for _, p := range discovered {
		if ctx.Err() != nil {
			break
		}
		if err := e.uploadFile(ctx, p); err != nil {
			result.Failed++
			continue
		}
		result.Uploaded++
	}

	for p, rec := range e.index.Files() {
		if scanned.Contains(p) || rec.HasSyncHistory() {
			continue
		}
		e.index.RemoveFile(p)
		e.hasher.Forget(p)
		result.StaleRemoved++
	}

	// files below a vanished folder were handled above; only the folder
	// record itself is left
	for p := range e.index.Folders() {
		if scannedFolders.Contains(p) {
			continue
		}
		if e.index.RemoveFolder(p) {
			result.FoldersRemoved++
		}
	}

	e.index.RefreshFolderCounts()
	e.persistLogged()

	if result.Uploaded > 0 || result.FoldersAdded > 0 || result.FoldersRemoved > 0 ||
		result.StaleRemoved > 0 || result.Failed > 0 {
		slog.Info("reconcile",
			"uploaded", result.Uploaded,
			"foldersAdded", result.FoldersAdded,
			"foldersRemoved", result.FoldersRemoved,
			"staleRemoved", result.StaleRemoved,
			"failed", result.Failed,
		)
	}
	return result, ctx.Err()
}

// needsDiscovery reports whether a scanned file has never reached the
// remote: either the index does not know it, or it only holds a sentinel
// left by an earlier pass.
func (e *SyncEngine) needsDiscovery(p string) bool {
	rec, ok := e.index.GetFile(p)
	if !ok {
		return true
	}
	return rec.IsSentinel() && rec.RemoteFileID == "" && !e.conflicts.HasPath(p)
}
