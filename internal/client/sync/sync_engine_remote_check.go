package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/vaultsync/internal/client/index"
)

// CheckRemote compares every remote file with its local copy one by one and
// downloads remote changes that do not collide with local edits.
func (e *SyncEngine) CheckRemote(ctx context.Context) (*RemoteCheckResult, error) {
	e.muSync.Lock()
	defer e.muSync.Unlock()
	return e.checkRemoteLocked(ctx)
}

func (e *SyncEngine) tryCheckRemote(ctx context.Context) (*RemoteCheckResult, error) {
	if !e.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()
	return e.checkRemoteLocked(ctx)
}

func (e *SyncEngine) checkRemoteLocked(ctx context.Context) (*RemoteCheckResult, error) {
	if e.vaultID == "" {
		return nil, ErrNoVaultID
	}
	containerID, err := e.ensureContainer(ctx)
	if err != nil {
		return nil, err
	}
	files, err := e.listRemote(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("remote check: %w", err)
	}

	result := &RemoteCheckResult{}
	seen := make(map[string]struct{}, len(files))
	for _, r := range files {
		if ctx.Err() != nil {
			break
		}
		p := r.Path
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		result.Checked++

		if e.conflicts.HasPath(p) || e.isPending(p) {
			result.Skipped++
			continue
		}

		decision, err := e.decideDownload(p, r)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		switch decision {
		case index.DecisionDownload:
			if err := e.downloadFile(ctx, p, r); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.Downloaded++
		case index.DecisionConflict:
			conflicted, err := e.registerConflict(ctx, p, r)
			switch {
			case err != nil:
				result.Errors = append(result.Errors, err.Error())
			case conflicted:
				result.Conflicts++
			default:
				result.Skipped++
			}
		default:
			e.index.RecordRemoteObservation(p, r.ID, index.Millis(r.ModifiedTime), r.Hash)
			result.Skipped++
		}
	}

	if err := ctx.Err(); err != nil {
		e.persistLogged()
		return result, err
	}

	e.index.MarkRemoteCheck(e.clock.Now())
	e.persistLogged()

	if result.Downloaded > 0 || result.Conflicts > 0 || len(result.Errors) > 0 {
		slog.Info("remote check",
			"checked", result.Checked,
			"downloaded", result.Downloaded,
			"conflicts", result.Conflicts,
			"errors", len(result.Errors),
		)
	}
	return result, nil
}

func isBusy(err error) bool {
	return errors.Is(err, ErrSyncAlreadyRunning)
}
