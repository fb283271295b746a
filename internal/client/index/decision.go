package index

import "github.com/openmined/vaultsync/internal/utils"

// Decision is the outcome of ShouldDownloadRemoteFile.
type Decision int

const (
	DecisionSkip Decision = iota
	DecisionDownload
	DecisionConflict
)

func (d Decision) String() string {
	switch d {
	case DecisionDownload:
		return "download"
	case DecisionConflict:
		return "conflict"
	default:
		return "skip"
	}
}

// ShouldDownloadRemoteFile decides what to do with a single remote file
// without running a full delta pass.
//
// Times are unix milliseconds. localHash is the fingerprint of the local
// content, or "" when the local file is empty or unreadable.
func (x *SyncIndex) ShouldDownloadRemoteFile(
	path, remoteID string,
	remoteMtime int64,
	localExists bool,
	localMtime int64,
	localHash string,
) Decision {
	if !localExists {
		return DecisionDownload
	}

	x.mu.RLock()
	rec, ok := x.files[utils.NormPath(path)]
	var snapshot FileRecord
	if ok {
		snapshot = *rec
	}
	x.mu.RUnlock()

	// no provenance: local content we know nothing about must not be
	// overwritten silently
	if !ok || snapshot.IsSentinel() {
		if localHash != "" {
			return DecisionConflict
		}
		return DecisionDownload
	}

	sameObject := snapshot.RemoteFileID == "" || snapshot.RemoteFileID == remoteID
	if sameObject && remoteMtime <= snapshot.RemoteMtime {
		if snapshot.LastSyncedTime == 0 {
			return DecisionDownload
		}
		return DecisionSkip
	}

	localChanged := localHash != snapshot.LastSyncedHash || localMtime > snapshot.LastSyncedTime
	remoteChanged := remoteMtime > snapshot.LastSyncedTime

	switch {
	case localChanged && remoteChanged:
		return DecisionConflict
	case remoteChanged:
		return DecisionDownload
	default:
		return DecisionSkip
	}
}
