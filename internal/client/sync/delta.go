package sync

import (
	"log/slog"
	"sort"

	"github.com/openmined/vaultsync/internal/client/index"
	"github.com/openmined/vaultsync/internal/client/remote"
	"github.com/openmined/vaultsync/internal/utils"
)

// Reason explains why a path was put into a delta bucket.
type Reason string

const (
	ReasonMissingLocal  Reason = "missing_local"
	ReasonRemoteNewer   Reason = "remote_newer"
	ReasonLocalNewer    Reason = "local_newer"
	ReasonNeverSynced   Reason = "never_synced"
	ReasonMissingRemote Reason = "missing_remote"
	ReasonLocalChanged  Reason = "local_changed"
)

type DeltaItem struct {
	Path   string
	Reason Reason
	Remote *remote.FileInfo
	Record *index.FileRecord
}

// Delta is the classified difference between the index and a remote listing.
// Every remote file and every valid local record lands in exactly one of
// ToDownload, ToUpload, Conflicts or InSync; a remote file and its record
// count once as a pair. Skipped counts the never-synced records folded into
// InSync.
type Delta struct {
	ToDownload  []DeltaItem
	ToUpload    []DeltaItem
	Conflicts   []DeltaItem
	InSync      int
	Skipped     int
	TotalRemote int
	TotalLocal  int

	inSync []string
}

func (d *Delta) HasChanges() bool {
	return len(d.ToDownload) > 0 || len(d.ToUpload) > 0 || len(d.Conflicts) > 0
}

// PromoteLocalChanges moves in-sync records whose local content changed
// since the last sync into ToUpload.
func (d *Delta) PromoteLocalChanges(records map[string]index.FileRecord, changed func(path string) bool) int {
	kept := d.inSync[:0]
	promoted := 0
	for _, p := range d.inSync {
		rec, ok := records[p]
		if !ok || rec.IsSentinel() || !changed(p) {
			kept = append(kept, p)
			continue
		}
		d.ToUpload = append(d.ToUpload, DeltaItem{Path: p, Reason: ReasonLocalChanged, Record: &rec})
		d.InSync--
		promoted++
	}
	d.inSync = kept
	return promoted
}

// ValidRecords drops index entries for files that vanished locally and were
// never synced.
func ValidRecords(records map[string]index.FileRecord, localExists func(path string) bool) map[string]index.FileRecord {
	valid := make(map[string]index.FileRecord, len(records))
	for p, rec := range records {
		if localExists(p) || (rec.RemoteFileID != "" && rec.LastSyncedHash != "") {
			valid[p] = rec
		}
	}
	return valid
}

// CalculateDelta classifies a full remote listing against the valid index
// records. Simultaneous changes resolve as newer wins; conflicts are detected
// later when a download would overwrite local edits.
func CalculateDelta(records map[string]index.FileRecord, remoteFiles []remote.FileInfo) *Delta {
	d := &Delta{
		TotalRemote: len(remoteFiles),
		TotalLocal:  len(records),
	}

	matched := make(map[string]struct{}, len(remoteFiles))
	for i := range remoteFiles {
		r := &remoteFiles[i]
		p := utils.NormPath(r.Path)

		if _, dup := matched[p]; dup {
			slog.Debug("delta duplicate remote path", "path", p, "id", r.ID)
			d.InSync++
			continue
		}
		matched[p] = struct{}{}

		rec, ok := records[p]
		if !ok {
			d.ToDownload = append(d.ToDownload, DeltaItem{Path: p, Reason: ReasonMissingLocal, Remote: r})
			continue
		}

		remoteMtime := r.ModifiedTime.UnixMilli()
		switch {
		case remoteMtime > rec.LastSyncedTime:
			d.ToDownload = append(d.ToDownload, DeltaItem{Path: p, Reason: ReasonRemoteNewer, Remote: r, Record: &rec})
		case rec.RemoteFileID == r.ID && rec.LastSyncedTime > remoteMtime:
			d.ToUpload = append(d.ToUpload, DeltaItem{Path: p, Reason: ReasonLocalNewer, Remote: r, Record: &rec})
		default:
			if rec.RemoteFileID != r.ID {
				slog.Debug("delta remote id mismatch", "path", p, "indexId", rec.RemoteFileID, "remoteId", r.ID)
			}
			d.InSync++
			d.inSync = append(d.inSync, p)
		}
	}

	paths := make([]string, 0, len(records))
	for p := range records {
		if _, ok := matched[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	for _, p := range paths {
		rec := records[p]
		switch {
		case rec.IsSentinel():
			// never proven to exist anywhere; do not upload speculatively
			d.Skipped++
			d.InSync++
		case rec.RemoteFileID == "":
			d.ToUpload = append(d.ToUpload, DeltaItem{Path: p, Reason: ReasonNeverSynced, Record: &rec})
		default:
			d.ToUpload = append(d.ToUpload, DeltaItem{Path: p, Reason: ReasonMissingRemote, Record: &rec})
		}
	}

	return d
}
