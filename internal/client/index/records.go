package index

import "time"

// FileRecord is the last known synced state of one vault file.
//
// A record with LastSyncedTime == 0 and LastSyncedHash == "" is a sentinel:
// the file is known to exist but has never been synced. That is different
// from having no record at all.
//
// All timestamps are unix milliseconds.
type FileRecord struct {
	Path           string `json:"path"`
	LastSyncedHash string `json:"lastSyncedHash"`
	LastSyncedTime int64  `json:"lastSyncedTime"`
	LastSyncedSize int64  `json:"lastSyncedSize"`

	RemoteFileID    string `json:"remoteFileId,omitempty"`
	RemoteMtime     int64  `json:"remoteMtime,omitempty"`
	RemoteHash      string `json:"remoteHash,omitempty"`
	LastRemoteCheck int64  `json:"lastRemoteCheck,omitempty"`

	CreatedTime int64  `json:"createdTime"`
	Extension   string `json:"extension"`

	SyncCount     int     `json:"syncCount"`
	ConflictCount int     `json:"conflictCount"`
	LastError     string  `json:"lastError,omitempty"`
	History       History `json:"history"`
}

// IsSentinel reports whether the record marks a file that was never synced.
func (r *FileRecord) IsSentinel() bool {
	return r.LastSyncedTime == 0 && r.LastSyncedHash == ""
}

// HasSyncHistory reports whether the file was synced at least once and the
// remote copy is known.
func (r *FileRecord) HasSyncHistory() bool {
	return r.RemoteFileID != "" && r.LastSyncedHash != ""
}

type FolderRecord struct {
	Path            string `json:"path"`
	LastSyncedTime  int64  `json:"lastSyncedTime"`
	RemoteFolderID  string `json:"remoteFolderId,omitempty"`
	LastRemoteCheck int64  `json:"lastRemoteCheck,omitempty"`
	FileCount       int    `json:"fileCount"`
	SubfolderCount  int    `json:"subfolderCount"`
}

// MarkOptions carries the optional parts of a successful sync.
// Zero values mean "keep what the previous record had".
type MarkOptions struct {
	Operation   Operation
	RemoteMtime int64
	RemoteHash  string
	CreatedTime int64
}

// Millis converts t to unix milliseconds, mapping the zero time to 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
