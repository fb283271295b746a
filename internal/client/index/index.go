package index

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openmined/vaultsync/internal/utils"
)

// SyncIndex maps vault relative paths to their last known synced state.
//
// It is safe for concurrent use. Readers always receive copies of records,
// never pointers into the index.
type SyncIndex struct {
	mu              sync.RWMutex
	vaultID         string
	lastFullSync    int64
	lastRemoteCheck int64
	files           map[string]*FileRecord
	folders         map[string]*FolderRecord
	now             func() time.Time
}

type Option func(*SyncIndex)

// WithClock sets the time source used for history entries and created times.
func WithClock(now func() time.Time) Option {
	return func(x *SyncIndex) {
		if now != nil {
			x.now = now
		}
	}
}

func New(vaultID string, opts ...Option) *SyncIndex {
	x := &SyncIndex{
		vaultID: vaultID,
		files:   make(map[string]*FileRecord),
		folders: make(map[string]*FolderRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *SyncIndex) VaultID() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.vaultID
}

func (x *SyncIndex) GetFile(path string) (FileRecord, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.files[utils.NormPath(path)]
	if !ok {
		return FileRecord{}, false
	}
	return *rec, true
}

func (x *SyncIndex) GetFolder(path string) (FolderRecord, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.folders[utils.NormPath(path)]
	if !ok {
		return FolderRecord{}, false
	}
	return *rec, true
}

func (x *SyncIndex) HasFile(path string) bool {
	_, ok := x.GetFile(path)
	return ok
}

// Files returns a snapshot of all file records.
func (x *SyncIndex) Files() map[string]FileRecord {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]FileRecord, len(x.files))
	for p, rec := range x.files {
		out[p] = *rec
	}
	return out
}

// Folders returns a snapshot of all folder records.
func (x *SyncIndex) Folders() map[string]FolderRecord {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]FolderRecord, len(x.folders))
	for p, rec := range x.folders {
		out[p] = *rec
	}
	return out
}

// FilePaths returns the tracked file paths in lexical order.
func (x *SyncIndex) FilePaths() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	paths := make([]string, 0, len(x.files))
	for p := range x.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// NeedsSync reports whether the file differs from its last synced state.
// It is true when there is no record, or the hash or size changed, or the
// file was modified after the last sync.
func (x *SyncIndex) NeedsSync(path, hash string, mtime, size int64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.files[utils.NormPath(path)]
	if !ok {
		return true
	}
	return rec.LastSyncedHash != hash ||
		rec.LastSyncedSize != size ||
		rec.LastSyncedTime < mtime
}

// TrackFile inserts a sentinel record for a file that has never been synced.
// Existing records are left untouched. Reports whether a record was added.
func (x *SyncIndex) TrackFile(path string, createdTime int64) bool {
	path = utils.NormPath(path)
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.files[path]; ok {
		return false
	}
	if createdTime == 0 {
		createdTime = x.now().UnixMilli()
	}
	x.files[path] = &FileRecord{
		Path:        path,
		CreatedTime: createdTime,
		Extension:   utils.Extension(path),
	}
	return true
}

// MarkSynced records a successful transfer of path.
func (x *SyncIndex) MarkSynced(path, hash string, mtime, size int64, remoteID string, opts MarkOptions) {
	path = utils.NormPath(path)
	now := x.now()

	x.mu.Lock()
	defer x.mu.Unlock()

	rec := &FileRecord{
		Path:        path,
		CreatedTime: now.UnixMilli(),
		Extension:   utils.Extension(path),
	}
	if prev, ok := x.files[path]; ok {
		*rec = *prev
	}

	rec.LastSyncedHash = hash
	rec.LastSyncedTime = mtime
	rec.LastSyncedSize = size
	if remoteID != "" {
		rec.RemoteFileID = remoteID
	}
	if opts.RemoteMtime != 0 {
		rec.RemoteMtime = opts.RemoteMtime
	}
	if opts.RemoteHash != "" {
		rec.RemoteHash = opts.RemoteHash
	}
	if opts.CreatedTime != 0 {
		rec.CreatedTime = opts.CreatedTime
	}
	if rec.Extension == "" {
		rec.Extension = utils.Extension(path)
	}
	rec.SyncCount++
	rec.LastError = ""

	op := opts.Operation
	if op == "" {
		op = OpUpload
	}
	rec.History.Push(newHistoryEntry(now, op, nil))
	x.files[path] = rec
}

// MarkSyncError records a failed operation on path. A missing record is
// created zeroed so the failure is not lost.
func (x *SyncIndex) MarkSyncError(path string, err error, op Operation) {
	path = utils.NormPath(path)
	now := x.now()

	x.mu.Lock()
	defer x.mu.Unlock()

	rec, ok := x.files[path]
	if !ok {
		rec = &FileRecord{Path: path, Extension: utils.Extension(path)}
		x.files[path] = rec
	}
	if err != nil {
		rec.LastError = err.Error()
	}
	rec.History.Push(newHistoryEntry(now, op, err))
}

// MarkConflict bumps the conflict counter. Unknown paths are ignored.
func (x *SyncIndex) MarkConflict(path string) {
	path = utils.NormPath(path)
	now := x.now()

	x.mu.Lock()
	defer x.mu.Unlock()

	rec, ok := x.files[path]
	if !ok {
		return
	}
	rec.ConflictCount++
	rec.History.Push(newHistoryEntry(now, OpConflict, nil))
}

// RecordRemoteObservation caches what the latest remote listing said about
// path. Unknown paths are ignored.
func (x *SyncIndex) RecordRemoteObservation(path, remoteID string, remoteMtime int64, remoteHash string) {
	path = utils.NormPath(path)
	now := x.now()

	x.mu.Lock()
	defer x.mu.Unlock()

	rec, ok := x.files[path]
	if !ok {
		return
	}
	if rec.RemoteFileID == "" {
		rec.RemoteFileID = remoteID
	}
	rec.RemoteMtime = remoteMtime
	if remoteHash != "" {
		rec.RemoteHash = remoteHash
	}
	rec.LastRemoteCheck = now.UnixMilli()
}

// RemoveFile deletes the record for path. The removed record is returned
// with a delete entry on top of its history.
func (x *SyncIndex) RemoveFile(path string) (FileRecord, bool) {
	path = utils.NormPath(path)
	now := x.now()

	x.mu.Lock()
	defer x.mu.Unlock()

	rec, ok := x.files[path]
	if !ok {
		return FileRecord{}, false
	}
	rec.History.Push(newHistoryEntry(now, OpDelete, nil))
	delete(x.files, path)
	return *rec, true
}

// TrackFolder adds a folder record if missing and reports whether it did.
func (x *SyncIndex) TrackFolder(path string) bool {
	path = utils.NormPath(path)
	if path == "" {
		return false
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.folders[path]; ok {
		return false
	}
	x.folders[path] = &FolderRecord{Path: path}
	return true
}

// SetFolderRemoteID stores the remote folder id for path, creating the
// folder record if needed.
func (x *SyncIndex) SetFolderRemoteID(path, remoteID string) {
	path = utils.NormPath(path)
	if path == "" {
		return
	}
	now := x.now()

	x.mu.Lock()
	defer x.mu.Unlock()
	rec, ok := x.folders[path]
	if !ok {
		rec = &FolderRecord{Path: path}
		x.folders[path] = rec
	}
	rec.RemoteFolderID = remoteID
	rec.LastSyncedTime = now.UnixMilli()
}

func (x *SyncIndex) RemoveFolder(path string) bool {
	path = utils.NormPath(path)
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.folders[path]; !ok {
		return false
	}
	delete(x.folders, path)
	return true
}

// RemoveFolderTree removes the folder, its subfolders and every file below
// it. Returns the number of file records removed.
func (x *SyncIndex) RemoveFolderTree(path string) int {
	path = utils.NormPath(path)
	if path == "" {
		return 0
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	delete(x.folders, path)
	for p := range x.folders {
		if utils.HasPathPrefix(p, path) {
			delete(x.folders, p)
		}
	}
	removed := 0
	for p := range x.files {
		if utils.HasPathPrefix(p, path) {
			delete(x.files, p)
			removed++
		}
	}
	return removed
}

// RenameFolder re-keys the folder and everything below it from oldPath to
// newPath in one step. Sync state other than the path is preserved.
// Returns the number of file records moved.
func (x *SyncIndex) RenameFolder(oldPath, newPath string) int {
	oldPath = utils.NormPath(oldPath)
	newPath = utils.NormPath(newPath)
	if oldPath == "" || newPath == "" || oldPath == newPath {
		return 0
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	rebase := func(p string) string {
		return newPath + strings.TrimPrefix(p, oldPath)
	}

	// collect first so records moved under newPath are not visited twice
	movedFolders := make(map[string]*FolderRecord)
	for p, rec := range x.folders {
		if p == oldPath || utils.HasPathPrefix(p, oldPath) {
			movedFolders[p] = rec
		}
	}
	movedFiles := make(map[string]*FileRecord)
	for p, rec := range x.files {
		if utils.HasPathPrefix(p, oldPath) {
			movedFiles[p] = rec
		}
	}

	for p := range movedFolders {
		delete(x.folders, p)
	}
	for p, rec := range movedFolders {
		rec.Path = rebase(p)
		x.folders[rec.Path] = rec
	}
	if _, ok := x.folders[newPath]; !ok {
		x.folders[newPath] = &FolderRecord{Path: newPath}
	}

	for p := range movedFiles {
		delete(x.files, p)
	}
	for p, rec := range movedFiles {
		rec.Path = rebase(p)
		x.files[rec.Path] = rec
	}
	return len(movedFiles)
}

// RefreshFolderCounts recomputes the direct file and subfolder counts of
// every folder record.
func (x *SyncIndex) RefreshFolderCounts() {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, rec := range x.folders {
		rec.FileCount = 0
		rec.SubfolderCount = 0
	}
	for p := range x.files {
		if rec, ok := x.folders[utils.ParentPath(p)]; ok {
			rec.FileCount++
		}
	}
	for p := range x.folders {
		if rec, ok := x.folders[utils.ParentPath(p)]; ok {
			rec.SubfolderCount++
		}
	}
}

func (x *SyncIndex) MarkFullSync(t time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.lastFullSync = Millis(t)
}

func (x *SyncIndex) MarkRemoteCheck(t time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.lastRemoteCheck = Millis(t)
}

func (x *SyncIndex) LastFullSync() time.Time {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return fromMillis(x.lastFullSync)
}

func (x *SyncIndex) LastRemoteCheck() time.Time {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return fromMillis(x.lastRemoteCheck)
}

// NeedsRemoteCheck reports whether at least interval has passed since the
// last remote check, or whether one never happened.
func (x *SyncIndex) NeedsRemoteCheck(now time.Time, interval time.Duration) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.lastRemoteCheck == 0 {
		return true
	}
	return now.Sub(fromMillis(x.lastRemoteCheck)) >= interval
}

type Stats struct {
	Files       int `json:"files"`
	Folders     int `json:"folders"`
	Synced      int `json:"synced"`
	NeverSynced int `json:"neverSynced"`
	Errored     int `json:"errored"`
}

func (x *SyncIndex) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s := Stats{Files: len(x.files), Folders: len(x.folders)}
	for _, rec := range x.files {
		switch {
		case rec.IsSentinel():
			s.NeverSynced++
		default:
			s.Synced++
		}
		if rec.LastError != "" {
			s.Errored++
		}
	}
	return s
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
