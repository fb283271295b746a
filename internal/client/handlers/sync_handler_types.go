package handlers

import "time"

type SyncResponse struct {
	Success         bool     `json:"success"`
	UploadedFiles   int      `json:"uploadedFiles"`
	DownloadedFiles int      `json:"downloadedFiles"`
	Conflicts       int      `json:"conflicts"`
	SkippedFiles    int      `json:"skippedFiles"`
	Errors          []string `json:"errors,omitempty"`
	DurationMs      int64    `json:"durationMs"`
}

type ReconcileResponse struct {
	Uploaded       int `json:"uploaded"`
	FoldersAdded   int `json:"foldersAdded"`
	FoldersRemoved int `json:"foldersRemoved"`
	StaleRemoved   int `json:"staleRemoved"`
	Failed         int `json:"failed"`
}

type RemoteCheckResponse struct {
	Checked    int      `json:"checked"`
	Downloaded int      `json:"downloaded"`
	Conflicts  int      `json:"conflicts"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`
}

type FileState string

const (
	FileStateSynced   FileState = "synced"
	FileStatePending  FileState = "pending"
	FileStateError    FileState = "error"
	FileStateConflict FileState = "conflict"
)

type SyncFileStatus struct {
	Path          string     `json:"path"`
	State         FileState  `json:"state"`
	RemoteFileID  string     `json:"remoteFileId,omitempty"`
	Size          int64      `json:"size"`
	LastSynced    *time.Time `json:"lastSynced,omitempty"`
	SyncCount     int        `json:"syncCount"`
	ConflictCount int        `json:"conflictCount"`
	Error         string     `json:"error,omitempty"`
	LastOperation string     `json:"lastOperation,omitempty"`
}

type SyncFilesSummary struct {
	Synced   int `json:"synced"`
	Pending  int `json:"pending"`
	Error    int `json:"error"`
	Conflict int `json:"conflict"`
}

type SyncFilesResponse struct {
	Files   []SyncFileStatus `json:"files"`
	Summary SyncFilesSummary `json:"summary"`
}

type SyncFileRequest struct {
	Path string `form:"path" binding:"required"`
}

type SyncFilesRequest struct {
	Prefix string `form:"prefix"`
}
