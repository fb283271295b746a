package handlers

import "time"

type ConflictVersion struct {
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	// Content is only set on the detail view and only for UTF-8 bodies.
	Content *string `json:"content,omitempty"`
}

type ConflictItem struct {
	ID           string          `json:"id"`
	Path         string          `json:"path"`
	RemoteFileID string          `json:"remoteFileId"`
	Local        ConflictVersion `json:"local"`
	Remote       ConflictVersion `json:"remote"`
	DetectedAt   time.Time       `json:"detectedAt"`
	// Merged is a marker merge of both bodies, offered as a starting point
	// for a manual resolution.
	Merged *string `json:"merged,omitempty"`
}

type ConflictsResponse struct {
	Conflicts []ConflictItem `json:"conflicts"`
}

type ResolveConflictRequest struct {
	Resolution string  `json:"resolution" binding:"required"`
	Content    *string `json:"content"`
}

type ResolveConflictResponse struct {
	Code       string `json:"code"`
	ID         string `json:"id"`
	Resolution string `json:"resolution"`
}
