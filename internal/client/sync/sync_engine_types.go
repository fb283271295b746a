package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/openmined/vaultsync/internal/client/index"
)

// ConflictMode decides what happens to a conflict once it is detected.
type ConflictMode string

const (
	// ConflictAuto applies AutoResolveConflict and leaves the conflict
	// pending only when the heuristic has no answer.
	ConflictAuto ConflictMode = "auto"
	// ConflictLocal always keeps the local version.
	ConflictLocal ConflictMode = "local"
	// ConflictRemote always keeps the remote version.
	ConflictRemote ConflictMode = "remote"
	// ConflictManual leaves every conflict for the operator.
	ConflictManual ConflictMode = "manual"
)

func ParseConflictMode(s string) (ConflictMode, error) {
	switch m := ConflictMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ConflictAuto, ConflictLocal, ConflictRemote, ConflictManual:
		return m, nil
	case "":
		return ConflictAuto, nil
	default:
		return "", fmt.Errorf("invalid conflict resolution %q (want auto, local, remote or manual)", s)
	}
}

// SyncSummary is the outcome of one full vault pass. It is returned even
// when the pass failed part way.
type SyncSummary struct {
	Success         bool          `json:"success"`
	UploadedFiles   int           `json:"uploadedFiles"`
	DownloadedFiles int           `json:"downloadedFiles"`
	Conflicts       int           `json:"conflicts"`
	SkippedFiles    int           `json:"skippedFiles"`
	Errors          []string      `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration"`
}

func (s *SyncSummary) addError(path string, err error) {
	if path == "" {
		s.Errors = append(s.Errors, err.Error())
		return
	}
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", path, err))
}

// ReconcileResult counts what a reconciliation pass repaired.
type ReconcileResult struct {
	Uploaded       int `json:"uploaded"`
	FoldersAdded   int `json:"foldersAdded"`
	FoldersRemoved int `json:"foldersRemoved"`
	StaleRemoved   int `json:"staleRemoved"`
	Failed         int `json:"failed"`
}

// RemoteCheckResult counts the decisions of one remote check.
type RemoteCheckResult struct {
	Checked    int      `json:"checked"`
	Downloaded int      `json:"downloaded"`
	Conflicts  int      `json:"conflicts"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`
}

// Status is a point in time view of the engine for the operator.
type Status struct {
	VaultID          string        `json:"vaultId"`
	Running          bool          `json:"running"`
	SyncInterval     time.Duration `json:"syncInterval"`
	ConflictMode     ConflictMode  `json:"conflictMode"`
	LastFullSync     time.Time     `json:"lastFullSync"`
	LastRemoteCheck  time.Time     `json:"lastRemoteCheck"`
	PendingChanges   int           `json:"pendingChanges"`
	PendingConflicts int           `json:"pendingConflicts"`
	Index            index.Stats   `json:"index"`
}
