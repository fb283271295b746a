package handlers

import "time"

// StatusResponse represents the health status of the service.
type StatusResponse struct {
	Status    string     `json:"status"`    // health status ("ok").
	Timestamp string     `json:"ts"`        // timestamp when health check was performed.
	Version   string     `json:"version"`   // version of the client.
	Revision  string     `json:"revision"`  // revision of the client.
	BuildDate string     `json:"buildDate"` // build date of the client.
	HasVault  bool       `json:"hasVault"`  // a vault id is configured.
	Vault     *VaultInfo `json:"vault,omitempty"`
	Sync      *SyncInfo  `json:"sync,omitempty"` // present once the vault is running.
}

type VaultInfo struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type SyncInfo struct {
	VaultID          string     `json:"vaultId"`
	Running          bool       `json:"running"`
	Authenticated    bool       `json:"authenticated"`
	AuthError        string     `json:"authError,omitempty"`
	SyncInterval     int        `json:"syncInterval"` // seconds
	ConflictMode     string     `json:"conflictMode"`
	LastFullSync     *time.Time `json:"lastFullSync,omitempty"`
	LastRemoteCheck  *time.Time `json:"lastRemoteCheck,omitempty"`
	PendingChanges   int        `json:"pendingChanges"`
	PendingConflicts int        `json:"pendingConflicts"`
	TrackedFiles     int        `json:"trackedFiles"`
	TrackedFolders   int        `json:"trackedFolders"`
	SyncedFiles      int        `json:"syncedFiles"`
	NeverSynced      int        `json:"neverSynced"`
	ErroredFiles     int        `json:"erroredFiles"`
}
