package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/vaultsync/internal/client/vaultmgr"
	"github.com/openmined/vaultsync/internal/version"
)

const authCheckTimeout = 5 * time.Second

// StatusHandler handles status-related endpoints
type StatusHandler struct {
	mgr *vaultmgr.VaultManager
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(mgr *vaultmgr.VaultManager) *StatusHandler {
	return &StatusHandler{
		mgr: mgr,
	}
}

// Status returns the daemon version, the vault lifecycle state and, once the
// vault runs, the sync state including whether the remote accepts our
// credentials.
func (h *StatusHandler) Status(ctx *gin.Context) {
	// this is unlikely to happen, but just in case
	if h.mgr == nil {
		ctx.PureJSON(http.StatusServiceUnavailable, &ControlPlaneError{
			ErrorCode: ErrCodeUnknownError,
			Error:     "vault manager not initialized",
		})
		return
	}

	mgrStatus := h.mgr.Status()
	resp := &StatusResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
		Revision:  version.Revision,
		BuildDate: version.BuildDate,
		HasVault:  h.mgr.Config().VaultID != "",
		Vault: &VaultInfo{
			Status: string(mgrStatus.Status),
		},
	}
	if mgrStatus.Error != nil {
		resp.Vault.Error = mgrStatus.Error.Error()
	}

	if engine, err := h.mgr.Engine(); err == nil {
		st := engine.Status()
		info := &SyncInfo{
			VaultID:          st.VaultID,
			Running:          st.Running,
			SyncInterval:     int(st.SyncInterval / time.Second),
			ConflictMode:     string(st.ConflictMode),
			LastFullSync:     timePtr(st.LastFullSync),
			LastRemoteCheck:  timePtr(st.LastRemoteCheck),
			PendingChanges:   st.PendingChanges,
			PendingConflicts: st.PendingConflicts,
			TrackedFiles:     st.Index.Files,
			TrackedFolders:   st.Index.Folders,
			SyncedFiles:      st.Index.Synced,
			NeverSynced:      st.Index.NeverSynced,
			ErroredFiles:     st.Index.Errored,
		}

		authCtx, cancel := context.WithTimeout(ctx.Request.Context(), authCheckTimeout)
		defer cancel()
		if err := engine.Authenticated(authCtx); err != nil {
			info.AuthError = err.Error()
		} else {
			info.Authenticated = true
		}
		resp.Sync = info
	}

	ctx.PureJSON(http.StatusOK, resp)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
