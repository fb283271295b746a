package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/vaultsync/internal/client/config"
	"github.com/openmined/vaultsync/internal/client/vaultmgr"
)

type SettingsHandler struct {
	mgr *vaultmgr.VaultManager
}

func NewSettingsHandler(mgr *vaultmgr.VaultManager) *SettingsHandler {
	return &SettingsHandler{mgr: mgr}
}

// Get returns the settings without credentials.
func (h *SettingsHandler) Get(c *gin.Context) {
	cfg := h.mgr.Config()
	c.PureJSON(http.StatusOK, settingsResponse(&cfg))
}

// Update persists the given settings and applies them to the running vault.
func (h *SettingsHandler) Update(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}
	if req.VaultID == nil && req.SyncInterval == nil && req.ConflictResolution == nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, errors.New("nothing to update"))
		return
	}

	cfg, err := h.mgr.UpdateSettings(vaultmgr.SettingsUpdate{
		VaultID:            req.VaultID,
		SyncInterval:       req.SyncInterval,
		ConflictResolution: req.ConflictResolution,
	})
	if errors.Is(err, vaultmgr.ErrInvalidSettings) {
		AbortWithError(c, http.StatusBadRequest, ErrCodeInvalidSettings, err)
		return
	} else if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, err)
		return
	}

	c.PureJSON(http.StatusOK, settingsResponse(cfg))
}

func settingsResponse(cfg *config.Config) *SettingsResponse {
	return &SettingsResponse{
		VaultID:            cfg.VaultID,
		VaultDir:           cfg.VaultDir,
		DataDir:            cfg.DataDir,
		SyncInterval:       cfg.SyncInterval,
		ConflictResolution: cfg.ConflictResolution,
		RemoteKind:         cfg.Remote.Kind,
		RemoteBucket:       cfg.Remote.Bucket,
	}
}
