package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	vsync "github.com/openmined/vaultsync/internal/client/sync"
	"github.com/openmined/vaultsync/internal/client/vaultmgr"
)

// requireEngine aborts with 503 unless the vault is running.
func requireEngine(c *gin.Context, mgr *vaultmgr.VaultManager) (*vsync.SyncEngine, bool) {
	if mgr == nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeUnknownError, errors.New("vault manager not initialized"))
		return nil, false
	}
	engine, err := mgr.Engine()
	if err != nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeVaultNotReady, err)
		return nil, false
	}
	return engine, true
}
