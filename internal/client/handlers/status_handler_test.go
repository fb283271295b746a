package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/openmined/vaultsync/internal/client/vaultmgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusHandler_Status_NoVault(t *testing.T) {
	mgr, _ := newTestManager(t, "")
	handler := NewStatusHandler(mgr)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/status", nil)

	handler.Status(c)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[StatusResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Version)
	assert.False(t, resp.HasVault)
	require.NotNil(t, resp.Vault)
	assert.Equal(t, string(vaultmgr.VaultStatusUnprovisioned), resp.Vault.Status)
	assert.Nil(t, resp.Sync)
}

func TestStatusHandler_Status_NilManager(t *testing.T) {
	handler := NewStatusHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/status", nil)

	handler.Status(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, ErrCodeUnknownError, decode[ControlPlaneError](t, w).ErrorCode)
}

func TestStatusHandler_Status_RunningVault(t *testing.T) {
	mgr, _ := newTestManager(t, "vault-1")
	r := newTestRouter(mgr)

	w := serve(t, r, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[StatusResponse](t, w)
	assert.True(t, resp.HasVault)
	assert.Equal(t, string(vaultmgr.VaultStatusProvisioned), resp.Vault.Status)
	require.NotNil(t, resp.Sync)
	assert.Equal(t, "vault-1", resp.Sync.VaultID)
	assert.True(t, resp.Sync.Running)
	assert.True(t, resp.Sync.Authenticated)
	assert.Empty(t, resp.Sync.AuthError)
	assert.Equal(t, 300, resp.Sync.SyncInterval)
	assert.Equal(t, "auto", resp.Sync.ConflictMode)
	assert.NotNil(t, resp.Sync.LastFullSync)
	assert.Zero(t, resp.Sync.PendingConflicts)
}
