package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/vaultsync/internal/client/config"
	"github.com/openmined/vaultsync/internal/client/vaultmgr"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestManager returns a started manager on an in-memory remote. With a
// vault id it waits until the vault finished its initial sync.
func newTestManager(t *testing.T, vaultID string) (*vaultmgr.VaultManager, *config.Config) {
	t.Helper()
	tmp := t.TempDir()
	cfg := &config.Config{
		VaultID:  vaultID,
		VaultDir: filepath.Join(tmp, "vault"),
		DataDir:  filepath.Join(tmp, "data"),
		Remote:   config.RemoteConfig{Kind: "memory"},
		Path:     filepath.Join(tmp, "config.json"),
	}
	require.NoError(t, cfg.Validate())

	mgr, err := vaultmgr.New(cfg)
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(mgr.Stop)

	if vaultID != "" {
		require.Eventually(t, func() bool {
			_, err := mgr.Engine()
			return err == nil
		}, 10*time.Second, 10*time.Millisecond)
	}
	return mgr, cfg
}

func newTestRouter(mgr *vaultmgr.VaultManager) *gin.Engine {
	r := gin.New()
	statusH := NewStatusHandler(mgr)
	syncH := NewSyncHandler(mgr)
	conflictH := NewConflictHandler(mgr)
	settingsH := NewSettingsHandler(mgr)

	r.GET("/v1/status", statusH.Status)
	r.POST("/v1/sync", syncH.TriggerSync)
	r.POST("/v1/sync/remote", syncH.CheckRemote)
	r.GET("/v1/sync/files", syncH.Files)
	r.GET("/v1/sync/file", syncH.FileStatus)
	r.POST("/v1/reconcile", syncH.Reconcile)
	r.GET("/v1/conflicts", conflictH.List)
	r.GET("/v1/conflicts/:id", conflictH.Get)
	r.POST("/v1/conflicts/:id/resolve", conflictH.Resolve)
	r.GET("/v1/settings", settingsH.Get)
	r.PUT("/v1/settings", settingsH.Update)
	return r
}

func serve(t *testing.T, h http.Handler, method, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
