package cpclient

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmined/vaultsync/internal/client"
	"github.com/openmined/vaultsync/internal/client/config"
	"github.com/openmined/vaultsync/internal/client/handlers"
	"github.com/openmined/vaultsync/internal/client/middleware"
	vsync "github.com/openmined/vaultsync/internal/client/sync"
	"github.com/openmined/vaultsync/internal/client/vaultmgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
		err  bool
	}{
		{"localhost:7939", "http://localhost:7939", false},
		{"127.0.0.1:80", "http://127.0.0.1:80", false},
		{":7939", "http://localhost:7939", false},
		{"0.0.0.0:7939", "http://localhost:7939", false},
		{"[::]:7939", "http://localhost:7939", false},
		{"localhost", "", true},
		{"localhost:", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := BaseURL(tt.addr)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type testDaemon struct {
	cfg    *config.Config
	mgr    *vaultmgr.VaultManager
	client *Client
}

func newTestDaemon(t *testing.T, vaultID, token string) *testDaemon {
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

	logPath := filepath.Join(tmp, "vaultsync.log")
	require.NoError(t, os.WriteFile(logPath, []byte("line=1 time=t level=INFO msg=hello\n"), 0o644))

	routes, err := client.SetupRoutes(mgr, &client.RouteConfig{
		Auth:        middleware.TokenAuthConfig{Token: token},
		RateLimit:   "1000-S",
		LogFilePath: logPath,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(routes)
	t.Cleanup(srv.Close)

	c, err := New(strings.TrimPrefix(srv.URL, "http://"), token)
	require.NoError(t, err)
	return &testDaemon{cfg: cfg, mgr: mgr, client: c}
}

func TestClient_Unauthorized(t *testing.T) {
	d := newTestDaemon(t, "", "secret")

	bad, err := New(strings.TrimPrefix(d.client.client.BaseURL, "http://"), "wrong")
	require.NoError(t, err)

	_, err = bad.Status(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, handlers.ErrCodeUnauthorized))

	st, err := d.client.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.HasVault)
}

func TestClient_VaultNotReady(t *testing.T) {
	d := newTestDaemon(t, "", "")

	_, err := d.client.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, handlers.ErrCodeVaultNotReady))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.Status)
}

func TestClient_SyncConflictsSettings(t *testing.T) {
	d := newTestDaemon(t, "vault-1", "secret")
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(d.cfg.VaultDir, "a.md"), []byte("a"), 0o644))

	sum, err := d.client.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Success)

	files, err := d.client.Files(ctx, "")
	require.NoError(t, err)
	require.Len(t, files.Files, 1)

	file, err := d.client.File(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, handlers.FileStateSynced, file.State)

	_, err = d.client.CheckRemote(ctx)
	require.NoError(t, err)
	_, err = d.client.Reconcile(ctx)
	require.NoError(t, err)

	engine, err := d.mgr.Engine()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(d.cfg.VaultDir, "c.md"), []byte("local"), 0o644))
	id := engine.Conflicts().Add(vsyncConflict("c.md"))

	list, err := d.client.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, list.Conflicts, 1)

	item, err := d.client.Conflict(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, item.Merged)

	_, err = d.client.Resolve(ctx, id, "manual", nil)
	assert.True(t, IsCode(err, handlers.ErrCodeInvalidResolution))

	res, err := d.client.Resolve(ctx, id, "manual", item.Merged)
	require.NoError(t, err)
	assert.Equal(t, "manual", res.Resolution)

	_, err = d.client.Conflict(ctx, id)
	assert.True(t, IsCode(err, handlers.ErrCodeConflictNotFound))

	interval := 45
	settings, err := d.client.UpdateSettings(ctx, &handlers.UpdateSettingsRequest{SyncInterval: &interval})
	require.NoError(t, err)
	assert.Equal(t, 45, settings.SyncInterval)

	settings, err = d.client.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vault-1", settings.VaultID)

	logs, err := d.client.Logs(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, "hello", logs.Logs[0].Message)
}

func vsyncConflict(path string) vsync.PendingConflict {
	return vsync.PendingConflict{
		FilePath: path,
		Local:    vsync.VersionInfo{Size: 5, Content: []byte("local")},
		Remote:   vsync.VersionInfo{Size: 6, Content: []byte("remote")},
	}
}
