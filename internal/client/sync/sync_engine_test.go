package sync

import (
	"context"
	"errors"
	"path"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/vaultsync/internal/client/index"
	"github.com/openmined/vaultsync/internal/client/remote"
	"github.com/openmined/vaultsync/internal/client/vault"
	"github.com/openmined/vaultsync/internal/utils"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVaultID = "vault-test"

// fakeClock is the part of clockwork's fake clock the tests drive.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntil(n int)
}

type engineHarness struct {
	local     *vault.FSStore
	remote    *remote.MemoryClient
	clock     fakeClock
	engine    *SyncEngine
	container string
}

func newEngineHarness(t *testing.T, mode ConflictMode) *engineHarness {
	t.Helper()

	// local writes get the real time, so keep the fake clock well behind it
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	local := vault.NewFSStore(afero.NewMemMapFs())
	t.Cleanup(func() { _ = local.Close() })

	rc := remote.NewMemoryClient()
	rc.SetClock(clock.Now)

	engine, err := NewSyncEngine(Options{
		VaultID:      testVaultID,
		Local:        local,
		Remote:       rc,
		ConflictMode: mode,
		Clock:        clock,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	container, err := rc.GetOrCreateContainer(context.Background(), testVaultID)
	require.NoError(t, err)

	return &engineHarness{
		local:     local,
		remote:    rc,
		clock:     clock,
		engine:    engine,
		container: container,
	}
}

func (h *engineHarness) write(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, h.local.Write(p, []byte(content)))
}

func (h *engineHarness) read(t *testing.T, p string) string {
	t.Helper()
	data, err := h.local.Read(p)
	require.NoError(t, err)
	return string(data)
}

func (h *engineHarness) remoteFiles(t *testing.T) map[string]remote.FileInfo {
	t.Helper()
	files, err := remote.ListAll(context.Background(), h.remote, h.container)
	require.NoError(t, err)
	out := make(map[string]remote.FileInfo, len(files))
	for _, f := range files {
		out[f.Path] = f
	}
	return out
}

func (h *engineHarness) remoteContent(t *testing.T, p string) string {
	t.Helper()
	f, ok := h.remoteFiles(t)[p]
	require.True(t, ok, "remote has %s", p)
	data, ok := h.remote.Content(f.ID)
	require.True(t, ok)
	return string(data)
}

// updateRemote changes a remote file the way another device would.
func (h *engineHarness) updateRemote(t *testing.T, p, content string) {
	t.Helper()
	h.clock.Advance(time.Minute)
	folder, err := h.remote.EnsureFolderPath(context.Background(), utils.ParentPath(p), h.container)
	require.NoError(t, err)
	_, err = h.remote.UploadFile(context.Background(), path.Base(p), []byte(content), "", folder)
	require.NoError(t, err)
}

// syncedFile puts p on both sides in a synced state.
func (h *engineHarness) syncedFile(t *testing.T, p, content string) index.FileRecord {
	t.Helper()
	h.write(t, p, content)
	require.NoError(t, h.engine.HandleEvent(context.Background(), vault.Event{Op: vault.OpCreated, Kind: vault.KindFile, Path: p}))
	rec, ok := h.engine.Index().GetFile(p)
	require.True(t, ok)
	require.NotEmpty(t, rec.RemoteFileID)
	return rec
}

func TestNewSyncEngine_Validation(t *testing.T) {
	_, err := NewSyncEngine(Options{VaultID: "v", Remote: remote.NewMemoryClient()})
	assert.Error(t, err)

	_, err = NewSyncEngine(Options{VaultID: "v", Local: vault.NewFSStore(afero.NewMemMapFs())})
	assert.Error(t, err)

	_, err = NewSyncEngine(Options{
		VaultID: "v",
		Local:   vault.NewFSStore(afero.NewMemMapFs()),
		Remote:  remote.NewMemoryClient(),
		Index:   index.New("other"),
	})
	assert.Error(t, err)

	e, err := NewSyncEngine(Options{
		VaultID:      "v",
		Local:        vault.NewFSStore(afero.NewMemMapFs()),
		Remote:       remote.NewMemoryClient(),
		SyncInterval: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, MinSyncInterval, e.SyncInterval())
	assert.Equal(t, ConflictAuto, e.ConflictMode())
}

func TestSyncVault_FirstRun(t *testing.T) {
	h := newEngineHarness(t, ConflictAuto)
	ctx := context.Background()

	h.write(t, "notes/local.md", "local only")
	h.write(t, ".obsidian/workspace.json", "{}")
	seeded := h.remote.Seed(h.container, "notes/remote.md", []byte("remote only"), h.clock.Now())

	summary := h.engine.SyncVault(ctx)
	require.True(t, summary.Success, summary.Errors)
	assert.Equal(t, 1, summary.DownloadedFiles)
	assert.Equal(t, 0, summary.UploadedFiles, "discovered files wait for reconciliation")
	assert.Equal(t, 1, summary.SkippedFiles)

	assert.Equal(t, "remote only", h.read(t, "notes/remote.md"))
	rec, ok := h.engine.Index().GetFile("notes/remote.md")
	require.True(t, ok)
	assert.Equal(t, seeded.ID, rec.RemoteFileID)
	assert.Equal(t, seeded.ModifiedTime.UnixMilli(), rec.LastSyncedTime)

	sentinel, ok := h.engine.Index().GetFile("notes/local.md")
	require.True(t, ok)
	assert.True(t, sentinel.IsSentinel())
	assert.False(t, h.engine.Index().HasFile(".obsidian/workspace.json"))
	assert.Contains(t, h.engine.Index().Folders(), "notes")
	assert.False(t, h.engine.Index().LastFullSync().IsZero())

	result, err := h.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, "local only", h.remoteContent(t, "notes/local.md"))
	assert.NotContains(t, h.remoteFiles(t), ".obsidian/workspace.json")

	// nothing changed, nothing to do
	again := h.engine.SyncVault(ctx)
	require.True(t, again.Success)
	assert.Zero(t, again.UploadedFiles)
	assert.Zero(t, again.DownloadedFiles)
}

func TestSyncVault_RemoteChangeDownloads(t *testing.T) {
	h := newEngineHarness(t, ConflictAuto)
	ctx := context.Background()
	h.syncedFile(t, "a.md", "v1")

	h.updateRemote(t, "a.md", "v2 from elsewhere")

	summary := h.engine.SyncVault(ctx)
	require.True(t, summary.Success, summary.Errors)
	assert.Equal(t, 1, summary.DownloadedFiles)
	assert.Zero(t, summary.Conflicts)
	assert.Equal(t, "v2 from elsewhere", h.read(t, "a.md"))

	rec, _ := h.engine.Index().GetFile("a.md")
	latest, ok := rec.History.Latest()
	require.True(t, ok)
	assert.Equal(t, index.OpDownload, latest.Operation)
}

func TestSyncVault_LocalChangeUploads(t *testing.T) {
	h := newEngineHarness(t, ConflictAuto)
	ctx := context.Background()
	h.syncedFile(t, "a.md", "v1")

	// edited while no events were delivered
	h.write(t, "a.md", "v2 offline edit")

	summary := h.engine.SyncVault(ctx)
	require.True(t, summary.Success, summary.Errors)
	assert.Equal(t, 1, summary.UploadedFiles)
	assert.Equal(t, "v2 offline edit", h.remoteContent(t, "a.md"))
}

func TestSyncVault_RemoteDeletedIsRestored(t *testing.T) {
	h := newEngineHarness(t, ConflictAuto)
	ctx := context.Background()
	rec := h.syncedFile(t, "a.md", "keep me")

	require.NoError(t, h.remote.DeleteFile(ctx, rec.RemoteFileID))

	summary := h.engine.SyncVault(ctx)
	require.True(t, summary.Success, summary.Errors)
	assert.Equal(t, 1, summary.UploadedFiles)
	assert.Equal(t, "keep me", h.remoteContent(t, "a.md"))
}

func TestSyncVault_SameContentIsNotAConflict(t *testing.T) {
	h := newEngineHarness(t, ConflictManual)
	ctx := context.Background()

	h.write(t, "a.md", "same")
	seeded := h.remote.Seed(h.container, "a.md", []byte("same"), h.clock.Now())

	summary := h.engine.SyncVault(ctx)
	require.True(t, summary.Success, summary.Errors)
	assert.Zero(t, summary.Conflicts)
	assert.Zero(t, h.engine.Conflicts().Len())

	rec, ok := h.engine.Index().GetFile("a.md")
	require.True(t, ok)
	assert.Equal(t, seeded.ID, rec.RemoteFileID)
	assert.False(t, rec.IsSentinel())
}

func TestSyncVault_Conflicts(t *testing.T) {
	cases := []struct {
		name        string
		mode        ConflictMode
		localMtime  time.Duration
		wantPending bool
		wantLocal   func(local, remote string) string
		wantRemote  func(local, remote string) string
	}{
		{
			name:        "manual leaves conflict pending",
			mode:        ConflictManual,
			wantPending: true,
			wantLocal:   func(l, r string) string { return l },
			wantRemote:  func(l, r string) string { return r },
		},
		{
			name:       "local wins",
			mode:       ConflictLocal,
			wantLocal:  func(l, r string) string { return l },
			wantRemote: func(l, r string) string { return l },
		},
		{
			name:       "remote wins",
			mode:       ConflictRemote,
			wantLocal:  func(l, r string) string { return r },
			wantRemote: func(l, r string) string { return r },
		},
		{
			name:       "auto merges concurrent edits",
			mode:       ConflictAuto,
			localMtime: 10 * time.Second,
			wantLocal:  func(l, r string) string { return string(MergeContent([]byte(l), []byte(r))) },
			wantRemote: func(l, r string) string { return string(MergeContent([]byte(l), []byte(r))) },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newEngineHarness(t, tc.mode)
			ctx := context.Background()
			h.syncedFile(t, "a.md", "base")

			const localBody, remoteBody = "local edit", "remote edit"
			h.updateRemote(t, "a.md", remoteBody)
			h.write(t, "a.md", localBody)
			if tc.localMtime != 0 {
				require.NoError(t, h.local.SetModTime("a.md", h.clock.Now().Add(tc.localMtime)))
			}

			summary := h.engine.SyncVault(ctx)
			assert.Equal(t, 1, summary.Conflicts)
			assert.Equal(t, tc.wantPending, h.engine.Conflicts().HasPath("a.md"))
			assert.Equal(t, tc.wantLocal(localBody, remoteBody), h.read(t, "a.md"))
			assert.Equal(t, tc.wantRemote(localBody, remoteBody), h.remoteContent(t, "a.md"))

			rec, _ := h.engine.Index().GetFile("a.md")
			assert.Equal(t, 1, rec.ConflictCount)
		})
	}
}

func TestResolveConflict(t *testing.T) {
	h := newEngineHarness(t, ConflictManual)
	ctx := context.Background()
	h.syncedFile(t, "a.md", "base")
	h.updateRemote(t, "a.md", "remote edit")
	h.write(t, "a.md", "local edit")

	h.engine.SyncVault(ctx)
	pending := h.engine.Conflicts().Pending()
	require.Len(t, pending, 1)
	c := pending[0]
	assert.Equal(t, "a.md", c.FilePath)
	assert.Equal(t, int64(len("local edit")), c.Local.Size)
	assert.Equal(t, int64(len("remote edit")), c.Remote.Size)

	// a pending conflict holds the path back
	h.updateRemote(t, "a.md", "remote edit 2")
	h.engine.SyncVault(ctx)
	assert.Equal(t, "local edit", h.read(t, "a.md"))

	err := h.engine.ResolveConflict(ctx, Resolution{ConflictID: "nope", Kind: ResolveLocal})
	assert.ErrorIs(t, err, ErrConflictNotFound)

	require.NoError(t, h.engine.ResolveConflict(ctx, Resolution{ConflictID: c.ID, Kind: ResolveManual, Content: []byte("merged by hand")}))
	assert.Zero(t, h.engine.Conflicts().Len())
	assert.Equal(t, "merged by hand", h.read(t, "a.md"))
	assert.Equal(t, "merged by hand", h.remoteContent(t, "a.md"))

	summary := h.engine.SyncVault(ctx)
	require.True(t, summary.Success, summary.Errors)
	assert.Zero(t, summary.Conflicts)
	assert.Zero(t, summary.DownloadedFiles)
	assert.Zero(t, summary.UploadedFiles)
}

func TestSyncVault_FailuresAreIsolated(t *testing.T) {
	h := newEngineHarness(t, ConflictAuto)
	ctx := context.Background()

	h.remote.Seed(h.container, "good.md", []byte("ok"), h.clock.Now())
	h.remote.Seed(h.container, "bad.md", []byte("nope"), h.clock.Now())
	badID := h.remoteFiles(t)["bad.md"].ID
	h.remote.SetFailureHook(func(op, target string) error {
		if op == remote.MemOpDownload && target == badID {
			return errors.New("connection reset")
		}
		return nil
	})

	summary := h.engine.SyncVault(ctx)
	assert.False(t, summary.Success)
	assert.Equal(t, 1, summary.DownloadedFiles)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "bad.md")

	assert.Equal(t, "ok", h.read(t, "good.md"))
	rec, ok := h.engine.Index().GetFile("bad.md")
	require.True(t, ok)
	assert.Contains(t, rec.LastError, "connection reset")
	assert.Equal(t, 1+retryAttempts, h.remote.Calls(remote.MemOpDownload), "retried before giving up")
}

func TestSyncVault_ListFailure(t *testing.T) {
	h := newEngineHarness(t, ConflictAuto)
	h.remote.SetFailureHook(func(op, target string) error {
		if op == remote.MemOpList {
			return errors.New("unavailable")
		}
		return nil
	})

	summary := h.engine.SyncVault(context.Background())
	assert.False(t, summary.Success)
	require.NotEmpty(t, summary.Errors)
	assert.True(t, h.engine.Index().LastFullSync().IsZero())
}

func TestSyncVault_NoVaultID(t *testing.T) {
	e, err := NewSyncEngine(Options{
		Local:  vault.NewFSStore(afero.NewMemMapFs()),
		Remote: remote.NewMemoryClient(),
	})
	require.NoError(t, err)

	summary := e.SyncVault(context.Background())
	assert.False(t, summary.Success)
	assert.Equal(t, []string{ErrNoVaultID.Error()}, summary.Errors)

	_, err = e.Reconcile(context.Background())
	assert.ErrorIs(t, err, ErrNoVaultID)
	assert.ErrorIs(t, e.Start(context.Background()), ErrNoVaultID)
}

func TestCheckRemote(t *testing.T) {
	h := newEngineHarness(t, ConflictManual)
	ctx := context.Background()
	h.syncedFile(t, "same.md", "unchanged")
	h.syncedFile(t, "changed.md", "v1")
	h.syncedFile(t, "both.md", "v1")

	h.updateRemote(t, "changed.md", "v2")
	h.updateRemote(t, "both.md", "remote v2")
	h.write(t, "both.md", "local v2")
	h.remote.Seed(h.container, "new/fresh.md", []byte("fresh"), h.clock.Now())

	result, err := h.engine.CheckRemote(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Checked)
	assert.Equal(t, 2, result.Downloaded)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.Errors)

	assert.Equal(t, "v2", h.read(t, "changed.md"))
	assert.Equal(t, "fresh", h.read(t, "new/fresh.md"))
	assert.Equal(t, "local v2", h.read(t, "both.md"))
	assert.True(t, h.engine.Conflicts().HasPath("both.md"))
	assert.False(t, h.engine.Index().LastRemoteCheck().IsZero())
}

func TestReconcile(t *testing.T) {
	h := newEngineHarness(t, ConflictAuto)
	ctx := context.Background()

	h.write(t, "a.md", "a")
	h.write(t, "dir/b.md", "b")
	h.write(t, "dir/skip.exe", "binary")
	h.write(t, ".trash/c.md", "c")
	h.write(t, "dir/d.tmp.md", "d")

	// a stale never-synced record for a file that is gone
	h.engine.Index().TrackFile("ghost.md", 0)
	// a synced file that is gone locally stays recoverable
	h.engine.Index().MarkSynced("kept.md", "h", 1, 1, "r-kept", index.MarkOptions{})
	// a folder record for a directory removed while offline
	h.engine.Index().TrackFolder("gone")

	first, err := h.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Uploaded)
	assert.Equal(t, 1, first.FoldersAdded)
	assert.Equal(t, 1, first.FoldersRemoved)
	assert.Equal(t, 1, first.StaleRemoved)
	assert.Zero(t, first.Failed)

	idx := h.engine.Index()
	assert.False(t, idx.HasFile("ghost.md"))
	assert.True(t, idx.HasFile("kept.md"))
	assert.False(t, idx.HasFile("dir/skip.exe"))
	assert.False(t, idx.HasFile(".trash/c.md"))
	assert.Contains(t, idx.Folders(), "dir")
	assert.NotContains(t, idx.Folders(), "gone")

	second, err := h.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, &ReconcileResult{}, second)
}

func TestReconcile_RetriesFailedUploads(t *testing.T) {
	h := newEngineHarness(t, ConflictAuto)
	ctx := context.Background()
	h.write(t, "good.md", "g")
	h.write(t, "bad.md", "b")

	failing := true
	h.remote.SetFailureHook(func(op, target string) error {
		if failing && op == remote.MemOpUpload && target == "bad.md" {
			return errors.New("quota exceeded")
		}
		return nil
	})

	first, err := h.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Uploaded)
	assert.Equal(t, 1, first.Failed)

	rec, ok := h.engine.Index().GetFile("bad.md")
	require.True(t, ok)
	assert.Contains(t, rec.LastError, "quota exceeded")

	failing = false
	second, err := h.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Uploaded)
	assert.Equal(t, "b", h.remoteContent(t, "bad.md"))
}

type memIndexStore struct {
	saves int
	last  *index.Document
}

func (s *memIndexStore) Load(vaultID string) (*index.SyncIndex, error) {
	if s.last == nil {
		return index.New(vaultID), nil
	}
	return index.FromDocument(s.last), nil
}

func (s *memIndexStore) Save(x *index.SyncIndex) error {
	s.saves++
	s.last = x.Snapshot()
	return nil
}

func (s *memIndexStore) Close() error { return nil }

func TestSyncVault_Persists(t *testing.T) {
	store := &memIndexStore{}
	local := vault.NewFSStore(afero.NewMemMapFs())
	rc := remote.NewMemoryClient()
	e, err := NewSyncEngine(Options{VaultID: testVaultID, Local: local, Remote: rc, Store: store, RetryBackoff: time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, local.Write("a.md", []byte("x")))
	require.NoError(t, e.HandleEvent(context.Background(), vault.Event{Op: vault.OpCreated, Kind: vault.KindFile, Path: "a.md"}))
	assert.Equal(t, 1, store.saves)
	require.Contains(t, store.last.Files, "a.md")

	e.SyncVault(context.Background())
	assert.Equal(t, 2, store.saves)
	assert.NotZero(t, store.last.LastFullSync)
}

func TestSyncEngine_Setters(t *testing.T) {
	h := newEngineHarness(t, ConflictAuto)

	assert.Equal(t, 30*time.Second, h.engine.SetSyncInterval(30*time.Second))
	assert.Equal(t, MinSyncInterval, h.engine.SetSyncInterval(time.Second))
	assert.Equal(t, MinSyncInterval, h.engine.SyncInterval())

	require.NoError(t, h.engine.SetConflictMode(ConflictRemote))
	assert.Equal(t, ConflictRemote, h.engine.ConflictMode())
	assert.Error(t, h.engine.SetConflictMode("coin-flip"))

	status := h.engine.Status()
	assert.Equal(t, testVaultID, status.VaultID)
	assert.False(t, status.Running)
	assert.Equal(t, ConflictRemote, status.ConflictMode)
}

func TestParseConflictMode(t *testing.T) {
	cases := map[string]ConflictMode{
		"":        ConflictAuto,
		"auto":    ConflictAuto,
		"LOCAL":   ConflictLocal,
		" remote": ConflictRemote,
		"manual":  ConflictManual,
	}
	for in, want := range cases {
		got, err := ParseConflictMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseConflictMode("newest")
	assert.Error(t, err)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
