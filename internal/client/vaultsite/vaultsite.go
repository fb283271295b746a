package vaultsite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"

	"github.com/openmined/vaultsync/internal/client/config"
	"github.com/openmined/vaultsync/internal/client/index"
	"github.com/openmined/vaultsync/internal/client/remote"
	"github.com/openmined/vaultsync/internal/client/sync"
	"github.com/openmined/vaultsync/internal/client/vault"
	"github.com/openmined/vaultsync/internal/client/workspace"
)

var (
	ErrAlreadyStarted = errors.New("vault already started")
	ErrStopped        = errors.New("vault stopped")
)

// VaultSite is one configured vault with everything it needs to sync: the
// data dir lock, the index store, the local and remote stores and the engine.
type VaultSite struct {
	config    *config.Config
	workspace *workspace.Workspace
	store     *index.SQLiteStore
	local     *vault.FSStore
	remote    remote.Client

	// mu is held for the whole of Start so Stop never races a half started
	// vault.
	mu      gosync.Mutex
	engine  *sync.SyncEngine
	started bool
	stopped bool

	muCancel gosync.Mutex
	cancel   context.CancelFunc

	// ready is the engine once the initial sync finished
	ready atomic.Pointer[sync.SyncEngine]
}

// New wires a vault from cfg, which must already be validated. Nothing is
// locked or opened until Start.
func New(ctx context.Context, cfg *config.Config) (*VaultSite, error) {
	if cfg.VaultID == "" {
		return nil, sync.ErrNoVaultID
	}

	ws, err := workspace.NewWorkspace(cfg.VaultDir, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	rc, err := newRemote(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create remote: %w", err)
	}

	local, err := vault.NewOSStore(ws.VaultDir)
	if err != nil {
		return nil, fmt.Errorf("create local store: %w", err)
	}

	return &VaultSite{
		config:    cfg,
		workspace: ws,
		store:     index.NewSQLiteStore(ws.IndexPath, config.NewLegacyIndex(cfg.Path)),
		local:     local,
		remote:    rc,
	}, nil
}

func newRemote(ctx context.Context, cfg *config.Config) (remote.Client, error) {
	switch cfg.Remote.Kind {
	case remote.KindMemory:
		slog.Warn("using in-memory remote, nothing leaves this process")
		return remote.NewMemoryClient(), nil
	case remote.KindS3, "":
		return remote.NewS3ClientWithConfig(ctx, cfg.S3())
	default:
		return nil, fmt.Errorf("unknown remote kind %q", cfg.Remote.Kind)
	}
}

func (v *VaultSite) Start(ctx context.Context) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.started {
		return ErrAlreadyStarted
	}
	if v.stopped {
		return ErrStopped
	}

	slog.Info("vault start", "vault", v.config.VaultID, "dir", v.workspace.VaultDir, "remote", v.config.Remote.Kind)

	ctx, cancel := context.WithCancel(ctx)
	v.muCancel.Lock()
	v.cancel = cancel
	v.muCancel.Unlock()
	defer func() {
		if err != nil {
			cancel()
			v.teardown()
		}
	}()

	if err := v.workspace.Setup(); err != nil {
		return fmt.Errorf("setup workspace: %w", err)
	}

	if err := v.store.Open(); err != nil {
		return err
	}

	idx, err := v.store.Load(v.config.VaultID)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	engine, err := sync.NewSyncEngine(sync.Options{
		VaultID:      v.config.VaultID,
		Local:        v.local,
		Remote:       v.remote,
		Index:        idx,
		Store:        v.store,
		SyncInterval: v.config.Interval(),
		ConflictMode: v.config.ConflictMode(),
	})
	if err != nil {
		return fmt.Errorf("create sync engine: %w", err)
	}
	v.engine = engine

	if err := v.local.Watch(ctx); err != nil {
		return fmt.Errorf("watch vault: %w", err)
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start sync engine: %w", err)
	}

	v.started = true
	v.ready.Store(engine)
	return nil
}

// Stop shuts the vault down and releases the data dir. It waits for a Start
// in progress. A stopped vault cannot be started again.
func (v *VaultSite) Stop() {
	// abort a Start that is still running its initial sync
	v.muCancel.Lock()
	if v.cancel != nil {
		v.cancel()
	}
	v.muCancel.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.started {
		return
	}
	v.ready.Store(nil)
	v.teardown()
	v.started = false
	slog.Info("vault stopped", "vault", v.config.VaultID)
}

func (v *VaultSite) teardown() {
	if v.engine != nil {
		if err := v.engine.Stop(); err != nil {
			slog.Error("sync engine stop", "error", err)
		}
	}
	v.local.Close()
	v.stopped = true
	if err := v.store.Close(); err != nil && !errors.Is(err, index.ErrStoreNotOpen) {
		slog.Error("index store close", "error", err)
	}
	if err := v.workspace.Unlock(); err != nil {
		slog.Error("workspace unlock", "error", err)
	}
}

// Engine returns the sync engine, nil until the initial sync finished and
// after Stop.
func (v *VaultSite) Engine() *sync.SyncEngine {
	return v.ready.Load()
}

func (v *VaultSite) Config() *config.Config {
	return v.config
}

func (v *VaultSite) Workspace() *workspace.Workspace {
	return v.workspace
}
