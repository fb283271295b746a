package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jonboulle/clockwork"
	"github.com/openmined/vaultsync/internal/client/index"
	"github.com/openmined/vaultsync/internal/client/remote"
	"github.com/openmined/vaultsync/internal/client/vault"
	"github.com/openmined/vaultsync/internal/utils"
)

const (
	DefaultSyncInterval = 300 * time.Second
	MinSyncInterval     = 10 * time.Second

	remoteCheckInterval   = 2 * time.Minute
	remoteCheckSlack      = 15 * time.Second
	reconcileInterval     = 5 * time.Minute
	initialReconcileDelay = 10 * time.Second
	debounceDelay         = 2 * time.Second
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrNoVaultID          = errors.New("vault id not configured")
	ErrNotAuthenticated   = remote.ErrNotAuthenticated
	ErrEngineStarted      = errors.New("sync engine already started")
)

// Options configures a SyncEngine. Local and Remote are required.
type Options struct {
	VaultID string
	Local   vault.LocalStore
	Remote  remote.Client
	// Index defaults to an empty index for VaultID.
	Index *index.SyncIndex
	// Store persists the index after every mutating batch. Optional.
	Store        index.Store
	Filter       *Filter
	SyncInterval time.Duration
	ConflictMode ConflictMode
	Clock        clockwork.Clock
	RetryBackoff time.Duration
}

// SyncEngine keeps one vault in sync with its remote container.
//
// Every pass that mutates the index or calls the remote store holds muSync,
// so there is only ever one writer. Timer driven passes give up when the
// lock is taken; operator requests wait for it.
type SyncEngine struct {
	vaultID      string
	local        vault.LocalStore
	remote       remote.Client
	index        *index.SyncIndex
	store        index.Store
	filter       *Filter
	hasher       *vault.Hasher
	conflicts    *ConflictManager
	clock        clockwork.Clock
	retryBackoff time.Duration

	muSync      sync.Mutex
	containerID string

	muConfig     sync.RWMutex
	syncInterval time.Duration
	conflictMode ConflictMode

	muPending    sync.Mutex
	pending      []vault.Event
	pendingPaths mapset.Set[string]
	debounce     clockwork.Timer
	flushCh      chan struct{}
	intervalCh   chan time.Duration

	muRun       sync.Mutex
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

func NewSyncEngine(opts Options) (*SyncEngine, error) {
	if opts.Local == nil {
		return nil, errors.New("local store is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("remote client is required")
	}

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	idx := opts.Index
	if idx == nil {
		idx = index.New(opts.VaultID, index.WithClock(clock.Now))
	} else if opts.VaultID != "" && idx.VaultID() != opts.VaultID {
		return nil, fmt.Errorf("index belongs to vault %q, not %q", idx.VaultID(), opts.VaultID)
	}

	filter := opts.Filter
	if filter == nil {
		filter = NewFilter(nil)
		filter.Load(opts.Local)
	}

	mode := opts.ConflictMode
	if mode == "" {
		mode = ConflictAuto
	}
	if _, err := ParseConflictMode(string(mode)); err != nil {
		return nil, err
	}

	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}

	e := &SyncEngine{
		vaultID:      opts.VaultID,
		local:        opts.Local,
		remote:       opts.Remote,
		index:        idx,
		store:        opts.Store,
		filter:       filter,
		hasher:       vault.NewHasher(opts.Local),
		conflicts:    NewConflictManager(),
		clock:        clock,
		retryBackoff: backoff,
		syncInterval: normalizeInterval(opts.SyncInterval),
		conflictMode: mode,
		pendingPaths: mapset.NewSet[string](),
		flushCh:      make(chan struct{}, 1),
		intervalCh:   make(chan time.Duration, 1),
	}
	e.conflicts.now = clock.Now
	e.conflicts.OnResolved(e.applyResolution)
	return e, nil
}

func normalizeInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultSyncInterval
	case d < MinSyncInterval:
		return MinSyncInterval
	default:
		return d
	}
}

// Start runs one full pass and then keeps the vault in sync in the
// background until ctx is done or Stop is called.
func (e *SyncEngine) Start(ctx context.Context) error {
	if e.vaultID == "" {
		return ErrNoVaultID
	}
	if err := e.remote.Authenticated(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}

	e.muRun.Lock()
	if e.cancel != nil {
		e.muRun.Unlock()
		return ErrEngineStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	events, unsubscribe := e.local.Subscribe()
	e.cancel = cancel
	e.unsubscribe = unsubscribe
	e.muRun.Unlock()

	slog.Info("sync start", "vault", e.vaultID, "interval", e.SyncInterval(), "conflicts", e.ConflictMode())

	// run sync once before listening for timers and events
	slog.Info("running initial sync")
	if summary := e.SyncVault(runCtx); !summary.Success {
		slog.Warn("initial sync incomplete", "errors", summary.Errors)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop(runCtx, events)
	}()

	return nil
}

// Stop cancels every timer and the event subscription, waits for the
// background loop and persists the index. It is safe to call more than once.
func (e *SyncEngine) Stop() error {
	e.muRun.Lock()
	cancel, unsubscribe := e.cancel, e.unsubscribe
	e.cancel, e.unsubscribe = nil, nil
	e.muRun.Unlock()

	if cancel == nil {
		return nil
	}

	slog.Info("sync stop")
	cancel()
	e.wg.Wait()
	e.stopDebounce()
	unsubscribe()

	e.muSync.Lock()
	defer e.muSync.Unlock()
	return e.persist()
}

func (e *SyncEngine) Running() bool {
	e.muRun.Lock()
	defer e.muRun.Unlock()
	return e.cancel != nil
}

// SyncVault runs a full pass, waiting for any pass already in progress.
func (e *SyncEngine) SyncVault(ctx context.Context) *SyncSummary {
	e.muSync.Lock()
	defer e.muSync.Unlock()
	return e.syncVaultLocked(ctx)
}

func (e *SyncEngine) trySyncVault(ctx context.Context) (*SyncSummary, error) {
	if !e.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()
	return e.syncVaultLocked(ctx), nil
}

func (e *SyncEngine) syncVaultLocked(ctx context.Context) *SyncSummary {
	tStart := e.clock.Now()
	summary := &SyncSummary{}
	defer func() {
		summary.Duration = e.clock.Since(tStart)
	}()

	if e.vaultID == "" {
		summary.addError("", ErrNoVaultID)
		return summary
	}

	containerID, err := e.ensureContainer(ctx)
	if err != nil {
		slog.Error("sync container", "vault", e.vaultID, "error", err)
		summary.addError("", err)
		return summary
	}

	pruned := e.pruneInvalid()
	discovered := e.discoverUntracked()

	remoteFiles, err := e.listRemote(ctx, containerID)
	if err != nil {
		slog.Error("sync list remote", "vault", e.vaultID, "error", err)
		summary.addError("", err)
		e.persistLogged()
		return summary
	}

	records := e.index.Files()
	delta := CalculateDelta(records, remoteFiles)
	promoted := delta.PromoteLocalChanges(records, e.localChanged)
	summary.SkippedFiles = delta.Skipped

	if delta.HasChanges() {
		slog.Debug("sync delta",
			"downloads", len(delta.ToDownload),
			"uploads", len(delta.ToUpload),
			"conflicts", len(delta.Conflicts),
			"inSync", delta.InSync,
		)
	}

	for _, item := range delta.ToUpload {
		if ctx.Err() != nil {
			break
		}
		e.syncUpload(ctx, item, summary)
	}

	for _, item := range delta.ToDownload {
		if ctx.Err() != nil {
			break
		}
		e.syncDownload(ctx, item, summary)
	}

	for _, item := range delta.Conflicts {
		if ctx.Err() != nil {
			break
		}
		if item.Remote == nil {
			continue
		}
		if conflicted, err := e.registerConflict(ctx, item.Path, *item.Remote); err != nil {
			summary.addError(item.Path, err)
		} else if conflicted {
			summary.Conflicts++
		}
	}

	if err := ctx.Err(); err != nil {
		summary.addError("", err)
	}

	now := e.clock.Now()
	e.index.MarkFullSync(now)
	e.index.MarkRemoteCheck(now)
	e.index.RefreshFolderCounts()
	e.persistLogged()

	summary.Success = len(summary.Errors) == 0

	slog.Info("full sync",
		"vault", e.vaultID,
		"uploaded", summary.UploadedFiles,
		"downloaded", summary.DownloadedFiles,
		"conflicts", summary.Conflicts,
		"skipped", summary.SkippedFiles,
		"errors", len(summary.Errors),
		"inSync", delta.InSync,
		"pruned", pruned,
		"discovered", discovered,
		"promoted", promoted,
		"tsTotal", e.clock.Since(tStart),
	)

	return summary
}

// ResolveConflict applies an operator decision and persists the result.
func (e *SyncEngine) ResolveConflict(ctx context.Context, r Resolution) error {
	e.muSync.Lock()
	defer e.muSync.Unlock()

	err := e.conflicts.Resolve(ctx, r)
	if errors.Is(err, ErrConflictNotFound) || errors.Is(err, ErrMissingMergeContent) || errors.Is(err, ErrInvalidResolution) {
		return err
	}
	e.persistLogged()
	return err
}

func (e *SyncEngine) VaultID() string {
	return e.vaultID
}

// Index exposes the engine's index. Callers must treat it as read only.
func (e *SyncEngine) Index() *index.SyncIndex {
	return e.index
}

func (e *SyncEngine) Conflicts() *ConflictManager {
	return e.conflicts
}

func (e *SyncEngine) Authenticated(ctx context.Context) error {
	return e.remote.Authenticated(ctx)
}

func (e *SyncEngine) SyncInterval() time.Duration {
	e.muConfig.RLock()
	defer e.muConfig.RUnlock()
	return e.syncInterval
}

// SetSyncInterval changes the auto sync period starting with the next tick.
// Values below MinSyncInterval are raised to it.
func (e *SyncEngine) SetSyncInterval(d time.Duration) time.Duration {
	d = normalizeInterval(d)

	e.muConfig.Lock()
	e.syncInterval = d
	e.muConfig.Unlock()

	// keep only the latest value for the loop
	select {
	case <-e.intervalCh:
	default:
	}
	select {
	case e.intervalCh <- d:
	default:
	}
	return d
}

func (e *SyncEngine) ConflictMode() ConflictMode {
	e.muConfig.RLock()
	defer e.muConfig.RUnlock()
	return e.conflictMode
}

func (e *SyncEngine) SetConflictMode(mode ConflictMode) error {
	if _, err := ParseConflictMode(string(mode)); err != nil {
		return err
	}
	e.muConfig.Lock()
	defer e.muConfig.Unlock()
	e.conflictMode = mode
	return nil
}

func (e *SyncEngine) Status() Status {
	e.muPending.Lock()
	pending := len(e.pending)
	e.muPending.Unlock()

	return Status{
		VaultID:          e.vaultID,
		Running:          e.Running(),
		SyncInterval:     e.SyncInterval(),
		ConflictMode:     e.ConflictMode(),
		LastFullSync:     e.index.LastFullSync(),
		LastRemoteCheck:  e.index.LastRemoteCheck(),
		PendingChanges:   pending,
		PendingConflicts: e.conflicts.Len(),
		Index:            e.index.Stats(),
	}
}

func (e *SyncEngine) persist() error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Save(e.index); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

func (e *SyncEngine) persistLogged() {
	if err := e.persist(); err != nil {
		slog.Error("persist index", "vault", e.vaultID, "error", err)
	}
}

func (e *SyncEngine) ensureContainer(ctx context.Context) (string, error) {
	if e.containerID != "" {
		return e.containerID, nil
	}
	id, err := withRetry(ctx, "container", e.retryBackoff, func(ctx context.Context) (string, error) {
		return e.remote.GetOrCreateContainer(ctx, e.vaultID)
	})
	if err != nil {
		return "", fmt.Errorf("get container for vault %s: %w", e.vaultID, err)
	}
	e.containerID = id
	return id, nil
}

// listRemote returns the full container listing restricted to synced paths.
func (e *SyncEngine) listRemote(ctx context.Context, containerID string) ([]remote.FileInfo, error) {
	files, err := withRetry(ctx, "list", e.retryBackoff, func(ctx context.Context) ([]remote.FileInfo, error) {
		return remote.ListAll(ctx, e.remote, containerID)
	})
	if err != nil {
		return nil, err
	}
	kept := files[:0]
	for _, f := range files {
		f.Path = utils.NormPath(f.Path)
		if e.filter.TrackFile(f.Path) {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

// pruneInvalid drops records of files that vanished locally before they
// were ever synced.
func (e *SyncEngine) pruneInvalid() int {
	records := e.index.Files()
	valid := ValidRecords(records, e.local.Exists)
	pruned := 0
	for p := range records {
		if _, ok := valid[p]; ok {
			continue
		}
		e.index.RemoveFile(p)
		e.hasher.Forget(p)
		pruned++
	}
	return pruned
}

// discoverUntracked seeds sentinel records for local files the index does
// not know about yet. They are uploaded by the next reconciliation.
func (e *SyncEngine) discoverUntracked() int {
	found := 0
	err := e.local.Walk(func(entry vault.Entry) error {
		if entry.IsFolder() {
			if !e.filter.TrackFolder(entry.Path) {
				return filepath.SkipDir
			}
			e.index.TrackFolder(entry.Path)
			return nil
		}
		if e.filter.TrackFile(entry.Path) && e.index.TrackFile(entry.Path, index.Millis(entry.CreatedTime)) {
			found++
		}
		return nil
	})
	if err != nil {
		slog.Warn("discover local files", "error", err)
	}
	return found
}

// localChanged reports whether the local content of path differs from what
// was last synced.
func (e *SyncEngine) localChanged(path string) bool {
	if e.conflicts.HasPath(path) || !e.local.Exists(path) {
		return false
	}
	hash, entry, err := e.hasher.Fingerprint(path)
	if err != nil {
		slog.Warn("fingerprint", "path", path, "error", err)
		return false
	}
	return e.index.NeedsSync(path, hash, index.Millis(entry.ModTime), entry.Size)
}

func (e *SyncEngine) trackParents(path string) {
	for dir := utils.ParentPath(path); dir != ""; dir = utils.ParentPath(dir) {
		if e.filter.TrackFolder(dir) {
			e.index.TrackFolder(dir)
		}
	}
}
