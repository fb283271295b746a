package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/openmined/vaultsync/internal/utils"
)

const (
	autoResolveSizeThreshold = 1024
	autoResolveMergeWindow   = 60 * time.Second

	mergeLocalMarker  = "<<<<<<< LOCAL VERSION\n"
	mergeSeparator    = "\n=======\n"
	mergeRemoteMarker = "\n>>>>>>> REMOTE VERSION\n"
)

var (
	ErrConflictNotFound    = errors.New("conflict not found")
	ErrMissingMergeContent = errors.New("manual resolution needs content")
	ErrInvalidResolution   = errors.New("invalid resolution")
)

type ResolutionKind string

const (
	ResolveLocal  ResolutionKind = "local"
	ResolveRemote ResolutionKind = "remote"
	ResolveManual ResolutionKind = "manual"
)

func (k ResolutionKind) Valid() bool {
	return k == ResolveLocal || k == ResolveRemote || k == ResolveManual
}

// VersionInfo is one side of a conflict.
type VersionInfo struct {
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	Content      []byte    `json:"-"`
}

// PendingConflict lives in memory only; it is gone after a restart.
type PendingConflict struct {
	ID           string      `json:"id"`
	FilePath     string      `json:"filePath"`
	RemoteFileID string      `json:"remoteFileId"`
	Local        VersionInfo `json:"localVersion"`
	Remote       VersionInfo `json:"remoteVersion"`
	DetectedAt   time.Time   `json:"detectedAt"`
}

// Resolution is the decision for one conflict. Content is required for
// manual resolutions and ignored otherwise.
type Resolution struct {
	ConflictID string         `json:"conflictId"`
	Kind       ResolutionKind `json:"resolution"`
	Content    []byte         `json:"content,omitempty"`
}

// ResolvedFunc is called after a conflict left the pending set.
type ResolvedFunc func(ctx context.Context, c PendingConflict, r Resolution) error

// ConflictManager holds the pending conflicts, at most one per path.
type ConflictManager struct {
	mu        sync.Mutex
	pending   map[string]*PendingConflict
	byPath    map[string]string
	callbacks []ResolvedFunc
	now       func() time.Time
}

func NewConflictManager() *ConflictManager {
	return &ConflictManager{
		pending: make(map[string]*PendingConflict),
		byPath:  make(map[string]string),
		now:     time.Now,
	}
}

// Add registers c and returns its id. A conflict already pending for the
// same path is replaced but keeps its id.
func (m *ConflictManager) Add(c PendingConflict) string {
	c.FilePath = utils.NormPath(c.FilePath)

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byPath[c.FilePath]; ok {
		c.ID = id
	} else {
		c.ID = uuid.NewString()
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = m.now()
	}
	m.pending[c.ID] = &c
	m.byPath[c.FilePath] = c.ID

	slog.Info("conflict detected", "id", c.ID, "path", c.FilePath,
		"localSize", c.Local.Size, "remoteSize", c.Remote.Size)
	return c.ID
}

func (m *ConflictManager) Get(id string) (PendingConflict, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.pending[id]
	if !ok {
		return PendingConflict{}, false
	}
	return *c, true
}

// ForPath returns the pending conflict for path.
func (m *ConflictManager) ForPath(path string) (PendingConflict, bool) {
	m.mu.Lock()
	id, ok := m.byPath[utils.NormPath(path)]
	m.mu.Unlock()
	if !ok {
		return PendingConflict{}, false
	}
	return m.Get(id)
}

func (m *ConflictManager) HasPath(path string) bool {
	_, ok := m.ForPath(path)
	return ok
}

// Pending returns the pending conflicts, oldest first.
func (m *ConflictManager) Pending() []PendingConflict {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingConflict, 0, len(m.pending))
	for _, c := range m.pending {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].FilePath < out[j].FilePath
	})
	return out
}

func (m *ConflictManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// OnResolved registers cb for every future resolution.
func (m *ConflictManager) OnResolved(cb ResolvedFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Resolve removes the conflict from the pending set and runs every callback.
// A failing or panicking callback does not stop the others; their errors are
// returned joined once all ran.
func (m *ConflictManager) Resolve(ctx context.Context, r Resolution) error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResolution, r.Kind)
	}
	if r.Kind == ResolveManual && r.Content == nil {
		return ErrMissingMergeContent
	}

	m.mu.Lock()
	c, ok := m.pending[r.ConflictID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConflictNotFound, r.ConflictID)
	}
	delete(m.pending, r.ConflictID)
	delete(m.byPath, c.FilePath)
	callbacks := append([]ResolvedFunc(nil), m.callbacks...)
	m.mu.Unlock()

	slog.Info("conflict resolved", "id", c.ID, "path", c.FilePath, "resolution", r.Kind)

	var errs []error
	for _, cb := range callbacks {
		if err := runResolvedCallback(ctx, cb, *c, r); err != nil {
			slog.Error("conflict callback", "id", c.ID, "path", c.FilePath, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runResolvedCallback(ctx context.Context, cb ResolvedFunc, c PendingConflict, r Resolution) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("conflict callback panic: %v", rec)
		}
	}()
	return cb(ctx, c, r)
}

// AutoResolveConflict picks a side without asking anyone.
//
// A size difference above 1024 bytes keeps the larger version. Otherwise a
// modify time difference above 60 seconds keeps the newer one. Edits closer
// together than that are treated as concurrent: text bodies are merged with
// conflict markers, anything else is left for a manual decision without
// content.
func AutoResolveConflict(local, remote VersionInfo) Resolution {
	sizeDiff := local.Size - remote.Size
	if sizeDiff > autoResolveSizeThreshold {
		return Resolution{Kind: ResolveLocal}
	}
	if -sizeDiff > autoResolveSizeThreshold {
		return Resolution{Kind: ResolveRemote}
	}

	timeDiff := local.LastModified.Sub(remote.LastModified)
	if timeDiff > autoResolveMergeWindow {
		return Resolution{Kind: ResolveLocal}
	}
	if -timeDiff > autoResolveMergeWindow {
		return Resolution{Kind: ResolveRemote}
	}

	if local.Content != nil && remote.Content != nil &&
		utf8.Valid(local.Content) && utf8.Valid(remote.Content) {
		return Resolution{Kind: ResolveManual, Content: MergeContent(local.Content, remote.Content)}
	}
	return Resolution{Kind: ResolveManual}
}

// MergeContent concatenates both versions between conflict markers.
func MergeContent(local, remote []byte) []byte {
	out := make([]byte, 0, len(local)+len(remote)+len(mergeLocalMarker)+len(mergeSeparator)+len(mergeRemoteMarker))
	out = append(out, mergeLocalMarker...)
	out = append(out, local...)
	out = append(out, mergeSeparator...)
	out = append(out, remote...)
	out = append(out, mergeRemoteMarker...)
	return out
}
