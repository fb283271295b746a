package vault

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jonboulle/clockwork"
	"github.com/openmined/vaultsync/internal/utils"
	"github.com/rjeczalik/notify"
)

const (
	DefaultIgnoreTimeout   = time.Second
	defaultDebounceTimeout = 50 * time.Millisecond
	renamePairWindow       = 100 * time.Millisecond
	rawEventBufferSize     = 256
)

type pendingEvent struct {
	ev    Event
	timer clockwork.Timer
}

type pendingRename struct {
	path  string
	kind  Kind
	timer clockwork.Timer
}

// Watcher turns raw notify events below root into vault Events.
//
// Bursts of events for one path are debounced into a single event. A rename
// of a path that vanished followed by a create within renamePairWindow is
// reported as one Renamed event; an unpaired rename is a delete.
type Watcher struct {
	root    string
	publish func(Event)
	clock   clockwork.Clock

	raw  chan notify.EventInfo
	done chan struct{}
	wg   sync.WaitGroup

	ignoreMu sync.Mutex
	ignore   map[string]time.Time

	mu              sync.Mutex
	dirs            mapset.Set[string]
	pending         map[string]*pendingEvent
	rename          *pendingRename
	debounceTimeout time.Duration
}

func NewWatcher(root string, publish func(Event)) *Watcher {
	return &Watcher{
		root:            root,
		publish:         publish,
		clock:           clockwork.NewRealClock(),
		done:            make(chan struct{}),
		ignore:          make(map[string]time.Time),
		dirs:            mapset.NewSet[string](),
		pending:         make(map[string]*pendingEvent),
		debounceTimeout: defaultDebounceTimeout,
	}
}

func (w *Watcher) SetClock(clock clockwork.Clock) {
	w.clock = clock
}

func (w *Watcher) SetDebounceTimeout(timeout time.Duration) {
	w.debounceTimeout = timeout
}

func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("vault watcher start", "dir", w.root)

	if err := w.seedDirs(); err != nil {
		return err
	}

	w.raw = make(chan notify.EventInfo, rawEventBufferSize)
	if err := notify.Watch(w.root+"/...", w.raw, notify.Create, notify.Remove, notify.Rename, notify.Write); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) Stop() {
	select {
	case <-w.done:
		return
	default:
	}
	close(w.done)

	if w.raw != nil {
		notify.Stop(w.raw)
	}
	w.wg.Wait()

	w.mu.Lock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	if w.rename != nil {
		w.rename.timer.Stop()
		w.rename = nil
	}
	w.mu.Unlock()

	slog.Info("vault watcher stopped")
}

// IgnoreOnce suppresses the next event for path. Used for writes made by the
// sync engine itself.
func (w *Watcher) IgnoreOnce(path string) {
	now := w.clock.Now()

	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()
	for p, expiry := range w.ignore {
		if now.After(expiry) {
			delete(w.ignore, p)
		}
	}
	w.ignore[utils.NormPath(path)] = now.Add(DefaultIgnoreTimeout)
}

func (w *Watcher) consumeIgnore(path string) bool {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()

	expiry, ok := w.ignore[path]
	if !ok {
		return false
	}
	delete(w.ignore, path)
	return !w.clock.Now().After(expiry)
}

func (w *Watcher) trackDir(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p := utils.NormPath(path); p != ""; p = utils.ParentPath(p) {
		w.dirs.Add(p)
	}
}

func (w *Watcher) seedDirs() error {
	return filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel := w.rel(p); rel != "" {
			w.dirs.Add(rel)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ei, ok := <-w.raw:
			if !ok {
				return
			}
			w.handleRaw(ei.Path(), ei.Event())
		}
	}
}

func (w *Watcher) rel(absPath string) string {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return utils.NormPath(filepath.ToSlash(rel))
}

func (w *Watcher) handleRaw(absPath string, e notify.Event) {
	path := w.rel(absPath)
	if path == "" {
		return
	}

	switch e {
	case notify.Create:
		info, err := os.Lstat(absPath)
		if err != nil {
			return
		}
		w.arrived(path, kindOf(info))

	case notify.Write:
		info, err := os.Lstat(absPath)
		if err != nil || info.IsDir() {
			return
		}
		w.debounce(Event{Op: OpModified, Kind: KindFile, Path: path})

	case notify.Remove:
		w.debounce(Event{Op: OpDeleted, Kind: w.forgetDir(path), Path: path})

	case notify.Rename:
		if info, err := os.Lstat(absPath); err == nil {
			w.arrived(path, kindOf(info))
			return
		}
		w.departed(path)
	}
}

// arrived handles a path that now exists, either created or the target of a
// rename.
func (w *Watcher) arrived(path string, kind Kind) {
	w.mu.Lock()
	if r := w.rename; r != nil && r.kind == kind {
		r.timer.Stop()
		w.rename = nil
		if p, ok := w.pending[r.path]; ok {
			p.timer.Stop()
			delete(w.pending, r.path)
		}
		if kind == KindFolder {
			w.moveDirsLocked(r.path, path)
		}
		w.mu.Unlock()
		w.emit(Event{Op: OpRenamed, Kind: kind, Path: path, OldPath: r.path})
		return
	}
	if kind == KindFolder {
		w.dirs.Add(path)
	}
	w.mu.Unlock()

	w.debounce(Event{Op: OpCreated, Kind: kind, Path: path})
}

// departed handles the source side of a rename.
func (w *Watcher) departed(path string) {
	w.mu.Lock()
	kind := KindFile
	if w.dirs.Contains(path) {
		kind = KindFolder
	}
	prev := w.rename
	if prev != nil {
		prev.timer.Stop()
	}
	w.rename = &pendingRename{
		path:  path,
		kind:  kind,
		timer: w.clock.AfterFunc(renamePairWindow, func() { w.expireRename(path) }),
	}
	w.mu.Unlock()

	if prev != nil {
		w.emit(Event{Op: OpDeleted, Kind: w.forgetDir(prev.path), Path: prev.path})
	}
}

func (w *Watcher) expireRename(path string) {
	w.mu.Lock()
	r := w.rename
	if r == nil || r.path != path {
		w.mu.Unlock()
		return
	}
	w.rename = nil
	w.mu.Unlock()

	w.emit(Event{Op: OpDeleted, Kind: w.forgetDir(path), Path: path})
}

// forgetDir drops path and its subfolders from the known folders and
// returns the kind path had.
func (w *Watcher) forgetDir(path string) Kind {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirs.Contains(path) {
		return KindFile
	}
	for _, d := range w.dirs.ToSlice() {
		if d == path || utils.HasPathPrefix(d, path) {
			w.dirs.Remove(d)
		}
	}
	return KindFolder
}

func (w *Watcher) moveDirsLocked(oldPath, newPath string) {
	for _, d := range w.dirs.ToSlice() {
		if d == oldPath || utils.HasPathPrefix(d, oldPath) {
			w.dirs.Remove(d)
			w.dirs.Add(newPath + strings.TrimPrefix(d, oldPath))
		}
	}
	w.dirs.Add(newPath)
}

func (w *Watcher) debounce(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[ev.Path]; ok {
		p.timer.Stop()
		ev = mergeEvents(p.ev, ev)
	}
	path := ev.Path
	w.pending[path] = &pendingEvent{
		ev:    ev,
		timer: w.clock.AfterFunc(w.debounceTimeout, func() { w.flush(path) }),
	}
}

func (w *Watcher) flush(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()

	w.emit(p.ev)
}

func (w *Watcher) emit(ev Event) {
	if w.consumeIgnore(ev.Path) {
		slog.Debug("vault watcher ignored", "op", ev.Op, "path", ev.Path)
		return
	}
	slog.Debug("vault watcher", "op", ev.Op, "kind", ev.Kind, "path", ev.Path, "oldPath", ev.OldPath)
	w.publish(ev)
}

// mergeEvents folds a newer event for the same path into an older pending one.
func mergeEvents(older, newer Event) Event {
	switch {
	case newer.Op == OpDeleted:
		return newer
	case older.Op == OpCreated && newer.Op == OpModified:
		return older
	default:
		return newer
	}
}

func kindOf(info fs.FileInfo) Kind {
	if info.IsDir() {
		return KindFolder
	}
	return KindFile
}
