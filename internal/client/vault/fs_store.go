package vault

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/openmined/vaultsync/internal/utils"
	"github.com/spf13/afero"
)

// FSStore is a LocalStore on top of an afero filesystem rooted at the vault
// directory.
type FSStore struct {
	fs      afero.Fs
	root    string
	hub     *hub
	watcher *Watcher
}

// NewFSStore wraps fsys, whose root is the vault root. Nothing watches fsys
// for changes; use Publish to feed events.
func NewFSStore(fsys afero.Fs) *FSStore {
	return &FSStore{
		fs:  fsys,
		hub: newHub(),
	}
}

// NewOSStore returns a store for the vault directory root on disk with a
// watcher that is started by Watch.
func NewOSStore(root string) (*FSStore, error) {
	abs, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault dir: %w", err)
	}
	if err := utils.EnsureDir(abs); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	// notify reports resolved paths, e.g. /private/var on macos
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	s := &FSStore{
		fs:   afero.NewBasePathFs(afero.NewOsFs(), abs),
		root: abs,
		hub:  newHub(),
	}
	s.watcher = NewWatcher(abs, s.hub.publish)
	return s, nil
}

// Root is the vault directory on disk, "" for non-OS stores.
func (s *FSStore) Root() string {
	return s.root
}

// Watch starts the filesystem watcher, if the store has one.
func (s *FSStore) Watch(ctx context.Context) error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Start(ctx)
}

// Close stops the watcher and closes every subscription.
func (s *FSStore) Close() error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.hub.closeAll()
	return nil
}

// Publish delivers ev to all subscribers.
func (s *FSStore) Publish(ev Event) {
	s.hub.publish(ev)
}

func (s *FSStore) Subscribe() (<-chan Event, func()) {
	return s.hub.subscribe()
}

func (s *FSStore) List(dir string) ([]Entry, error) {
	dir = utils.NormPath(dir)
	infos, err := afero.ReadDir(s.fs, abs(dir))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, toEntry(path.Join(dir, info.Name()), info))
	}
	return entries, nil
}

func (s *FSStore) Walk(fn func(Entry) error) error {
	return afero.Walk(s.fs, "/", func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := utils.NormPath(filepath.ToSlash(p))
		if rel == "" {
			return nil
		}
		return fn(toEntry(rel, info))
	})
}

func (s *FSStore) Stat(p string) (Entry, error) {
	p = utils.NormPath(p)
	info, err := s.fs.Stat(abs(p))
	if err != nil {
		return Entry{}, err
	}
	return toEntry(p, info), nil
}

func (s *FSStore) Read(p string) ([]byte, error) {
	p = utils.NormPath(p)
	info, err := s.fs.Stat(abs(p))
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("read %s: %w", p, ErrIsFolder)
	}
	return afero.ReadFile(s.fs, abs(p))
}

func (s *FSStore) Write(p string, data []byte) error {
	p = utils.NormPath(p)
	if parent := utils.ParentPath(p); parent != "" {
		if err := s.CreateFolder(parent); err != nil {
			return err
		}
	}
	s.ignoreOnce(p)
	return afero.WriteFile(s.fs, abs(p), data, 0o644)
}

func (s *FSStore) SetModTime(p string, t time.Time) error {
	p = utils.NormPath(p)
	s.ignoreOnce(p)
	return s.fs.Chtimes(abs(p), t, t)
}

func (s *FSStore) Exists(p string) bool {
	ok, err := afero.Exists(s.fs, abs(utils.NormPath(p)))
	return err == nil && ok
}

func (s *FSStore) Remove(p string) error {
	p = utils.NormPath(p)
	if p == "" {
		return fmt.Errorf("refusing to remove vault root")
	}
	s.ignoreOnce(p)
	return s.fs.RemoveAll(abs(p))
}

func (s *FSStore) CreateFolder(p string) error {
	p = utils.NormPath(p)
	if p == "" {
		return nil
	}
	if s.watcher != nil {
		s.watcher.trackDir(p)
	}
	return s.fs.MkdirAll(abs(p), 0o755)
}

func (s *FSStore) ignoreOnce(p string) {
	if s.watcher != nil {
		s.watcher.IgnoreOnce(p)
	}
}

// abs maps a vault relative path to the rooted form afero filesystems use.
func abs(p string) string {
	return "/" + p
}

func toEntry(p string, info fs.FileInfo) Entry {
	e := Entry{
		Path:        p,
		ModTime:     info.ModTime(),
		CreatedTime: info.ModTime(), // afero has no portable birth time
	}
	if info.IsDir() {
		e.Kind = KindFolder
		return e
	}
	e.Kind = KindFile
	e.Size = info.Size()
	return e
}

// IsHidden reports whether any segment of p starts with a dot.
func IsHidden(p string) bool {
	for _, seg := range strings.Split(utils.NormPath(p), "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

var _ LocalStore = (*FSStore)(nil)
