package vault

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T) *FSStore {
	t.Helper()
	s := NewFSStore(afero.NewMemMapFs())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFSStore_WriteReadStat(t *testing.T) {
	s := newMemStore(t)

	require.NoError(t, s.Write("notes/daily/today.md", []byte("hello")))
	assert.True(t, s.Exists("notes/daily/today.md"))
	assert.True(t, s.Exists("notes/daily"), "parents created")

	data, err := s.Read("/notes/daily/today.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	e, err := s.Stat("notes/daily/today.md")
	require.NoError(t, err)
	assert.Equal(t, KindFile, e.Kind)
	assert.Equal(t, int64(5), e.Size)
	assert.Equal(t, "notes/daily/today.md", e.Path)

	dir, err := s.Stat("notes")
	require.NoError(t, err)
	assert.True(t, dir.IsFolder())

	_, err = s.Read("notes")
	assert.ErrorIs(t, err, ErrIsFolder)

	_, err = s.Stat("missing.md")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestFSStore_ListAndWalk(t *testing.T) {
	s := newMemStore(t)
	require.NoError(t, s.Write("a.md", []byte("a")))
	require.NoError(t, s.Write("dir/b.md", []byte("b")))
	require.NoError(t, s.Write("dir/sub/c.md", []byte("c")))
	require.NoError(t, s.CreateFolder("empty"))

	top, err := s.List("")
	require.NoError(t, err)
	var names []string
	for _, e := range top {
		names = append(names, e.Path+":"+e.Kind.String())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"a.md:file", "dir:folder", "empty:folder"}, names)

	var walked []string
	require.NoError(t, s.Walk(func(e Entry) error {
		walked = append(walked, e.Path)
		return nil
	}))
	sort.Strings(walked)
	assert.Equal(t, []string{"a.md", "dir", "dir/b.md", "dir/sub", "dir/sub/c.md", "empty"}, walked)

	walked = nil
	require.NoError(t, s.Walk(func(e Entry) error {
		if e.IsFolder() && e.Path == "dir" {
			return filepath.SkipDir
		}
		walked = append(walked, e.Path)
		return nil
	}))
	sort.Strings(walked)
	assert.Equal(t, []string{"a.md", "empty"}, walked)
}

func TestFSStore_SetModTimeAndRemove(t *testing.T) {
	s := newMemStore(t)
	require.NoError(t, s.Write("a.md", []byte("a")))

	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.SetModTime("a.md", mtime))
	e, err := s.Stat("a.md")
	require.NoError(t, err)
	assert.True(t, e.ModTime.Equal(mtime))

	require.NoError(t, s.Remove("a.md"))
	assert.False(t, s.Exists("a.md"))
	assert.Error(t, s.Remove(""))
}

func TestFSStore_SubscribePublish(t *testing.T) {
	s := newMemStore(t)
	events, cancel := s.Subscribe()

	s.Publish(Event{Op: OpCreated, Kind: KindFile, Path: "a.md"})
	select {
	case ev := <-events:
		assert.Equal(t, OpCreated, ev.Op)
		assert.Equal(t, "a.md", ev.Path)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	_, ok := <-events
	assert.False(t, ok, "channel closed after cancel")
	cancel()
}

func TestIsHidden(t *testing.T) {
	assert.True(t, IsHidden(".obsidian/workspace.json"))
	assert.True(t, IsHidden("notes/.trash/a.md"))
	assert.False(t, IsHidden("notes/a.md"))
}

func TestHasher_CachesUntilChanged(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := NewFSStore(fsys)
	h := NewHasher(s)

	require.NoError(t, s.Write("a.md", []byte("one")))
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetModTime("a.md", t0))

	first, entry, err := h.Fingerprint("a.md")
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.Size)

	// same size and mtime: cached value wins even if bytes changed underneath
	require.NoError(t, afero.WriteFile(fsys, "/a.md", []byte("two"), 0o644))
	require.NoError(t, s.SetModTime("a.md", t0))
	cached, _, err := h.Fingerprint("a.md")
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	require.NoError(t, s.SetModTime("a.md", t0.Add(time.Second)))
	fresh, _, err := h.Fingerprint("a.md")
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)

	h.Forget("a.md")
	_, _, err = h.Fingerprint("missing.md")
	assert.Error(t, err)
}
