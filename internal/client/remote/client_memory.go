package remote

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/vaultsync/internal/utils"
)

const defaultMemoryPageSize = 100

// Operation names passed to the MemoryClient failure hook.
const (
	MemOpAuth      = "auth"
	MemOpContainer = "container"
	MemOpFolder    = "folder"
	MemOpList      = "list"
	MemOpUpload    = "upload"
	MemOpDownload  = "download"
	MemOpDelete    = "delete"
)

type memFolder struct {
	id     string
	name   string
	parent string
}

type memFile struct {
	info   FileInfo
	folder string
	data   []byte
	seq    int
}

// MemoryClient is an in-process Client with drive-like semantics: ids are
// opaque and independent of names, and a folder may hold several files with
// the same name.
type MemoryClient struct {
	mu         sync.Mutex
	folders    map[string]*memFolder
	files      map[string]*memFile
	containers map[string]string
	seq        int
	pageSize   int
	now        func() time.Time
	hook       func(op, target string) error
	calls      map[string]int
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		folders:    make(map[string]*memFolder),
		files:      make(map[string]*memFile),
		containers: make(map[string]string),
		pageSize:   defaultMemoryPageSize,
		now:        time.Now,
		calls:      make(map[string]int),
	}
}

func (m *MemoryClient) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.pageSize = n
	}
}

// SetClock sets the time source for modified times.
func (m *MemoryClient) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetFailureHook installs fn, which may fail any operation by returning an
// error. target is the name, id or path the operation acts on.
func (m *MemoryClient) SetFailureHook(fn func(op, target string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
}

// Calls returns how many times op was invoked.
func (m *MemoryClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemoryClient) enter(op, target string) error {
	m.calls[op]++
	if m.hook != nil {
		return m.hook(op, target)
	}
	return nil
}

func (m *MemoryClient) Authenticated(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MemOpAuth, ""); err != nil {
		return fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}
	return nil
}

func (m *MemoryClient) GetOrCreateContainer(ctx context.Context, vaultID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MemOpContainer, vaultID); err != nil {
		return "", err
	}
	if id, ok := m.containers[vaultID]; ok {
		return id, nil
	}
	id := m.newFolderLocked(vaultID, "")
	m.containers[vaultID] = id
	return id, nil
}

func (m *MemoryClient) EnsureFolderPath(ctx context.Context, relPath, parentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MemOpFolder, relPath); err != nil {
		return "", err
	}
	return m.ensureFolderLocked(relPath, parentID)
}

func (m *MemoryClient) ensureFolderLocked(relPath, parentID string) (string, error) {
	if _, ok := m.folders[parentID]; !ok {
		return "", fmt.Errorf("unknown folder %s", parentID)
	}
	id := parentID
	relPath = utils.NormPath(relPath)
	if relPath == "" {
		return id, nil
	}
	for _, seg := range strings.Split(relPath, "/") {
		id = m.childFolderLocked(id, seg)
	}
	return id, nil
}

func (m *MemoryClient) childFolderLocked(parent, name string) string {
	for _, f := range m.folders {
		if f.parent == parent && f.name == name {
			return f.id
		}
	}
	return m.newFolderLocked(name, parent)
}

func (m *MemoryClient) newFolderLocked(name, parent string) string {
	id := uuid.NewString()
	m.folders[id] = &memFolder{id: id, name: name, parent: parent}
	return id
}

// relPathLocked returns the path of folder id relative to container, and
// whether id lies inside container at all.
func (m *MemoryClient) relPathLocked(id, container string) (string, bool) {
	var segs []string
	for id != container {
		f, ok := m.folders[id]
		if !ok || f.parent == "" {
			return "", false
		}
		segs = append(segs, f.name)
		id = f.parent
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, "/"), true
}

func (m *MemoryClient) ListFiles(ctx context.Context, containerID, pageToken string) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MemOpList, containerID); err != nil {
		return nil, err
	}

	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
		offset = n
	}

	var all []*memFile
	for _, f := range m.files {
		dir, ok := m.relPathLocked(f.folder, containerID)
		if !ok {
			continue
		}
		f.info.Path = path.Join(dir, f.info.Name)
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].info.Path != all[j].info.Path {
			return all[i].info.Path < all[j].info.Path
		}
		return all[i].seq < all[j].seq
	})

	page := &Page{}
	end := min(offset+m.pageSize, len(all))
	for i := offset; i < end; i++ {
		page.Files = append(page.Files, all[i].info)
	}
	if end < len(all) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (m *MemoryClient) UploadFile(ctx context.Context, name string, data []byte, mimeType, folderID string) (*FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MemOpUpload, name); err != nil {
		return nil, err
	}
	if _, ok := m.folders[folderID]; !ok {
		return nil, fmt.Errorf("unknown folder %s", folderID)
	}
	if mimeType == "" {
		mimeType = utils.DetectContentType(name)
	}

	matches := m.findLocked(folderID, name)
	var f *memFile
	if len(matches) == 0 {
		f = m.addLocked(folderID, name)
	} else {
		f = matches[0]
		for _, dup := range matches[1:] {
			delete(m.files, dup.info.ID)
		}
	}

	f.data = append([]byte(nil), data...)
	f.info.MimeType = mimeType
	f.info.Size = int64(len(data))
	f.info.ModifiedTime = m.now().Truncate(time.Millisecond)
	f.info.Hash = utils.Fingerprint(data)

	info := f.info
	return &info, nil
}

func (m *MemoryClient) findLocked(folderID, name string) []*memFile {
	var out []*memFile
	for _, f := range m.files {
		if f.folder == folderID && f.info.Name == name {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (m *MemoryClient) addLocked(folderID, name string) *memFile {
	m.seq++
	f := &memFile{
		info:   FileInfo{ID: uuid.NewString(), Name: name},
		folder: folderID,
		seq:    m.seq,
	}
	m.files[f.info.ID] = f
	return f
}

func (m *MemoryClient) DownloadFile(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MemOpDownload, id); err != nil {
		return nil, err
	}
	f, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return append([]byte(nil), f.data...), nil
}

func (m *MemoryClient) DeleteFile(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MemOpDelete, id); err != nil {
		return err
	}
	if _, ok := m.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	delete(m.files, id)
	return nil
}

// Seed adds a file at relPath below containerID with the given modified
// time, bypassing the failure hook. It always creates a new object, so
// seeding the same path twice produces duplicates.
func (m *MemoryClient) Seed(containerID, relPath string, data []byte, modified time.Time) FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	relPath = utils.NormPath(relPath)
	folder, err := m.ensureFolderLocked(utils.ParentPath(relPath), containerID)
	if err != nil {
		panic(err)
	}
	f := m.addLocked(folder, path.Base(relPath))
	f.data = append([]byte(nil), data...)
	f.info.Path = relPath
	f.info.MimeType = utils.DetectContentType(relPath)
	f.info.Size = int64(len(data))
	f.info.ModifiedTime = modified.Truncate(time.Millisecond)
	f.info.Hash = utils.Fingerprint(data)
	return f.info
}

// Touch sets the modified time of an existing file.
func (m *MemoryClient) Touch(id string, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[id]; ok {
		f.info.ModifiedTime = modified.Truncate(time.Millisecond)
	}
}

// Content returns the stored bytes of a file by id.
func (m *MemoryClient) Content(id string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.data...), true
}

var _ Client = (*MemoryClient)(nil)
