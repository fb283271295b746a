package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrFileNotFound     = errors.New("remote file not found")
	ErrNotAuthenticated = errors.New("remote not authenticated")
)

// FileInfo describes one object in a vault container. Path is relative to the
// container; Name is the last path segment.
type FileInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Hash         string    `json:"hash,omitempty"`
}

// Page is one page of a container listing. An empty NextPageToken marks the
// last page.
type Page struct {
	Files         []FileInfo
	NextPageToken string
}

// Client is an authenticated remote object store.
type Client interface {
	Authenticated(ctx context.Context) error
	// GetOrCreateContainer returns the id of the folder dedicated to a vault.
	GetOrCreateContainer(ctx context.Context, vaultID string) (string, error)
	// EnsureFolderPath creates every missing folder of relPath below parentID
	// and returns the id of the deepest one.
	EnsureFolderPath(ctx context.Context, relPath, parentID string) (string, error)
	ListFiles(ctx context.Context, containerID, pageToken string) (*Page, error)
	// UploadFile creates or replaces the file called name in folderID.
	// Other files with the same name in that folder are removed.
	UploadFile(ctx context.Context, name string, data []byte, mimeType, folderID string) (*FileInfo, error)
	DownloadFile(ctx context.Context, id string) ([]byte, error)
	DeleteFile(ctx context.Context, id string) error
}

// ListAll pages through the whole container listing.
func ListAll(ctx context.Context, c Client, containerID string) ([]FileInfo, error) {
	var (
		files []FileInfo
		token string
	)
	for {
		page, err := c.ListFiles(ctx, containerID, token)
		if err != nil {
			return nil, fmt.Errorf("list container %s: %w", containerID, err)
		}
		files = append(files, page.Files...)
		if page.NextPageToken == "" {
			return files, nil
		}
		token = page.NextPageToken
	}
}
