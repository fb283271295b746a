package vault

import (
	"time"
)

// LocalStore is the vault's local file tree.
type LocalStore interface {
	// List returns the direct children of dir. "" is the vault root.
	List(dir string) ([]Entry, error)
	// Walk visits every entry below the root, parents before children.
	// Returning filepath.SkipDir from fn for a folder skips it.
	Walk(fn func(Entry) error) error
	Stat(path string) (Entry, error)
	Read(path string) ([]byte, error)
	// Write creates or replaces a file, creating parent folders.
	Write(path string, data []byte) error
	SetModTime(path string, t time.Time) error
	Exists(path string) bool
	Remove(path string) error
	CreateFolder(path string) error
	// Subscribe delivers change events until the returned cancel is called.
	Subscribe() (<-chan Event, func())
}
