package vault

import (
	"errors"
	"time"
)

var ErrIsFolder = errors.New("path is a folder")

// Kind tags an Entry or Event as a file or a folder.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "file"
}

// Entry is a file or folder in the vault. Path is vault relative and uses
// forward slashes.
type Entry struct {
	Kind        Kind
	Path        string
	Size        int64
	ModTime     time.Time
	CreatedTime time.Time
}

func (e Entry) IsFolder() bool {
	return e.Kind == KindFolder
}

type Op int

const (
	OpCreated Op = iota + 1
	OpModified
	OpDeleted
	OpRenamed
)

func (o Op) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpModified:
		return "modified"
	case OpDeleted:
		return "deleted"
	case OpRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is a change notification from the local store. OldPath is only set
// for renames.
type Event struct {
	Op      Op
	Kind    Kind
	Path    string
	OldPath string
}
