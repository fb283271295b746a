package index

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/vaultsync/internal/utils"
)

// indexVersion is the version tag written into every persisted document.
const indexVersion = 1

var ErrUnsupportedIndexVersion = errors.New("unsupported index version")

// Document is the persisted form of a SyncIndex.
type Document struct {
	Version         int                      `json:"version,omitempty"`
	VaultID         string                   `json:"vaultId"`
	LastFullSync    int64                    `json:"lastFullSync"`
	LastRemoteCheck int64                    `json:"lastRemoteCheck"`
	Files           map[string]*FileRecord   `json:"files"`
	Folders         map[string]*FolderRecord `json:"folders"`
}

// Snapshot returns a deep copy of the index as a versioned document.
func (x *SyncIndex) Snapshot() *Document {
	x.mu.RLock()
	defer x.mu.RUnlock()

	doc := &Document{
		Version:         indexVersion,
		VaultID:         x.vaultID,
		LastFullSync:    x.lastFullSync,
		LastRemoteCheck: x.lastRemoteCheck,
		Files:           make(map[string]*FileRecord, len(x.files)),
		Folders:         make(map[string]*FolderRecord, len(x.folders)),
	}
	for p, rec := range x.files {
		c := *rec
		doc.Files[p] = &c
	}
	for p, rec := range x.folders {
		c := *rec
		doc.Folders[p] = &c
	}
	return doc
}

// FromDocument builds an index from a decoded document. Keys are normalised
// and nil entries dropped. The document must not be used afterwards.
func FromDocument(doc *Document, opts ...Option) *SyncIndex {
	x := New(doc.VaultID, opts...)
	x.lastFullSync = doc.LastFullSync
	x.lastRemoteCheck = doc.LastRemoteCheck

	for p, rec := range doc.Files {
		p = utils.NormPath(p)
		if rec == nil || p == "" {
			continue
		}
		rec.Path = p
		if rec.Extension == "" {
			rec.Extension = utils.Extension(p)
		}
		x.files[p] = rec
	}
	for p, rec := range doc.Folders {
		p = utils.NormPath(p)
		if rec == nil || p == "" {
			continue
		}
		rec.Path = p
		x.folders[p] = rec
	}
	return x
}

func encodeDocument(doc *Document) ([]byte, error) {
	return jsonMarshal(doc)
}

// decodeDocument parses a persisted index. Documents without a version tag
// come from older releases and are migrated record by record: records that
// fail to decode are dropped instead of failing the whole load.
func decodeDocument(data []byte) (*Document, error) {
	var tagged struct {
		Version *int `json:"version"`
	}
	if err := jsonUnmarshal(data, &tagged); err != nil || tagged.Version == nil {
		return migrateDocument(data)
	}

	if *tagged.Version > indexVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedIndexVersion, *tagged.Version)
	}

	var doc Document
	if err := jsonUnmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode index document: %w", err)
	}
	doc.Version = indexVersion
	initMaps(&doc)
	return &doc, nil
}

// rawDocument is the loose shape used when migrating untagged documents.
type rawDocument struct {
	VaultID         string                `json:"vaultId"`
	LastFullSync    int64                 `json:"lastFullSync"`
	LastRemoteCheck int64                 `json:"lastRemoteCheck"`
	Files           map[string]rawMessage `json:"files"`
	Folders         map[string]rawMessage `json:"folders"`
}

func migrateDocument(data []byte) (*Document, error) {
	doc := &Document{Version: indexVersion}

	var raw rawDocument
	if err := jsonUnmarshal(data, &raw); err != nil {
		slog.Warn("index migration: unreadable document, starting empty", "error", err)
		initMaps(doc)
		return doc, nil
	}

	doc.VaultID = raw.VaultID
	doc.LastFullSync = raw.LastFullSync
	doc.LastRemoteCheck = raw.LastRemoteCheck
	initMaps(doc)

	dropped := 0
	for p, msg := range raw.Files {
		var rec FileRecord
		if err := jsonUnmarshal(msg, &rec); err != nil {
			dropped++
			continue
		}
		doc.Files[p] = &rec
	}
	for p, msg := range raw.Folders {
		var rec FolderRecord
		if err := jsonUnmarshal(msg, &rec); err != nil {
			dropped++
			continue
		}
		doc.Folders[p] = &rec
	}

	slog.Info("index migration", "vaultId", doc.VaultID, "files", len(doc.Files), "folders", len(doc.Folders), "dropped", dropped)
	return doc, nil
}

func initMaps(doc *Document) {
	if doc.Files == nil {
		doc.Files = make(map[string]*FileRecord)
	}
	if doc.Folders == nil {
		doc.Folders = make(map[string]*FolderRecord)
	}
}
