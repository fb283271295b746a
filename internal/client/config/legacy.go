package config

import (
	"bytes"
	"log/slog"

	"github.com/goccy/go-json"
)

const legacyIndexKey = "sync_index"

// LegacyIndex reads the index that older releases embedded in the config
// file under the sync_index key.
type LegacyIndex struct {
	path string
}

func NewLegacyIndex(path string) *LegacyIndex {
	return &LegacyIndex{path: path}
}

func (l *LegacyIndex) LoadLegacyIndex() ([]byte, bool, error) {
	if l.path == "" {
		return nil, false, nil
	}

	doc, err := readDoc(l.path)
	if err != nil {
		return nil, false, err
	}

	raw, ok := doc[legacyIndexKey]
	if !ok || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}
	return raw, true, nil
}

func (l *LegacyIndex) ClearLegacyIndex() error {
	if l.path == "" {
		return nil
	}

	err := updateFile(l.path, func(doc map[string]json.RawMessage) error {
		delete(doc, legacyIndexKey)
		return nil
	})
	if err == nil {
		slog.Info("legacy index removed from config", "path", l.path)
	}
	return err
}
