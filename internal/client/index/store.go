package index

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/vaultsync/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_index (
    vault_id TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    document BLOB NOT NULL,
    updated_at TEXT NOT NULL -- RFC3339
);
`

var (
	ErrStoreNotOpen     = errors.New("index store not open")
	ErrStoreAlreadyOpen = errors.New("index store already open")
)

// Store persists a SyncIndex per vault.
type Store interface {
	Load(vaultID string) (*SyncIndex, error)
	Save(x *SyncIndex) error
	Close() error
}

// LegacySource is the older place an index used to live, embedded in the
// settings file without a version tag.
type LegacySource interface {
	// LoadLegacyIndex returns the raw legacy document, if any.
	LoadLegacyIndex() ([]byte, bool, error)
	// ClearLegacyIndex drops the legacy document once it was migrated.
	ClearLegacyIndex() error
}

type dbDocument struct {
	VaultID   string `db:"vault_id"`
	Version   int    `db:"version"`
	Document  []byte `db:"document"`
	UpdatedAt string `db:"updated_at"`
}

// SQLiteStore keeps one whole index document per vault in a sqlite table.
// Every save rewrites the row inside a transaction so a crash never leaves a
// partially written document behind.
type SQLiteStore struct {
	db     *sqlx.DB
	dbPath string
	legacy LegacySource
	opts   []Option
	now    func() time.Time
}

// NewSQLiteStore creates a store for dbPath. legacy may be nil. opts are
// passed to every index the store loads.
func NewSQLiteStore(dbPath string, legacy LegacySource, opts ...Option) *SQLiteStore {
	return &SQLiteStore{
		dbPath: dbPath,
		legacy: legacy,
		opts:   opts,
		now:    time.Now,
	}
}

func (s *SQLiteStore) Open() error {
	if s.db != nil {
		return ErrStoreAlreadyOpen
	}

	conn, err := db.Open(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open index store: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return fmt.Errorf("init index schema: %w", err)
	}

	s.db = conn
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return ErrStoreNotOpen
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		slog.Error("index store close", "error", err)
		return err
	}
	slog.Debug("index store closed")
	return nil
}

// Load returns the persisted index for vaultID. When nothing is stored yet,
// the legacy source is consulted and migrated once. Otherwise a new empty
// index is returned.
func (s *SQLiteStore) Load(vaultID string) (*SyncIndex, error) {
	if s.db == nil {
		return nil, ErrStoreNotOpen
	}

	var row dbDocument
	err := s.db.Get(&row, "SELECT vault_id, version, document, updated_at FROM sync_index WHERE vault_id = ?", vaultID)
	switch {
	case err == nil:
		doc, err := decodeDocument(row.Document)
		if err != nil {
			return nil, fmt.Errorf("load index %s: %w", vaultID, err)
		}
		doc.VaultID = vaultID
		slog.Debug("index loaded", "vaultId", vaultID, "files", len(doc.Files), "updated", row.UpdatedAt)
		return FromDocument(doc, s.opts...), nil

	case errors.Is(err, sql.ErrNoRows):
		return s.loadLegacy(vaultID)

	default:
		return nil, fmt.Errorf("query index %s: %w", vaultID, err)
	}
}

func (s *SQLiteStore) loadLegacy(vaultID string) (*SyncIndex, error) {
	if s.legacy == nil {
		return New(vaultID, s.opts...), nil
	}

	data, ok, err := s.legacy.LoadLegacyIndex()
	if err != nil {
		return nil, fmt.Errorf("read legacy index: %w", err)
	}
	if !ok || len(data) == 0 {
		return New(vaultID, s.opts...), nil
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("migrate legacy index: %w", err)
	}
	if doc.VaultID != "" && doc.VaultID != vaultID {
		slog.Warn("legacy index belongs to another vault, ignoring", "legacyVaultId", doc.VaultID, "vaultId", vaultID)
		return New(vaultID, s.opts...), nil
	}
	doc.VaultID = vaultID

	x := FromDocument(doc, s.opts...)
	if err := s.Save(x); err != nil {
		return nil, fmt.Errorf("persist migrated index: %w", err)
	}
	if err := s.legacy.ClearLegacyIndex(); err != nil {
		// the sqlite copy wins from now on, a stale legacy copy is harmless
		slog.Warn("clear legacy index", "error", err)
	}
	slog.Info("legacy index migrated", "vaultId", vaultID, "files", len(doc.Files), "folders", len(doc.Folders))
	return x, nil
}

// Save rewrites the whole document for the index's vault.
func (s *SQLiteStore) Save(x *SyncIndex) error {
	if s.db == nil {
		return ErrStoreNotOpen
	}

	doc := x.Snapshot()
	data, err := encodeDocument(doc)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	row := dbDocument{
		VaultID:   doc.VaultID,
		Version:   doc.Version,
		Document:  data,
		UpdatedAt: s.now().UTC().Format(time.RFC3339),
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin index save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `INSERT OR REPLACE INTO sync_index (vault_id, version, document, updated_at)
	          VALUES (:vault_id, :version, :document, :updated_at)`
	if _, err := tx.NamedExec(query, row); err != nil {
		return fmt.Errorf("save index %s: %w", doc.VaultID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index %s: %w", doc.VaultID, err)
	}

	slog.Debug("index saved", "vaultId", doc.VaultID, "files", len(doc.Files), "size", humanize.Bytes(uint64(len(data))))
	return nil
}

var _ Store = (*SQLiteStore)(nil)
