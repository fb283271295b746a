package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/vaultsync/internal/utils"
)

const (
	logsDir   = "logs"
	lockFile  = "vaultsync.lock"
	indexFile = "index.db"
	logFile   = "vaultsync.log"
)

var (
	ErrVaultLocked = errors.New("vault data dir locked by another process")
)

// Workspace is the on-disk layout of one daemon: the vault directory that is
// synced and the data directory holding the index, logs and the lock.
type Workspace struct {
	VaultDir  string
	DataDir   string
	LogsDir   string
	IndexPath string

	flock *flock.Flock
}

func NewWorkspace(vaultDir, dataDir string) (*Workspace, error) {
	vaultRoot, err := utils.ResolvePath(vaultDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", vaultDir, err)
	}
	dataRoot, err := utils.ResolvePath(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", dataDir, err)
	}
	if dataRoot == vaultRoot || utils.HasPathPrefix(filepath.ToSlash(dataRoot), filepath.ToSlash(vaultRoot)) {
		return nil, fmt.Errorf("data dir %s must not be inside the vault dir", dataRoot)
	}

	return &Workspace{
		VaultDir:  vaultRoot,
		DataDir:   dataRoot,
		LogsDir:   filepath.Join(dataRoot, logsDir),
		IndexPath: filepath.Join(dataRoot, indexFile),
		flock:     flock.New(filepath.Join(dataRoot, lockFile)),
	}, nil
}

// LogFilePath is where the daemon writes its log for dataDir.
func LogFilePath(dataDir string) string {
	return filepath.Join(dataDir, logsDir, logFile)
}

func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.DataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.DataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock data dir: %w", err)
	}
	if !locked {
		return ErrVaultLocked
	}

	return nil
}

func (w *Workspace) Unlock() error {
	// never remove a lock file held by another process
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock data dir: %w", err)
	}

	return os.Remove(w.flock.Path())
}

// Setup takes the lock and creates the directories the daemon needs.
func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "vault", w.VaultDir, "data", w.DataDir)

	for _, dir := range []string{w.VaultDir, w.LogsDir} {
		if err := utils.EnsureDir(dir); err != nil {
			w.Unlock()
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
