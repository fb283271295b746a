package vaultmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openmined/vaultsync/internal/client/config"
	vsync "github.com/openmined/vaultsync/internal/client/sync"
	"github.com/openmined/vaultsync/internal/client/vaultsite"
)

var (
	ErrVaultAlreadyStarted = errors.New("vault already started")
	ErrVaultNotStarted     = errors.New("vault not started")
	ErrVaultNotReady       = errors.New("vault is still starting")
	ErrConfigIsNil         = errors.New("config is nil")
	ErrInvalidSettings     = errors.New("invalid settings")
)

// VaultManager owns the lifecycle of the configured vault. A daemon without a
// vault id keeps running and provisions the vault once one is set.
type VaultManager struct {
	config  *config.Config
	site    *vaultsite.VaultSite
	status  VaultStatus
	siteErr error
	ctx     context.Context
	mu      sync.RWMutex

	// serializes settings updates
	muUpdate sync.Mutex
}

func New(cfg *config.Config) (*VaultManager, error) {
	if cfg == nil {
		return nil, ErrConfigIsNil
	}
	return &VaultManager{
		config: cfg,
		status: VaultStatusUnprovisioned,
		ctx:    context.Background(),
	}, nil
}

func (m *VaultManager) Start(ctx context.Context) error {
	slog.Info("vault manager start")

	m.mu.Lock()
	m.ctx = ctx
	cfg := m.config
	m.mu.Unlock()

	if cfg.VaultID == "" {
		slog.Info("vault id not configured. waiting to be provisioned.")
		return nil
	}

	// a vault that fails to start can be provisioned again through the
	// settings, so don't bubble up the error
	if err := m.provision(cfg); err != nil {
		slog.Error("vault start", "error", err)
	}
	return nil
}

func (m *VaultManager) Stop() {
	m.mu.Lock()
	site := m.site
	m.site = nil
	m.status = VaultStatusUnprovisioned
	m.mu.Unlock()

	if site != nil {
		site.Stop()
	}
	slog.Info("vault manager stopped")
}

func (m *VaultManager) Get() (*vaultsite.VaultSite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.site == nil {
		return nil, ErrVaultNotStarted
	}
	return m.site, nil
}

// Engine returns the running sync engine.
func (m *VaultManager) Engine() (*vsync.SyncEngine, error) {
	site, err := m.Get()
	if err != nil {
		return nil, err
	}
	engine := site.Engine()
	if engine == nil {
		return nil, ErrVaultNotReady
	}
	return engine, nil
}

func (m *VaultManager) Status() *VaultManagerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &VaultManagerStatus{
		Status: m.status,
		Error:  m.siteErr,
	}
}

// Config returns a copy of the current config.
func (m *VaultManager) Config() config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// UpdateSettings validates and persists the update, then applies it. Sync
// interval and conflict mode take effect on the running engine; a new vault
// id restarts the vault.
func (m *VaultManager) UpdateSettings(update SettingsUpdate) (*config.Config, error) {
	m.muUpdate.Lock()
	defer m.muUpdate.Unlock()

	current := m.Config()
	next := current
	if update.VaultID != nil {
		next.VaultID = *update.VaultID
	}
	if update.SyncInterval != nil {
		next.SyncInterval = *update.SyncInterval
	}
	if update.ConflictResolution != nil {
		next.ConflictResolution = *update.ConflictResolution
	}

	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if next.Path != "" {
		if err := next.Save(); err != nil {
			return nil, fmt.Errorf("save config: %w", err)
		}
	}

	m.mu.Lock()
	m.config = &next
	m.mu.Unlock()

	slog.Info("settings updated", "vault", next.VaultID, "interval", next.SyncInterval, "conflicts", next.ConflictResolution)

	if next.VaultID != current.VaultID {
		m.Stop()
		if next.VaultID != "" {
			if err := m.provision(&next); err != nil {
				return &next, err
			}
		}
		return &next, nil
	}

	if engine, err := m.Engine(); err == nil {
		engine.SetSyncInterval(next.Interval())
		if err := engine.SetConflictMode(next.ConflictMode()); err != nil {
			return &next, err
		}
	} else {
		slog.Debug("settings saved, engine not running", "reason", err)
	}
	return &next, nil
}

func (m *VaultManager) provision(cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg == nil {
		return ErrConfigIsNil
	}
	if m.site != nil {
		return ErrVaultAlreadyStarted
	}

	m.status = VaultStatusProvisioning
	m.siteErr = nil

	site, err := vaultsite.New(m.ctx, cfg)
	if err != nil {
		m.siteErr = err
		m.status = VaultStatusError
		return fmt.Errorf("create vault: %w", err)
	}
	m.site = site

	ctx := m.ctx
	go func() {
		err := site.Start(ctx)

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.site != site {
			// stopped or replaced while starting
			return
		}
		if err != nil {
			slog.Error("start vault", "error", err)
			m.site = nil
			m.siteErr = err
			m.status = VaultStatusError
			return
		}
		m.status = VaultStatusProvisioned
	}()

	return nil
}
