package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/vaultsync/internal/client/config"
	"github.com/openmined/vaultsync/internal/client/vaultmgr"
	"github.com/openmined/vaultsync/internal/client/workspace"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// ClientDaemon runs the vault manager and the control plane until its
// context is cancelled.
type ClientDaemon struct {
	mgr *vaultmgr.VaultManager
	cps *ControlPlaneServer
}

func NewClientDaemon(cfg *config.Config) (*ClientDaemon, error) {
	mgr, err := vaultmgr.New(cfg)
	if err != nil {
		return nil, err
	}

	cps, err := NewControlPlaneServer(&ControlPlaneConfig{
		Addr:        cfg.HTTP.Addr,
		AuthToken:   cfg.HTTP.Token,
		LogFilePath: workspace.LogFilePath(cfg.DataDir),
	}, mgr)
	if err != nil {
		return nil, err
	}

	return &ClientDaemon{
		mgr: mgr,
		cps: cps,
	}, nil
}

func (c *ClientDaemon) Start(ctx context.Context) error {
	slog.Info("client daemon start")

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := c.mgr.Start(egCtx); err != nil {
			return fmt.Errorf("failed to start vault manager: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		return c.cps.Start(egCtx)
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("stopping daemon")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return c.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("client daemon failure", "error", err)
		return err
	}

	slog.Info("client daemon stopped")
	return nil
}

func (c *ClientDaemon) Stop(ctx context.Context) error {
	c.mgr.Stop()
	if err := c.cps.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop control plane: %w", err)
	}
	return nil
}
