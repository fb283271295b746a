package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openmined/vaultsync/internal/client/middleware"
	"github.com/openmined/vaultsync/internal/client/vaultmgr"
)

type ControlPlaneServer struct {
	config   *ControlPlaneConfig
	server   *http.Server
	vaultMgr *vaultmgr.VaultManager
}

func NewControlPlaneServer(config *ControlPlaneConfig, vaultMgr *vaultmgr.VaultManager) (*ControlPlaneServer, error) {
	if _, err := addrToURL(config.Addr); err != nil {
		return nil, err
	}

	routes, err := SetupRoutes(vaultMgr, &RouteConfig{
		Auth: middleware.TokenAuthConfig{
			Token: config.AuthToken,
		},
		RateLimit:   config.RateLimit,
		LogFilePath: config.LogFilePath,
	})
	if err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Addr:    config.Addr,
		Handler: routes,
		// a full sync or reconcile runs inside the request
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	return &ControlPlaneServer{
		config:   config,
		server:   httpServer,
		vaultMgr: vaultMgr,
	}, nil
}

// Start serves until Stop is called.
func (s *ControlPlaneServer) Start(ctx context.Context) error {
	url, _ := addrToURL(s.config.Addr)
	slog.Info("control plane start", "url", url, "auth", s.config.AuthToken != "")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control plane: %w", err)
	}
	return nil
}

func (s *ControlPlaneServer) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	return s.server.Shutdown(ctx)
}

// addrToURL turns a listen address into the url clients reach it on.
func addrToURL(addr string) (string, error) {
	if addr == "" {
		return "", errors.New("empty address")
	}
	if strings.Contains(addr, "://") {
		return "", fmt.Errorf("address %q must not have a scheme", addr)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("address %q: %w", addr, err)
	}
	if port == "" {
		return "", fmt.Errorf("address %q has no port", addr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}
