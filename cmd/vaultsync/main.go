package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/vaultsync/internal/client"
	"github.com/openmined/vaultsync/internal/client/config"
	"github.com/openmined/vaultsync/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "vaultsync",
	Short:   "Keep a notes vault in sync with remote storage",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		// all good now, show header
		cmd.SilenceUsage = true
		showHeader(cmd.OutOrStdout())

		closeLog, err := setupFileLogging(cfg.DataDir)
		if err != nil {
			return err
		}
		defer closeLog()

		slog.Info("vaultsync", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)
		slog.Info("daemon using config", "path", cfg.Path, "vault", cfg.VaultDir, "data", cfg.DataDir, "remote", cfg.Remote.Kind)

		daemon, err := client.NewClientDaemon(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		if err := daemon.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("vault-dir", "v", "", fmt.Sprintf("Vault directory to sync (default %q)", config.DefaultVaultDir))
	rootCmd.Flags().StringP("data-dir", "d", "", fmt.Sprintf("Directory for the index, lock and logs (default %q)", config.DefaultDataDir))
	rootCmd.Flags().String("vault-id", "", "Remote vault id; the daemon idles until one is set")
	rootCmd.Flags().IntP("interval", "i", 0, fmt.Sprintf("Seconds between full syncs (default %d)", config.DefaultSyncSeconds))
	rootCmd.Flags().String("conflict", "", "Conflict resolution: auto, local, remote or manual (default \"auto\")")
	rootCmd.Flags().String("remote", "", "Remote kind: s3 or memory (default \"s3\")")
	rootCmd.Flags().String("bucket", "", "S3 bucket holding the vault")
	rootCmd.Flags().String("region", "", "S3 region")
	rootCmd.Flags().String("endpoint", "", "S3 compatible endpoint url")

	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "VaultSync config file")
	rootCmd.PersistentFlags().StringP("http-addr", "a", "", fmt.Sprintf("Control plane address (default %q)", config.DefaultHTTPAddr))
	rootCmd.PersistentFlags().StringP("http-token", "t", "", "Control plane access token")
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	slog.SetDefault(slog.New(newStdoutHandler()))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newStdoutHandler() slog.Handler {
	return tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
}
