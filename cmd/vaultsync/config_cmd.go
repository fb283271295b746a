package main

import (
	"fmt"

	"github.com/openmined/vaultsync/internal/client/handlers"
	"github.com/openmined/vaultsync/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change the configuration",
	}
	cmd.AddCommand(newConfigPathCmd(), newConfigShowCmd(), newConfigSetCmd())
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath(cmd))
			return err
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			row(w, "config", cfg.Path)
			row(w, "vault id", orNone(cfg.VaultID))
			row(w, "vault dir", cfg.VaultDir)
			row(w, "data dir", cfg.DataDir)
			row(w, "sync interval", cfg.Interval())
			row(w, "conflict mode", cfg.ConflictResolution)
			row(w, "remote", cfg.Remote.Kind)
			if cfg.Remote.Bucket != "" {
				row(w, "bucket", cfg.Remote.Bucket)
				row(w, "region", orNone(cfg.Remote.Region))
				row(w, "endpoint", orNone(cfg.Remote.Endpoint))
				row(w, "root", orNone(cfg.Remote.Root))
			}
			if cfg.Remote.AccessKey != "" {
				row(w, "access key", utils.MaskSecret(cfg.Remote.AccessKey))
			}
			if cfg.Remote.SecretKey != "" {
				row(w, "secret key", utils.MaskSecret(cfg.Remote.SecretKey))
			}
			row(w, "http addr", cfg.HTTP.Addr)
			if cfg.HTTP.Token != "" {
				row(w, "http token", utils.MaskSecret(cfg.HTTP.Token))
			} else {
				row(w, "http token", yellow.Render("none, control plane is open"))
			}
			return nil
		},
	}
}

// newConfigSetCmd changes settings through the running daemon so they
// apply without a restart.
func newConfigSetCmd() *cobra.Command {
	var vaultID string
	var interval int
	var conflict string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change settings on the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req handlers.UpdateSettingsRequest
			if cmd.Flags().Changed("vault-id") {
				req.VaultID = &vaultID
			}
			if cmd.Flags().Changed("interval") {
				req.SyncInterval = &interval
			}
			if cmd.Flags().Changed("conflict") {
				req.ConflictResolution = &conflict
			}
			if req.VaultID == nil && req.SyncInterval == nil && req.ConflictResolution == nil {
				return fmt.Errorf("nothing to set, pass --vault-id, --interval or --conflict")
			}

			cp, err := newControlPlaneClient(cmd)
			if err != nil {
				return err
			}
			res, err := cp.UpdateSettings(cmd.Context(), &req)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, green.Render("settings saved"))
			row(w, "vault id", orNone(res.VaultID))
			row(w, "sync interval", res.SyncInterval)
			row(w, "conflict mode", res.ConflictResolution)
			return nil
		},
	}
	cmd.Flags().StringVar(&vaultID, "vault-id", "", "Remote vault id, empty to stop syncing")
	cmd.Flags().IntVar(&interval, "interval", 0, "Seconds between full syncs")
	cmd.Flags().StringVar(&conflict, "conflict", "", "Conflict resolution: auto, local, remote or manual")
	return cmd
}

func orNone(s string) string {
	if s == "" {
		return gray.Render("none")
	}
	return s
}
