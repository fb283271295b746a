package main

import (
	"os"

	"github.com/openmined/vaultsync/internal/client/config"
	"github.com/spf13/cobra"
)

const configPathEnv = config.EnvPrefix + "_CONFIG_PATH"

// viper key -> flag name
var flagBindings = map[string]string{
	"vault_dir":           "vault-dir",
	"data_dir":            "data-dir",
	"vault_id":            "vault-id",
	"sync_interval":       "interval",
	"conflict_resolution": "conflict",
	"remote.kind":         "remote",
	"remote.bucket":       "bucket",
	"remote.region":       "region",
	"remote.endpoint":     "endpoint",
	"http.addr":           "http-addr",
	"http.token":          "http-token",
}

// resolveConfigPath honors, in order, an explicit --config flag, the
// VAULTSYNC_CONFIG_PATH environment variable and the default path.
func resolveConfigPath(cmd *cobra.Command) string {
	if cfgFlag := cmd.Flag("config"); cfgFlag != nil && cfgFlag.Changed {
		return cfgFlag.Value.String()
	}
	if envPath := os.Getenv(configPathEnv); envPath != "" {
		return envPath
	}
	return config.DefaultConfigPath
}

// loadConfig merges defaults, the config file, VAULTSYNC_* variables and
// the flags that were set. The result is not validated.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := resolveConfigPath(cmd)

	v := config.NewViper()
	if err := config.ReadFile(v, path); err != nil {
		return nil, err
	}

	for key, name := range flagBindings {
		// unset flags must not shadow the config file
		if f := cmd.Flag(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	return config.FromViper(v, path)
}
