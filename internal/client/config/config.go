package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/vaultsync/internal/client/remote"
	"github.com/openmined/vaultsync/internal/client/sync"
	"github.com/openmined/vaultsync/internal/utils"
	"github.com/spf13/viper"
)

const (
	EnvPrefix          = "VAULTSYNC"
	DefaultHTTPAddr    = "localhost:7939"
	DefaultSyncSeconds = int(sync.DefaultSyncInterval / time.Second)
	MinSyncSeconds     = int(sync.MinSyncInterval / time.Second)
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".vaultsync", "config.json")
	DefaultDataDir    = filepath.Join(home, ".vaultsync")
	DefaultVaultDir   = filepath.Join(home, "Vault")
)

var (
	ErrNoVaultDir      = errors.New("vault dir is required")
	ErrInvalidInterval = fmt.Errorf("sync interval must be at least %d seconds", MinSyncSeconds)
	ErrNoBucket        = errors.New("remote bucket is required for s3")
)

type RemoteConfig struct {
	Kind      string `json:"kind" mapstructure:"kind"`
	Bucket    string `json:"bucket,omitempty" mapstructure:"bucket"`
	Region    string `json:"region,omitempty" mapstructure:"region"`
	Endpoint  string `json:"endpoint,omitempty" mapstructure:"endpoint"`
	AccessKey string `json:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string `json:"secret_key,omitempty" mapstructure:"secret_key"`
	Root      string `json:"root,omitempty" mapstructure:"root"`
}

type HTTPConfig struct {
	Addr  string `json:"addr" mapstructure:"addr"`
	Token string `json:"token,omitempty" mapstructure:"token"`
}

type Config struct {
	VaultID            string       `json:"vault_id" mapstructure:"vault_id"`
	VaultDir           string       `json:"vault_dir" mapstructure:"vault_dir"`
	DataDir            string       `json:"data_dir" mapstructure:"data_dir"`
	SyncInterval       int          `json:"sync_interval" mapstructure:"sync_interval"`
	ConflictResolution string       `json:"conflict_resolution" mapstructure:"conflict_resolution"`
	Remote             RemoteConfig `json:"remote" mapstructure:"remote"`
	HTTP               HTTPConfig   `json:"http" mapstructure:"http"`
	Path               string       `json:"-" mapstructure:"-"`
}

// Validate normalizes paths and fills defaults. It does not require a vault
// id, a daemon without one waits for it to be set.
func (c *Config) Validate() error {
	if c.VaultDir == "" {
		return ErrNoVaultDir
	}

	var err error
	if c.VaultDir, err = utils.ResolvePath(c.VaultDir); err != nil {
		return fmt.Errorf("vault dir: %w", err)
	}

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.DataDir, err = utils.ResolvePath(c.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	c.VaultID = strings.TrimSpace(c.VaultID)

	switch {
	case c.SyncInterval == 0:
		c.SyncInterval = DefaultSyncSeconds
	case c.SyncInterval < MinSyncSeconds:
		return fmt.Errorf("%w, got %d", ErrInvalidInterval, c.SyncInterval)
	}

	mode, err := sync.ParseConflictMode(c.ConflictResolution)
	if err != nil {
		return err
	}
	c.ConflictResolution = string(mode)

	c.Remote.Kind = strings.ToLower(strings.TrimSpace(c.Remote.Kind))
	switch c.Remote.Kind {
	case "":
		c.Remote.Kind = remote.KindS3
		fallthrough
	case remote.KindS3:
		if c.Remote.Bucket == "" {
			return ErrNoBucket
		}
	case remote.KindMemory:
	default:
		return fmt.Errorf("invalid remote kind %q (want %s or %s)", c.Remote.Kind, remote.KindS3, remote.KindMemory)
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}

	return nil
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.SyncInterval) * time.Second
}

func (c *Config) ConflictMode() sync.ConflictMode {
	mode, _ := sync.ParseConflictMode(c.ConflictResolution)
	return mode
}

func (c *Config) S3() *remote.S3Config {
	return &remote.S3Config{
		Bucket:    c.Remote.Bucket,
		Region:    c.Remote.Region,
		AccessKey: c.Remote.AccessKey,
		SecretKey: c.Remote.SecretKey,
		Endpoint:  c.Remote.Endpoint,
		Root:      c.Remote.Root,
	}
}

// Save writes the config to c.Path. Keys of the existing file that the
// config does not own, such as a not yet migrated sync_index, are kept.
func (c *Config) Save() error {
	if c.Path == "" {
		return errors.New("config path not set")
	}

	return updateFile(c.Path, func(doc map[string]json.RawMessage) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return err
		}
		for k, v := range fields {
			doc[k] = v
		}
		return nil
	})
}

// NewViper returns a viper instance with every key defaulted and bound to
// VAULTSYNC_* environment variables. Nested keys use an underscore, e.g.
// VAULTSYNC_REMOTE_BUCKET.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")

	v.SetDefault("vault_id", "")
	v.SetDefault("vault_dir", DefaultVaultDir)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("sync_interval", DefaultSyncSeconds)
	v.SetDefault("conflict_resolution", string(sync.ConflictAuto))
	v.SetDefault("remote.kind", remote.KindS3)
	v.SetDefault("remote.bucket", "")
	v.SetDefault("remote.region", "")
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.access_key", "")
	v.SetDefault("remote.secret_key", "")
	v.SetDefault("remote.root", "")
	v.SetDefault("http.addr", DefaultHTTPAddr)
	v.SetDefault("http.token", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile reads path into v. A missing file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return fmt.Errorf("config read '%s': %w", path, err)
		}
	}
	return nil
}

// FromViper decodes v into a Config. The result is not validated.
func FromViper(v *viper.Viper, path string) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = path
	return &cfg, nil
}

// Load reads the config file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := NewViper()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	cfg, err := FromViper(v, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readDoc(path string) (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	} else if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config parse '%s': %w", path, err)
	}
	return doc, nil
}

func updateFile(path string, fn func(doc map[string]json.RawMessage) error) error {
	doc, err := readDoc(path)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	// the file may hold credentials
	return os.WriteFile(path, data, 0600)
}
