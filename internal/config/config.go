// Package config loads and resolves the target list fleetship deploys to.
// It is the ConfigLoader collaborator named in spec §6: out of the core's
// tested surface, but a real, runnable implementation backed by viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Protocol identifies which transport driver a target uses.
type Protocol string

const (
	ProtocolLocal Protocol = "local"
	ProtocolSFTP  Protocol = "sftp"
	ProtocolSCP   Protocol = "scp"
	ProtocolRsync Protocol = "rsync"
)

// AuthMethod identifies how a driver authenticates to a remote target.
type AuthMethod string

const (
	AuthKeyFile  AuthMethod = "key-file"
	AuthPassword AuthMethod = "password"
	AuthNone     AuthMethod = "none"
)

// SyncMode controls whether a target's deletions are planned.
type SyncMode string

const (
	SyncUpdate SyncMode = "update"
	SyncMirror SyncMode = "mirror"
)

// TargetConfig is one resolved deployment destination (spec §3).
type TargetConfig struct {
	Host                 string         `mapstructure:"host"`
	Port                 int            `mapstructure:"port"`
	User                 string         `mapstructure:"user"`
	Protocol             Protocol       `mapstructure:"protocol"`
	Dest                 string         `mapstructure:"dest"`
	Auth                 AuthMethod     `mapstructure:"auth"`
	KeyFile              string         `mapstructure:"key_file"`
	Password             string         `mapstructure:"password"`
	SyncMode             SyncMode       `mapstructure:"sync_mode"`
	PreservePermissions  bool           `mapstructure:"preserve_permissions"`
	PreserveTimestamps   bool           `mapstructure:"preserve_timestamps"`
	Timeout              time.Duration  `mapstructure:"timeout"`
	Retry                int            `mapstructure:"retry"`
	Ignore               []string       `mapstructure:"ignore"`
	ProtocolOptions      map[string]any `mapstructure:"protocol_options"`
}

// Identity returns this target's unique key: host:port:dest. Two targets
// with identical identity are the same destination (spec §3).
func (t TargetConfig) Identity() string {
	return fmt.Sprintf("%s:%d:%s", t.Host, t.Port, t.Dest)
}

// Config is the top-level file schema: the review server's loopback port
// plus the resolved target list.
type Config struct {
	ReviewPort int            `mapstructure:"review_port"`
	Targets    []TargetConfig `mapstructure:"targets"`
}

var (
	cfg        *Config
	configPath string
)

// Init locates (and creates, if absent) the config directory and primes
// viper's defaults and environment bindings. It does not require the file
// to already exist.
func Init() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "fleetship")
	configPath = filepath.Join(configDir, "config.yaml")

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("review_port", 4173)
	viper.SetDefault("targets", []map[string]any{})

	viper.SetEnvPrefix("FLEETSHIP")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// Load returns the resolved target list, initializing the config system
// first if it has not been initialized yet. This is the ConfigLoader
// collaborator named in spec §6.
func Load() ([]TargetConfig, error) {
	if cfg == nil {
		if err := Init(); err != nil {
			return nil, err
		}
	}
	return cfg.Targets, nil
}

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = &Config{}
	}
	return cfg
}

// Save writes the current configuration to disk.
func Save() error {
	viper.Set("review_port", cfg.ReviewPort)
	viper.Set("targets", cfg.Targets)
	return viper.WriteConfigAs(configPath)
}

// SetTargets replaces the resolved target list.
func SetTargets(targets []TargetConfig) {
	cfg.Targets = targets
}

// SetReviewPort updates the review server's default loopback port.
func SetReviewPort(port int) {
	cfg.ReviewPort = port
}

// GetConfigPath returns the path to the config file.
func GetConfigPath() string {
	return configPath
}

// IsConfigured returns true if at least one target is resolved.
func IsConfigured() bool {
	return cfg != nil && len(cfg.Targets) > 0
}
