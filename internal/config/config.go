// Package config handles configuration loading and validation for the
// decdidctl demo harness. The C1-C6 core packages never read config --
// this exists only for the CLI's storage/device-binding/watcher wiring.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds decdidctl's daemon configuration.
type Config struct {
	// Method is the default DID method tag used when none is given on the
	// command line ("cardano", "key", ...).
	Method string `toml:"method" json:"method" yaml:"method"`

	// Network is the default DID network tag ("mainnet", "testnet", ...).
	Network string `toml:"network" json:"network" yaml:"network"`

	// StorePath is the path to the SQLite helper-record store.
	StorePath string `toml:"store_path" json:"store_path" yaml:"store_path"`

	// WatchPaths lists directories the demo daemon monitors for dropped
	// enrollment/verification request files.
	WatchPaths []string `toml:"watch_paths" json:"watch_paths" yaml:"watch_paths"`

	// DebounceSeconds is how long a watched file must be stable before the
	// daemon picks it up.
	DebounceSeconds int `toml:"debounce_seconds" json:"debounce_seconds" yaml:"debounce_seconds"`

	// RequireTPM, if true, fails startup when no hardware TPM is present
	// instead of falling back to a software-wrapped key.
	RequireTPM bool `toml:"require_tpm" json:"require_tpm" yaml:"require_tpm"`

	// LogPath is the path to the daemon's audit log file.
	LogPath string `toml:"log_path" json:"log_path" yaml:"log_path"`

	// LogFormat is "text" or "json".
	LogFormat string `toml:"log_format" json:"log_format" yaml:"log_format"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	base := filepath.Join(homeDir, ".decdid")

	return &Config{
		Method:          "cardano",
		Network:         "mainnet",
		StorePath:       filepath.Join(base, "helpers.db"),
		WatchPaths:      []string{},
		DebounceSeconds: 2,
		RequireTPM:      false,
		LogPath:         filepath.Join(base, "decdidctl.log"),
		LogFormat:       "text",
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".decdid", "config.toml")
}

// Load reads configuration from path. A missing file is not an error --
// DefaultConfig is returned as-is, matching decdidctl's zero-config mode.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := decodeByExtension(path, data, cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeByExtension parses data into cfg according to path's extension.
// TOML is the primary format (matching the demo harness's own config.toml),
// with JSON and YAML accepted too -- a deployment generating config from a
// templating pipeline rarely wants to be forced into TOML specifically.
func decodeByExtension(path string, data []byte, cfg *Config) error {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		_, err := toml.Decode(string(data), cfg)
		return err
	}
}

// Validate performs basic sanity checks over a loaded Config.
func Validate(c *Config) error {
	var errs []string
	if c.Method == "" {
		errs = append(errs, "method must not be empty")
	}
	if c.Network == "" {
		errs = append(errs, "network must not be empty")
	}
	if c.DebounceSeconds < 0 {
		errs = append(errs, "debounce_seconds must be >= 0")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Sprintf("log_format must be text or json, got %q", c.LogFormat))
	}
	if len(errs) == 0 {
		return nil
	}
	msg := errs[0]
	for _, e := range errs[1:] {
		msg += "; " + e
	}
	return fmt.Errorf("config: %s", msg)
}

