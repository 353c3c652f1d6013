package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Method != "cardano" || cfg.Network != "mainnet" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
method = "key"
network = "testnet"
debounce_seconds = 5
log_format = "json"
watch_paths = ["/tmp/a", "/tmp/b"]
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Method != "key" || cfg.Network != "testnet" || cfg.DebounceSeconds != 5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.WatchPaths) != 2 {
		t.Fatalf("expected 2 watch paths, got %d", len(cfg.WatchPaths))
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
method: key
network: testnet
debounce_seconds: 7
log_format: json
watch_paths:
  - /tmp/a
  - /tmp/b
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Method != "key" || cfg.Network != "testnet" || cfg.DebounceSeconds != 7 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.WatchPaths) != 2 {
		t.Fatalf("expected 2 watch paths, got %d", len(cfg.WatchPaths))
	}
}

func TestLoadRejectsInvalidLogFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`log_format = "xml"`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unsupported log_format")
	}
}

func TestValidateRejectsEmptyMethod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Method = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty method")
	}
}
