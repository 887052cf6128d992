package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("test", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listen = %s", cfg.ListenAddr)
	}
	if cfg.BaseChainURL != DefaultBaseChainURL {
		t.Fatalf("basechain = %s", cfg.BaseChainURL)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("loglevel = %s", cfg.LogLevel)
	}
	if cfg.Metrics {
		t.Fatal("metrics should default off")
	}
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load("test", []string{
		"-listen", "0.0.0.0:9999",
		"-basechain", "memory",
		"-loglevel", "debug",
		"-metrics",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != "0.0.0.0:9999" || cfg.BaseChainURL != "memory" || cfg.LogLevel != "debug" || !cfg.Metrics {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadYAMLFileWithFlagOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "listen: 1.2.3.4:1111\nloglevel: warn\nmetrics: true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("test", []string{"-config", path, "-listen", "5.6.7.8:2222"})
	if err != nil {
		t.Fatal(err)
	}
	// The flag wins over the file; the file wins over the default.
	if cfg.ListenAddr != "5.6.7.8:2222" {
		t.Fatalf("listen = %s, want flag value", cfg.ListenAddr)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("loglevel = %s, want file value", cfg.LogLevel)
	}
	if !cfg.Metrics {
		t.Fatal("metrics should come from the file")
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	if _, err := Load("test", []string{"-loglevel", "chatty"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadRejectsUnknownYAMLKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("no_such_key: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load("test", []string{"-config", path}); err == nil {
		t.Fatal("expected strict-parse error")
	}
}
