package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfigWhenAbsent(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.ListenAddr != DefaultConfig().Network.ListenAddr {
		t.Fatalf("listen addr = %q, want default %q", cfg.Network.ListenAddr, DefaultConfig().Network.ListenAddr)
	}

	if _, err := os.Stat(Path(dir)); err != nil {
		t.Fatalf("expected config file to be created at %s: %v", Path(dir), err)
	}
}

func TestLoadReadsExistingOverrides(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Network.ListenAddr = "0.0.0.0:9999"
	cfg.Storage.DesiredTimeBetweenBlocks = 5
	if err := cfg.Save(Path(dir)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Network.ListenAddr != "0.0.0.0:9999" {
		t.Fatalf("listen addr = %q, want %q", loaded.Network.ListenAddr, "0.0.0.0:9999")
	}
	if loaded.Storage.DesiredTimeBetweenBlocks != 5 {
		t.Fatalf("desired time between blocks = %d, want 5", loaded.Storage.DesiredTimeBetweenBlocks)
	}
}

func TestExpandPathExpandsHome(t *testing.T) {
	expanded := ExpandPath("~/.sqlchaind")
	if !filepath.IsAbs(expanded) {
		t.Fatalf("expected an absolute path, got %q", expanded)
	}
	if expanded == "~/.sqlchaind" {
		t.Fatal("ExpandPath did not expand the leading ~")
	}
}

func TestExpandPathLeavesAbsolutePathAlone(t *testing.T) {
	if got := ExpandPath("/var/lib/sqlchaind"); got != "/var/lib/sqlchaind" {
		t.Fatalf("ExpandPath modified an already-absolute path: %q", got)
	}
}
