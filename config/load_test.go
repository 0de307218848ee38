package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsYAMLWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "db_driver: sqlite\ndb_path: " + filepath.Join(dir, "serima.db") + "\npublic_url: https://serima.example.lu\nincidents:\n  max_preliminary_per_day: 5\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PublicURL != "https://serima.example.lu" {
		t.Fatalf("unexpected public url %q", cfg.PublicURL)
	}
	if cfg.Incidents.MaxPreliminaryPerDay != 5 {
		t.Fatalf("expected cap 5, got %d", cfg.Incidents.MaxPreliminaryPerDay)
	}
	if cfg.SiteName != "governanceplatform" {
		t.Fatalf("expected default site name, got %q", cfg.SiteName)
	}
	if cfg.Email.Transport != "file" {
		t.Fatalf("expected file transport by default, got %q", cfg.Email.Transport)
	}
	if cfg.PageSize() != 20 {
		t.Fatalf("expected page size 20, got %d", cfg.PageSize())
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("db_driver: oracle\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestEffectiveSessionTTLIsCapped(t *testing.T) {
	cfg := &AppConfig{SessionTTL: 10 * time.Hour}
	if got := cfg.EffectiveSessionTTL(); got != 3*time.Hour {
		t.Fatalf("expected cap of 3h, got %s", got)
	}
	cfg.SessionTTL = 15 * time.Minute
	if got := cfg.EffectiveSessionTTL(); got != 15*time.Minute {
		t.Fatalf("expected 15m, got %s", got)
	}
}
