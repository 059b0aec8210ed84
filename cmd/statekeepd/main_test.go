package main

import (
	"os"
	"testing"
)

func TestLoadConfigRequiresActiveDSN(t *testing.T) {
	os.Unsetenv("STATEKEEPD_CONFIG")
	os.Unsetenv("STATEKEEPD_ACTIVE_DSN")
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected an error when active_dsn is unset and no config file exists")
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("STATEKEEPD_CONFIG", "/nonexistent/statekeepd.yaml")
	t.Setenv("STATEKEEPD_ACTIVE_DSN", "file:envtest-active?mode=memory&cache=shared")
	t.Setenv("STATEKEEPD_HISTORY_DSN", "file:envtest-history?mode=memory&cache=shared")
	t.Setenv("STATEKEEPD_REGISTRY_ID", "envtest")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.RegistryID != "envtest" {
		t.Fatalf("RegistryID = %q, want envtest", cfg.RegistryID)
	}
	if cfg.ActiveDSN != "file:envtest-active?mode=memory&cache=shared" {
		t.Fatalf("ActiveDSN = %q", cfg.ActiveDSN)
	}
}

func TestPlaceholderStyle(t *testing.T) {
	cases := map[string]string{
		"sqlite3":  "?",
		"postgres": "$",
		"pgx":      "$",
	}
	for driver, want := range cases {
		if got := placeholderStyle(driver); got != want {
			t.Errorf("placeholderStyle(%q) = %q, want %q", driver, got, want)
		}
	}
}
