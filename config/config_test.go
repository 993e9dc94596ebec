package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	t.Setenv(envAddr, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
	if len(cfg.Server.AllowedOrigins) != 0 {
		t.Fatalf("no origin is allowed by default, got %v", cfg.Server.AllowedOrigins)
	}
	if !cfg.Workspace.PreserveComments {
		t.Fatal("comments are preserved by default")
	}
	if cfg.Source != "" {
		t.Fatalf("expected no source, got %q", cfg.Source)
	}
}

func TestLoadParsesYaml(t *testing.T) {
	t.Setenv(envAddr, "")
	path := filepath.Join(t.TempDir(), "picocontrol.yaml")
	content := strings.TrimSpace(`
server:
  addr: 127.0.0.1:9000
  allowed_origins:
    - http://localhost:3000
tools:
  picotool: /opt/pico/picotool
discovery:
  poll_interval: 10s
  timeout: 2s
workspace:
  root: /home/dev/pico
  preserve_comments: false
monitor:
  port: /dev/ttyUSB1
  baud: 9600
`)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("addr: %q", cfg.Server.Addr)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("allowed origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Tools.Picotool != "/opt/pico/picotool" {
		t.Errorf("picotool: %q", cfg.Tools.Picotool)
	}
	if cfg.Tools.OpenOCD != "openocd" {
		t.Errorf("unset tools keep defaults, got %q", cfg.Tools.OpenOCD)
	}
	if cfg.Discovery.PollInterval != 10*time.Second || cfg.Discovery.Timeout != 2*time.Second {
		t.Errorf("discovery: %+v", cfg.Discovery)
	}
	if cfg.Workspace.PreserveComments {
		t.Error("preserve_comments: false was ignored")
	}
	if cfg.Monitor.Baud != 9600 {
		t.Errorf("baud: %d", cfg.Monitor.Baud)
	}
	if cfg.Source != path {
		t.Errorf("source: %q", cfg.Source)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: :7000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(envConfigPath, path)
	t.Setenv(envAddr, ":7100")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Source != path {
		t.Errorf("expected config from env path, got %q", cfg.Source)
	}
	if cfg.Server.Addr != ":7100" {
		t.Errorf("expected env addr override, got %q", cfg.Server.Addr)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Setenv(envAddr, "")
	path := filepath.Join(t.TempDir(), "bad.yaml")
	content := "monitor:\n  baud: 0\nlogging:\n  level: loud\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"monitor.baud", "logging.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestInitDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "picocontrol.db")
	db, err := InitDatabase(path)
	if err != nil {
		t.Fatalf("InitDatabase returned error: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('projects', 'project_steps', 'discovery_log')`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("expected 3 tables, got %d", count)
	}

	// Migrations are idempotent.
	db2, err := InitDatabase(path)
	if err != nil {
		t.Fatalf("second InitDatabase returned error: %v", err)
	}
	db2.Close()
}
