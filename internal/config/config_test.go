package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Scheduler.CommandTimeout != 30*time.Second || cfg.Scheduler.PollSeconds != 5 {
		t.Errorf("Scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.Username != "fireuser" || cfg.Scheduler.KeepEnv {
		t.Errorf("Scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Server.Addr != ":8080" || cfg.Worker.Poll != 5*time.Second {
		t.Errorf("Server/Worker = %+v %+v", cfg.Server, cfg.Worker)
	}
	if strings.HasPrefix(cfg.DBPath, "~") || !strings.HasSuffix(cfg.DBPath, filepath.Join(".firebridge", "queue.db")) {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "firebridge.yaml")
	content := `
db_path: /var/lib/firebridge/queue.db
log:
  level: debug
  format: json
scheduler:
  keep_env: true
  command_timeout: 2m
  poll_seconds: 10
worker:
  poll: 500ms
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/var/lib/firebridge/queue.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if !cfg.Scheduler.KeepEnv || cfg.Scheduler.CommandTimeout != 2*time.Minute || cfg.Scheduler.PollSeconds != 10 {
		t.Errorf("Scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Worker.Poll != 500*time.Millisecond {
		t.Errorf("Worker.Poll = %v", cfg.Worker.Poll)
	}
	// Unset keys keep their defaults.
	if cfg.Server.Addr != ":8080" || cfg.Scheduler.Username != "fireuser" {
		t.Errorf("defaults lost: %+v %+v", cfg.Server, cfg.Scheduler)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FIREBRIDGE_SERVER_ADDR", "127.0.0.1:9090")
	t.Setenv("FIREBRIDGE_SCHEDULER_USERNAME", "bob")
	t.Setenv("FIREBRIDGE_DB_PATH", ":memory:")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" || cfg.Scheduler.Username != "bob" || cfg.DBPath != ":memory:" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "absent.yaml")},
		{"bad yaml", bad("bad.yaml", "log: [unterminated")},
		{"bad format", bad("format.yaml", "log:\n  format: xml\n")},
		{"zero poll seconds", bad("poll.yaml", "scheduler:\n  poll_seconds: 0\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		in, want string
	}{
		{"~/x/y", filepath.Join(home, "x/y")},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"~other/x", "~other/x"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
