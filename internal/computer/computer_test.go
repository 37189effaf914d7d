package computer

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/me/firebridge/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleComputer() Computer {
	return Computer{
		Label:       "cluster",
		HostID:      "login.cluster.org",
		Description: "Test cluster",
		Scheduler:   "sge",
		Transport:   TransportSSH,
		Username:    "alice",
		WorkDir:     "/scratch/alice",
		SSH:         transport.SSHConfig{Port: 2222},
		Codes: []Code{
			{Label: "pw", InputPlugin: "quantumespresso.pw", RemoteExecPath: "/opt/qe/pw.x"},
			{Label: "vasp", InputPlugin: "vasp.vasp", RemoteExecPath: "/opt/vasp/vasp_std"},
		},
	}
}

func TestRegistry_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "computers.yaml")
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatal("missing file should give an empty registry")
	}
	if err := r.Add(sampleComputer()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(Computer{Label: "laptop", HostID: "localhost", Scheduler: SchedulerName, Transport: TransportLocal}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r2, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	list := r2.List()
	if len(list) != 2 || list[0].Label != "cluster" || list[1].Label != "laptop" {
		t.Fatalf("List = %+v", list)
	}
	if !reflect.DeepEqual(list[0], sampleComputer()) {
		t.Errorf("round trip = %+v", list[0])
	}
}

func TestRegistry_AddErrors(t *testing.T) {
	r, _ := Load(filepath.Join(t.TempDir(), "c.yaml"))
	if err := r.Add(sampleComputer()); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		c    Computer
	}{
		{"duplicate label", sampleComputer()},
		{"no label", Computer{HostID: "h"}},
		{"no host", Computer{Label: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Add(tt.c); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegistry_LoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	content := "computers:\n  - label: a\n    host_id: h\n  - label: a\n    host_id: h\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("duplicate labels in file should fail")
	}
}

func TestRegistry_GetMissing(t *testing.T) {
	r, _ := Load(filepath.Join(t.TempDir(), "c.yaml"))
	if _, err := r.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDuplicate(t *testing.T) {
	tests := []struct {
		name      string
		opts      DuplicateOptions
		wantLabel string
		wantCodes []string
		stored    bool
	}{
		{"defaults", DuplicateOptions{}, "cluster-fw", nil, true},
		{"suffix and codes", DuplicateOptions{Suffix: "queue", IncludeCodes: true}, "cluster-queue", []string{"pw", "vasp"}, true},
		{"plugin filter", DuplicateOptions{IncludeCodes: true, InputPlugin: "vasp.vasp"}, "cluster-fw", []string{"vasp"}, true},
		{"dry run", DuplicateOptions{IncludeCodes: true, DryRun: true}, "cluster-fw", []string{"pw", "vasp"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := Load(filepath.Join(t.TempDir(), "c.yaml"))
			if err := r.Add(sampleComputer()); err != nil {
				t.Fatal(err)
			}
			dup, err := r.Duplicate("cluster", tt.opts, testLogger())
			if err != nil {
				t.Fatalf("Duplicate: %v", err)
			}
			if dup.Label != tt.wantLabel || dup.Scheduler != SchedulerName {
				t.Errorf("label/scheduler = %q %q", dup.Label, dup.Scheduler)
			}
			if dup.Description != "Test cluster"+DuplicateNote {
				t.Errorf("Description = %q", dup.Description)
			}
			if dup.HostID != "login.cluster.org" || dup.SSH.Port != 2222 {
				t.Errorf("connection settings not copied: %+v", dup)
			}
			var codes []string
			for _, c := range dup.Codes {
				codes = append(codes, c.Label)
			}
			if !reflect.DeepEqual(codes, tt.wantCodes) {
				t.Errorf("codes = %v, want %v", codes, tt.wantCodes)
			}
			_, err = r.Get(tt.wantLabel)
			if (err == nil) != tt.stored {
				t.Errorf("stored = %v, want %v", err == nil, tt.stored)
			}

			src, _ := r.Get("cluster")
			if src.Scheduler != "sge" || len(src.Codes) != 2 {
				t.Errorf("source modified: %+v", src)
			}
		})
	}
}

func TestDuplicate_Errors(t *testing.T) {
	r, _ := Load(filepath.Join(t.TempDir(), "c.yaml"))
	if _, err := r.Duplicate("missing", DuplicateOptions{}, testLogger()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := r.Add(sampleComputer()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Duplicate("cluster", DuplicateOptions{}, testLogger()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Duplicate("cluster", DuplicateOptions{}, testLogger()); err == nil {
		t.Error("second duplicate with the same suffix should fail")
	}
}

func TestNewTransport(t *testing.T) {
	local := Computer{Label: "l", HostID: "localhost-test", Transport: TransportLocal}
	tr, err := local.NewTransport(testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.(*transport.Local); !ok || tr.Hostname() != "localhost-test" {
		t.Errorf("local transport = %T %q", tr, tr.Hostname())
	}

	c := sampleComputer()
	tr, err = c.NewTransport(testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.(*transport.SSH); !ok || tr.Hostname() != "login.cluster.org" || tr.Username() != "alice" {
		t.Errorf("ssh transport = %T %q %q", tr, tr.Hostname(), tr.Username())
	}

	bad := Computer{Label: "b", HostID: "h", Transport: "telnet"}
	if _, err := bad.NewTransport(testLogger()); err == nil || !strings.Contains(err.Error(), "telnet") {
		t.Errorf("err = %v", err)
	}
}

func TestRegistry_ByHostID(t *testing.T) {
	r, _ := Load(filepath.Join(t.TempDir(), "c.yaml"))
	if err := r.Add(sampleComputer()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ByHostID("login.cluster.org"); !errors.Is(err, ErrNotFound) {
		t.Errorf("native computer matched: %v", err)
	}
	if _, err := r.Duplicate("cluster", DuplicateOptions{}, testLogger()); err != nil {
		t.Fatal(err)
	}
	c, err := r.ByHostID("login.cluster.org")
	if err != nil {
		t.Fatalf("ByHostID: %v", err)
	}
	if c.Label != "cluster-fw" {
		t.Errorf("Label = %q", c.Label)
	}
}

func TestComputer_OwnerAndEnv(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name        string
		username    string
		keepEnv     *bool
		fallback    string
		defaultKeep bool
		wantOwner   string
		wantKeep    bool
	}{
		{"computer username wins", "alice", nil, "bob", true, "alice", true},
		{"configured fallback", "", nil, "bob", false, "bob", false},
		{"queue default", "", nil, "", false, "fireuser", false},
		{"keep env override on", "", &yes, "", false, "fireuser", true},
		{"keep env override off", "alice", &no, "", true, "alice", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Computer{Username: tt.username, KeepEnv: tt.keepEnv}
			if got := c.Owner(tt.fallback); got != tt.wantOwner {
				t.Errorf("Owner(%q) = %q, want %q", tt.fallback, got, tt.wantOwner)
			}
			if got := c.KeepsEnv(tt.defaultKeep); got != tt.wantKeep {
				t.Errorf("KeepsEnv(%v) = %v, want %v", tt.defaultKeep, got, tt.wantKeep)
			}
		})
	}
}

func TestRegistry_KeepEnvRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "computers.yaml")
	r, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	keep := true
	c := Computer{Label: "slurm", HostID: "slurm.org", Scheduler: SchedulerName, KeepEnv: &keep}
	if err := r.Add(c); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(Computer{Label: "plain", HostID: "plain.org", Scheduler: SchedulerName}); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(); err != nil {
		t.Fatal(err)
	}
	r2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := r2.Get("slurm")
	if got.KeepEnv == nil || !*got.KeepEnv {
		t.Errorf("KeepEnv = %v, want true", got.KeepEnv)
	}
	plain, _ := r2.Get("plain")
	if plain.KeepEnv != nil {
		t.Errorf("unset KeepEnv loaded as %v", *plain.KeepEnv)
	}
}
