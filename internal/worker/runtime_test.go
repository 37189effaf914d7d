package worker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func requireBash(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("bash")
	if err != nil {
		t.Skip("bash not available")
	}
	return path
}

func TestBareRuntime_Run(t *testing.T) {
	shell := requireBash(t)
	tmpDir := t.TempDir()
	rt := NewBareRuntime()

	result, err := rt.Run(context.Background(), RunSpec{
		Shell:   shell,
		Script:  "pwd; echo \"$JOB_MARK\"; exit 4",
		WorkDir: tmpDir,
		Env:     map[string]string{"JOB_MARK": "marked"},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.ExitCode != 4 {
		t.Errorf("exit_code = %d, want 4", result.ExitCode)
	}
	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("stdout = %q", result.Stdout)
	}
	got, _ := filepath.EvalSymlinks(lines[0])
	want, _ := filepath.EvalSymlinks(tmpDir)
	if got != want {
		t.Errorf("dir = %q, want %q", got, want)
	}
	if lines[1] != "marked" {
		t.Errorf("env = %q, want marked", lines[1])
	}
}

func TestBareRuntime_Invalid(t *testing.T) {
	rt := NewBareRuntime()
	if _, err := rt.Run(context.Background(), RunSpec{Script: "true"}); err == nil {
		t.Error("expected error for missing shell")
	}
	if _, err := rt.Run(context.Background(), RunSpec{Shell: "/bin/bash"}); err == nil {
		t.Error("expected error for empty script")
	}
}

func TestBareRuntime_MissingWorkDir(t *testing.T) {
	shell := requireBash(t)
	rt := NewBareRuntime()
	_, err := rt.Run(context.Background(), RunSpec{
		Shell:   shell,
		Script:  "true",
		WorkDir: filepath.Join(t.TempDir(), "gone"),
	})
	if err == nil {
		t.Fatal("expected start error for missing work dir")
	}
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"A=1"}, map[string]string{"C": "3", "B": "2"})
	want := []string{"A=1", "B=2", "C=3"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("mergeEnv = %v, want %v", got, want)
	}
}

func TestBareRuntime_CancelKillsGroup(t *testing.T) {
	shell := requireBash(t)
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("/proc not available")
	}
	dir := t.TempDir()
	rt := NewBareRuntime()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := rt.Run(ctx, RunSpec{
			Shell:    shell,
			Script:   "sleep 300 & echo $! > sleep.pid; wait",
			WorkDir:  dir,
			StopFile: "STOP",
		})
		done <- err
	}()

	pidFile := filepath.Join(dir, "sleep.pid")
	deadline := time.Now().Add(5 * time.Second)
	var pid int
	for pid == 0 {
		if data, err := os.ReadFile(pidFile); err == nil {
			pid, _ = strconv.Atoi(strings.TrimSpace(string(data)))
		}
		if pid == 0 && time.Now().After(deadline) {
			t.Fatal("script did not start")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, err := os.Stat(filepath.Join(dir, "STOP")); err != nil {
		t.Errorf("stop file not touched: %v", err)
	}
	deadline = time.Now().Add(5 * time.Second)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("background process %d survived cancellation", pid)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
