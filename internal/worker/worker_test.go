package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/me/firebridge/internal/jobs"
	"github.com/me/firebridge/internal/query"
	"github.com/me/firebridge/internal/store"
	"github.com/me/firebridge/pkg/model"
)

type fakeRuntime struct {
	specs  []RunSpec
	result RunResult
	err    error
}

func (f *fakeRuntime) Run(_ context.Context, spec RunSpec) (RunResult, error) {
	f.specs = append(f.specs, spec)
	return f.result, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func insertBridgeJob(t *testing.T, st *store.SQLiteStore, wall int) int64 {
	t.Helper()
	rec := bridgeJob("cluster", "alice", 4, wall)
	rec.LaunchDir = t.TempDir()
	rec.Script = "exit 0"
	id, err := st.Insert(context.Background(), rec)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}

func newTestWorker(st store.JobStore, rt Runtime, remaining int) *Worker {
	return New(st, rt, Config{
		Identity: testIdentity(remaining),
		Env:      map[string]string{"X": "1"},
		Hostname: "node01",
		Poll:     10 * time.Millisecond,
	}, testLogger())
}

func TestRunOnce_Completes(t *testing.T) {
	st := testStore(t)
	id := insertBridgeJob(t, st, 600)
	rt := &fakeRuntime{result: RunResult{ExitCode: 11}}
	w := newTestWorker(st, rt, 3600)

	ran, err := w.RunOnce(context.Background())
	if err != nil || !ran {
		t.Fatalf("RunOnce = %v, %v", ran, err)
	}
	if len(rt.specs) != 1 {
		t.Fatalf("runtime called %d times", len(rt.specs))
	}
	spec := rt.specs[0]
	if spec.Shell != "/bin/bash" || spec.Script != "exit 0" || spec.Env["X"] != "1" {
		t.Errorf("spec = %+v", spec)
	}

	got, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.FireStateCompleted {
		t.Errorf("state = %q, want COMPLETED", got.State)
	}
	if got.Launch == nil || got.Launch.ExitCode == nil || *got.Launch.ExitCode != 11 {
		t.Errorf("launch = %+v", got.Launch)
	}
	if got.Launch.Worker != "w1" || got.Launch.Host != "node01" {
		t.Errorf("launch identity = %q %q", got.Launch.Worker, got.Launch.Host)
	}

	ran, err = w.RunOnce(context.Background())
	if err != nil || ran {
		t.Errorf("second RunOnce = %v, %v; want false, nil", ran, err)
	}
}

func TestRunOnce_StartFailureFizzles(t *testing.T) {
	st := testStore(t)
	id := insertBridgeJob(t, st, 600)
	w := newTestWorker(st, &fakeRuntime{err: errors.New("chdir: no such file")}, 3600)

	if ran, _ := w.RunOnce(context.Background()); !ran {
		t.Fatal("expected a job to be claimed")
	}
	got, _ := st.Get(context.Background(), id)
	if got.State != model.FireStateFizzled {
		t.Errorf("state = %q, want FIZZLED", got.State)
	}
}

func TestRunOnce_RespectsBudget(t *testing.T) {
	st := testStore(t)
	insertBridgeJob(t, st, 1800)
	rt := &fakeRuntime{}
	w := newTestWorker(st, rt, 1800)

	ran, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ran || len(rt.specs) != 0 {
		t.Error("job longer than the remaining budget must not be claimed")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := testStore(t)
	insertBridgeJob(t, st, 600)
	insertBridgeJob(t, st, 600)
	rt := &fakeRuntime{}
	w := newTestWorker(st, rt, 3600)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		jobs, err := st.Query(context.Background(), query.All())
		if err != nil {
			t.Fatal(err)
		}
		completed := 0
		for _, j := range jobs {
			if j.State == model.FireStateCompleted {
				completed++
			}
		}
		if completed == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("jobs not completed in time: %d of 2", completed)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

// blockingRuntime waits for cancellation and reports the run-script's stop code.
type blockingRuntime struct {
	started chan RunSpec
}

func (b *blockingRuntime) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	b.started <- spec
	<-ctx.Done()
	return RunResult{ExitCode: jobs.ExitCancelled}, nil
}

func TestRunOnce_InterruptedFizzles(t *testing.T) {
	st := testStore(t)
	id := insertBridgeJob(t, st, 600)
	rt := &blockingRuntime{started: make(chan RunSpec, 1)}
	w := newTestWorker(st, rt, 3600)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := w.RunOnce(ctx)
		done <- err
	}()

	spec := <-rt.started
	if spec.StopFile != jobs.StopFile {
		t.Errorf("StopFile = %q, want %q", spec.StopFile, jobs.StopFile)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.FireStateFizzled {
		t.Errorf("state = %q, want FIZZLED", got.State)
	}
	if got.Launch == nil || !strings.Contains(got.Launch.Error, "worker interrupted") {
		t.Errorf("launch = %+v", got.Launch)
	}
}

func TestRunOnce_InterruptedStopsProcesses(t *testing.T) {
	for _, bin := range []string{"bash", "timeout"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("/proc not available")
	}
	st := testStore(t)
	dir := t.TempDir()
	user := "sleep 300 & echo $! > sleep.pid; wait\n"
	if err := os.WriteFile(filepath.Join(dir, "_submit.sh"), []byte(user), 0o644); err != nil {
		t.Fatal(err)
	}
	rec, err := jobs.Build(jobs.BuildParams{
		HostID:     "cluster",
		Owner:      "alice",
		WorkDir:    dir,
		ScriptName: "_submit.sh",
		Options: model.SubmissionOptions{
			JobName:          "interrupted",
			StdoutPath:       "out.txt",
			StderrPath:       "err.txt",
			ProcessCount:     4,
			WallClockSeconds: 600,
		},
		KeepEnv:     true,
		PollSeconds: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	id, err := st.Insert(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}

	w := newTestWorker(st, NewBareRuntime(), 3600)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := w.RunOnce(ctx)
		done <- err
	}()

	pidFile := filepath.Join(dir, "sleep.pid")
	deadline := time.Now().Add(10 * time.Second)
	for {
		if data, err := os.ReadFile(pidFile); err == nil && strings.TrimSpace(string(data)) != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not start")
		}
		time.Sleep(50 * time.Millisecond)
	}
	data, _ := os.ReadFile(pidFile)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatal(err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("RunOnce did not return after cancel")
	}

	got, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.FireStateFizzled {
		t.Errorf("state = %q, want FIZZLED", got.State)
	}
	if got.Launch == nil || got.Launch.ExitCode != nil {
		t.Errorf("launch = %+v, want no exit code", got.Launch)
	}
	if _, err := os.Stat(filepath.Join(dir, jobs.StopFile)); err != nil {
		t.Errorf("stop file not touched: %v", err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("process %d survived the interrupted job", pid)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// processAlive treats zombies as gone; nothing reaps them inside some containers.
func processAlive(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	s := string(data)
	i := strings.LastIndexByte(s, ')')
	return i < 0 || i+2 >= len(s) || s[i+2] != 'Z'
}
