package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"
	"time"
)

// Runtime executes a job's task script.
type Runtime interface {
	Run(ctx context.Context, spec RunSpec) (RunResult, error)
}

// RunSpec describes what to execute.
type RunSpec struct {
	Shell   string            // Interpreter, e.g. /bin/bash
	Script  string            // Script text passed to the shell with -c
	WorkDir string            // Working directory on the host
	Env     map[string]string // Added to the worker's own environment
	// StopFile, relative to WorkDir, is touched before the process group is
	// signalled on cancellation so a run-script can stop its job cleanly.
	StopFile string
}

// RunResult captures the output of an execution.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// BareRuntime runs task scripts directly on the host.
type BareRuntime struct {
	// WaitDelay bounds how long Run waits for output after the shell exits.
	WaitDelay time.Duration
}

// NewBareRuntime creates a BareRuntime.
func NewBareRuntime() *BareRuntime {
	return &BareRuntime{WaitDelay: 10 * time.Second}
}

// Run returns an error only if the shell could not be started. The shell leads
// its own process group; cancelling ctx terminates the whole group.
func (r *BareRuntime) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	if spec.Shell == "" {
		return RunResult{}, fmt.Errorf("bare runtime: shell is required")
	}
	if spec.Script == "" {
		return RunResult{}, fmt.Errorf("bare runtime: empty script")
	}

	cmd := exec.CommandContext(ctx, spec.Shell, "-c", spec.Script)
	cmd.Dir = spec.WorkDir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.WaitDelay = r.WaitDelay
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if spec.StopFile != "" {
			touch(filepath.Join(spec.WorkDir, spec.StopFile))
		}
		return signalGroup(cmd.Process, syscall.SIGTERM)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	if cmd.Process != nil {
		// Sweep anything the shell left behind in its group.
		signalGroup(cmd.Process, syscall.SIGKILL)
	}
	result := RunResult{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	switch e := runErr.(type) {
	case nil:
		result.ExitCode = 0
	case *exec.ExitError:
		result.ExitCode = e.ExitCode()
	default:
		if ctx.Err() != nil && cmd.ProcessState != nil {
			result.ExitCode = cmd.ProcessState.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("bare runtime: %w", runErr)
	}

	return result, nil
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	err := syscall.Kill(-p.Pid, sig)
	if err == syscall.ESRCH {
		return os.ErrProcessDone
	}
	return err
}

func touch(path string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err == nil {
		f.Close()
	}
}

// mergeEnv appends extra variables in key order.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := append([]string{}, base...)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
