// Package transport runs commands and moves files on the computer a job
// belongs to.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/me/firebridge/pkg/model"
)

// ExecResult is the outcome of a command that ran to completion.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK returns true if the command exited zero.
func (r ExecResult) OK() bool { return r.ExitCode == 0 }

// RemoteExecutor is the file and command capability of one computer.
// Exec returns an error only when the command could not be run at all; a
// non-zero exit is reported in ExecResult.
type RemoteExecutor interface {
	GetFile(ctx context.Context, remotePath, localPath string) error
	PutFile(ctx context.Context, localPath, remotePath string) error
	Exec(ctx context.Context, command string) (ExecResult, error)
	Chdir(ctx context.Context, path string) error
	Hostname() string
	Username() string
}

// Runner starts a process and waits for it.
type Runner func(ctx context.Context, dir, name string, args ...string) (ExecResult, error)

// ExecRunner runs the process with os/exec. A non-zero exit is not an error.
func ExecRunner(ctx context.Context, dir, name string, args ...string) (ExecResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	res := ExecResult{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr) && ctx.Err() == nil:
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("run %s: %w", name, runErr)
	}
	return res, nil
}

// AsError converts a non-zero result into a *model.TransportError.
func AsError(command string, res ExecResult) error {
	if res.OK() {
		return nil
	}
	return &model.TransportError{Command: command, ExitCode: res.ExitCode, Stderr: res.Stderr}
}

// ShellQuote wraps s in single quotes for a POSIX shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
