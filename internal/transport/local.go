package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"sync"
)

// Local executes on the machine the process runs on.
type Local struct {
	logger   *slog.Logger
	run      Runner
	hostname string
	username string

	mu  sync.Mutex
	cwd string
}

// NewLocal creates a Local transport. hostID is the name the computer is
// registered under; an empty value uses the machine's hostname.
func NewLocal(hostID string, logger *slog.Logger) *Local {
	if hostID == "" {
		hostID, _ = os.Hostname()
	}
	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	cwd, _ := os.Getwd()
	return &Local{
		logger:   logger.With("component", "transport", "transport", "local"),
		run:      ExecRunner,
		hostname: hostID,
		username: username,
		cwd:      cwd,
	}
}

func (l *Local) Hostname() string { return l.hostname }
func (l *Local) Username() string { return l.username }

func (l *Local) Chdir(_ context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	target := l.resolveLocked(path)
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("chdir %s: %w", target, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("chdir %s: not a directory", target)
	}
	l.cwd = target
	return nil
}

func (l *Local) GetFile(_ context.Context, remotePath, localPath string) error {
	return copyFile(l.resolve(remotePath), localPath)
}

func (l *Local) PutFile(_ context.Context, localPath, remotePath string) error {
	return copyFile(localPath, l.resolve(remotePath))
}

// Exec runs command with bash in the current directory.
func (l *Local) Exec(ctx context.Context, command string) (ExecResult, error) {
	l.mu.Lock()
	dir := l.cwd
	l.mu.Unlock()
	l.logger.Debug("exec", "dir", dir, "command", command)
	return l.run(ctx, dir, "bash", "-c", command)
}

func (l *Local) resolve(path string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolveLocked(path)
}

func (l *Local) resolveLocked(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(l.cwd, path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
