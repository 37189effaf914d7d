package transport

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"sync"

	"github.com/me/firebridge/pkg/model"
)

// SSHConfig describes how to reach a computer over ssh.
type SSHConfig struct {
	HostID       string `yaml:"host_id" mapstructure:"host_id"`
	Address      string `yaml:"address" mapstructure:"address"`
	User         string `yaml:"user" mapstructure:"user"`
	Port         int    `yaml:"port" mapstructure:"port"`
	IdentityFile string `yaml:"identity_file" mapstructure:"identity_file"`
}

// SSH runs commands through the system ssh and scp clients, so host keys,
// agents and jump hosts come from the user's ssh configuration.
type SSH struct {
	cfg    SSHConfig
	logger *slog.Logger
	run    Runner

	mu  sync.Mutex
	cwd string
}

// NewSSH creates an SSH transport.
func NewSSH(cfg SSHConfig, logger *slog.Logger) *SSH {
	if cfg.Address == "" {
		cfg.Address = cfg.HostID
	}
	return &SSH{
		cfg:    cfg,
		logger: logger.With("component", "transport", "transport", "ssh", "host", cfg.Address),
		run:    ExecRunner,
	}
}

func (s *SSH) Hostname() string { return s.cfg.HostID }
func (s *SSH) Username() string { return s.cfg.User }

func (s *SSH) target() string {
	if s.cfg.User == "" {
		return s.cfg.Address
	}
	return s.cfg.User + "@" + s.cfg.Address
}

func (s *SSH) commonArgs(portFlag string) []string {
	args := []string{"-o", "BatchMode=yes"}
	if s.cfg.Port > 0 {
		args = append(args, portFlag, strconv.Itoa(s.cfg.Port))
	}
	if s.cfg.IdentityFile != "" {
		args = append(args, "-i", s.cfg.IdentityFile)
	}
	return args
}

// Exec runs command in the current remote directory.
func (s *SSH) Exec(ctx context.Context, command string) (ExecResult, error) {
	s.mu.Lock()
	cwd := s.cwd
	s.mu.Unlock()
	if cwd != "" {
		command = "cd " + ShellQuote(cwd) + " && " + command
	}
	args := append(s.commonArgs("-p"), s.target(), command)
	s.logger.Debug("exec", "command", command)
	res, err := s.run(ctx, "", "ssh", args...)
	if err != nil {
		return res, &model.TransportError{Command: command, Err: err}
	}
	// ssh reports its own failures as 255.
	if res.ExitCode == 255 {
		return res, &model.TransportError{Command: command, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: fmt.Errorf("ssh connection failed")}
	}
	return res, nil
}

func (s *SSH) Chdir(ctx context.Context, dir string) error {
	s.mu.Lock()
	target := dir
	if !path.IsAbs(dir) && s.cwd != "" {
		target = path.Join(s.cwd, dir)
	}
	s.mu.Unlock()

	res, err := s.run(ctx, "", "ssh", append(s.commonArgs("-p"), s.target(), "test -d "+ShellQuote(target))...)
	if err != nil {
		return fmt.Errorf("chdir %s: %w", target, err)
	}
	if !res.OK() {
		return fmt.Errorf("chdir %s: %w", target, AsError("test -d "+target, res))
	}
	s.mu.Lock()
	s.cwd = target
	s.mu.Unlock()
	return nil
}

func (s *SSH) GetFile(ctx context.Context, remotePath, localPath string) error {
	src := s.target() + ":" + s.remote(remotePath)
	return s.scp(ctx, src, localPath)
}

func (s *SSH) PutFile(ctx context.Context, localPath, remotePath string) error {
	dst := s.target() + ":" + s.remote(remotePath)
	return s.scp(ctx, localPath, dst)
}

func (s *SSH) scp(ctx context.Context, src, dst string) error {
	args := append(s.commonArgs("-P"), "-q", src, dst)
	s.logger.Debug("scp", "src", src, "dst", dst)
	res, err := s.run(ctx, "", "scp", args...)
	if err != nil {
		return fmt.Errorf("scp %s %s: %w", src, dst, err)
	}
	return AsError("scp "+src+" "+dst, res)
}

func (s *SSH) remote(p string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path.IsAbs(p) || s.cwd == "" {
		return p
	}
	return path.Join(s.cwd, p)
}
