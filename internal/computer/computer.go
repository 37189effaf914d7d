// Package computer keeps the registry of computers jobs can be submitted to
// and derives worker definitions and bridge-scheduled copies from them.
package computer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/me/firebridge/internal/transport"
	"github.com/me/firebridge/pkg/model"
)

// SchedulerName is the scheduler type of computers whose jobs go through the
// queue instead of a native batch system.
const SchedulerName = "firebridge"

// Transport types.
const (
	TransportLocal = "local"
	TransportSSH   = "ssh"
)

// ErrNotFound is returned when no computer has the requested label.
var ErrNotFound = errors.New("computer not found")

// Code is an executable installed on a computer.
type Code struct {
	Label          string `yaml:"label"`
	InputPlugin    string `yaml:"input_plugin,omitempty"`
	RemoteExecPath string `yaml:"remote_exec_path"`
}

// Computer is one registered machine.
type Computer struct {
	Label       string              `yaml:"label"`
	HostID      string              `yaml:"host_id"`
	Description string              `yaml:"description,omitempty"`
	Scheduler   string              `yaml:"scheduler"`
	Transport   string              `yaml:"transport"`
	Username    string              `yaml:"username,omitempty"`
	WorkDir     string              `yaml:"work_dir,omitempty"`
	// KeepEnv overrides the configured default for jobs on this computer.
	KeepEnv     *bool               `yaml:"keep_env,omitempty"`
	SSH         transport.SSHConfig `yaml:"ssh,omitempty"`
	Codes       []Code              `yaml:"codes,omitempty"`
}

// Owner returns the username jobs submitted to c are stamped with, which is
// also the username its workers match on. fallback applies when c has no
// username; model.DefaultUsername applies when both are empty.
func (c *Computer) Owner(fallback string) string {
	if c.Username != "" {
		return c.Username
	}
	if fallback != "" {
		return fallback
	}
	return model.DefaultUsername
}

// KeepsEnv reports whether jobs on c run in the worker's environment.
func (c *Computer) KeepsEnv(fallback bool) bool {
	if c.KeepEnv != nil {
		return *c.KeepEnv
	}
	return fallback
}

// NewTransport opens the transport the computer is configured with.
func (c *Computer) NewTransport(logger *slog.Logger) (transport.RemoteExecutor, error) {
	switch c.Transport {
	case TransportLocal, "":
		return transport.NewLocal(c.HostID, logger), nil
	case TransportSSH:
		cfg := c.SSH
		if cfg.HostID == "" {
			cfg.HostID = c.HostID
		}
		if cfg.User == "" {
			cfg.User = c.Username
		}
		return transport.NewSSH(cfg, logger), nil
	}
	return nil, fmt.Errorf("computer %s: unknown transport %q", c.Label, c.Transport)
}

// Registry is the set of computers stored in one YAML file.
type Registry struct {
	path      string
	computers map[string]Computer
}

type registryFile struct {
	Computers []Computer `yaml:"computers"`
}

// Load reads the registry at path. A missing file is an empty registry.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, computers: make(map[string]Computer)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read computers: %w", err)
	}

	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse computers %s: %w", path, err)
	}
	for _, c := range f.Computers {
		if err := r.Add(c); err != nil {
			return nil, fmt.Errorf("load computers %s: %w", path, err)
		}
	}
	return r, nil
}

// Save writes the registry back to its file.
func (r *Registry) Save() error {
	f := registryFile{Computers: r.List()}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encode computers: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write computers: %w", err)
	}
	return os.Rename(tmp, r.path)
}

// Add registers c. Labels are unique.
func (r *Registry) Add(c Computer) error {
	if c.Label == "" {
		return fmt.Errorf("computer label is required")
	}
	if c.HostID == "" {
		return fmt.Errorf("computer %s: host_id is required", c.Label)
	}
	if _, ok := r.computers[c.Label]; ok {
		return fmt.Errorf("computer %s already exists", c.Label)
	}
	r.computers[c.Label] = c
	return nil
}

// Get returns the computer with the given label.
func (r *Registry) Get(label string) (Computer, error) {
	c, ok := r.computers[label]
	if !ok {
		return Computer{}, fmt.Errorf("%w: %s", ErrNotFound, label)
	}
	return c, nil
}

// ByHostID returns the queue-scheduled computer registered for hostID.
// Jobs carry the host id, not the label, so this is how a job finds the
// transport to reach it.
func (r *Registry) ByHostID(hostID string) (Computer, error) {
	for _, c := range r.List() {
		if c.HostID == hostID && c.Scheduler == SchedulerName {
			return c, nil
		}
	}
	return Computer{}, fmt.Errorf("%w: no %s computer for host %s", ErrNotFound, SchedulerName, hostID)
}

// List returns all computers sorted by label.
func (r *Registry) List() []Computer {
	out := make([]Computer, 0, len(r.computers))
	for _, c := range r.computers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
