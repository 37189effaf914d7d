// Package awareness reports how much time is left in the batch allocation
// the current process runs inside.
package awareness

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// DummyRemainingSeconds is the budget reported outside any batch allocation.
const DummyRemainingSeconds = 30 * 24 * 3600

// probeTimeout bounds each qstat / scontrol call.
const probeTimeout = 30 * time.Second

// Provider is implemented by every batch-environment probe.
type Provider interface {
	Name() string
	InsideAllocation() bool
	RemainingSeconds() int
}

// CommandRunner runs a command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Env holds the process-level inputs of the probes. Zero fields fall back to
// the real environment, exec and clock.
type Env struct {
	LookupEnv func(key string) (string, bool)
	Run       CommandRunner
	Now       func() time.Time
	Location  *time.Location
	Logger    *slog.Logger
}

func (e Env) withDefaults() Env {
	if e.LookupEnv == nil {
		e.LookupEnv = os.LookupEnv
	}
	if e.Run == nil {
		e.Run = execRunner
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.Location == nil {
		e.Location = time.Local
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	return e
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Detect returns the first provider that reports being inside an
// allocation, trying SLURM, then SGE, then the dummy provider.
func Detect(env Env) Provider {
	env = env.withDefaults()
	for _, p := range []Provider{NewSLURM(env), NewSGE(env)} {
		if p.InsideAllocation() {
			env.Logger.Debug("batch environment detected", "provider", p.Name())
			return p
		}
	}
	return Dummy{}
}

// Dummy is used outside any batch allocation.
type Dummy struct{}

func (Dummy) Name() string           { return "dummy" }
func (Dummy) InsideAllocation() bool { return true }
func (Dummy) RemainingSeconds() int  { return DummyRemainingSeconds }

// Static reports a fixed budget. Useful for workers pinned to a known limit.
type Static struct {
	Seconds int
}

func (Static) Name() string            { return "static" }
func (Static) InsideAllocation() bool  { return true }
func (s Static) RemainingSeconds() int { return s.Seconds }

// remaining converts an end time into whole seconds left, never negative.
func remaining(end, now time.Time) int {
	secs := int(end.Sub(now) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}
