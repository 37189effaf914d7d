package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/me/firebridge/internal/jobs"
	"github.com/me/firebridge/internal/store"
	"github.com/me/firebridge/pkg/model"
)

// DefaultShell runs task scripts that do not name their own.
const DefaultShell = "/bin/bash"

// Worker is the pull loop that claims eligible jobs from the queue, runs
// their task scripts and records the outcome.
type Worker struct {
	store    store.JobStore
	runtime  Runtime
	identity Identity
	env      map[string]string
	hostname string
	poll     time.Duration
	logger   *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	Identity Identity
	Env      map[string]string
	Hostname string
	Poll     time.Duration
}

// New creates a Worker from configuration.
func New(st store.JobStore, rt Runtime, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Poll == 0 {
		cfg.Poll = 5 * time.Second
	}
	if cfg.Hostname == "" {
		cfg.Hostname, _ = os.Hostname()
	}
	if rt == nil {
		rt = NewBareRuntime()
	}
	return &Worker{
		store:    st,
		runtime:  rt,
		identity: cfg.Identity,
		env:      cfg.Env,
		hostname: cfg.Hostname,
		poll:     cfg.Poll,
		logger:   logger.With("component", "worker", "worker", cfg.Identity.Name),
	}
}

// Run polls for jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		"host_id", w.identity.HostID,
		"username", w.identity.Username,
		"process_count", w.identity.ProcessCount,
		"poll", w.poll,
	)

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		// Drain the queue before waiting for the next tick.
		for {
			ran, err := w.RunOnce(ctx)
			if err != nil {
				w.logger.Error("poll error", "error", err)
			}
			if !ran || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	launch := model.Launch{
		ID:     "launch_" + uuid.New().String(),
		Worker: w.identity.Name,
		Host:   w.hostname,
	}
	rec, err := w.store.Checkout(ctx, EligibilityQuery(w.identity), launch)
	if err != nil {
		return false, fmt.Errorf("checkout: %w", err)
	}
	if rec == nil {
		return false, nil
	}

	w.logger.Info("job claimed", "job_id", rec.ID, "name", rec.Name, "launch_id", launch.ID)
	if err := w.execute(ctx, rec, launch.ID); err != nil {
		w.logger.Error("job execution failed", "job_id", rec.ID, "error", err)
	}
	return true, nil
}

// execute runs the task script in the launch directory. A script that runs to
// its end completes the job with its exit code. A start failure, or a script
// cut short because the worker is stopping, fizzles it.
func (w *Worker) execute(ctx context.Context, rec *model.JobRecord, launchID string) error {
	shell := rec.Shell
	if shell == "" {
		shell = DefaultShell
	}
	spec := RunSpec{
		Shell:   shell,
		Script:  rec.Script,
		WorkDir: rec.LaunchDir,
		Env:     w.env,
	}
	if rec.IsBridgeManaged() {
		spec.StopFile = jobs.StopFile
	}
	result, runErr := w.runtime.Run(ctx, spec)

	// Record the outcome even if the worker is shutting down.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if runErr != nil {
		if err := w.store.Fizzle(reportCtx, rec.ID, launchID, runErr.Error()); err != nil {
			return fmt.Errorf("fizzle job %d: %w", rec.ID, err)
		}
		return runErr
	}

	if ctx.Err() != nil && result.ExitCode != 0 {
		reason := fmt.Sprintf("worker interrupted: run-script exited with code %d", result.ExitCode)
		w.logger.Warn("job interrupted", "job_id", rec.ID, "exit_code", result.ExitCode)
		if err := w.store.Fizzle(reportCtx, rec.ID, launchID, reason); err != nil {
			return fmt.Errorf("fizzle job %d: %w", rec.ID, err)
		}
		return nil
	}

	w.logger.Info("job finished", "job_id", rec.ID, "exit_code", result.ExitCode)
	w.logger.Debug("job output", "job_id", rec.ID, "stdout", result.Stdout, "stderr", result.Stderr)
	if err := w.store.Complete(reportCtx, rec.ID, launchID, result.ExitCode); err != nil {
		return fmt.Errorf("complete job %d: %w", rec.ID, err)
	}
	return nil
}
