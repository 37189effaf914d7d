package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/me/firebridge/internal/jobs"
	"github.com/me/firebridge/internal/parser"
	"github.com/me/firebridge/internal/query"
	"github.com/me/firebridge/internal/store"
	"github.com/me/firebridge/internal/transport"
	"github.com/me/firebridge/pkg/model"
)

// Submission stages reported in model.SubmissionError.
const (
	StageTransfer = "transfer"
	StageParse    = "parse"
	StageBuild    = "build"
	StageInsert   = "insert"
)

// DefaultCommandTimeout bounds each remote command.
const DefaultCommandTimeout = 30 * time.Second

// Options tune a Bridge.
type Options struct {
	// KeepEnv runs scripts in the worker's environment instead of a fresh login shell.
	KeepEnv bool
	// CommandTimeout bounds each transport call. It is unrelated to the job's wall clock.
	CommandTimeout time.Duration
	// Username overrides the transport's user as the job owner.
	Username string
	// PollSeconds is the stop-file check interval of generated run-scripts.
	PollSeconds int
}

// Bridge implements Scheduler on top of a JobStore and the transport of the
// computer the jobs belong to.
type Bridge struct {
	store     store.JobStore
	transport transport.RemoteExecutor
	parser    *parser.Parser
	opts      Options
	logger    *slog.Logger
}

var _ Scheduler = (*Bridge)(nil)

// NewBridge creates a Bridge. The store and transport stay owned by the caller.
func NewBridge(st store.JobStore, tr transport.RemoteExecutor, opts Options, logger *slog.Logger) *Bridge {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.PollSeconds <= 0 {
		opts.PollSeconds = jobs.DefaultPollSeconds
	}
	logger = logger.With("component", "scheduler", "host_id", tr.Hostname())
	return &Bridge{
		store:     st,
		transport: tr,
		parser:    parser.New(logger),
		opts:      opts,
		logger:    logger,
	}
}

// Submit fetches the script from workDir, parses its directives and inserts
// the resulting job.
func (b *Bridge) Submit(ctx context.Context, workDir, scriptName string) (string, error) {
	fail := func(stage string, err error) (string, error) {
		b.logger.Error("submit failed", "stage", stage, "work_dir", workDir, "script", scriptName, "error", err)
		return "", &model.SubmissionError{Stage: stage, WorkDir: workDir, Script: scriptName, Err: err}
	}

	sandbox, err := os.MkdirTemp("", "firebridge-submit-")
	if err != nil {
		return fail(StageTransfer, fmt.Errorf("create sandbox: %w", err))
	}
	defer os.RemoveAll(sandbox)

	local := filepath.Join(sandbox, path.Base(scriptName))
	if err := b.withTimeout(ctx, func(ctx context.Context) error {
		if err := b.transport.Chdir(ctx, workDir); err != nil {
			return err
		}
		return b.transport.GetFile(ctx, scriptName, local)
	}); err != nil {
		return fail(StageTransfer, err)
	}

	opts, err := b.parser.ParseFile(local)
	if err != nil {
		return fail(StageParse, err)
	}

	rec, err := jobs.Build(jobs.BuildParams{
		HostID:      b.transport.Hostname(),
		Owner:       b.owner(),
		WorkDir:     workDir,
		ScriptName:  scriptName,
		Options:     opts,
		KeepEnv:     b.opts.KeepEnv,
		PollSeconds: b.opts.PollSeconds,
	})
	if err != nil {
		return fail(StageBuild, err)
	}

	id, err := b.store.Insert(ctx, rec)
	if err != nil {
		return fail(StageInsert, err)
	}
	b.logger.Info("job submitted", "job_id", id, "name", rec.Name, "work_dir", workDir,
		"process_count", rec.Resources.ProcessCount, "wall_clock_seconds", rec.Resources.WallClockSeconds)
	return strconv.FormatInt(id, 10), nil
}

// List returns the jobs of hostID that are neither completed nor archived.
// Requested ids that the store does not know fail the whole call with a
// *model.QueryError; ids that exist but are filtered out are simply absent.
func (b *Bridge) List(ctx context.Context, hostID string, ids []string) ([]model.JobInfo, error) {
	parts := []query.Predicate{
		query.Eq(model.FieldHostID, hostID),
		query.Nin(model.FieldState, string(model.FireStateCompleted), string(model.FireStateArchived)),
	}

	if len(ids) > 0 {
		var missing []string
		wanted := make([]any, 0, len(ids))
		for _, raw := range ids {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				missing = append(missing, raw)
				continue
			}
			if _, err := b.store.Get(ctx, id); err != nil {
				if errors.Is(err, model.ErrNotFound) {
					missing = append(missing, raw)
					continue
				}
				return nil, &model.QueryError{JobIDs: ids, Err: err}
			}
			wanted = append(wanted, id)
		}
		if len(missing) > 0 {
			return nil, &model.QueryError{JobIDs: missing}
		}
		parts = append(parts, query.In(model.FieldID, wanted...))
	}

	recs, err := b.store.Query(ctx, query.And(parts...))
	if err != nil {
		return nil, &model.QueryError{JobIDs: ids, Err: err}
	}

	infos := make([]model.JobInfo, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, model.JobInfo{
			JobID:          rec.IDString(),
			State:          b.TranslateState(rec.State),
			NativeState:    rec.State,
			Title:          rec.Name,
			QueueName:      rec.Category,
			SubmissionTime: rec.CreatedOn,
		})
	}
	return infos, nil
}

// Kill touches the stop file of a running job, or defuses a job that has not
// started. Failures are logged and reported as false.
func (b *Bridge) Kill(ctx context.Context, id string) bool {
	log := b.logger.With("job_id", id)

	fwID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		log.Error("kill failed", "error", fmt.Errorf("invalid job id: %w", err))
		return false
	}
	rec, err := b.store.Get(ctx, fwID)
	if err != nil {
		log.Error("kill failed", "error", err)
		return false
	}

	if rec.State != model.FireStateRunning {
		defused, err := b.store.Defuse(ctx, fwID)
		if err != nil {
			log.Error("kill failed", "error", err)
			return false
		}
		if defused == nil {
			log.Warn("job cannot be defused", "state", rec.State)
			return false
		}
		log.Info("job defused")
		return true
	}

	dir := rec.RemoteWorkDir
	if dir == "" {
		dir = rec.LaunchDir
	}
	cmd := "touch " + transport.ShellQuote(path.Join(dir, jobs.StopFile))

	var res transport.ExecResult
	err = b.withTimeout(ctx, func(ctx context.Context) error {
		var execErr error
		res, execErr = b.transport.Exec(ctx, cmd)
		return execErr
	})
	if err == nil {
		err = transport.AsError(cmd, res)
	}
	if err != nil {
		var te *model.TransportError
		if errors.As(err, &te) {
			log.Error("kill failed", "error", err, "exit_code", te.ExitCode, "stderr", te.Stderr)
		} else {
			log.Error("kill failed", "error", err)
		}
		return false
	}
	log.Info("stop requested", "work_dir", dir)
	return true
}

// TranslateState maps native states; unknown ones are undetermined.
func (b *Bridge) TranslateState(s model.FireState) model.JobState {
	js, ok := model.TranslateFireState(s)
	if !ok {
		b.logger.Warn("no translation for native state", "state", s)
	}
	return js
}

func (b *Bridge) owner() string {
	if b.opts.Username != "" {
		return b.opts.Username
	}
	if u := b.transport.Username(); u != "" {
		return u
	}
	return model.DefaultUsername
}

func (b *Bridge) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.CommandTimeout)
	defer cancel()
	return fn(ctx)
}
