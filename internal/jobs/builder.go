// Package jobs builds queue-engine job records for submitted scripts.
package jobs

import (
	"fmt"
	"path"
	"strings"

	"github.com/me/firebridge/internal/parser"
	"github.com/me/firebridge/pkg/model"
)

// Run-script exit codes.
const (
	ExitSuccess   = 0
	ExitCancelled = 11
	ExitTimedOut  = 12
)

// Files the run-script uses inside the job's working directory.
const (
	StopFile         = "FW_STOP"
	CompletionMarker = ".FW_FINISHED"
)

// DefaultPollSeconds is the interval between stop-file checks.
const DefaultPollSeconds = 5

// Shell runs the generated script.
const Shell = "/bin/bash"

// BuildParams describes one job to build.
type BuildParams struct {
	HostID      string
	Owner       string
	WorkDir     string
	ScriptName  string
	Options     model.SubmissionOptions
	KeepEnv     bool
	PollSeconds int
}

// Build produces the record for a parsed submission script. The record is
// always placed in the reserved category and launches in WorkDir.
func Build(p BuildParams) (*model.JobRecord, error) {
	if p.HostID == "" {
		return nil, fmt.Errorf("build job: host id is required")
	}
	if p.WorkDir == "" || !path.IsAbs(p.WorkDir) {
		return nil, fmt.Errorf("build job: work dir %q must be an absolute path", p.WorkDir)
	}
	if p.ScriptName == "" || strings.Contains(p.ScriptName, "/") {
		return nil, fmt.Errorf("build job: script name %q must be a plain file name", p.ScriptName)
	}
	opts := p.Options
	if opts.ProcessCount < 1 {
		return nil, fmt.Errorf("build job: process count must be positive, got %d", opts.ProcessCount)
	}
	if opts.WallClockSeconds < 1 {
		return nil, fmt.Errorf("build job: wall-clock limit must be positive, got %d", opts.WallClockSeconds)
	}
	if p.PollSeconds <= 0 {
		p.PollSeconds = DefaultPollSeconds
	}

	return &model.JobRecord{
		Name:          opts.JobName,
		HostID:        p.HostID,
		Owner:         p.Owner,
		RemoteWorkDir: p.WorkDir,
		SubmitScript:  p.ScriptName,
		Resources: model.Resources{
			ProcessCount:     opts.ProcessCount,
			WallClockSeconds: opts.WallClockSeconds,
		},
		Category:  model.ReservedCategory,
		Priority:  opts.Priority,
		LaunchDir: p.WorkDir,
		Script:    RunScript(p.ScriptName, opts, p.KeepEnv, p.PollSeconds),
		Shell:     Shell,
	}, nil
}

// RunScript renders the wrapper that runs the user's script under a hard
// timeout and watches for the stop file. SIGTERM stops the job the same way
// the stop file does. It must run in the job's working directory.
func RunScript(scriptName string, opts model.SubmissionOptions, keepEnv bool, pollSeconds int) string {
	if pollSeconds <= 0 {
		pollSeconds = DefaultPollSeconds
	}
	script := parser.ShellQuote(scriptName)
	stdout := parser.ShellQuote(opts.StdoutPath)
	stderr := parser.ShellQuote(opts.StderrPath)

	launch := fmt.Sprintf("env -i HOME=\"$HOME\" bash -l ./%s", script)
	if keepEnv {
		launch = fmt.Sprintf("bash ./%s", script)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "printf '\\ntouch %s\\n' >> %s\n", CompletionMarker, script)
	fmt.Fprintf(&b, "chmod +x %s\n", script)
	fmt.Fprintf(&b, "trap 'kill -TERM -- -$PID 2>/dev/null || kill -TERM $PID 2>/dev/null; exit %d' TERM\n\n", ExitCancelled)
	fmt.Fprintf(&b, "timeout %ds %s > %s 2> %s &\n", opts.WallClockSeconds, launch, stdout, stderr)
	b.WriteString("PID=$!\n")
	b.WriteString("sleep 1\n")
	fmt.Fprintf(&b, "chmod -x %s\n\n", script)
	b.WriteString("while [[ -e /proc/$PID ]]; do\n")
	fmt.Fprintf(&b, "    if [[ -e %s ]]; then\n", StopFile)
	b.WriteString("        kill -TERM -- -$PID 2>/dev/null || kill -TERM $PID 2>/dev/null\n")
	fmt.Fprintf(&b, "        exit %d\n", ExitCancelled)
	b.WriteString("    fi\n")
	fmt.Fprintf(&b, "    sleep %d\n", pollSeconds)
	b.WriteString("done\n\n")
	fmt.Fprintf(&b, "if [[ ! -f %s ]]; then\n", CompletionMarker)
	b.WriteString("    echo Script timed out\n")
	fmt.Fprintf(&b, "    exit %d\n", ExitTimedOut)
	b.WriteString("fi\n")
	fmt.Fprintf(&b, "rm -f %s\n", CompletionMarker)
	b.WriteString("echo ALL DONE\n")
	return b.String()
}
