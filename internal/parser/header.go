package parser

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultParallelEnv is written into "#$ -pe" when a template leaves it empty.
const DefaultParallelEnv = "mpi"

// HeaderTemplate describes a submission script header to render.
type HeaderTemplate struct {
	JobName          string
	StdoutPath       string
	StderrPath       string
	PriorityDelta    int
	ParallelEnv      string
	ProcessCount     int
	WallClockSeconds int
	CustomLines      []string
	Environment      map[string]string
}

// RenderHeader turns a template into directive lines that Parse reads back.
func RenderHeader(t HeaderTemplate) (string, error) {
	if strings.TrimSpace(t.JobName) == "" {
		return "", fmt.Errorf("render header: job name is required")
	}
	if strings.ContainsAny(t.JobName, " \t\n") {
		return "", fmt.Errorf("render header: job name %q contains whitespace", t.JobName)
	}
	if t.ProcessCount < 1 {
		return "", fmt.Errorf("render header: process count must be positive, got %d", t.ProcessCount)
	}
	if t.WallClockSeconds < 1 {
		return "", fmt.Errorf("render header: wall-clock limit must be positive, got %d", t.WallClockSeconds)
	}

	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&b, "#$ -N %s\n", t.JobName)
	if t.StdoutPath != "" {
		fmt.Fprintf(&b, "#$ -o %s\n", t.StdoutPath)
	}
	if t.StderrPath != "" {
		fmt.Fprintf(&b, "#$ -e %s\n", t.StderrPath)
	}
	if t.PriorityDelta != 0 {
		fmt.Fprintf(&b, "#$ -p %d\n", t.PriorityDelta)
	}
	env := t.ParallelEnv
	if env == "" {
		env = DefaultParallelEnv
	}
	fmt.Fprintf(&b, "#$ -pe %s %d\n", env, t.ProcessCount)
	fmt.Fprintf(&b, "#$ -l h_rt=%s\n", FormatHMS(t.WallClockSeconds))

	for _, line := range t.CustomLines {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	if len(t.Environment) > 0 {
		keys := make([]string, 0, len(t.Environment))
		for k := range t.Environment {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("# ENVIRONMENT VARIABLES BEGIN ###\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "export %s=%s\n", k, ShellQuote(t.Environment[k]))
		}
		b.WriteString("# ENVIRONMENT VARIABLES END ###\n")
	}
	return b.String(), nil
}

// FormatHMS renders seconds as HH:MM:SS.
func FormatHMS(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// ShellQuote wraps s in single quotes for bash.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
