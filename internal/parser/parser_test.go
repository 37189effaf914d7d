package parser

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/me/firebridge/pkg/model"
)

func testParser() *Parser {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(logger)
}

const fullScript = `#!/bin/bash
#$ -S /bin/bash
#$ -N aiida-42
#$ -o _out.txt
#$ -e _err.txt
#$ -pe mpi 2
#$ -l h_rt=08:00:00
#$ -p 5
#$ -cwd

echo hello
`

func TestParse_Full(t *testing.T) {
	opts, err := testParser().Parse([]byte(fullScript))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := model.SubmissionOptions{
		JobName:          "aiida-42",
		StdoutPath:       "_out.txt",
		StderrPath:       "_err.txt",
		ProcessCount:     2,
		WallClockSeconds: 28800,
		Priority:         105,
	}
	if opts != want {
		t.Errorf("Parse = %+v, want %+v", opts, want)
	}
}

func TestParse_Defaults(t *testing.T) {
	script := "#$ -N job\n#$ -pe smp 1\n#$ -l h_rt=00:30:00\n"
	opts, err := testParser().Parse([]byte(script))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.StdoutPath != DefaultStdout || opts.StderrPath != DefaultStderr {
		t.Errorf("paths = %q %q", opts.StdoutPath, opts.StderrPath)
	}
	if opts.Priority != BasePriority {
		t.Errorf("Priority = %d, want %d", opts.Priority, BasePriority)
	}
	if opts.WallClockSeconds != 1800 {
		t.Errorf("WallClockSeconds = %d", opts.WallClockSeconds)
	}
}

func TestParse_PriorityAccumulates(t *testing.T) {
	script := "#$ -N job\n#$ -pe mpi 4\n#$ -l h_rt=1:00:00\n#$ -p 3\n#$ -p -10\n"
	opts, err := testParser().Parse([]byte(script))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.Priority != 93 {
		t.Errorf("Priority = %d, want 93", opts.Priority)
	}
}

func TestParse_NameTakesLastToken(t *testing.T) {
	script := "#$ -N first second\n#$ -pe mpi 1\n#$ -l h_rt=00:00:10\n"
	opts, err := testParser().Parse([]byte(script))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.JobName != "second" {
		t.Errorf("JobName = %q", opts.JobName)
	}
}

func TestParse_HrtWithOtherResources(t *testing.T) {
	script := "#$ -N job\n#$ -pe mpi 1\n#$ -l h_vmem=2G,h_rt=02:03:04\n"
	opts, err := testParser().Parse([]byte(script))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.WallClockSeconds != 2*3600+3*60+4 {
		t.Errorf("WallClockSeconds = %d", opts.WallClockSeconds)
	}
}

func TestParse_Missing(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{"all", "echo hi\n", []string{FieldJobName, FieldProcessCount, FieldWallClock}},
		{"name only", "#$ -N job\n", []string{FieldProcessCount, FieldWallClock}},
		{"no walltime", "#$ -N job\n#$ -pe mpi 2\n", []string{FieldWallClock}},
		{"no count", "#$ -N job\n#$ -l h_rt=00:01:00\n", []string{FieldProcessCount}},
		{"empty", "", []string{FieldJobName, FieldProcessCount, FieldWallClock}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testParser().Parse([]byte(tt.script))
			var pe *model.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *model.ParseError, got %v", err)
			}
			if !reflect.DeepEqual(pe.Missing, tt.want) {
				t.Errorf("Missing = %v, want %v", pe.Missing, tt.want)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		script string
		line   int
	}{
		{"bad count", "#$ -N job\n#$ -pe mpi two\n", 2},
		{"zero count", "#$ -pe mpi 0\n", 1},
		{"bad time", "#$ -N job\n#$ -pe mpi 1\n#$ -l h_rt=1:2:3:4\n", 3},
		{"zero time", "#$ -l h_rt=00:00:00\n", 1},
		{"bad priority", "#$ -p high\n", 1},
		{"empty name", "#$ -N\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testParser().Parse([]byte(tt.script))
			var pe *model.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *model.ParseError, got %v", err)
			}
			if pe.Line != tt.line {
				t.Errorf("Line = %d, want %d", pe.Line, tt.line)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "_submit.sh")
	if err := os.WriteFile(path, []byte(fullScript), 0o644); err != nil {
		t.Fatal(err)
	}
	opts, err := testParser().ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if opts.JobName != "aiida-42" {
		t.Errorf("JobName = %q", opts.JobName)
	}

	if _, err := testParser().ParseFile(filepath.Join(t.TempDir(), "missing.sh")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRenderHeader_RoundTrip(t *testing.T) {
	tmpl := HeaderTemplate{
		JobName:          "render-me",
		StdoutPath:       "out.log",
		StderrPath:       "err.log",
		PriorityDelta:    -20,
		ProcessCount:     8,
		WallClockSeconds: 3723,
		CustomLines:      []string{"module load gcc"},
		Environment:      map[string]string{"B": "it's", "A": "1"},
	}
	header, err := RenderHeader(tmpl)
	if err != nil {
		t.Fatalf("RenderHeader: %v", err)
	}
	if !strings.Contains(header, "#$ -l h_rt=01:02:03\n") {
		t.Errorf("header missing h_rt line:\n%s", header)
	}
	if !strings.Contains(header, "export A='1'\nexport B='it'\\''s'\n") {
		t.Errorf("environment not exported in order:\n%s", header)
	}

	opts, err := testParser().Parse([]byte(header))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := model.SubmissionOptions{
		JobName:          "render-me",
		StdoutPath:       "out.log",
		StderrPath:       "err.log",
		ProcessCount:     8,
		WallClockSeconds: 3723,
		Priority:         80,
	}
	if opts != want {
		t.Errorf("round trip = %+v, want %+v", opts, want)
	}
}

func TestRenderHeader_Invalid(t *testing.T) {
	tests := []struct {
		name string
		tmpl HeaderTemplate
	}{
		{"no name", HeaderTemplate{ProcessCount: 1, WallClockSeconds: 1}},
		{"spaced name", HeaderTemplate{JobName: "a b", ProcessCount: 1, WallClockSeconds: 1}},
		{"no count", HeaderTemplate{JobName: "a", WallClockSeconds: 1}},
		{"no walltime", HeaderTemplate{JobName: "a", ProcessCount: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RenderHeader(tt.tmpl); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFormatHMS(t *testing.T) {
	tests := map[int]string{28800: "08:00:00", 59: "00:00:59", 90061: "25:01:01"}
	for in, want := range tests {
		if got := FormatHMS(in); got != want {
			t.Errorf("FormatHMS(%d) = %q, want %q", in, got, want)
		}
	}
}
