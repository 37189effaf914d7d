// Package parser reads grid-engine style submission scripts.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/me/firebridge/pkg/model"
)

// BasePriority is the priority every bridge job starts from before "#$ -p" deltas.
const BasePriority = 100

// Default output paths used when the script has no -o / -e directive.
const (
	DefaultStdout = "_scheduler-stdout.txt"
	DefaultStderr = "_scheduler-stderr.txt"
)

// Required option names, as reported in ParseError.Missing.
const (
	FieldJobName      = "job_name"
	FieldProcessCount = "process_count"
	FieldWallClock    = "wall_clock_seconds"
)

const directivePrefix = "#$"

var hrtPattern = regexp.MustCompile(`h_rt=([0-9]+(?::[0-9]+)*)`)

// Parser converts submission script text into SubmissionOptions.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser with the given logger.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "parser")}
}

// ParseFile reads a local copy of a submission script and parses it.
func (p *Parser) ParseFile(path string) (model.SubmissionOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.SubmissionOptions{}, fmt.Errorf("read script %s: %w", path, err)
	}
	return p.Parse(data)
}

// Parse scans every line of the script. Unknown lines are ignored. A malformed
// directive fails immediately; otherwise all missing required fields are
// reported together in a single *model.ParseError.
func (p *Parser) Parse(data []byte) (model.SubmissionOptions, error) {
	opts := model.SubmissionOptions{
		StdoutPath: DefaultStdout,
		StderrPath: DefaultStderr,
		Priority:   BasePriority,
	}
	var haveName, haveCount, haveWall bool

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if m := hrtPattern.FindStringSubmatch(trimmed); m != nil {
			secs, err := parseHMS(m[1])
			if err != nil {
				return opts, &model.ParseError{Line: lineNo, Content: trimmed, Reason: err.Error()}
			}
			opts.WallClockSeconds = secs
			haveWall = true
		}

		if !strings.HasPrefix(trimmed, directivePrefix) {
			continue
		}
		flag, value := splitDirective(strings.TrimSpace(trimmed[len(directivePrefix):]))
		fields := strings.Fields(value)

		switch flag {
		case "-N":
			if len(fields) == 0 {
				return opts, &model.ParseError{Line: lineNo, Content: trimmed, Reason: "job name is empty"}
			}
			opts.JobName = fields[len(fields)-1]
			haveName = true
		case "-o":
			if value != "" {
				opts.StdoutPath = value
			}
		case "-e":
			if value != "" {
				opts.StderrPath = value
			}
		case "-pe":
			if len(fields) == 0 {
				return opts, &model.ParseError{Line: lineNo, Content: trimmed, Reason: "process count is missing"}
			}
			n, err := strconv.Atoi(fields[len(fields)-1])
			if err != nil || n < 1 {
				return opts, &model.ParseError{Line: lineNo, Content: trimmed, Reason: "process count must be a positive integer"}
			}
			opts.ProcessCount = n
			haveCount = true
		case "-p":
			if len(fields) == 0 {
				return opts, &model.ParseError{Line: lineNo, Content: trimmed, Reason: "priority is missing"}
			}
			delta, err := strconv.Atoi(fields[len(fields)-1])
			if err != nil {
				return opts, &model.ParseError{Line: lineNo, Content: trimmed, Reason: "priority must be an integer"}
			}
			opts.Priority += delta
		default:
			p.logger.Debug("ignoring directive", "line", lineNo, "flag", flag)
		}
	}
	if err := scanner.Err(); err != nil {
		return opts, fmt.Errorf("read script: %w", err)
	}

	var missing []string
	if !haveName {
		missing = append(missing, FieldJobName)
	}
	if !haveCount {
		missing = append(missing, FieldProcessCount)
	}
	if !haveWall {
		missing = append(missing, FieldWallClock)
	}
	if len(missing) > 0 {
		return opts, &model.ParseError{Missing: missing}
	}
	return opts, nil
}

// splitDirective splits "-pe mpi 4" into ("-pe", "mpi 4").
func splitDirective(s string) (string, string) {
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}

// parseHMS converts HH:MM:SS into seconds. Plain seconds and MM:SS are accepted too.
func parseHMS(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid wall-clock limit %q", s)
	}
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("invalid wall-clock limit %q", s)
		}
		total = total*60 + n
	}
	if total <= 0 {
		return 0, fmt.Errorf("wall-clock limit %q must be positive", s)
	}
	return total, nil
}

// Parse parses script text with a default-logger Parser.
func Parse(data []byte) (model.SubmissionOptions, error) {
	return New(slog.Default()).Parse(data)
}
