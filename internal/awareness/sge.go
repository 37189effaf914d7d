package awareness

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	sgeHrtRe   = regexp.MustCompile(`h_rt=([0-9:]+)`)
	sgeStartRe = regexp.MustCompile(`<JAT_start_time>\s*([^<]+?)\s*</JAT_start_time>`)
)

// SGE reads the allocation from qstat inside a grid-engine job.
type SGE struct {
	env Env

	once   sync.Once
	warned sync.Once
	end    time.Time
	err    error
}

// NewSGE creates an SGE provider.
func NewSGE(env Env) *SGE {
	return &SGE{env: env.withDefaults()}
}

func (s *SGE) Name() string { return "sge" }

// JobID returns JOB_ID, joined with SGE_TASK_ID for array tasks.
func (s *SGE) JobID() string {
	id, _ := s.env.LookupEnv("JOB_ID")
	if id == "" {
		return ""
	}
	if task, ok := s.env.LookupEnv("SGE_TASK_ID"); ok && task != "" && task != "undefined" {
		s.warned.Do(func() {
			s.env.Logger.Warn("remaining time is not exact for task arrays", "job_id", id, "task_id", task)
		})
		id = id + "." + task
	}
	return id
}

func (s *SGE) InsideAllocation() bool {
	return s.JobID() != ""
}

// RemainingSeconds returns 0 if the allocation metadata cannot be read.
func (s *SGE) RemainingSeconds() int {
	s.once.Do(s.load)
	if s.err != nil {
		return 0
	}
	return remaining(s.end, s.env.Now())
}

func (s *SGE) load() {
	id := s.JobID()
	if id == "" {
		s.err = fmt.Errorf("not inside an SGE job")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	out, err := s.env.Run(ctx, "qstat", "-j", id)
	if err != nil {
		s.fail(fmt.Errorf("qstat -j %s: %w", id, err))
		return
	}
	maxRun, err := parseSGEMaxRun(string(out))
	if err != nil {
		s.fail(err)
		return
	}

	out, err = s.env.Run(ctx, "qstat", "-j", id, "-xml")
	if err != nil {
		s.fail(fmt.Errorf("qstat -j %s -xml: %w", id, err))
		return
	}
	start, err := parseSGEStart(string(out))
	if err != nil {
		s.fail(err)
		return
	}
	s.end = start.Add(maxRun)
}

func (s *SGE) fail(err error) {
	s.err = err
	s.env.Logger.Error("read SGE allocation", "error", err)
}

// parseSGEMaxRun extracts h_rt from the "hard resource_list" line of qstat -j.
func parseSGEMaxRun(out string) (time.Duration, error) {
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "hard resource_list" {
			continue
		}
		m := sgeHrtRe.FindStringSubmatch(value)
		if m == nil {
			return 0, fmt.Errorf("no h_rt in resource list %q", strings.TrimSpace(value))
		}
		secs, err := parseClock(m[1])
		if err != nil {
			return 0, err
		}
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("qstat output has no hard resource_list")
}

// parseSGEStart reads JAT_start_time, which is a unix timestamp in seconds
// (or milliseconds on newer releases).
func parseSGEStart(out string) (time.Time, error) {
	m := sgeStartRe.FindStringSubmatch(out)
	if m == nil {
		return time.Time{}, fmt.Errorf("qstat xml has no JAT_start_time")
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse JAT_start_time %q: %w", m[1], err)
	}
	if n > 1e11 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

// parseClock accepts plain seconds or [[H:]M:]S.
func parseClock(s string) (int, error) {
	total := 0
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid time %q", s)
		}
		total = total*60 + n
	}
	return total, nil
}
