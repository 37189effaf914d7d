package awareness

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const slurmTimeLayout = "2006-01-02T15:04:05"

// SLURM reads the allocation end time from scontrol inside a SLURM job.
type SLURM struct {
	env Env

	once sync.Once
	end  time.Time
	err  error
}

// NewSLURM creates a SLURM provider.
func NewSLURM(env Env) *SLURM {
	return &SLURM{env: env.withDefaults()}
}

func (s *SLURM) Name() string { return "slurm" }

func (s *SLURM) JobID() string {
	id, _ := s.env.LookupEnv("SLURM_JOB_ID")
	return id
}

func (s *SLURM) InsideAllocation() bool {
	return s.JobID() != ""
}

// RemainingSeconds returns 0 if the allocation metadata cannot be read.
func (s *SLURM) RemainingSeconds() int {
	s.once.Do(s.load)
	if s.err != nil {
		return 0
	}
	return remaining(s.end, s.env.Now())
}

func (s *SLURM) load() {
	id := s.JobID()
	if id == "" {
		s.err = fmt.Errorf("not inside a SLURM job")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	out, err := s.env.Run(ctx, "scontrol", "show", "jobid="+id)
	if err != nil {
		s.err = fmt.Errorf("scontrol show jobid=%s: %w", id, err)
		s.env.Logger.Error("read SLURM allocation", "error", s.err)
		return
	}
	s.end, s.err = parseSlurmEnd(string(out), s.env.Location)
	if s.err != nil {
		s.env.Logger.Error("read SLURM allocation", "error", s.err)
	}
}

// parseSlurmEnd reads EndTime from "key=value" pairs. scontrol prints local time.
func parseSlurmEnd(out string, loc *time.Location) (time.Time, error) {
	for _, field := range strings.Fields(out) {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key != "EndTime" {
			continue
		}
		end, err := time.ParseInLocation(slurmTimeLayout, value, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse EndTime %q: %w", value, err)
		}
		return end, nil
	}
	return time.Time{}, fmt.Errorf("scontrol output has no EndTime")
}
