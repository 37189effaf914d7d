package computer

import (
	"fmt"
	"log/slog"
)

// DefaultSuffix is appended to the label of a duplicated computer.
const DefaultSuffix = "fw"

// DuplicateNote is appended to the description of a duplicated computer.
const DuplicateNote = "(Using firebridge as the scheduler.)"

// DuplicateOptions controls Duplicate.
type DuplicateOptions struct {
	Suffix       string
	IncludeCodes bool
	// InputPlugin limits copied codes to one plugin; empty copies all.
	InputPlugin string
	DryRun      bool
}

// Duplicate creates a copy of the computer labelled label that schedules
// through the queue. The copy is registered unless DryRun is set; saving the
// registry is left to the caller.
func (r *Registry) Duplicate(label string, opts DuplicateOptions, logger *slog.Logger) (Computer, error) {
	src, err := r.Get(label)
	if err != nil {
		return Computer{}, err
	}
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}

	dup := src
	dup.Label = src.Label + "-" + opts.Suffix
	dup.Scheduler = SchedulerName
	dup.Description = src.Description + DuplicateNote
	dup.Codes = nil
	logger.Info("adding new computer", "label", dup.Label, "source", src.Label)

	if opts.IncludeCodes {
		for _, code := range src.Codes {
			if opts.InputPlugin != "" && code.InputPlugin != opts.InputPlugin {
				continue
			}
			dup.Codes = append(dup.Codes, code)
			logger.Info("adding new code", "code", fmt.Sprintf("%s@%s", code.Label, dup.Label))
		}
	}

	if opts.DryRun {
		logger.Info("dry run, nothing has been saved")
		return dup, nil
	}
	if err := r.Add(dup); err != nil {
		return Computer{}, err
	}
	return dup, nil
}
