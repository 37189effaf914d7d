// Package scheduler exposes the queue as a batch scheduler: jobs are
// submitted from scripts in a working directory, listed per host and killed
// by id.
package scheduler

import (
	"context"

	"github.com/me/firebridge/pkg/model"
)

// Scheduler is the contract the workflow manager drives.
type Scheduler interface {
	// Submit queues the script found in workDir and returns the job id.
	Submit(ctx context.Context, workDir, scriptName string) (string, error)

	// List returns the unfinished jobs of hostID, optionally limited to ids.
	List(ctx context.Context, hostID string, ids []string) ([]model.JobInfo, error)

	// Kill stops a running job or defuses a queued one. It never fails loudly.
	Kill(ctx context.Context, id string) bool

	// TranslateState maps a native queue state onto a JobState.
	TranslateState(s model.FireState) model.JobState
}
