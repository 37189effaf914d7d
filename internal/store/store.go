package store

import (
	"context"

	"github.com/me/firebridge/internal/query"
	"github.com/me/firebridge/pkg/model"
)

// JobStore is the queue engine the bridge and the workers talk to.
type JobStore interface {
	// Insert stores a new READY job and assigns its id.
	Insert(ctx context.Context, rec *model.JobRecord) (int64, error)
	// Get returns model.ErrNotFound when no job has the id.
	Get(ctx context.Context, id int64) (*model.JobRecord, error)
	// Query returns matching jobs by descending priority, then id.
	Query(ctx context.Context, p query.Predicate) ([]*model.JobRecord, error)
	// Defuse returns nil, nil when the job exists but its state cannot be defused.
	Defuse(ctx context.Context, id int64) (*model.JobRecord, error)

	// Worker operations
	Checkout(ctx context.Context, p query.Predicate, launch model.Launch) (*model.JobRecord, error)
	Complete(ctx context.Context, id int64, launchID string, exitCode int) error
	Fizzle(ctx context.Context, id int64, launchID string, reason string) error

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
