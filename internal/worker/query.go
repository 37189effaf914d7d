package worker

import (
	"fmt"

	"github.com/me/firebridge/internal/awareness"
	"github.com/me/firebridge/internal/query"
	"github.com/me/firebridge/pkg/model"
)

// SafetyMarginSeconds is kept free at the end of the allocation so the
// worker is not pre-empted while a claimed job is still running.
const SafetyMarginSeconds = 60

// Identity is what a worker matches jobs against.
type Identity struct {
	Name         string
	HostID       string
	Username     string
	ProcessCount int
	Categories   []string
	// Base is the worker's own generic selection query; nil matches all.
	Base   query.Predicate
	Budget awareness.Provider
}

// IdentityFromSpec builds an Identity from a persisted worker definition.
func IdentityFromSpec(spec model.WorkerSpec, budget awareness.Provider) (Identity, error) {
	spec.Normalize()
	base, err := query.FromDocument(spec.Query)
	if err != nil {
		return Identity{}, fmt.Errorf("worker %s: parse query: %w", spec.Name, err)
	}
	return Identity{
		Name:         spec.Name,
		HostID:       spec.HostID,
		Username:     spec.Username,
		ProcessCount: spec.ProcessCount,
		Categories:   spec.Category,
		Base:         base,
		Budget:       budget,
	}, nil
}

// EligibilityQuery returns the predicate a worker claims jobs with. The
// remaining time is read from the budget on every call.
func EligibilityQuery(id Identity) query.Predicate {
	limit := remainingLimit(id.Budget)
	return query.Or(BridgeBranch(id, limit), GenericBranch(id, limit))
}

// BridgeBranch matches reserved-category jobs that fit this worker exactly.
func BridgeBranch(id Identity, limit int) query.Predicate {
	return query.And(
		query.Eq(model.FieldCategory, model.ReservedCategory),
		query.Eq(model.FieldProcessCount, id.ProcessCount),
		query.Eq(model.FieldHostID, id.HostID),
		query.Eq(model.FieldUsername, id.Username),
		query.Lt(model.FieldWallClock, limit),
	)
}

// GenericBranch matches ordinary queue jobs, never reserved-category ones.
func GenericBranch(id Identity, limit int) query.Predicate {
	base := id.Base
	if base == nil {
		base = query.All()
	}
	fworker := query.Or(
		query.Exists(model.FieldFWorker, false),
		query.Eq(model.FieldFWorker, nil),
		query.Eq(model.FieldFWorker, id.Name),
	)
	walltime := query.Or(
		query.Exists(model.FieldGenericWalltime, false),
		query.Lt(model.FieldGenericWalltime, limit),
	)
	return query.And(base, fworker, categoryFilter(id.Categories), walltime)
}

func categoryFilter(categories []string) query.Predicate {
	notReserved := query.Ne(model.FieldCategory, model.ReservedCategory)
	switch len(categories) {
	case 0:
		return notReserved
	case 1:
		if categories[0] == model.NoCategory {
			return query.Exists(model.FieldCategory, false)
		}
		return query.And(notReserved, query.Eq(model.FieldCategory, categories[0]))
	}

	var labels []any
	includeNone := false
	for _, c := range categories {
		if c == model.NoCategory {
			includeNone = true
			continue
		}
		labels = append(labels, c)
	}
	selected := query.Predicate(query.In(model.FieldCategory, labels...))
	if includeNone {
		selected = query.Or(query.Exists(model.FieldCategory, false), selected)
	}
	return query.And(notReserved, selected)
}

func remainingLimit(budget awareness.Provider) int {
	if budget == nil {
		budget = awareness.Dummy{}
	}
	return budget.RemainingSeconds() - SafetyMarginSeconds
}
