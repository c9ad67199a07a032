// Package scheduler derives per-tick execution stages from system
// read/write sets (spec.md §4.2). The schedule itself is the
// synchronization mechanism: systems placed in the same stage are
// guaranteed by construction never to write a component the other reads or
// writes, so the orchestrator never needs cell-granularity locks.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/tickforge/ecsengine/internal/core/ecserr"
	"github.com/tickforge/ecsengine/internal/core/query"
)

// SystemInfo is the scheduler's view of one registered system: its query
// access sets and how many instances currently back it.
type SystemInfo struct {
	Name          string
	Query         query.Descriptor
	InstanceCount int
}

// Constraint is a hard ordering edge between two system names: Before must
// be scheduled in a stage with a lower index than After.
type Constraint struct {
	Before string
	After  string
}

// Stage is a set of system names that may execute in parallel: pairwise
// non-conflicting access sets (spec.md P4).
type Stage struct {
	Systems []string
}

// conflicts reports whether two systems' access sets overlap on a
// write-vs-{read|write} basis (spec.md §4.2). With/Without/Changed filter
// types never imply access and are ignored here.
func conflicts(a, b SystemInfo) bool {
	aAccess := a.Query.AccessSet()
	bAccess := b.Query.AccessSet()
	for _, w := range a.Query.Writes {
		if bAccess.Contains(w) {
			return true
		}
	}
	for _, w := range b.Query.Writes {
		if aAccess.Contains(w) {
			return true
		}
	}
	return false
}

// BuildStages partitions registry into the minimum number of stages such
// that no pair within a stage conflicts, subject to constraints, using
// deterministic greedy coloring in lexicographic name order (spec.md §4.2,
// P8).
func BuildStages(registry map[string]SystemInfo, constraints []Constraint) ([]Stage, error) {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	lowerBound := make(map[string]int)
	upperBound := make(map[string]int)
	for _, n := range names {
		upperBound[n] = len(names) // effectively unbounded
	}
	// Propagate lowerBound transitively (A before B before C) by relaxing
	// until fixpoint; a genuine cycle simply stops converging usefully and
	// is caught by the post-placement validation below.
	for i := 0; i < len(names)+1; i++ {
		changed := false
		for _, c := range constraints {
			if lowerBound[c.After] < lowerBound[c.Before]+1 {
				lowerBound[c.After] = lowerBound[c.Before] + 1
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	var stages []Stage
	stageOf := make(map[string]int)

	for _, name := range names {
		info := registry[name]
		lb := lowerBound[name]
		ub := upperBound[name]

		placed := -1
		for idx := lb; idx <= ub; idx++ {
			if idx >= len(stages) {
				placed = idx
				break
			}
			if stageFits(stages[idx], registry, info) {
				placed = idx
				break
			}
		}
		if placed == -1 {
			return nil, fmt.Errorf("%w: no feasible stage for system %q within ordering bounds", ecserr.ErrScheduleInfeasible, name)
		}
		for placed >= len(stages) {
			stages = append(stages, Stage{})
		}
		stages[placed].Systems = append(stages[placed].Systems, name)
		stageOf[name] = placed
	}

	// Re-validate ordering constraints now that every system has a final
	// stage index, in case a later system's placement retroactively
	// violated an earlier edge (explicit ordering is a hard bound, not just
	// a placement hint).
	for _, c := range constraints {
		if _, ok := registry[c.Before]; !ok {
			continue
		}
		if _, ok := registry[c.After]; !ok {
			continue
		}
		if stageOf[c.Before] >= stageOf[c.After] {
			return nil, fmt.Errorf("%w: %q must precede %q but was scheduled at or after it", ecserr.ErrScheduleInfeasible, c.Before, c.After)
		}
	}

	for i := range stages {
		sort.Strings(stages[i].Systems)
	}
	return stages, nil
}

func stageFits(stage Stage, registry map[string]SystemInfo, candidate SystemInfo) bool {
	for _, name := range stage.Systems {
		if conflicts(registry[name], candidate) {
			return false
		}
	}
	return true
}
