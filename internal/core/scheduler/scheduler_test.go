package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tickforge/ecsengine/internal/core/ecsid"
	"github.com/tickforge/ecsengine/internal/core/query"
)

var (
	typePosition = ecsid.HashComponentName("Position")
	typeVelocity = ecsid.HashComponentName("Velocity")
	typeHealth   = ecsid.HashComponentName("Health")
)

func TestBuildStagesSplitsConflictingWriters(t *testing.T) {
	registry := map[string]SystemInfo{
		"physics": {Name: "physics", Query: query.Descriptor{Writes: ecsid.Signature{typePosition}}},
		"render":  {Name: "render", Query: query.Descriptor{Reads: ecsid.Signature{typePosition}}},
	}

	stages, err := BuildStages(registry, nil)
	require.NoError(t, err)
	require.Len(t, stages, 2, "a writer and a reader of the same component can never share a stage")
	require.Equal(t, []string{"physics"}, stages[0].Systems)
	require.Equal(t, []string{"render"}, stages[1].Systems)
}

func TestBuildStagesMergesNonConflicting(t *testing.T) {
	registry := map[string]SystemInfo{
		"physics": {Name: "physics", Query: query.Descriptor{Writes: ecsid.Signature{typePosition}}},
		"combat":  {Name: "combat", Query: query.Descriptor{Writes: ecsid.Signature{typeHealth}}},
	}

	stages, err := BuildStages(registry, nil)
	require.NoError(t, err)
	require.Len(t, stages, 1, "disjoint writers may run concurrently")
	require.Equal(t, []string{"combat", "physics"}, stages[0].Systems)
}

func TestBuildStagesRespectsExplicitOrdering(t *testing.T) {
	registry := map[string]SystemInfo{
		"spawn":   {Name: "spawn", Query: query.Descriptor{Writes: ecsid.Signature{typeHealth}}},
		"cleanup": {Name: "cleanup", Query: query.Descriptor{Writes: ecsid.Signature{typeHealth}}},
	}
	constraints := []Constraint{{Before: "spawn", After: "cleanup"}}

	stages, err := BuildStages(registry, constraints)
	require.NoError(t, err)

	spawnStage, cleanupStage := -1, -1
	for i, st := range stages {
		for _, n := range st.Systems {
			if n == "spawn" {
				spawnStage = i
			}
			if n == "cleanup" {
				cleanupStage = i
			}
		}
	}
	require.Less(t, spawnStage, cleanupStage)
}

func TestBuildStagesIsDeterministic(t *testing.T) {
	registry := map[string]SystemInfo{
		"a": {Name: "a", Query: query.Descriptor{Writes: ecsid.Signature{typePosition}}},
		"b": {Name: "b", Query: query.Descriptor{Writes: ecsid.Signature{typeVelocity}}},
		"c": {Name: "c", Query: query.Descriptor{Reads: ecsid.Signature{typePosition, typeVelocity}}},
	}

	first, err := BuildStages(registry, nil)
	require.NoError(t, err)
	second, err := BuildStages(registry, nil)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestBuildStagesOptionalsCountAsReads(t *testing.T) {
	registry := map[string]SystemInfo{
		"a": {Name: "a", Query: query.Descriptor{Writes: ecsid.Signature{typePosition}}},
		"b": {Name: "b", Query: query.Descriptor{Optionals: ecsid.Signature{typePosition}}},
	}

	stages, err := BuildStages(registry, nil)
	require.NoError(t, err)
	require.Len(t, stages, 2, "an optional read still conflicts with a concurrent write")
}

func TestBuildStagesReaderReaderNeverConflict(t *testing.T) {
	registry := map[string]SystemInfo{
		"a": {Name: "a", Query: query.Descriptor{Reads: ecsid.Signature{typePosition}}},
		"b": {Name: "b", Query: query.Descriptor{Reads: ecsid.Signature{typePosition}}},
	}

	stages, err := BuildStages(registry, nil)
	require.NoError(t, err)
	require.Len(t, stages, 1)
}

func TestBuildStagesInfeasibleOrderingReportsError(t *testing.T) {
	registry := map[string]SystemInfo{
		"a": {Name: "a", Query: query.Descriptor{Writes: ecsid.Signature{typePosition}}},
		"b": {Name: "b", Query: query.Descriptor{Writes: ecsid.Signature{typePosition}}},
	}
	constraints := []Constraint{
		{Before: "a", After: "b"},
		{Before: "b", After: "a"},
	}

	_, err := BuildStages(registry, constraints)
	require.Error(t, err)
}
