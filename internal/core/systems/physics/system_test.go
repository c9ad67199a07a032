package physics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tickforge/ecsengine/internal/core/ecsid"
)

func TestDescriptorDeclaresAccessSets(t *testing.T) {
	d := Descriptor()
	require.Equal(t, "physics", d.Name)
	require.True(t, d.Reads.Equal(ecsid.NewSignature(VelocityType)))
	require.True(t, d.Writes.Equal(ecsid.NewSignature(PositionType)))
	require.Len(t, d.Filters, 2)
}

func TestClampStepPreservesDirectionWithinBound(t *testing.T) {
	from := Position{X: 0, Y: 0}
	next := Vec2{Xv: 3, Yv: 4} // distance 5, well under MaxStepDistance
	got := clampStep(from, next)
	require.Equal(t, next, got)
}

func TestClampStepScalesDownOversizedMove(t *testing.T) {
	from := Position{X: 0, Y: 0}
	next := Vec2{Xv: 300, Yv: 400} // distance 500
	got := clampStep(from, next)

	dist := Distance2(from.X, from.Y, got.Xv, got.Yv)
	require.InDelta(t, MaxStepDistance, dist, 1e-9)
	require.InDelta(t, 0.6, got.Xv/MaxStepDistance, 1e-9, "direction ratio preserved")
}

func TestClampStepNoopWhenAlreadyAtOrigin(t *testing.T) {
	from := Position{X: 5, Y: 5}
	next := Vec2{Xv: 5, Yv: 5}
	got := clampStep(from, next)
	require.Equal(t, next, got)
}

func TestDistance2(t *testing.T) {
	require.InDelta(t, 5.0, Distance2(0, 0, 3, 4), 1e-9)
}

func TestDistance2V(t *testing.T) {
	require.InDelta(t, 5.0, Distance2V(Vec2{Xv: 0, Yv: 0}, Vec2{Xv: 3, Yv: 4}), 1e-9)
}
