package physics

import (
	"context"

	"github.com/tickforge/ecsengine/internal/core/ecsid"
	"github.com/tickforge/ecsengine/internal/core/query"
	"github.com/tickforge/ecsengine/internal/core/runtime"
	"github.com/tickforge/ecsengine/internal/core/wire/codec"
)

// Position and Velocity are the two components this reference system reads
// and writes: a minimal concrete example of the "systems compute against
// components addressed by ComponentTypeID" contract (spec.md §1, §3).
type Position struct {
	X, Y float64
}

type Velocity struct {
	X, Y float64
}

var (
	PositionType = ecsid.HashComponentName("Position")
	VelocityType = ecsid.HashComponentName("Velocity")
)

// Descriptor declares this system's access sets: writes Position, reads
// Velocity, and adds With filters on both — every entity carrying both
// components matches.
func Descriptor() runtime.Descriptor {
	return runtime.Descriptor{
		Name:   "physics",
		Reads:  ecsid.Signature{VelocityType},
		Writes: ecsid.Signature{PositionType},
		Filters: []query.Filter{
			{Kind: query.With, Type: VelocityType},
			{Kind: query.With, Type: PositionType},
		},
	}
}

// MaxStepDistance caps how far a single tick's integration may move an
// entity, regardless of its velocity; entities attempting to exceed it are
// clamped to the same direction at this distance instead.
const MaxStepDistance = 50.0

// Step integrates every received row's Position by its Velocity over one
// tick, clamped to MaxStepDistance. It does not narrow the rows to a
// SystemSchedule shard range. It is the runtime.SystemFunc a
// cmd/system process registers.
func Step(ctx context.Context, view *runtime.LocalWorld) error {
	for _, row := range view.Rows(nil, nil) {
		if err := ctx.Err(); err != nil {
			return err
		}
		posRaw, ok := row.Get(PositionType)
		if !ok {
			continue
		}
		velRaw, ok := row.Get(VelocityType)
		if !ok {
			continue
		}
		var pos Position
		if err := codec.Decode(posRaw, &pos); err != nil {
			continue
		}
		var vel Velocity
		if err := codec.Decode(velRaw, &vel); err != nil {
			continue
		}

		next := Vec2{Xv: pos.X + vel.X, Yv: pos.Y + vel.Y}
		if Distance2V(Vec2{Xv: pos.X, Yv: pos.Y}, next) > MaxStepDistance {
			next = clampStep(pos, next)
		}
		pos.X, pos.Y = next.Xv, next.Yv

		encoded, err := codec.Encode(pos)
		if err != nil {
			continue
		}
		view.Set(row.Entity, PositionType, encoded)
	}
	return nil
}

// clampStep scales next back toward from so the step never exceeds
// MaxStepDistance, preserving direction.
func clampStep(from Position, next Vec2) Vec2 {
	dist := Distance2(from.X, from.Y, next.Xv, next.Yv)
	if dist <= MaxStepDistance {
		return next
	}
	scale := MaxStepDistance / dist
	return Vec2{
		Xv: from.X + (next.Xv-from.X)*scale,
		Yv: from.Y + (next.Yv-from.Y)*scale,
	}
}
