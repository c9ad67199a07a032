package physics

import "math"

// Vec2 is the concrete Vector2 Step integrates positions with.
type Vec2 struct{ Xv, Yv float64 }

func (v Vec2) X() float64 { return v.Xv }
func (v Vec2) Y() float64 { return v.Yv }

// Distance2 computes the Euclidean distance between two 2D points.
func Distance2(x1, y1, x2, y2 float64) float64 { return math.Hypot(x2-x1, y2-y1) }

// Distance2V computes distance between two Vector2 values.
func Distance2V(a, b Vector2) float64 { return math.Hypot(b.X()-a.X(), b.Y()-a.Y()) }
