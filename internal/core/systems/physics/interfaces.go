package physics

// Vector2 is the minimal 2D vector shape Distance2V needs from a position
// type. Vec2 implements it without pulling in a math library.
type Vector2 interface {
	X() float64
	Y() float64
}
